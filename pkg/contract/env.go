package contract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/neonlink/pkg/engine"
)

// Environment is the flat key/value contract handed to a worker process.
type Environment map[string]string

// Get returns the value for key, or "" when the key is absent.
func (e Environment) Get(key string) string {
	return e[key]
}

// Pairs renders the environment as KEY=VALUE entries sorted by key.
func (e Environment) Pairs() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+e[k])
	}
	return pairs
}

// Input carries everything BuildEnvironment needs.
type Input struct {
	APIKey     string
	Intent     engine.Intent
	OutputPath string
	Directives engine.Directives
	Databases  []engine.DatabaseDeclaration
}

type maskingRuleSpec struct {
	DatabaseName    string  `json:"DatabaseName"`
	SchemaName      *string `json:"SchemaName"`
	TableName       string  `json:"TableName"`
	ColumnName      string  `json:"ColumnName"`
	MaskingFunction *string `json:"MaskingFunction"`
	MaskingValue    *string `json:"MaskingValue"`
}

type databaseSpec struct {
	ResourceName string `json:"ResourceName"`
	DatabaseName string `json:"DatabaseName"`
	RoleName     string `json:"RoleName"`
}

// BuildEnvironment translates a project's directives into the launch
// contract. The result depends only on in; invalid directives produce a
// ConfigurationError and no environment.
func BuildEnvironment(in Input) (Environment, error) {
	if err := in.Intent.Validate(); err != nil {
		return nil, engine.NewConfigurationError("cannot build worker environment", err)
	}
	if strings.TrimSpace(in.APIKey) == "" {
		return nil, engine.NewConfigurationError("a Neon API key is required", nil)
	}
	if strings.TrimSpace(in.OutputPath) == "" {
		return nil, engine.NewConfigurationError("an output file path is required", nil)
	}
	if err := ValidateDirectives(in.Directives, in.Databases); err != nil {
		return nil, err
	}

	d := in.Directives.WithDefaults()
	b := d.Branch

	rules, err := maskingRulesJSON(b.Anonymization.MaskingRules)
	if err != nil {
		return nil, engine.NewConfigurationError("cannot encode masking rules", err)
	}
	specs, err := databaseSpecsJSON(in.Databases)
	if err != nil {
		return nil, engine.NewConfigurationError("cannot encode database specs", err)
	}

	env := Environment{
		KeyAPIKey:         in.APIKey,
		KeyMode:           string(in.Intent),
		KeyOutputFilePath: in.OutputPath,

		KeyProjectID:              d.ProjectID,
		KeyProjectName:            d.ProjectName,
		KeyCreateProjectIfMissing: formatBool(d.CreateProjectIfMissing),
		KeyOrganizationID:         d.OrganizationID,
		KeyOrganizationName:       d.OrganizationName,
		KeyRegionID:               d.RegionID,
		KeyPostgresVersion:        formatInt(d.PostgresVersion),

		KeyBranchID:              b.BranchID,
		KeyBranchName:            b.BranchName,
		KeyParentBranchID:        b.ParentBranchID,
		KeyParentBranchName:      b.ParentBranchName,
		KeyBranchProtected:       formatOptionalBool(b.Protected),
		KeyBranchInitSource:      string(b.InitSource),
		KeyBranchExpiresAt:       formatTime(b.ExpiresAt),
		KeyBranchParentLSN:       b.ParentLSN,
		KeyBranchParentTimestamp: formatTime(b.ParentTimestamp),
		KeyBranchArchived:        formatOptionalBool(b.Archived),
		KeyCreateBranchIfMissing: formatBool(b.CreateBranchIfMissing),
		KeyBranchSetAsDefault:    formatBool(b.SetAsDefault),
		KeyUseEphemeralBranch:    formatBool(b.UseEphemeralBranch),
		KeyEphemeralBranchPrefix: b.EphemeralBranchPrefix,

		KeyRestoreEnabled:           formatBool(b.Restore.Enabled),
		KeyRestoreSourceBranchID:    b.Restore.SourceBranchID,
		KeyRestoreSourceLSN:         b.Restore.SourceLSN,
		KeyRestoreSourceTimestamp:   formatTime(b.Restore.SourceTimestamp),
		KeyRestorePreserveUnderName: b.Restore.PreserveUnderName,

		KeyAnonymizationEnabled: formatBool(b.Anonymization.Enabled),
		KeyAnonymizationStart:   formatBool(b.Anonymization.StartImmediately),
		KeyMaskingRulesJSON:     rules,

		KeyEndpointID:              d.EndpointID,
		KeyEndpointType:            string(d.EndpointType),
		KeyCreateEndpointIfMissing: formatBool(d.CreateEndpointIfMissing),

		KeyDatabaseName:        d.DatabaseName,
		KeyRoleName:            d.RoleName,
		KeyUseConnectionPooler: formatBool(d.UseConnectionPooler),
		KeyDatabaseSpecsJSON:   specs,
	}
	return env, nil
}

// CommandInput carries the values of a one-shot command contract.
type CommandInput struct {
	APIKey     string
	Mode       engine.CommandMode
	ProjectID  string
	EndpointID string
}

// BuildCommandEnvironment renders the reduced contract used by suspend and
// resume commands. Preconditions are checked by the caller.
func BuildCommandEnvironment(in CommandInput) Environment {
	return Environment{
		KeyAPIKey:     in.APIKey,
		KeyMode:       string(in.Mode),
		KeyProjectID:  in.ProjectID,
		KeyEndpointID: in.EndpointID,
	}
}

func maskingRulesJSON(rules []engine.MaskingRule) (string, error) {
	out := make([]maskingRuleSpec, 0, len(rules))
	for _, r := range rules {
		out = append(out, maskingRuleSpec{
			DatabaseName:    r.DatabaseName,
			SchemaName:      optionalString(r.SchemaName),
			TableName:       r.TableName,
			ColumnName:      r.ColumnName,
			MaskingFunction: optionalString(r.MaskingFunction),
			MaskingValue:    optionalString(r.MaskingValue),
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func databaseSpecsJSON(decls []engine.DatabaseDeclaration) (string, error) {
	out := make([]databaseSpec, 0, len(decls))
	for _, decl := range decls {
		decl = decl.WithDefaults()
		out = append(out, databaseSpec{
			ResourceName: decl.Name,
			DatabaseName: decl.DatabaseName,
			RoleName:     decl.RoleName,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMaskingRules parses a BRANCH_MASKING_RULES_JSON value.
func DecodeMaskingRules(value string) ([]engine.MaskingRule, error) {
	var specs []maskingRuleSpec
	if err := json.Unmarshal([]byte(value), &specs); err != nil {
		return nil, fmt.Errorf("failed to decode masking rules: %w", err)
	}
	rules := make([]engine.MaskingRule, 0, len(specs))
	for _, s := range specs {
		rules = append(rules, engine.MaskingRule{
			DatabaseName:    s.DatabaseName,
			SchemaName:      deref(s.SchemaName),
			TableName:       s.TableName,
			ColumnName:      s.ColumnName,
			MaskingFunction: deref(s.MaskingFunction),
			MaskingValue:    deref(s.MaskingValue),
		})
	}
	return rules, nil
}

// DecodeDatabaseSpecs parses a DATABASE_SPECS_JSON value.
func DecodeDatabaseSpecs(value string) ([]engine.DatabaseDeclaration, error) {
	var specs []databaseSpec
	if err := json.Unmarshal([]byte(value), &specs); err != nil {
		return nil, fmt.Errorf("failed to decode database specs: %w", err)
	}
	decls := make([]engine.DatabaseDeclaration, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, engine.DatabaseDeclaration{
			Name:         s.ResourceName,
			DatabaseName: s.DatabaseName,
			RoleName:     s.RoleName,
		})
	}
	return decls, nil
}

func formatBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func formatOptionalBool(v *bool) string {
	if v == nil {
		return ""
	}
	return formatBool(*v)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatTime(v *time.Time) string {
	if v == nil || v.IsZero() {
		return ""
	}
	return v.Format(time.RFC3339Nano)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

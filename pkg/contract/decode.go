package contract

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/openfroyo/neonlink/pkg/engine"
)

// ParseEnvironment reverses BuildEnvironment, the way a worker reads its
// contract on startup. Defaults filled in by the builder are returned as
// set values.
func ParseEnvironment(env Environment) (Input, error) {
	p := &parser{env: env}

	in := Input{
		APIKey:     env.Get(KeyAPIKey),
		Intent:     engine.Intent(env.Get(KeyMode)),
		OutputPath: env.Get(KeyOutputFilePath),
	}

	d := engine.Directives{
		ProjectID:               env.Get(KeyProjectID),
		ProjectName:             env.Get(KeyProjectName),
		CreateProjectIfMissing:  p.flag(KeyCreateProjectIfMissing),
		OrganizationID:          env.Get(KeyOrganizationID),
		OrganizationName:        env.Get(KeyOrganizationName),
		RegionID:                env.Get(KeyRegionID),
		PostgresVersion:         p.number(KeyPostgresVersion),
		EndpointID:              env.Get(KeyEndpointID),
		EndpointType:            engine.EndpointType(env.Get(KeyEndpointType)),
		CreateEndpointIfMissing: p.flag(KeyCreateEndpointIfMissing),
		DatabaseName:            env.Get(KeyDatabaseName),
		RoleName:                env.Get(KeyRoleName),
		UseConnectionPooler:     p.flag(KeyUseConnectionPooler),
	}

	d.Branch = engine.BranchDirectives{
		BranchID:              env.Get(KeyBranchID),
		BranchName:            env.Get(KeyBranchName),
		ParentBranchID:        env.Get(KeyParentBranchID),
		ParentBranchName:      env.Get(KeyParentBranchName),
		ParentLSN:             env.Get(KeyBranchParentLSN),
		ParentTimestamp:       p.timestamp(KeyBranchParentTimestamp),
		Protected:             p.optionalBool(KeyBranchProtected),
		Archived:              p.optionalBool(KeyBranchArchived),
		InitSource:            engine.BranchInitSource(env.Get(KeyBranchInitSource)),
		ExpiresAt:             p.timestamp(KeyBranchExpiresAt),
		CreateBranchIfMissing: p.flag(KeyCreateBranchIfMissing),
		SetAsDefault:          p.flag(KeyBranchSetAsDefault),
		UseEphemeralBranch:    p.flag(KeyUseEphemeralBranch),
		EphemeralBranchPrefix: env.Get(KeyEphemeralBranchPrefix),
		Restore: engine.RestoreDirectives{
			Enabled:           p.flag(KeyRestoreEnabled),
			SourceBranchID:    env.Get(KeyRestoreSourceBranchID),
			SourceLSN:         env.Get(KeyRestoreSourceLSN),
			SourceTimestamp:   p.timestamp(KeyRestoreSourceTimestamp),
			PreserveUnderName: env.Get(KeyRestorePreserveUnderName),
		},
		Anonymization: engine.AnonymizationDirectives{
			Enabled:          p.flag(KeyAnonymizationEnabled),
			StartImmediately: p.flag(KeyAnonymizationStart),
		},
	}

	if p.err != nil {
		return Input{}, p.err
	}

	if raw := env.Get(KeyMaskingRulesJSON); raw != "" {
		rules, err := DecodeMaskingRules(raw)
		if err != nil {
			return Input{}, err
		}
		if len(rules) > 0 {
			d.Branch.Anonymization.MaskingRules = rules
		}
	}
	if raw := env.Get(KeyDatabaseSpecsJSON); raw != "" {
		decls, err := DecodeDatabaseSpecs(raw)
		if err != nil {
			return Input{}, err
		}
		if len(decls) > 0 {
			in.Databases = decls
		}
	}

	in.Directives = d
	return in, nil
}

// parser keeps the first conversion error so field decoding stays flat.
type parser struct {
	env Environment
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
}

func (p *parser) flag(key string) bool {
	v := p.optionalBool(key)
	return v != nil && *v
}

func (p *parser) optionalBool(key string) *bool {
	switch value := p.env.Get(key); value {
	case "":
		return nil
	case "True":
		b := true
		return &b
	case "False":
		b := false
		return &b
	default:
		p.fail(key, value, errors.New("expected True or False"))
		return nil
	}
}

func (p *parser) number(key string) *int {
	value := p.env.Get(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return nil
	}
	return &n
}

func (p *parser) timestamp(key string) *time.Time {
	value := p.env.Get(key)
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		p.fail(key, value, err)
		return nil
	}
	return &t
}

package engine

import (
	"time"
)

// Defaults applied to directives that leave a value unset.
const (
	DefaultDatabaseName          = "neondb"
	DefaultEphemeralBranchPrefix = "neonlink-"
	DefaultMaskingSchema         = "public"
)

// Directives is the declarative input for one project's worker run.
// It is treated as immutable for the duration of a run.
type Directives struct {
	ProjectID              string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	ProjectName            string `json:"project_name,omitempty" yaml:"project_name,omitempty"`
	CreateProjectIfMissing bool   `json:"create_project_if_missing,omitempty" yaml:"create_project_if_missing,omitempty"`
	OrganizationID         string `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	OrganizationName       string `json:"organization_name,omitempty" yaml:"organization_name,omitempty"`
	RegionID               string `json:"region_id,omitempty" yaml:"region_id,omitempty"`
	PostgresVersion        *int   `json:"postgres_version,omitempty" yaml:"postgres_version,omitempty" validate:"omitempty,min=14,max=18"`

	Branch BranchDirectives `json:"branch" yaml:"branch"`

	EndpointID              string       `json:"endpoint_id,omitempty" yaml:"endpoint_id,omitempty"`
	EndpointType            EndpointType `json:"endpoint_type,omitempty" yaml:"endpoint_type,omitempty" validate:"omitempty,oneof=read_write read_only"`
	CreateEndpointIfMissing bool         `json:"create_endpoint_if_missing,omitempty" yaml:"create_endpoint_if_missing,omitempty"`

	DatabaseName        string `json:"database_name,omitempty" yaml:"database_name,omitempty"`
	RoleName            string `json:"role_name,omitempty" yaml:"role_name,omitempty"`
	UseConnectionPooler bool   `json:"use_connection_pooler,omitempty" yaml:"use_connection_pooler,omitempty"`
}

// BranchDirectives selects or describes the branch to attach to.
type BranchDirectives struct {
	BranchID              string           `json:"branch_id,omitempty" yaml:"branch_id,omitempty"`
	BranchName            string           `json:"branch_name,omitempty" yaml:"branch_name,omitempty"`
	ParentBranchID        string           `json:"parent_branch_id,omitempty" yaml:"parent_branch_id,omitempty"`
	ParentBranchName      string           `json:"parent_branch_name,omitempty" yaml:"parent_branch_name,omitempty"`
	ParentLSN             string           `json:"parent_lsn,omitempty" yaml:"parent_lsn,omitempty"`
	ParentTimestamp       *time.Time       `json:"parent_timestamp,omitempty" yaml:"parent_timestamp,omitempty"`
	Protected             *bool            `json:"protected,omitempty" yaml:"protected,omitempty"`
	Archived              *bool            `json:"archived,omitempty" yaml:"archived,omitempty"`
	InitSource            BranchInitSource `json:"init_source,omitempty" yaml:"init_source,omitempty" validate:"omitempty,oneof=schema-only parent-data"`
	ExpiresAt             *time.Time       `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	CreateBranchIfMissing bool             `json:"create_branch_if_missing,omitempty" yaml:"create_branch_if_missing,omitempty"`
	SetAsDefault          bool             `json:"set_as_default,omitempty" yaml:"set_as_default,omitempty"`
	UseEphemeralBranch    bool             `json:"use_ephemeral_branch,omitempty" yaml:"use_ephemeral_branch,omitempty"`
	EphemeralBranchPrefix string           `json:"ephemeral_branch_prefix,omitempty" yaml:"ephemeral_branch_prefix,omitempty"`

	Restore       RestoreDirectives       `json:"restore" yaml:"restore"`
	Anonymization AnonymizationDirectives `json:"anonymization" yaml:"anonymization"`
}

// RestoreDirectives restores the branch from another branch's history.
type RestoreDirectives struct {
	Enabled           bool       `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SourceBranchID    string     `json:"source_branch_id,omitempty" yaml:"source_branch_id,omitempty"`
	SourceLSN         string     `json:"source_lsn,omitempty" yaml:"source_lsn,omitempty"`
	SourceTimestamp   *time.Time `json:"source_timestamp,omitempty" yaml:"source_timestamp,omitempty"`
	PreserveUnderName string     `json:"preserve_under_name,omitempty" yaml:"preserve_under_name,omitempty"`
}

// AnonymizationDirectives masks column data on the branch.
type AnonymizationDirectives struct {
	Enabled          bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	StartImmediately bool          `json:"start_immediately,omitempty" yaml:"start_immediately,omitempty"`
	MaskingRules     []MaskingRule `json:"masking_rules,omitempty" yaml:"masking_rules,omitempty" validate:"dive"`
}

// MaskingRule masks one column. Exactly one of MaskingFunction and
// MaskingValue must be set.
type MaskingRule struct {
	DatabaseName    string `json:"database_name" yaml:"database_name" validate:"required"`
	SchemaName      string `json:"schema_name,omitempty" yaml:"schema_name,omitempty"`
	TableName       string `json:"table_name" yaml:"table_name" validate:"required"`
	ColumnName      string `json:"column_name" yaml:"column_name" validate:"required"`
	MaskingFunction string `json:"masking_function,omitempty" yaml:"masking_function,omitempty"`
	MaskingValue    string `json:"masking_value,omitempty" yaml:"masking_value,omitempty"`
}

// DatabaseDeclaration declares a logical database against a project.
type DatabaseDeclaration struct {
	Name         string `json:"name" yaml:"name" validate:"required"`
	DatabaseName string `json:"database_name,omitempty" yaml:"database_name,omitempty"`
	RoleName     string `json:"role_name,omitempty" yaml:"role_name,omitempty"`
}

// WithDefaults returns a copy of d with unset values replaced by their defaults.
func (d Directives) WithDefaults() Directives {
	out := d
	if out.DatabaseName == "" {
		out.DatabaseName = DefaultDatabaseName
	}
	if out.EndpointType == "" {
		out.EndpointType = EndpointReadWrite
	}
	if out.Branch.EphemeralBranchPrefix == "" {
		out.Branch.EphemeralBranchPrefix = DefaultEphemeralBranchPrefix
	}
	if len(d.Branch.Anonymization.MaskingRules) > 0 {
		rules := make([]MaskingRule, len(d.Branch.Anonymization.MaskingRules))
		copy(rules, d.Branch.Anonymization.MaskingRules)
		out.Branch.Anonymization.MaskingRules = rules
	}
	return out
}

// WithDefaults fills DatabaseName from Name and RoleName as "<database>_owner".
func (d DatabaseDeclaration) WithDefaults() DatabaseDeclaration {
	out := d
	if out.DatabaseName == "" {
		out.DatabaseName = out.Name
	}
	if out.RoleName == "" {
		out.RoleName = out.DatabaseName + "_owner"
	}
	return out
}

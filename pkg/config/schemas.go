package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/openfroyo/neonlink/pkg/engine"
)

// Built-in schema names.
const (
	SchemaProject    = "project"
	SchemaDirectives = "directives"
	SchemaDatabase   = "database"
	SchemaSettings   = "settings"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	root := sr.ctx.CompileString(builtinSchemas, cue.Filename("neonlink-schemas.cue"))
	if err := root.Err(); err != nil {
		panic(fmt.Sprintf("built-in schemas do not compile: %v", err))
	}

	for name, def := range map[string]string{
		SchemaProject:    "#Project",
		SchemaDirectives: "#Directives",
		SchemaDatabase:   "#Database",
		SchemaSettings:   "#Settings",
	} {
		sr.schemas[name] = root.LookupPath(cue.ParsePath(def))
	}
}

// RegisterSchema compiles a CUE schema and registers it under name. When
// the source declares #Schema, that definition is the schema; otherwise
// the whole value is.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if def := val.LookupPath(cue.ParsePath("#Schema")); def.Exists() {
		val = def
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data, as its JSON encoding, against a
// named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	return sr.ValidateJSON(schemaName, encoded)
}

// ValidateJSON validates an encoded JSON document against a named schema.
// Fields the schema does not declare are rejected.
func (sr *SchemaRegistry) ValidateJSON(schemaName string, data []byte) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.CompileBytes(data, cue.Filename(schemaName+".json"))
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateProject validates a project declaration against the project schema.
func (sr *SchemaRegistry) ValidateProject(ctx context.Context, project ProjectConfig) error {
	return sr.ValidateAgainstSchema(ctx, SchemaProject, project)
}

// ValidateDirectives validates directives against the directives schema.
func (sr *SchemaRegistry) ValidateDirectives(ctx context.Context, directives engine.Directives) error {
	return sr.ValidateAgainstSchema(ctx, SchemaDirectives, directives)
}

// ValidateDatabase validates a database declaration against the database schema.
func (sr *SchemaRegistry) ValidateDatabase(ctx context.Context, decl engine.DatabaseDeclaration) error {
	return sr.ValidateAgainstSchema(ctx, SchemaDatabase, decl)
}

// ValidateSettings validates settings against the settings schema.
func (sr *SchemaRegistry) ValidateSettings(ctx context.Context, settings *Settings) error {
	return sr.ValidateAgainstSchema(ctx, SchemaSettings, settings)
}

const builtinSchemas = `
import "time"

#Name: =~"^[A-Za-z0-9][A-Za-z0-9_-]*$"

#Project: {
	name?:      #Name
	directives: #Directives
	databases?: [...#Database]
}

#Database: {
	name:           #Name
	database_name?: string
	role_name?:     string
}

#Directives: {
	project_id?:                 string
	project_name?:               string
	create_project_if_missing?:  bool
	organization_id?:            string
	organization_name?:          string
	region_id?:                  string
	postgres_version?:           int & >=14 & <=18
	branch?:                     #Branch
	endpoint_id?:                string
	endpoint_type?:              "read_write" | "read_only"
	create_endpoint_if_missing?: bool
	database_name?:              string
	role_name?:                  string
	use_connection_pooler?:      bool
}

#Branch: {
	branch_id?:                string
	branch_name?:              string
	parent_branch_id?:         string
	parent_branch_name?:       string
	parent_lsn?:               string
	parent_timestamp?:         time.Time
	protected?:                bool
	archived?:                 bool
	init_source?:              "schema-only" | "parent-data"
	expires_at?:               time.Time
	create_branch_if_missing?: bool
	set_as_default?:           bool
	use_ephemeral_branch?:     bool
	ephemeral_branch_prefix?:  string
	restore?:                  #Restore
	anonymization?:            #Anonymization
}

#Restore: {
	enabled?:             bool
	source_branch_id?:    string
	source_lsn?:          string
	source_timestamp?:    time.Time
	preserve_under_name?: string
}

#Anonymization: {
	enabled?:           bool
	start_immediately?: bool
	masking_rules?: [...#MaskingRule]
}

#MaskingRule: {
	database_name:     string
	schema_name?:      string
	table_name:        string
	column_name:       string
	masking_function?: string
	masking_value?:    string
}

#Settings: {
	work_dir?:        string
	worker_command?:  string
	worker_args?: [...string]
	cache_root?:      string
	output_root?:     string
	poll_interval?:   int & >0
	deadline?:        int & >0
	command_timeout?: int & >=0
	store_path?:      string
	policy_paths?: [...string]
	telemetry?: {
		log_level?:        "trace" | "debug" | "info" | "warn" | "error" | "disabled"
		log_format?:       "console" | "json"
		tracing_exporter?: "none" | "stdout" | "otlp"
		otlp_endpoint?:    string
		metrics_address?:  string
		environment?:      string
	}
}
`

package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/openfroyo/neonlink/pkg/engine"
)

// Topology is the set of projects an application declares.
type Topology struct {
	// Version is the topology format version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Projects are the declared Neon projects.
	Projects []ProjectConfig `json:"projects" yaml:"projects" validate:"dive"`

	// SourceFiles are the files the topology was read from.
	SourceFiles []string `json:"source_files,omitempty" yaml:"-"`

	// ParsedAt is when the topology was parsed.
	ParsedAt time.Time `json:"parsed_at" yaml:"-"`

	// Errors lists any validation errors. A topology with errors must not
	// be provisioned.
	Errors []ValidationError `json:"errors,omitempty" yaml:"-"`
}

// ProjectConfig declares one project resource and its databases.
type ProjectConfig struct {
	// Name is the project resource name. In keyed CUE topologies the key
	// is used when name is omitted.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Directives are the provisioning directives handed to the worker.
	Directives engine.Directives `json:"directives" yaml:"directives"`

	// Databases are the database resources declared against the project.
	Databases []engine.DatabaseDeclaration `json:"databases,omitempty" yaml:"databases,omitempty" validate:"dive"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the topology path to the error (e.g., "projects.shop.directives").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) String() string {
	loc := e.Path
	if e.File != "" {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	if loc == "" {
		return e.Message
	}
	return loc + ": " + e.Message
}

// Valid reports whether the topology parsed without errors.
func (t *Topology) Valid() bool {
	return len(t.Errors) == 0
}

// Project returns the project with the given name.
func (t *Topology) Project(name string) (*ProjectConfig, bool) {
	for i := range t.Projects {
		if t.Projects[i].Name == name {
			return &t.Projects[i], true
		}
	}
	return nil, false
}

// ProjectNames returns the project names in sorted order.
func (t *Topology) ProjectNames() []string {
	names := make([]string, 0, len(t.Projects))
	for _, p := range t.Projects {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Resources builds the project resources, with their databases declared,
// in topology order.
func (t *Topology) Resources() ([]*engine.ProjectResource, error) {
	if !t.Valid() {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("topology has %d validation errors", len(t.Errors)), nil)
	}

	out := make([]*engine.ProjectResource, 0, len(t.Projects))
	for _, pc := range t.Projects {
		project, err := pc.Resource()
		if err != nil {
			return nil, err
		}
		out = append(out, project)
	}
	return out, nil
}

// Resource builds the project resource for one project declaration.
func (pc ProjectConfig) Resource() (*engine.ProjectResource, error) {
	project, err := engine.NewProjectResource(pc.Name, pc.Directives)
	if err != nil {
		return nil, err
	}
	for _, decl := range pc.Databases {
		if _, err := project.AddDatabase(decl); err != nil {
			return nil, err
		}
	}
	return project, nil
}

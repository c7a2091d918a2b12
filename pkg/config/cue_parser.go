package config

import (
	"bytes"
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/neonlink/pkg/contract"
)

// CUEParser parses and validates topology files. CUE is the primary
// format; .yaml and .yml files are read with the same validation.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new topology parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:            cuecontext.New(),
		schemaRegistry: NewSchemaRegistry(),
		validator:      validator.New(),
	}
}

// Parse reads topology sources (files or directories). CUE sources are
// unified into one value; YAML sources contribute their projects. Parse
// returns an error only when a source cannot be read; problems in the
// content are reported in Topology.Errors.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*Topology, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var cueFiles, yamlFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		files := []string{source}
		if info.IsDir() {
			if files, err = cp.LoadFromDirectory(source); err != nil {
				return nil, err
			}
		}

		for _, file := range files {
			switch strings.ToLower(filepath.Ext(file)) {
			case ".yaml", ".yml":
				yamlFiles = append(yamlFiles, file)
			default:
				val, errs := cp.loadFile(file)
				parseErrors = append(parseErrors, errs...)
				if val.Exists() {
					if cueValue.Exists() {
						cueValue = cueValue.Unify(val)
					} else {
						cueValue = val
					}
				}
				cueFiles = append(cueFiles, file)
			}
		}
	}

	topology := &Topology{
		SourceFiles: append(cueFiles, yamlFiles...),
		ParsedAt:    time.Now(),
		Errors:      parseErrors,
	}
	if len(parseErrors) > 0 {
		return topology, nil
	}

	if cueValue.Exists() {
		if err := cueValue.Err(); err != nil {
			topology.Errors = append(topology.Errors, cp.convertCUEErrors(err)...)
			return topology, nil
		}
		cp.extractTopology(cueValue, topology)
	}

	for _, file := range yamlFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		cp.extractYAML(file, data, topology)
	}

	cp.validate(ctx, topology)
	return topology, nil
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*Topology, error) {
	topology := &Topology{
		SourceFiles: []string{"inline"},
		ParsedAt:    time.Now(),
	}

	val := cp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		topology.Errors = cp.convertCUEErrors(err)
		return topology, nil
	}

	cp.extractTopology(val, topology)
	cp.validate(ctx, topology)
	return topology, nil
}

// ParseYAML parses YAML topology content.
func (cp *CUEParser) ParseYAML(ctx context.Context, data []byte) (*Topology, error) {
	topology := &Topology{
		SourceFiles: []string{"inline.yaml"},
		ParsedAt:    time.Now(),
	}
	cp.extractYAML("inline.yaml", data, topology)
	cp.validate(ctx, topology)
	return topology, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractTopology reads version and projects from a CUE value. Projects
// may be a struct keyed by project name or a list.
func (cp *CUEParser) extractTopology(val cue.Value, topology *Topology) {
	if v := val.LookupPath(cue.ParsePath("version")); v.Exists() {
		if s, err := v.String(); err == nil {
			topology.Version = s
		}
	}

	projectsVal := val.LookupPath(cue.ParsePath("projects"))
	if !projectsVal.Exists() {
		return
	}

	switch projectsVal.Kind() {
	case cue.StructKind:
		iter, err := projectsVal.Fields()
		if err != nil {
			topology.Errors = append(topology.Errors, ValidationError{
				Path:     "projects",
				Message:  fmt.Sprintf("failed to iterate projects: %v", err),
				Severity: "error",
			})
			return
		}
		for iter.Next() {
			path := fmt.Sprintf("projects.%s", iter.Selector())
			project, err := cp.extractProject(iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				topology.Errors = append(topology.Errors, ValidationError{Path: path, Message: err.Error(), Severity: "error"})
				continue
			}
			topology.Projects = append(topology.Projects, project)
		}
	case cue.ListKind:
		list, err := projectsVal.List()
		if err != nil {
			topology.Errors = append(topology.Errors, ValidationError{
				Path:     "projects",
				Message:  fmt.Sprintf("failed to list projects: %v", err),
				Severity: "error",
			})
			return
		}
		for idx := 0; list.Next(); idx++ {
			project, err := cp.extractProject("", list.Value())
			if err != nil {
				topology.Errors = append(topology.Errors, ValidationError{
					Path:     fmt.Sprintf("projects[%d]", idx),
					Message:  err.Error(),
					Severity: "error",
				})
				continue
			}
			topology.Projects = append(topology.Projects, project)
		}
	default:
		topology.Errors = append(topology.Errors, ValidationError{
			Path:     "projects",
			Message:  fmt.Sprintf("projects must be a struct or a list, got %s", projectsVal.Kind()),
			Severity: "error",
		})
	}
}

// extractProject checks one project against the project schema and
// decodes it through its JSON form, so the engine types decode with their
// own json tags.
func (cp *CUEParser) extractProject(key string, val cue.Value) (ProjectConfig, error) {
	var project ProjectConfig

	data, err := val.MarshalJSON()
	if err != nil {
		return project, fmt.Errorf("failed to export project: %w", err)
	}
	if err := cp.schemaRegistry.ValidateJSON(SchemaProject, data); err != nil {
		return project, err
	}
	if err := json.Unmarshal(data, &project); err != nil {
		return project, fmt.Errorf("failed to decode project: %w", err)
	}

	if project.Name == "" && key != "" {
		project.Name = key
	}
	return project, nil
}

func (cp *CUEParser) extractYAML(file string, data []byte, topology *Topology) {
	var doc Topology
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !goerrors.Is(err, io.EOF) {
		topology.Errors = append(topology.Errors, ValidationError{
			File:     file,
			Message:  fmt.Sprintf("failed to parse YAML: %v", err),
			Severity: "error",
		})
		return
	}
	if topology.Version == "" {
		topology.Version = doc.Version
	}
	topology.Projects = append(topology.Projects, doc.Projects...)
}

// validate runs the CUE schema, the struct tags and the directive rules
// over every project.
func (cp *CUEParser) validate(ctx context.Context, topology *Topology) {
	if len(topology.Projects) == 0 && topology.Valid() {
		topology.Errors = append(topology.Errors, ValidationError{
			Path:     "projects",
			Message:  "no projects declared",
			Severity: "error",
		})
		return
	}

	seen := make(map[string]bool, len(topology.Projects))
	for _, project := range topology.Projects {
		path := fmt.Sprintf("projects.%s", project.Name)
		fail := func(msg string) {
			topology.Errors = append(topology.Errors, ValidationError{Path: path, Message: msg, Severity: "error"})
		}

		if seen[project.Name] {
			fail("duplicate project")
			continue
		}
		seen[project.Name] = true

		if err := cp.schemaRegistry.ValidateProject(ctx, project); err != nil {
			fail(err.Error())
			continue
		}
		if err := cp.validator.Struct(project); err != nil {
			fail(err.Error())
			continue
		}
		if err := contract.ValidateProject(project.Name, project.Directives, project.Databases); err != nil {
			fail(err.Error())
		}
	}
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// LoadFromDirectory lists the topology files (.cue, .yaml, .yml) under a
// directory.
func (cp *CUEParser) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".cue", ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return files, nil
}

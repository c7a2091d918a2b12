package contract

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/neonlink/pkg/engine"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func directivesValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterStructValidation(maskingRuleLevel, engine.MaskingRule{})
	})
	return validate
}

// maskingRuleLevel enforces that exactly one of MaskingFunction and
// MaskingValue is set.
func maskingRuleLevel(sl validator.StructLevel) {
	rule := sl.Current().Interface().(engine.MaskingRule)
	hasFunction := strings.TrimSpace(rule.MaskingFunction) != ""
	hasValue := rule.MaskingValue != ""
	if hasFunction == hasValue {
		sl.ReportError(rule.MaskingFunction, "MaskingFunction", "masking_function", "function_xor_value", "")
	}
}

// ValidateDirectives checks the directives and the database declarations
// of a project before anything is launched. Every problem is reported as
// a single ConfigurationError.
func ValidateDirectives(d engine.Directives, databases []engine.DatabaseDeclaration) error {
	var problems []string

	if strings.TrimSpace(d.ProjectID) == "" && strings.TrimSpace(d.ProjectName) == "" {
		problems = append(problems, "either project_id or project_name must be set")
	}

	if err := directivesValidator().Struct(d); err != nil {
		problems = append(problems, describe(err)...)
	}

	seen := make(map[string]bool, len(databases))
	for i, decl := range databases {
		if err := directivesValidator().Struct(decl); err != nil {
			for _, p := range describe(err) {
				problems = append(problems, fmt.Sprintf("databases[%d]: %s", i, p))
			}
			continue
		}
		key := strings.ToLower(decl.Name)
		if seen[key] {
			problems = append(problems, fmt.Sprintf("databases[%d]: duplicate database resource %q", i, decl.Name))
		}
		seen[key] = true
	}

	if len(problems) == 0 {
		return nil
	}
	return engine.NewConfigurationError(strings.Join(problems, "; "), nil).
		WithDetail("problems", problems)
}

// ValidateProject runs ValidateDirectives and also rejects database
// resources named like the project. Both kinds of resource get an env file
// of that name in the project's directory.
func ValidateProject(name string, d engine.Directives, databases []engine.DatabaseDeclaration) error {
	err := ValidateDirectives(d, databases)
	var problems []string
	for i, decl := range databases {
		if strings.EqualFold(decl.Name, name) {
			problems = append(problems, fmt.Sprintf("databases[%d]: database resource %q has the same name as its project", i, decl.Name))
		}
	}
	if len(problems) == 0 {
		return err
	}

	var ee *engine.EngineError
	if errors.As(err, &ee) {
		if prev, ok := ee.Details["problems"].([]string); ok {
			problems = append(prev, problems...)
		}
	}
	return engine.NewConfigurationError(strings.Join(problems, "; "), nil).
		WithResource(name).
		WithDetail("problems", problems)
}

func describe(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "function_xor_value":
			out = append(out, fmt.Sprintf("%s: exactly one of masking_function and masking_value must be set", ruleNamespace(fe)))
		case "required":
			out = append(out, fmt.Sprintf("%s is required", fe.Namespace()))
		case "oneof":
			out = append(out, fmt.Sprintf("%s must be one of [%s], got %v", fe.Namespace(), fe.Param(), fe.Value()))
		case "min", "max":
			out = append(out, fmt.Sprintf("%s must satisfy %s=%s, got %v", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		default:
			out = append(out, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
		}
	}
	return out
}

func ruleNamespace(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.LastIndex(ns, "."); i > 0 {
		return ns[:i]
	}
	return ns
}

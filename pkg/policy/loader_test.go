package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const emptyDeny = "\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}\n"

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := newTestLoader()
	policyFile := filepath.Join(t.TempDir(), "region-lock.rego")

	regoContent := `# Keep projects in one region
package custom.region

import rego.v1

deny contains msg if {
	input.directives.region_id == "aws-us-east-2"
	msg := "region not allowed"
}`
	writeFile(t, policyFile, regoContent)

	policies, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	policy := policies[0]
	if policy.Name != "region-lock" {
		t.Errorf("Expected name 'region-lock', got '%s'", policy.Name)
	}
	if policy.Description != "Keep projects in one region" {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled || policy.Builtin {
		t.Errorf("Expected an enabled custom policy, got enabled=%v builtin=%v", policy.Enabled, policy.Builtin)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", policy.Severity)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := newTestLoader()
	policyFile := filepath.Join(t.TempDir(), "test-policy.json")

	policy := Policy{
		Name:        "test-json-policy",
		Description: "A test policy",
		Rego:        "package test" + emptyDeny,
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
	}
	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writeFile(t, policyFile, string(data))

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	got := loaded[0]
	if got.Name != policy.Name {
		t.Errorf("Expected name '%s', got '%s'", policy.Name, got.Name)
	}
	if got.Severity != policy.Severity {
		t.Errorf("Expected severity '%s', got '%s'", policy.Severity, got.Severity)
	}
	if got.Builtin {
		t.Error("File policies must never be marked built-in")
	}
}

func TestLoadFromFile_Bundle(t *testing.T) {
	loader := newTestLoader()
	bundleFile := filepath.Join(t.TempDir(), "team.bundle.json")

	bundle := PolicyBundle{
		Name:    "team",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "policy1", Rego: "package p1" + emptyDeny, Enabled: true},
			{Name: "policy2", Rego: "package p2" + emptyDeny, Severity: SeverityWarning, Enabled: true},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	writeFile(t, bundleFile, string(data))

	loaded, err := loader.loadFromFile(context.Background(), bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(loaded))
	}
	if loaded[0].Severity != SeverityError {
		t.Errorf("Expected default severity for policy1, got %s", loaded[0].Severity)
	}
	if loaded[1].Severity != SeverityWarning {
		t.Errorf("Expected warning for policy2, got %s", loaded[1].Severity)
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := newTestLoader()
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	if err := os.Mkdir(subDir, 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	writeFile(t, filepath.Join(tmpDir, "policy1.rego"), "package p1"+emptyDeny)
	writeFile(t, filepath.Join(subDir, "policy2.rego"), "package p2"+emptyDeny)
	writeFile(t, filepath.Join(tmpDir, "README.md"), "# Policies")
	writeFile(t, filepath.Join(tmpDir, "broken.json"), "{")

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies (broken file skipped), got %d", len(loaded))
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := newTestLoader()
	tmpDir := t.TempDir()

	dir1 := filepath.Join(tmpDir, "dir1")
	if err := os.Mkdir(dir1, 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	writeFile(t, filepath.Join(dir1, "policy1.rego"), "package p1"+emptyDeny)
	file1 := filepath.Join(tmpDir, "policy2.rego")
	writeFile(t, file1, "package p2"+emptyDeny)

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir1, file1})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(tmpDir, "missing")}); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestExtractDescription(t *testing.T) {
	loader := newTestLoader()

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "single line comment",
			content:  "# Blocks unmasked branches\npackage test",
			expected: "Blocks unmasked branches",
		},
		{
			name:     "multi line comments",
			content:  "# Blocks unmasked branches\n# in every project\npackage test",
			expected: "Blocks unmasked branches in every project",
		},
		{
			name:     "no comments",
			content:  "package test" + emptyDeny,
			expected: "",
		},
		{
			name:     "comments with empty lines",
			content:  "# First line\n#\n# Second line\npackage test",
			expected: "First line Second line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := loader.extractDescription(tt.content); result != tt.expected {
				t.Errorf("Expected description '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := newTestLoader()
	policyFile := filepath.Join(t.TempDir(), "test.rego")
	writeFile(t, policyFile, "package test"+emptyDeny)

	if _, err := loader.loadFromFile(context.Background(), policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	loader := newTestLoader()
	tmpDir := t.TempDir()

	tests := map[string]string{
		"test.txt":     "not a policy",
		"invalid.json": "invalid json",
		"noname.json":  `{"rego": "package x"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(tmpDir, name)
			writeFile(t, path, content)
			if _, err := loader.loadFromFile(context.Background(), path); err == nil {
				t.Errorf("Expected error loading %s", name)
			}
		})
	}
}

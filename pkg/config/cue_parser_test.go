package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/neonlink/pkg/engine"
)

const shopTopology = `
version: "1"

projects: {
	shop: {
		directives: {
			project_name:              "shop"
			create_project_if_missing: true
			region_id:                 "aws-eu-central-1"
			branch: {
				branch_name:              "preview"
				create_branch_if_missing: true
				expires_at:               "2030-01-01T00:00:00Z"
			}
		}
		databases: [
			{name: "orders"},
			{name: "users", role_name: "app"},
		]
	}
}
`

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErr   string
		checkFunc func(*testing.T, *Topology)
	}{
		{
			name:    "keyed projects",
			content: shopTopology,
			checkFunc: func(t *testing.T, topo *Topology) {
				if topo.Version != "1" {
					t.Errorf("expected version 1, got %q", topo.Version)
				}
				shop, ok := topo.Project("shop")
				if !ok {
					t.Fatal("project shop not found")
				}
				if shop.Directives.Branch.ExpiresAt == nil || shop.Directives.Branch.ExpiresAt.Year() != 2030 {
					t.Errorf("expires_at not decoded: %v", shop.Directives.Branch.ExpiresAt)
				}
				if len(shop.Databases) != 2 || shop.Databases[1].RoleName != "app" {
					t.Errorf("unexpected databases %+v", shop.Databases)
				}
			},
		},
		{
			name: "project list",
			content: `
projects: [
	{name: "a", directives: project_id: "p-1"},
	{name: "b", directives: project_name: "b"},
]
`,
			checkFunc: func(t *testing.T, topo *Topology) {
				if got := strings.Join(topo.ProjectNames(), ","); got != "a,b" {
					t.Errorf("expected projects a,b, got %s", got)
				}
			},
		},
		{
			name:    "invalid CUE syntax",
			content: "projects: {\n\tshop: directives: {\n\tinvalid syntax here\n}\n",
			wantErr: "",
		},
		{
			name:    "unknown directive",
			content: `projects: shop: directives: {project_name: "shop", colour: "blue"}`,
			wantErr: "colour",
		},
		{
			name:    "postgres version out of range",
			content: `projects: shop: directives: {project_name: "shop", postgres_version: 9}`,
			wantErr: "projects.shop",
		},
		{
			name:    "no project identity",
			content: `projects: shop: directives: {region_id: "aws-eu-central-1"}`,
			wantErr: "either project_id or project_name",
		},
		{
			name: "masking rule with both function and value",
			content: `projects: shop: directives: {
	project_name: "shop"
	branch: anonymization: masking_rules: [{
		database_name: "neondb", table_name: "users", column_name: "email"
		masking_function: "anon.fake_email()", masking_value: "x"
	}]
}`,
			wantErr: "exactly one of masking_function and masking_value",
		},
		{
			name:    "duplicate database",
			content: `projects: shop: {directives: project_name: "shop", databases: [{name: "orders"}, {name: "Orders"}]}`,
			wantErr: "duplicate database resource",
		},
		{
			name:    "database named like its project",
			content: `projects: shop: {directives: project_name: "shop", databases: [{name: "Shop"}]}`,
			wantErr: "same name as its project",
		},
		{
			name:    "no projects",
			content: `version: "1"`,
			wantErr: "no projects declared",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo, err := parser.ParseInline(ctx, tt.content)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.checkFunc != nil {
				if !topo.Valid() {
					t.Fatalf("unexpected validation errors: %v", topo.Errors)
				}
				tt.checkFunc(t, topo)
				return
			}

			if topo.Valid() {
				t.Fatal("expected validation errors, got none")
			}
			var all []string
			for _, e := range topo.Errors {
				all = append(all, e.String())
			}
			if joined := strings.Join(all, "\n"); !strings.Contains(joined, tt.wantErr) {
				t.Errorf("errors %q do not mention %q", joined, tt.wantErr)
			}
		})
	}
}

func TestCUEParser_ParseFiles(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "shop.cue"), []byte(shopTopology), 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	yamlTopology := `
projects:
  - name: analytics
    directives:
      project_id: p-analytics
      endpoint_id: ep-1
    databases:
      - name: events
`
	if err := os.WriteFile(filepath.Join(dir, "analytics.yaml"), []byte(yamlTopology), 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# ignored"), 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	topo, err := parser.Parse(ctx, []string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !topo.Valid() {
		t.Fatalf("unexpected validation errors: %v", topo.Errors)
	}
	if len(topo.SourceFiles) != 2 {
		t.Errorf("expected 2 source files, got %v", topo.SourceFiles)
	}
	if got := strings.Join(topo.ProjectNames(), ","); got != "analytics,shop" {
		t.Errorf("expected analytics,shop, got %s", got)
	}

	analytics, _ := topo.Project("analytics")
	if analytics.Directives.ProjectID != "p-analytics" || analytics.Directives.EndpointID != "ep-1" {
		t.Errorf("YAML directives not decoded: %+v", analytics.Directives)
	}
}

func TestCUEParser_ParseYAML_Duplicate(t *testing.T) {
	parser := NewCUEParser()
	topo, err := parser.ParseYAML(context.Background(), []byte(`
projects:
  - name: shop
    directives: {project_name: shop}
  - name: shop
    directives: {project_name: shop}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if topo.Valid() || !strings.Contains(topo.Errors[0].Message, "duplicate project") {
		t.Errorf("expected duplicate project error, got %v", topo.Errors)
	}
}

func TestCUEParser_ParseMissingSource(t *testing.T) {
	parser := NewCUEParser()
	if _, err := parser.Parse(context.Background(), nil); err == nil {
		t.Error("expected error for no sources")
	}
	if _, err := parser.Parse(context.Background(), []string{filepath.Join(t.TempDir(), "missing.cue")}); err == nil {
		t.Error("expected error for a missing source")
	}
}

func TestTopologyResources(t *testing.T) {
	topo, err := NewCUEParser().ParseInline(context.Background(), shopTopology)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}

	projects, err := topo.Resources()
	if err != nil {
		t.Fatalf("Resources: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}

	shop := projects[0]
	if shop.State() != engine.StateWaiting {
		t.Errorf("new project state = %s", shop.State())
	}
	dbs := shop.Databases()
	if len(dbs) != 2 {
		t.Fatalf("expected 2 databases, got %d", len(dbs))
	}
	if dbs[0].RoleName() != "orders_owner" {
		t.Errorf("default role = %s, want orders_owner", dbs[0].RoleName())
	}

	invalid := &Topology{Errors: []ValidationError{{Message: "bad", Severity: "error"}}}
	if _, err := invalid.Resources(); err == nil {
		t.Error("expected an error for an invalid topology")
	}
}

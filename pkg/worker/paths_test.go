package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/template"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"neon", "neon"},
		{"my:db/proj", "my-db-proj"},
		{`a<b>c"d\e|f?g*h`, "a-b-c-d-e-f-g-h"},
		{"tab\there", "tab-here"},
		{"ünïcode", "ünïcode"},
	}

	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOutputPath(t *testing.T) {
	root := t.TempDir()

	got := OutputPath(root, "/srv/app", "my:proj")
	want := filepath.Join(root, template.Fingerprint("/srv/app"), "my-proj.json")
	if got != want {
		t.Errorf("OutputPath = %q, want %q", got, want)
	}

	if other := OutputPath(root, "/srv/other", "my:proj"); other == got {
		t.Error("different work dirs share an output path")
	}

	def := OutputPath("", "/srv/app", "neon")
	if !strings.HasPrefix(def, filepath.Join(os.TempDir(), OutputDirName)) {
		t.Errorf("default output path %q is not under the temp dir", def)
	}
}

func TestDeleteArtifacts(t *testing.T) {
	output := filepath.Join(t.TempDir(), "neon.json")

	// nothing to delete is not an error
	if err := DeleteArtifacts(output); err != nil {
		t.Fatalf("DeleteArtifacts on empty dir: %v", err)
	}

	for _, p := range []string{output, contract.FailureLogPath(output)} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if err := DeleteArtifacts(output); err != nil {
		t.Fatalf("DeleteArtifacts: %v", err)
	}
	for _, p := range []string{output, contract.FailureLogPath(output)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists", p)
		}
	}
}

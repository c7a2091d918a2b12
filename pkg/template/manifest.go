package template

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest describes how to start the worker from a materialized directory.
type Manifest struct {
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args,omitempty"`
	PassthroughEnv []string `yaml:"passthrough_env,omitempty"`

	// Dir is the directory the manifest was loaded from.
	Dir string `yaml:"-"`
}

// LoadManifest reads worker.yaml from a materialized worker directory.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse worker manifest %s: %w", path, err)
	}
	if strings.TrimSpace(m.Command) == "" {
		return nil, fmt.Errorf("worker manifest %s has no command", path)
	}
	m.Dir = dir
	return &m, nil
}

// ResolveCommand returns the absolute executable path. Bare names are
// looked up on PATH; relative paths are resolved against the manifest dir.
func (m *Manifest) ResolveCommand() (string, error) {
	cmd := m.Command
	if filepath.IsAbs(cmd) {
		return cmd, nil
	}
	if strings.ContainsRune(cmd, filepath.Separator) || strings.ContainsRune(cmd, '/') {
		return filepath.Join(m.Dir, filepath.FromSlash(cmd)), nil
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		return "", fmt.Errorf("worker command %q not found: %w", cmd, err)
	}
	return path, nil
}

// HostEnv returns KEY=VALUE entries for the passthrough variables that are
// set in the current environment.
func (m *Manifest) HostEnv() []string {
	var out []string
	for _, key := range m.PassthroughEnv {
		if value, ok := os.LookupEnv(key); ok {
			out = append(out, key+"="+value)
		}
	}
	return out
}

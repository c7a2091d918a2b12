package synchronizer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/worker"
)

// Keys written to connection env files.
const (
	EnvHost          = "NEON_HOST"
	EnvPort          = "NEON_PORT"
	EnvDatabase      = "NEON_DATABASE"
	EnvUsername      = "NEON_USERNAME"
	EnvPassword      = "NEON_PASSWORD"
	EnvConnectionURI = "NEON_CONNECTION_URI"
)

// WriteEnvFiles writes <project>/<name>.env under dir for the project and
// each of its bound databases, and returns the paths written. Each project
// gets its own directory so that projects sharing a database name never
// overwrite each other. Unbound databases are skipped.
func WriteEnvFiles(dir string, project *engine.ProjectResource) ([]string, error) {
	if !project.Healthy() {
		return nil, engine.NewConfigurationError("project has no connection yet", nil).WithResource(project.Name())
	}

	projectDir := filepath.Join(dir, worker.SanitizeFileName(project.Name()))
	if err := os.MkdirAll(projectDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create env directory: %w", err)
	}

	var written []string
	owners := make(map[string]string)
	write := func(name string, conn engine.Connection) error {
		path := filepath.Join(projectDir, worker.SanitizeFileName(name)+".env")
		if owner, taken := owners[strings.ToLower(path)]; taken {
			return engine.NewConfigurationError(
				fmt.Sprintf("env files for %q and %q would share %s", owner, name, path), nil).
				WithResource(project.Name())
		}
		owners[strings.ToLower(path)] = name
		if err := writeFileAtomic(path, []byte(renderEnv(conn)), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
		return nil
	}

	if err := write(project.Name(), project.Connection().Connection); err != nil {
		return written, err
	}
	for _, db := range project.Databases() {
		if !db.Healthy() {
			continue
		}
		if err := write(db.Name(), db.Connection()); err != nil {
			return written, err
		}
	}
	return written, nil
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place, so a reader sees either the old file or the whole new one.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	temp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tempName := temp.Name()
	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempName)
		return err
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempName)
		return err
	}
	if err := os.Chmod(tempName, perm); err != nil {
		_ = os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, path); err != nil {
		_ = os.Remove(tempName)
		return err
	}
	return nil
}

func renderEnv(conn engine.Connection) string {
	values := map[string]string{
		EnvHost:          conn.Host,
		EnvDatabase:      conn.DatabaseName,
		EnvUsername:      conn.RoleName,
		EnvPassword:      conn.Password,
		EnvConnectionURI: conn.ConnectionURI,
	}
	if conn.Port != 0 {
		values[EnvPort] = strconv.Itoa(conn.Port)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, shellQuote(values[k]))
	}
	return b.String()
}

// shellQuote wraps s in single quotes so that sourcing the file never
// expands anything.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

package template

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/neonlink/pkg/engine"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("/src/app")
	if len(a) != 16 {
		t.Fatalf("expected 16 characters, got %q", a)
	}
	if a != Fingerprint("/src/app") {
		t.Errorf("fingerprint is not stable")
	}
	if a == Fingerprint("/src/other") {
		t.Errorf("different directories share a fingerprint")
	}
}

func TestDefaultCacheRoot_NeonlinkHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NEONLINK_HOME", home)

	want := filepath.Join(home, "cache", "neon")
	if got := DefaultCacheRoot(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestEnsure_WritesTemplate(t *testing.T) {
	root := t.TempDir()
	m := NewMaterializer(root, nil, nil)

	dir, err := m.Ensure(context.Background(), "/src/app")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	want := filepath.Join(root, Fingerprint("/src/app"), WorkerDirName)
	if dir != want {
		t.Errorf("expected %s, got %s", want, dir)
	}
	for _, name := range []string{ManifestFileName, "README.md"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not materialized: %v", name, err)
		}
	}

	manifest, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if manifest.Command != "neon-worker" {
		t.Errorf("unexpected default command %q", manifest.Command)
	}
}

func TestEnsure_KeepsExistingFiles(t *testing.T) {
	root := t.TempDir()
	m := NewMaterializer(root, nil, nil)

	dir, err := m.Ensure(context.Background(), "/src/app")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	edited := []byte("command: ./bin/custom-worker\nargs: [\"--verbose\"]\n")
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), edited, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "README.md")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := m.Ensure(context.Background(), "/src/app"); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if string(data) != string(edited) {
		t.Errorf("edited manifest was overwritten: %s", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "README.md")); err != nil {
		t.Errorf("missing file was not restored: %v", err)
	}

	manifest, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	cmd, err := manifest.ResolveCommand()
	if err != nil {
		t.Fatalf("ResolveCommand: %v", err)
	}
	if cmd != filepath.Join(dir, "bin", "custom-worker") {
		t.Errorf("relative command not resolved against manifest dir: %s", cmd)
	}
	if len(manifest.Args) != 1 || manifest.Args[0] != "--verbose" {
		t.Errorf("unexpected args %v", manifest.Args)
	}
}

func TestEnsure_RetriesTransientErrors(t *testing.T) {
	m := NewMaterializer(t.TempDir(), nil, nil)
	m.Backoff = time.Millisecond

	var mu sync.Mutex
	failures := make(map[string]int)
	m.openFile = func(name string, flag int, perm os.FileMode) (*os.File, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures[name] < 2 {
			failures[name]++
			return nil, errors.New("sharing violation")
		}
		return os.OpenFile(name, flag, perm)
	}

	dir, err := m.Ensure(context.Background(), "/src/app")
	if err != nil {
		t.Fatalf("Ensure should succeed on the third attempt: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err != nil {
		t.Errorf("manifest missing: %v", err)
	}
}

func TestEnsure_PersistentFailure(t *testing.T) {
	m := NewMaterializer(t.TempDir(), nil, nil)
	m.Backoff = time.Millisecond

	calls := 0
	m.openFile = func(string, int, os.FileMode) (*os.File, error) {
		calls++
		return nil, errors.New("disk full")
	}

	_, err := m.Ensure(context.Background(), "/src/app")
	if !errors.Is(err, engine.ErrLaunchFailure) {
		t.Fatalf("expected launch failure, got %v", err)
	}
	if calls != defaultAttempts {
		t.Errorf("expected %d attempts, got %d", defaultAttempts, calls)
	}
}

func TestEnsure_CacheRootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(root, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := NewMaterializer(root, nil, nil)
	if _, err := m.Ensure(context.Background(), "/src/app"); !errors.Is(err, engine.ErrLaunchFailure) {
		t.Fatalf("expected launch failure, got %v", err)
	}
}

func TestEnsure_Concurrent(t *testing.T) {
	root := t.TempDir()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := NewMaterializer(root, nil, nil)
			if _, err := m.Ensure(context.Background(), "/src/app"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Ensure failed: %v", err)
	}
}

func TestLoadManifest_Invalid(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadManifest(dir); err == nil {
		t.Errorf("expected error for missing manifest")
	}

	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte("args: [a]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadManifest(dir); err == nil {
		t.Errorf("expected error for manifest without command")
	}
}

func TestManifest_HostEnv(t *testing.T) {
	t.Setenv("NEONLINK_TEST_PASS", "yes")
	m := &Manifest{PassthroughEnv: []string{"NEONLINK_TEST_PASS", "NEONLINK_TEST_UNSET_VAR"}}

	env := m.HostEnv()
	if len(env) != 1 || env[0] != "NEONLINK_TEST_PASS=yes" {
		t.Errorf("unexpected passthrough env %v", env)
	}
}

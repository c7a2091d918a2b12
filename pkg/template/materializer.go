package template

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/telemetry"
)

//go:embed files
var templateFS embed.FS

const (
	// WorkerDirName is the directory created under each fingerprint.
	WorkerDirName = "neon-worker"

	// ManifestFileName is the launch manifest inside the worker directory.
	ManifestFileName = "worker.yaml"

	defaultAttempts = 3
	defaultBackoff  = 25 * time.Millisecond
	lockPollDelay   = 20 * time.Millisecond
)

// dirLocks serializes goroutines on the same cache directory. flock only
// excludes other processes.
var dirLocks sync.Map // map[string]*sync.Mutex

func dirLock(dir string) *sync.Mutex {
	mu, _ := dirLocks.LoadOrStore(dir, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Materializer writes the embedded worker template into a per-application
// cache directory.
type Materializer struct {
	// CacheRoot is the parent of all fingerprint directories.
	// Empty means DefaultCacheRoot().
	CacheRoot string

	// Attempts and Backoff control per-file retries. A failed attempt n
	// waits n*Backoff before the next one.
	Attempts int
	Backoff  time.Duration

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics

	openFile func(name string, flag int, perm os.FileMode) (*os.File, error)
}

// NewMaterializer creates a materializer rooted at cacheRoot.
func NewMaterializer(cacheRoot string, logger *telemetry.Logger, metrics *telemetry.Metrics) *Materializer {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Materializer{
		CacheRoot: cacheRoot,
		Attempts:  defaultAttempts,
		Backoff:   defaultBackoff,
		Logger:    logger.NewComponentLogger("template"),
		Metrics:   metrics,
	}
}

// Fingerprint returns the first 16 hex characters of sha256(workDir).
func Fingerprint(workDir string) string {
	sum := sha256.Sum256([]byte(workDir))
	return hex.EncodeToString(sum[:])[:16]
}

// DefaultCacheRoot resolves $NEONLINK_HOME/cache/neon, then
// ~/.neonlink/cache/neon, then <tmp>/neonlink/cache/neon.
func DefaultCacheRoot() string {
	if home := os.Getenv("NEONLINK_HOME"); home != "" {
		return filepath.Join(home, "cache", "neon")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".neonlink", "cache", "neon")
	}
	return filepath.Join(os.TempDir(), "neonlink", "cache", "neon")
}

// Dir returns the worker directory for workDir without touching the disk.
func (m *Materializer) Dir(workDir string) string {
	root := m.CacheRoot
	if root == "" {
		root = DefaultCacheRoot()
	}
	return filepath.Join(root, Fingerprint(workDir), WorkerDirName)
}

// Ensure materializes the template for workDir and returns the worker
// directory. Files that already exist are left untouched. A file that
// still cannot be written after all attempts yields a LaunchFailure.
func (m *Materializer) Ensure(ctx context.Context, workDir string) (string, error) {
	dir := m.Dir(workDir)

	mu := dirLock(dir)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", engine.NewLaunchFailure("cannot create worker template directory", err).
			WithDetail("dir", dir)
	}

	fileLock := flock.New(filepath.Join(filepath.Dir(dir), ".materialize.lock"))
	locked, err := fileLock.TryLockContext(ctx, lockPollDelay)
	if err != nil {
		return "", engine.NewLaunchFailure("cannot lock worker template directory", err).
			WithDetail("dir", dir)
	}
	if locked {
		defer func() { _ = fileLock.Unlock() }()
	}

	err = fs.WalkDir(templateFS, "files", func(name string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel := name[len("files/"):]
		content, err := templateFS.ReadFile(name)
		if err != nil {
			return err
		}
		return m.writeWithRetry(ctx, filepath.Join(dir, filepath.FromSlash(rel)), content)
	})
	if err != nil {
		var engineErr *engine.EngineError
		if errors.As(err, &engineErr) {
			return "", engineErr
		}
		return "", engine.NewLaunchFailure("cannot materialize worker template", err).WithDetail("dir", dir)
	}

	m.log().Debugf("worker template ready in %s", dir)
	return dir, nil
}

func (m *Materializer) writeWithRetry(ctx context.Context, target string, content []byte) error {
	attempts := m.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			m.Metrics.RecordMaterializeRetry()
			select {
			case <-time.After(time.Duration(attempt-1) * m.Backoff):
			case <-ctx.Done():
				return engine.NewLaunchFailure("template materialization cancelled", ctx.Err())
			}
		}

		created, err := m.createExclusive(target, content)
		if err == nil {
			if created {
				m.log().Debugf("wrote %s", filepath.Base(target))
			}
			return nil
		}
		if _, statErr := os.Stat(target); statErr == nil {
			// another writer won the race
			return nil
		}
		lastErr = err
		m.log().WithError(err).Warnf("writing %s failed (attempt %d/%d)", target, attempt, attempts)
	}

	return engine.NewLaunchFailure(
		fmt.Sprintf("unable to materialize worker template file %s after %d attempts", target, attempts),
		lastErr,
	).WithDetail("file", target)
}

func (m *Materializer) log() *telemetry.Logger {
	if m.Logger == nil {
		return telemetry.NewNopLogger()
	}
	return m.Logger
}

// createExclusive writes content to target unless target already exists.
func (m *Materializer) createExclusive(target string, content []byte) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return false, err
	}

	open := m.openFile
	if open == nil {
		open = os.OpenFile
	}
	f, err := open(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return false, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(target)
		return false, err
	}
	return true, nil
}

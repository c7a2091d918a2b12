package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Policy file formats, by suffix. A bundle is checked before plain JSON.
const (
	formatRego   = ".rego"
	formatBundle = ".bundle.json"
	formatJSON   = ".json"
)

// settleDelay is how long the watcher waits for a burst of file events to
// end before reloading.
const settleDelay = 500 * time.Millisecond

type cachedFile struct {
	modTime  time.Time
	policies []Policy
}

// Loader reads custom policies from disk: .rego sources, single JSON
// policy definitions and .bundle.json bundles. Parsed files are cached
// until their modification time changes.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedFile
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedFile),
	}
}

func formatOf(path string) string {
	for _, suffix := range []string{formatRego, formatBundle, formatJSON} {
		if strings.HasSuffix(path, suffix) {
			return suffix
		}
	}
	return ""
}

// LoadFromPaths loads every policy under paths. A path that cannot be read
// fails the whole load; inside a directory, unreadable files are skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}

		var policies []Policy
		if info.IsDir() {
			policies, err = l.loadFromDirectory(ctx, path)
		} else {
			policies, err = l.loadFromFile(ctx, path)
		}
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}
		out = append(out, policies...)
	}

	l.logger.Debug().Int("policies", len(out)).Strs("paths", paths).Msg("loaded custom policies")
	return out, nil
}

func (l *Loader) loadFromDirectory(ctx context.Context, dir string) ([]Policy, error) {
	var out []Policy
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || formatOf(path) == "" {
			return err
		}
		policies, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("skipping policy file")
			return nil
		}
		out = append(out, policies...)
		return nil
	})
	return out, err
}

func (l *Loader) loadFromFile(_ context.Context, path string) ([]Policy, error) {
	format := formatOf(path)
	if format == "" {
		return nil, fmt.Errorf("%s is not a policy file", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	entry, ok := l.cache[path]
	l.mu.Unlock()
	if ok && entry.modTime.Equal(info.ModTime()) {
		return entry.policies, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	policies, err := l.decode(path, format, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = cachedFile{modTime: info.ModTime(), policies: policies}
	l.mu.Unlock()
	return policies, nil
}

func (l *Loader) decode(path, format string, data []byte) ([]Policy, error) {
	switch format {
	case formatRego:
		now := time.Now()
		return []Policy{{
			Name:        strings.TrimSuffix(filepath.Base(path), formatRego),
			Description: l.extractDescription(string(data)),
			Rego:        string(data),
			Severity:    SeverityError,
			Enabled:     true,
			Metadata:    map[string]interface{}{"source": path},
			CreatedAt:   now,
			UpdatedAt:   now,
		}}, nil

	case formatBundle:
		var bundle PolicyBundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("invalid bundle: %w", err)
		}
		for i := range bundle.Policies {
			if err := normalize(&bundle.Policies[i]); err != nil {
				return nil, fmt.Errorf("bundle %s: %w", bundle.Name, err)
			}
		}
		l.logger.Debug().Str("bundle", bundle.Name).Str("version", bundle.Version).
			Int("policies", len(bundle.Policies)).Msg("read policy bundle")
		return bundle.Policies, nil

	default:
		var policy Policy
		if err := json.Unmarshal(data, &policy); err != nil {
			return nil, fmt.Errorf("invalid policy definition: %w", err)
		}
		if err := normalize(&policy); err != nil {
			return nil, err
		}
		return []Policy{policy}, nil
	}
}

// normalize fills defaults on a policy read from disk. Disk policies are
// never built-in, whatever the file says.
func normalize(policy *Policy) error {
	if policy.Name == "" {
		return errors.New("policy has no name")
	}
	if policy.Severity == "" {
		policy.Severity = SeverityError
	}
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now()
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = policy.CreatedAt
	}
	policy.Builtin = false
	return nil
}

// extractDescription joins the comment lines at the top of a Rego source.
// Package comments and blank comment lines are dropped.
func (l *Loader) extractDescription(source string) string {
	var parts []string
	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#") {
			if line != "" && len(parts) > 0 {
				break
			}
			continue
		}
		text := strings.TrimSpace(line[1:])
		if text == "" || strings.HasPrefix(text, "package") {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// ClearCache forgets every parsed file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]cachedFile)
	l.mu.Unlock()
}

// Watch calls reload with the full policy set each time policy files under
// paths change. Events are coalesced over settleDelay. Watching stops when
// ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}

	for _, path := range paths {
		if err := addWatch(fw, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("not watching policy path")
		}
	}

	go func() {
		defer fw.Close()

		settle := time.NewTimer(settleDelay)
		settle.Stop()
		defer settle.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if formatOf(event.Name) == "" || event.Op == fsnotify.Chmod {
					continue
				}
				l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("policy file changed")
				settle.Reset(settleDelay)
			case <-settle.C:
				policies, err := l.LoadFromPaths(ctx, paths)
				if err == nil {
					err = reload(policies)
				}
				if err != nil {
					l.logger.Error().Err(err).Msg("policy reload failed")
					continue
				}
				l.logger.Info().Int("policies", len(policies)).Msg("policies reloaded")
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				l.logger.Error().Err(err).Msg("policy watcher error")
			}
		}
	}()
	return nil
}

// addWatch watches path, or every directory beneath it.
func addWatch(fw *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fw.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return fw.Add(p)
	})
}

package handshake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/telemetry"
)

// Defaults for Config.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultDeadline     = 2 * time.Minute
)

// Config holds watcher settings.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	Deadline     time.Duration `yaml:"deadline" json:"deadline"`

	// Notify wakes the watcher early on filesystem events in the output
	// directory. Polling continues regardless.
	Notify bool `yaml:"notify" json:"notify"`
}

// DefaultConfig returns the default watcher settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		Deadline:     DefaultDeadline,
		Notify:       true,
	}
}

// Watcher waits for a worker's output contract.
type Watcher struct {
	config  Config
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	read readFunc
}

// NewWatcher creates a watcher. Zero durations in cfg take their defaults.
// tel may be nil.
func NewWatcher(cfg Config, tel *telemetry.Telemetry) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}

	w := &Watcher{
		config: cfg,
		logger: telemetry.NewNopLogger(),
		read:   os.ReadFile,
	}
	if tel != nil {
		w.logger = tel.Logger.NewComponentLogger("handshake")
		w.metrics = tel.Metrics
	}
	return w
}

// Config returns the effective settings.
func (w *Watcher) Config() Config { return w.config }

// Watch polls outputPath until the worker reports success or failure, the
// deadline passes, or ctx is done. Transient observations are retried and
// never returned.
func (w *Watcher) Watch(ctx context.Context, outputPath string) (*contract.Output, error) {
	logger := w.logger.WithField("output", outputPath)
	start := time.Now()
	deadline := start.Add(w.config.Deadline)

	w.metrics.HandshakeStarted()

	var wake <-chan struct{}
	if w.config.Notify {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch, err := w.notify(watchCtx, outputPath)
		if err != nil {
			logger.WithError(err).Debug("filesystem notifications unavailable, polling only")
		}
		wake = ch
	}

	last := Result{Observation: NotYetProduced}
	for polls := 1; ; polls++ {
		if err := ctx.Err(); err != nil {
			w.metrics.HandshakeFinished("cancelled", time.Since(start))
			return nil, fmt.Errorf("handshake cancelled after %d polls: %w", polls-1, err)
		}

		res := observe(w.read, outputPath)
		w.metrics.RecordObservation(string(res.Observation))

		if res.Observation.Terminal() {
			w.metrics.HandshakeFinished(string(res.Observation), time.Since(start))
			if res.Observation == Success {
				logger.Debugf("worker output available after %d polls", polls)
				return res.Output, nil
			}
			logger.WithError(res.Err).Warn("worker reported failure")
			return nil, res.Err
		}
		// only retried problems are worth naming in a timeout
		if res.Err != nil {
			logger.WithError(res.Err).Debugf("poll %d: %s", polls, res.Observation)
			last = res
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			w.metrics.RecordObservation(string(Timeout))
			w.metrics.HandshakeFinished(string(Timeout), time.Since(start))
			return nil, engine.NewHandshakeTimeout(w.config.Deadline, last.Describe()).
				WithDetail("polls", polls)
		}

		wait := w.config.PollInterval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

// notify forwards filesystem events for the output and failure files to
// the returned channel until ctx is done.
func (w *Watcher) notify(ctx context.Context, outputPath string) (<-chan struct{}, error) {
	outputPath = filepath.Clean(outputPath)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(outputPath)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(outputPath), err)
	}

	failurePath := contract.FailureLogPath(outputPath)
	wake := make(chan struct{}, 1)

	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Name != outputPath && event.Name != failurePath {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.WithError(err).Debug("watcher error")
			}
		}
	}()

	return wake, nil
}

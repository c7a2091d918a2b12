package worker

import (
	"context"
	"os/exec"
	"sync"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/template"
)

// Handle is the single worker process bound to a project resource. It is
// created only by Launcher.EnsureWorker.
type Handle struct {
	name       string
	project    string
	outputPath string
	manifest   *template.Manifest

	mu      sync.Mutex
	intent  engine.Intent
	env     contract.Environment
	cmd     *exec.Cmd
	running bool
	done    chan struct{}
	exitErr error
}

func newHandle(name, project, outputPath string, manifest *template.Manifest) *Handle {
	return &Handle{
		name:       name,
		project:    project,
		outputPath: outputPath,
		manifest:   manifest,
		done:       make(chan struct{}),
	}
}

// Name returns the worker name.
func (h *Handle) Name() string { return h.name }

// Project returns the owning project resource name.
func (h *Handle) Project() string { return h.project }

// OutputPath returns the path the worker writes its output contract to.
func (h *Handle) OutputPath() string { return h.outputPath }

// Manifest returns the launch manifest.
func (h *Handle) Manifest() *template.Manifest { return h.manifest }

// Intent returns the intent of the current contract.
func (h *Handle) Intent() engine.Intent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.intent
}

// Environment returns a copy of the current launch contract.
func (h *Handle) Environment() contract.Environment {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(contract.Environment, len(h.env))
	for k, v := range h.env {
		out[k] = v
	}
	return out
}

// Running reports whether the process has been started and not yet exited.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Launched reports whether a process has ever been started for the handle.
func (h *Handle) Launched() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cmd != nil
}

// Done is closed when the current worker process exits. It stays open
// until the worker has been launched.
func (h *Handle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Wait blocks until the worker exits and returns its exit error.
func (h *Handle) Wait(ctx context.Context) error {
	done := h.Done()
	select {
	case <-done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) setContract(intent engine.Intent, env contract.Environment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.intent = intent
	h.env = env
}

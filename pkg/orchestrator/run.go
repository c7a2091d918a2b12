package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/neonlink/pkg/contract"
)

// Run is the single handshake scheduled for a project.
type Run struct {
	ID        string
	Project   string
	StartedAt time.Time

	done chan struct{}

	mu     sync.Mutex
	output *contract.Output
	err    error
}

func newRun(id, project string) *Run {
	return &Run{
		ID:        id,
		Project:   project,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

func (r *Run) finish(out *contract.Output, err error) {
	r.mu.Lock()
	r.output = out
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

// Done is closed when the run is terminal.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns the output and error of a finished run. Both are nil
// while the run is in progress.
func (r *Run) Result() (*contract.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output, r.err
}

// Wait blocks until the run is terminal or ctx is done.
func (r *Run) Wait(ctx context.Context) (*contract.Output, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

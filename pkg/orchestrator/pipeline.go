package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/handshake"
	"github.com/openfroyo/neonlink/pkg/stores"
	"github.com/openfroyo/neonlink/pkg/synchronizer"
	"github.com/openfroyo/neonlink/pkg/telemetry"
	"github.com/openfroyo/neonlink/pkg/worker"
)

// DefaultWorkerName is the name every project's worker handle is created under.
const DefaultWorkerName = "neon-worker"

// Gate vets a project's directives before its worker is configured.
type Gate interface {
	Check(ctx context.Context, project string, directives engine.Directives, databases []engine.DatabaseDeclaration) error
}

// RunStore records handshake runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *stores.HandshakeRun) error
	CompleteRun(ctx context.Context, id string, status stores.RunStatus, observation, errMsg *string) error
}

// Options configures a Pipeline. Launcher, Watcher and Synchronizer are
// required.
type Options struct {
	Launcher     *worker.Launcher
	Watcher      *handshake.Watcher
	Synchronizer *synchronizer.Synchronizer

	Gate       Gate
	Runs       RunStore
	Telemetry  *telemetry.Telemetry
	WorkerName string
}

// Pipeline runs launch, watch and sync for each project at most once.
type Pipeline struct {
	launcher   *worker.Launcher
	watcher    *handshake.Watcher
	sync       *synchronizer.Synchronizer
	gate       Gate
	runs       RunStore
	tel        *telemetry.Telemetry
	logger     *telemetry.Logger
	workerName string

	mu        sync.Mutex
	scheduled map[string]*Run
}

// New creates a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Launcher == nil || opts.Watcher == nil || opts.Synchronizer == nil {
		return nil, errors.New("launcher, watcher and synchronizer are required")
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	name := opts.WorkerName
	if name == "" {
		name = DefaultWorkerName
	}
	return &Pipeline{
		launcher:   opts.Launcher,
		watcher:    opts.Watcher,
		sync:       opts.Synchronizer,
		gate:       opts.Gate,
		runs:       opts.Runs,
		tel:        tel,
		logger:     tel.Logger.NewComponentLogger("pipeline"),
		workerName: name,
		scheduled:  make(map[string]*Run),
	}, nil
}

// Ready schedules the handshake for project. Only the first call for a
// project name starts work; later calls return the same Run. The run stops
// early when ctx is cancelled.
func (p *Pipeline) Ready(ctx context.Context, project *engine.ProjectResource) *Run {
	p.mu.Lock()
	if run, ok := p.scheduled[project.Name()]; ok {
		p.mu.Unlock()
		p.logger.WithProject(project.Name()).Debug("handshake already scheduled")
		return run
	}
	run := newRun(uuid.New().String(), project.Name())
	p.scheduled[project.Name()] = run
	p.mu.Unlock()

	go func() {
		out, err := p.execute(ctx, run, project)
		run.finish(out, err)
	}()
	return run
}

// Run returns the scheduled run for a project name.
func (p *Pipeline) Run(name string) (*Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.scheduled[name]
	return run, ok
}

// Wait blocks until the run for name is terminal.
func (p *Pipeline) Wait(ctx context.Context, name string) (*contract.Output, error) {
	run, ok := p.Run(name)
	if !ok {
		return nil, fmt.Errorf("no handshake scheduled for %s", name)
	}
	return run.Wait(ctx)
}

// UpAll signals every project ready and waits for all of them. It returns
// the first failure after every run has finished.
func (p *Pipeline) UpAll(ctx context.Context, projects []*engine.ProjectResource) error {
	var g errgroup.Group
	for _, project := range projects {
		run := p.Ready(ctx, project)
		g.Go(func() error {
			_, err := run.Wait(ctx)
			return err
		})
	}
	return g.Wait()
}

func (p *Pipeline) execute(ctx context.Context, run *Run, project *engine.ProjectResource) (out *contract.Output, err error) {
	ctx = synchronizer.WithRunID(p.tel.WithContext(ctx), run.ID)
	logger := p.logger.WithProject(project.Name()).WithRunID(run.ID)
	ctx = logger.WithContext(ctx)

	directives := project.Directives()
	intent := engine.ResolveIntent(directives)

	op := telemetry.StartOperation(ctx, "handshake", project.Name(),
		telemetry.AttrRunID.String(run.ID),
		telemetry.AttrIntent.String(string(intent)),
	)
	ctx = op.Ctx
	defer func() { op.End(err) }()

	start := time.Now()
	_ = p.tel.Events.PublishHandshakeStarted(run.ID, project.Name(), string(intent))
	defer func() {
		_ = p.tel.Events.PublishHandshakeFinished(run.ID, project.Name(), time.Since(start), err)
	}()

	fail := func(cause error) (*contract.Output, error) {
		p.tel.Metrics.RecordError(engine.CodeOf(cause))
		if ferr := p.sync.Fail(ctx, project, cause); ferr != nil {
			logger.WithError(ferr).Warn("could not mark project as failed")
		}
		return nil, cause
	}

	if p.gate != nil {
		if err := p.gate.Check(ctx, project.Name(), directives, declarations(project)); err != nil {
			return fail(err)
		}
	}

	h, err := p.launcher.EnsureWorker(ctx, project, p.workerName, intent)
	if err != nil {
		return fail(err)
	}

	p.createRun(ctx, run, intent, h.OutputPath())
	defer func() { p.completeRun(ctx, run, err) }()

	if err := p.sync.Start(ctx, project); err != nil {
		return fail(err)
	}
	outputAttr := telemetry.AttrOutputPath.String(h.OutputPath())
	err = stage(ctx, "launch", project, func(ctx context.Context) error {
		return p.launcher.Launch(ctx, h)
	}, outputAttr)
	if err != nil {
		return fail(err)
	}

	logger.Infof("waiting for worker output at %s", h.OutputPath())
	err = stage(ctx, "watch", project, func(ctx context.Context) error {
		var werr error
		out, werr = p.watcher.Watch(ctx, h.OutputPath())
		return werr
	}, outputAttr)
	if err != nil {
		return fail(err)
	}

	// Apply moves the project to failed_to_start itself
	err = stage(ctx, "sync", project, func(ctx context.Context) error {
		return p.sync.Apply(ctx, project, out)
	}, telemetry.AttrObservation.String(string(handshake.Success)))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// stage runs fn inside its own span. Failed stages carry the engine error
// code and the observation they map to.
func stage(ctx context.Context, name string, project *engine.ProjectResource, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	op := telemetry.StartOperation(ctx, name, project.Name(), attrs...)
	err := fn(op.Ctx)
	if err != nil && op.Span != nil {
		op.Span.SetAttributes(
			telemetry.AttrErrorCode.String(engine.CodeOf(err)),
			telemetry.AttrObservation.String(observationOf(err)),
		)
	}
	op.End(err)
	return err
}

func (p *Pipeline) createRun(ctx context.Context, run *Run, intent engine.Intent, outputPath string) {
	if p.runs == nil {
		return
	}
	err := p.runs.CreateRun(ctx, &stores.HandshakeRun{
		ID:         run.ID,
		Project:    run.Project,
		Intent:     string(intent),
		Status:     stores.RunStatusRunning,
		OutputPath: outputPath,
		StartedAt:  run.StartedAt,
	})
	if err != nil {
		p.logger.WithRunID(run.ID).WithError(err).Warn("could not record run")
	}
}

func (p *Pipeline) completeRun(ctx context.Context, run *Run, runErr error) {
	if p.runs == nil {
		return
	}

	status := stores.RunStatusCompleted
	observation := string(handshake.Success)
	var errMsg *string
	if runErr != nil {
		status = stores.RunStatusFailed
		observation = observationOf(runErr)
		if errors.Is(runErr, context.Canceled) {
			status = stores.RunStatusCancelled
		}
		msg := runErr.Error()
		errMsg = &msg
	}

	// the run context may already be cancelled
	ctx = context.WithoutCancel(ctx)
	if err := p.runs.CompleteRun(ctx, run.ID, status, &observation, errMsg); err != nil {
		p.logger.WithRunID(run.ID).WithError(err).Warn("could not complete run")
	}
}

func observationOf(err error) string {
	switch engine.CodeOf(err) {
	case engine.ErrCodeWorkerFailed:
		return string(handshake.ExplicitFailure)
	case engine.ErrCodeHandshakeTimeout:
		return string(handshake.Timeout)
	case "":
		return "cancelled"
	default:
		return engine.CodeOf(err)
	}
}

func declarations(project *engine.ProjectResource) []engine.DatabaseDeclaration {
	databases := project.Databases()
	out := make([]engine.DatabaseDeclaration, 0, len(databases))
	for _, db := range databases {
		out = append(out, engine.DatabaseDeclaration{
			Name:         db.Name(),
			DatabaseName: db.DatabaseName(),
			RoleName:     db.RoleName(),
		})
	}
	return out
}

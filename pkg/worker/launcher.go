package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/template"
	"github.com/openfroyo/neonlink/pkg/telemetry"
)

// Config holds launcher settings.
type Config struct {
	// WorkDir is the application directory. It selects the template cache
	// and output directories.
	WorkDir string

	// OutputRoot overrides <tmp>/neonlink-output.
	OutputRoot string

	// APIKey is passed to every worker as API_KEY.
	APIKey string

	// Command overrides the manifest command when set.
	Command string

	// Args are appended after the manifest args.
	Args []string
}

// Launcher creates and starts worker processes for project resources.
type Launcher struct {
	config       Config
	materializer *template.Materializer
	logger       *telemetry.Logger
	metrics      *telemetry.Metrics
}

// NewLauncher creates a launcher. tel may be nil.
func NewLauncher(cfg Config, materializer *template.Materializer, tel *telemetry.Telemetry) *Launcher {
	logger := telemetry.NewNopLogger()
	var metrics *telemetry.Metrics
	if tel != nil {
		logger = tel.Logger
		metrics = tel.Metrics
	}
	if materializer == nil {
		materializer = template.NewMaterializer("", logger, metrics)
	}
	return &Launcher{
		config:       cfg,
		materializer: materializer,
		logger:       logger.NewComponentLogger("launcher"),
		metrics:      metrics,
	}
}

// OutputPath returns where the worker for projectName writes its output.
func (l *Launcher) OutputPath(projectName string) string {
	return OutputPath(l.config.OutputRoot, l.config.WorkDir, projectName)
}

// APIKey returns the configured API key.
func (l *Launcher) APIKey() string { return l.config.APIKey }

// EnsureWorker returns the project's worker handle, creating it on first
// use. Calling it again with the same name refreshes the contract from
// the project's current directives and databases; a different name is a
// ConfigurationError. The process is not started and output artifacts are
// left alone; one-shot commands resolve their worker this way after a
// previous run's output has been applied.
func (l *Launcher) EnsureWorker(ctx context.Context, project *engine.ProjectResource, name string, intent engine.Intent) (*Handle, error) {
	logger := l.logger.WithProject(project.Name())

	if existing := project.Worker(); existing != nil {
		h, ok := existing.(*Handle)
		if !ok || h.Name() != name {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("worker %q is already configured; custom worker name %q is not supported", existing.Name(), name), nil,
			).WithResource(project.Name())
		}

		env, err := l.buildEnvironment(project, intent, h.OutputPath())
		if err != nil {
			return nil, err
		}
		h.setContract(intent, env)
		logger.Debugf("refreshed worker %s contract (%s)", name, intent)
		return h, nil
	}

	dir, err := l.materializer.Ensure(ctx, l.config.WorkDir)
	if err != nil {
		return nil, err
	}
	manifest, err := template.LoadManifest(dir)
	if err != nil {
		return nil, engine.NewLaunchFailure("cannot load worker manifest", err).WithResource(project.Name())
	}

	outputPath := l.OutputPath(project.Name())
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, engine.NewLaunchFailure("cannot create output directory", err).WithResource(project.Name())
	}

	env, err := l.buildEnvironment(project, intent, outputPath)
	if err != nil {
		return nil, err
	}

	h := newHandle(name, project.Name(), outputPath, manifest)
	h.setContract(intent, env)
	if err := project.BindWorker(h); err != nil {
		return nil, err
	}

	logger.Infof("worker %s configured (%s), output %s", name, intent, outputPath)
	return h, nil
}

// Launch removes stale artifacts and starts the worker with its current
// contract. The process outlives ctx; use Handle.Wait to observe its exit.
func (l *Launcher) Launch(ctx context.Context, h *Handle) error {
	logger := l.logger.WithProject(h.Project())

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return engine.NewConfigurationError(fmt.Sprintf("worker %s is already running", h.name), nil).
			WithResource(h.project)
	}
	if err := ctx.Err(); err != nil {
		return engine.NewLaunchFailure("launch cancelled", err).WithResource(h.project)
	}

	l.deleteArtifacts(logger, h.outputPath)

	command := l.config.Command
	if command == "" {
		resolved, err := h.manifest.ResolveCommand()
		if err != nil {
			l.metrics.RecordLaunch(string(h.intent), err)
			return engine.NewLaunchFailure("cannot resolve worker command", err).WithResource(h.project)
		}
		command = resolved
	}

	args := append(append([]string{}, h.manifest.Args...), l.config.Args...)
	cmd := exec.Command(command, args...)
	cmd.Dir = h.manifest.Dir
	cmd.Env = append(h.manifest.HostEnv(), h.env.Pairs()...)

	workerLog := l.logger.NewComponentLogger("worker").WithProject(h.project).Zerolog()
	cmd.Stdout = workerLog.With().Str("stream", "stdout").Logger()
	cmd.Stderr = workerLog.With().Str("stream", "stderr").Logger()

	if err := cmd.Start(); err != nil {
		l.metrics.RecordLaunch(string(h.intent), err)
		return engine.NewLaunchFailure("worker process could not start", err).
			WithResource(h.project).
			WithDetail("command", command)
	}
	l.metrics.RecordLaunch(string(h.intent), nil)

	// a relaunch after exit needs a fresh channel
	done := h.done
	select {
	case <-done:
		done = make(chan struct{})
	default:
	}
	h.cmd = cmd
	h.running = true
	h.exitErr = nil
	h.done = done

	logger.Infof("worker %s started (pid %d)", h.name, cmd.Process.Pid)

	go func() {
		err := cmd.Wait()

		h.mu.Lock()
		h.running = false
		h.exitErr = err
		h.mu.Unlock()
		close(done)

		if err != nil {
			logger.WithError(err).Warnf("worker %s exited", h.name)
		} else {
			logger.Debugf("worker %s exited", h.name)
		}
	}()

	return nil
}

func (l *Launcher) buildEnvironment(project *engine.ProjectResource, intent engine.Intent, outputPath string) (contract.Environment, error) {
	databases := project.Databases()
	decls := make([]engine.DatabaseDeclaration, 0, len(databases))
	for _, db := range databases {
		decls = append(decls, engine.DatabaseDeclaration{
			Name:         db.Name(),
			DatabaseName: db.DatabaseName(),
			RoleName:     db.RoleName(),
		})
	}

	env, err := contract.BuildEnvironment(contract.Input{
		APIKey:     l.config.APIKey,
		Intent:     intent,
		OutputPath: outputPath,
		Directives: project.Directives(),
		Databases:  decls,
	})
	if err != nil {
		if e, ok := err.(*engine.EngineError); ok {
			return nil, e.WithResource(project.Name())
		}
		return nil, err
	}
	return env, nil
}

func (l *Launcher) deleteArtifacts(logger *telemetry.Logger, outputPath string) {
	if err := DeleteArtifacts(outputPath); err != nil {
		logger.WithError(err).Warnf("could not remove stale artifacts for %s", outputPath)
	}
}

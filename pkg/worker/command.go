package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/telemetry"
)

// CommandExecutor runs one-shot suspend and resume commands through the
// worker binary of an already provisioned project.
type CommandExecutor struct {
	apiKey  string
	command string
	timeout time.Duration
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	tracer  *telemetry.Tracer

	// run executes a prepared command; replaced in tests.
	run func(cmd *exec.Cmd) error
}

// CommandConfig configures a CommandExecutor.
type CommandConfig struct {
	APIKey string

	// Command overrides the worker command from the project's manifest.
	Command string

	// Timeout bounds a single command. Zero waits for the process to exit.
	Timeout time.Duration
}

// NewCommandExecutor creates an executor. tel may be nil.
func NewCommandExecutor(cfg CommandConfig, tel *telemetry.Telemetry) *CommandExecutor {
	e := &CommandExecutor{
		apiKey:  cfg.APIKey,
		command: cfg.Command,
		timeout: cfg.Timeout,
		logger:  telemetry.NewNopLogger(),
		run:     func(cmd *exec.Cmd) error { return cmd.Run() },
	}
	if tel != nil {
		e.logger = tel.Logger.NewComponentLogger("command")
		e.metrics = tel.Metrics
		e.events = tel.Events
		e.tracer = tel.Tracer
	}
	return e
}

// Run executes mode against project and blocks until the worker exits.
// Missing preconditions return CommandPrecondition without spawning a
// process. The project resource is never modified.
func (e *CommandExecutor) Run(ctx context.Context, project *engine.ProjectResource, mode engine.CommandMode) (runErr error) {
	if err := mode.Validate(); err != nil {
		return engine.NewCommandPrecondition(err.Error()).WithResource(project.Name())
	}

	command, conn, err := e.preconditions(project)
	if err != nil {
		return err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	env := contract.BuildCommandEnvironment(contract.CommandInput{
		APIKey:     e.apiKey,
		Mode:       mode,
		ProjectID:  conn.ProjectID,
		EndpointID: conn.EndpointID,
	})

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command.path, command.args...)
	cmd.Dir = command.dir
	cmd.Env = append(command.hostEnv, env.Pairs()...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := e.logger.WithProject(project.Name()).WithField("mode", string(mode))
	logger.Infof("running %s for project %s endpoint %s", mode, conn.ProjectID, conn.EndpointID)

	if e.tracer != nil {
		_, span := e.tracer.StartStageSpan(ctx, "command", project.Name())
		span.SetAttributes(telemetry.AttrCommandMode.String(string(mode)))
		defer func() {
			if runErr != nil {
				span.SetAttributes(telemetry.AttrErrorCode.String(engine.CodeOf(runErr)))
				telemetry.RecordError(span, runErr)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	timer := telemetry.NewTimer()
	runErr = e.run(cmd)
	if runErr != nil {
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = strings.TrimSpace(stdout.String())
		}
		if message == "" {
			message = runErr.Error()
		}
		runErr = engine.NewCommandFailed(fmt.Sprintf("%s failed: %s", mode, message), runErr).
			WithResource(project.Name()).
			WithOperation(string(mode))
		logger.WithError(runErr).Error("command failed")
	} else {
		logger.Info("command completed")
	}

	e.metrics.RecordCommand(string(mode), timer.Duration(), runErr)
	e.metrics.RecordError(engine.CodeOf(runErr))
	_ = e.events.PublishCommand(project.Name(), string(mode), runErr)
	return runErr
}

type resolvedCommand struct {
	path    string
	args    []string
	dir     string
	hostEnv []string
}

func (e *CommandExecutor) preconditions(project *engine.ProjectResource) (resolvedCommand, engine.ProjectConnection, error) {
	fail := func(msg string) (resolvedCommand, engine.ProjectConnection, error) {
		return resolvedCommand{}, engine.ProjectConnection{},
			engine.NewCommandPrecondition(msg).WithResource(project.Name())
	}

	if strings.TrimSpace(e.apiKey) == "" {
		return fail("a Neon API key is required")
	}

	var rc resolvedCommand
	h, _ := project.Worker().(*Handle)
	switch {
	case e.command != "":
		rc.path = e.command
	case h != nil && h.Manifest() != nil:
		path, err := h.Manifest().ResolveCommand()
		if err != nil {
			return fail(fmt.Sprintf("worker command cannot be resolved: %v", err))
		}
		rc.path = path
	default:
		return fail("no worker is configured for this project")
	}
	if h != nil && h.Manifest() != nil {
		rc.args = append([]string{}, h.Manifest().Args...)
		rc.dir = h.Manifest().Dir
		rc.hostEnv = h.Manifest().HostEnv()
	}

	conn := project.Connection()
	if conn.ProjectID == "" {
		return fail("project has not been provisioned yet (no project id)")
	}
	if conn.EndpointID == "" {
		return fail("project has no endpoint id")
	}
	return rc, conn, nil
}

package synchronizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/telemetry"
)

// Recorder persists state changes made by the synchronizer.
type Recorder interface {
	RecordTransition(ctx context.Context, project string, from, to engine.ResourceState, message string) error
	RecordProject(ctx context.Context, project *engine.ProjectResource) error
}

// Synchronizer maps a worker's output contract onto a project resource
// and its database resources and drives the project's state.
type Synchronizer struct {
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
	recorder Recorder
}

// New creates a synchronizer. tel and recorder may be nil.
func New(tel *telemetry.Telemetry, recorder Recorder) *Synchronizer {
	s := &Synchronizer{
		logger:   telemetry.NewNopLogger(),
		recorder: recorder,
	}
	if tel != nil {
		s.logger = tel.Logger.NewComponentLogger("synchronizer")
		s.metrics = tel.Metrics
		s.events = tel.Events
	}
	return s
}

type runIDKey struct{}

// WithRunID attaches the run ID carried on published lifecycle events.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run ID attached to ctx, if any.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Start moves project to starting.
func (s *Synchronizer) Start(ctx context.Context, project *engine.ProjectResource) error {
	return s.transition(ctx, project, engine.StateStarting, "worker launched")
}

// Apply binds out onto project and its databases and moves the project to
// running. Either every declared database is matched and bound, or none
// is: a mismatch or any other error leaves all fields untouched, moves
// the project to failed_to_start and is returned.
func (s *Synchronizer) Apply(ctx context.Context, project *engine.ProjectResource, out *contract.Output) error {
	logger := s.logger.WithProject(project.Name()).WithRunID(RunID(ctx))

	err := s.apply(ctx, project, out)
	s.metrics.RecordSync(err)
	if err != nil {
		s.metrics.RecordError(engine.CodeOf(err))
		logger.WithError(err).Error("synchronization failed")
		if ferr := s.Fail(ctx, project, err); ferr != nil {
			logger.WithError(ferr).Warn("could not mark project as failed")
		}
		return err
	}

	logger.Infof("project %s running (endpoint %s)", project.Name(), out.EndpointID)
	return nil
}

// Fail moves project to failed_to_start without touching its fields.
func (s *Synchronizer) Fail(ctx context.Context, project *engine.ProjectResource, cause error) error {
	message := "failed"
	if cause != nil {
		message = cause.Error()
	}
	return s.transition(ctx, project, engine.StateFailedToStart, message)
}

func (s *Synchronizer) apply(ctx context.Context, project *engine.ProjectResource, out *contract.Output) error {
	if out == nil {
		return engine.NewConfigurationError("worker output is missing", nil).WithResource(project.Name())
	}
	if state := project.State(); !state.CanTransitionTo(engine.StateRunning) {
		return engine.NewConfigurationError(
			fmt.Sprintf("project cannot start from state %s", state), nil,
		).WithResource(project.Name())
	}

	conn, err := projectConnection(out)
	if err != nil {
		return engine.NewConfigurationError("invalid default connection uri", err).WithResource(project.Name())
	}

	bindings, err := matchDatabases(project.Databases(), out.Databases)
	if err != nil {
		return err
	}

	for _, b := range bindings {
		b.resource.Bind(b.conn)
	}
	project.Bind(conn)

	if err := s.transition(ctx, project, engine.StateRunning, "handshake completed"); err != nil {
		return err
	}
	if s.recorder != nil {
		if err := s.recorder.RecordProject(ctx, project); err != nil {
			s.logger.WithProject(project.Name()).WithError(err).Warn("could not persist project state")
		}
	}
	return nil
}

func (s *Synchronizer) transition(ctx context.Context, project *engine.ProjectResource, next engine.ResourceState, message string) error {
	prev, err := project.Transition(next)
	if err != nil {
		return engine.NewConfigurationError("invalid state transition", err).WithResource(project.Name())
	}
	if prev == next {
		return nil
	}

	runID := RunID(ctx)
	s.logger.WithProject(project.Name()).WithRunID(runID).Debugf("%s -> %s", prev, next)
	s.metrics.SetProjectState(project.Name(), string(next))
	if err := s.events.PublishStateChanged(runID, project.Name(), string(prev), string(next), message); err != nil {
		s.logger.WithError(err).Warn("state change event dropped")
	}
	if s.recorder != nil {
		if err := s.recorder.RecordTransition(ctx, project.Name(), prev, next, message); err != nil {
			s.logger.WithProject(project.Name()).WithError(err).Warn("could not persist transition")
		}
	}
	return nil
}

// projectConnection copies the top-level output fields and fills the
// connection attributes from DefaultConnectionUri where they are missing.
func projectConnection(out *contract.Output) (engine.ProjectConnection, error) {
	conn := engine.ProjectConnection{
		ProjectID:             out.ProjectID,
		BranchID:              out.BranchID,
		EndpointID:            out.EndpointID,
		EndpointType:          out.EndpointType,
		RegionID:              out.EndpointRegionID,
		SuspendTimeoutSeconds: out.EndpointSuspendTimeoutSeconds,
	}

	base, err := connection(out.DefaultConnectionURI, out.Host, out.Port, out.Password)
	if err != nil {
		return conn, err
	}
	if out.DefaultDatabaseName != "" {
		base.DatabaseName = out.DefaultDatabaseName
	}
	if out.DefaultRoleName != "" {
		base.RoleName = out.DefaultRoleName
	}
	conn.Connection = base
	return conn, nil
}

func connection(uri, host string, port *int, password string) (engine.Connection, error) {
	conn := engine.Connection{ConnectionURI: uri, Host: host, Password: password}
	if port != nil {
		conn.Port = *port
	}
	if uri == "" {
		return conn, nil
	}

	info, err := ParseConnectionURI(uri)
	if err != nil {
		return conn, err
	}
	if conn.Host == "" {
		conn.Host = info.Host
	}
	if conn.Port == 0 {
		conn.Port = info.Port
	}
	if conn.Password == "" {
		conn.Password = info.Password
	}
	conn.RoleName = info.Role
	conn.DatabaseName = info.Database
	return conn, nil
}

type binding struct {
	resource *engine.DatabaseResource
	conn     engine.Connection
}

// matchDatabases pairs every declared database with an output entry, by
// resource name first and by (database, role) second.
func matchDatabases(declared []*engine.DatabaseResource, entries []contract.DatabaseOutput) ([]binding, error) {
	bindings := make([]binding, 0, len(declared))
	for _, db := range declared {
		entry, ok := findEntry(db, entries)
		if !ok {
			available := make([]string, 0, len(entries))
			for _, e := range entries {
				available = append(available, e.DatabaseLabel())
			}
			requested := []string{fmt.Sprintf("%s (%s/%s)", db.Name(), db.DatabaseName(), db.RoleName())}
			return nil, engine.NewSyncMismatch(db.Name(), requested, available)
		}

		conn, err := connection(entry.ConnectionURI, entry.Host, entry.Port, entry.Password)
		if err != nil {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("invalid connection uri for database %s", entry.DatabaseLabel()), err,
			).WithResource(db.Name())
		}
		conn.DatabaseName = entry.DatabaseName
		conn.RoleName = entry.RoleName
		bindings = append(bindings, binding{resource: db, conn: conn})
	}
	return bindings, nil
}

func findEntry(db *engine.DatabaseResource, entries []contract.DatabaseOutput) (contract.DatabaseOutput, bool) {
	for _, e := range entries {
		if strings.EqualFold(e.ResourceName, db.Name()) {
			return e, true
		}
	}
	for _, e := range entries {
		if strings.EqualFold(e.DatabaseName, db.DatabaseName()) && strings.EqualFold(e.RoleName, db.RoleName()) {
			return e, true
		}
	}
	return contract.DatabaseOutput{}, false
}

package stores

import (
	"context"
	"fmt"
	"net/url"

	"github.com/openfroyo/neonlink/pkg/engine"
)

// Recorder persists project transitions and synchronized connections
// through a Store.
type Recorder struct {
	store Store
}

// NewRecorder wraps store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RecordTransition appends a lifecycle event and updates the project's state.
func (r *Recorder) RecordTransition(ctx context.Context, project string, from, to engine.ResourceState, message string) error {
	if err := r.store.SetProjectStatus(ctx, project, string(to)); err != nil {
		return err
	}
	return r.store.AppendLifecycleEvent(ctx, &LifecycleEvent{
		Project:   project,
		FromState: string(from),
		ToState:   string(to),
		Message:   message,
	})
}

// RecordProject stores the project's connection and its databases.
func (r *Recorder) RecordProject(ctx context.Context, project *engine.ProjectResource) error {
	state := ProjectStateFrom(project)
	if err := r.store.UpsertProjectState(ctx, state); err != nil {
		return err
	}

	databases := project.Databases()
	states := make([]*DatabaseState, 0, len(databases))
	for _, db := range databases {
		conn := db.Connection()
		states = append(states, &DatabaseState{
			Project:       project.Name(),
			Name:          db.Name(),
			DatabaseName:  db.DatabaseName(),
			RoleName:      db.RoleName(),
			Host:          conn.Host,
			Port:          conn.Port,
			ConnectionURI: RedactURI(conn.ConnectionURI),
		})
	}
	if err := r.store.ReplaceDatabaseStates(ctx, project.Name(), states); err != nil {
		return fmt.Errorf("project %s: %w", project.Name(), err)
	}
	return nil
}

// ProjectStateFrom snapshots project without its password.
func ProjectStateFrom(project *engine.ProjectResource) *ProjectState {
	conn := project.Connection()
	return &ProjectState{
		Name:          project.Name(),
		ProjectID:     conn.ProjectID,
		BranchID:      conn.BranchID,
		EndpointID:    conn.EndpointID,
		EndpointType:  conn.EndpointType,
		RegionID:      conn.RegionID,
		Host:          conn.Host,
		Port:          conn.Port,
		DatabaseName:  conn.DatabaseName,
		RoleName:      conn.RoleName,
		ConnectionURI: RedactURI(conn.ConnectionURI),
		State:         string(project.State()),
	}
}

// RedactURI masks the password in a connection URI. Unparseable values are
// dropped.
func RedactURI(uri string) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Redacted()
}

// Connection rebuilds the project connection a state was recorded from.
// The password is never persisted, so neither the connection nor its URI
// carries one; the identifiers are enough for one-shot commands.
func (ps *ProjectState) Connection() engine.ProjectConnection {
	return engine.ProjectConnection{
		Connection: engine.Connection{
			DatabaseName:  ps.DatabaseName,
			RoleName:      ps.RoleName,
			Host:          ps.Host,
			Port:          ps.Port,
			ConnectionURI: ps.ConnectionURI,
		},
		ProjectID:    ps.ProjectID,
		BranchID:     ps.BranchID,
		EndpointID:   ps.EndpointID,
		EndpointType: ps.EndpointType,
		RegionID:     ps.RegionID,
	}
}

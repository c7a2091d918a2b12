package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// RunStatus represents the status of a handshake run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// HandshakeRun is one launch -> watch -> sync attempt for a project.
type HandshakeRun struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	Intent      string     `json:"intent"`
	Status      RunStatus  `json:"status"`
	OutputPath  string     `json:"output_path"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Observation *string    `json:"observation,omitempty"` // last handshake observation
}

// ProjectState is the persisted view of a project resource. Passwords are
// never stored.
type ProjectState struct {
	Name          string    `json:"name"`
	ProjectID     string    `json:"project_id"`
	BranchID      string    `json:"branch_id"`
	EndpointID    string    `json:"endpoint_id"`
	EndpointType  string    `json:"endpoint_type"`
	RegionID      string    `json:"region_id"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	DatabaseName  string    `json:"database_name"`
	RoleName      string    `json:"role_name"`
	ConnectionURI string    `json:"connection_uri"`
	State         string    `json:"state"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DatabaseState is the persisted view of a database resource.
type DatabaseState struct {
	Project       string    `json:"project"`
	Name          string    `json:"name"`
	DatabaseName  string    `json:"database_name"`
	RoleName      string    `json:"role_name"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	ConnectionURI string    `json:"connection_uri"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LifecycleEvent is an append-only record of a project state transition.
type LifecycleEvent struct {
	ID        int64     `json:"id"`
	Project   string    `json:"project"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Handshake runs
	CreateRun(ctx context.Context, run *HandshakeRun) error
	GetRun(ctx context.Context, id string) (*HandshakeRun, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, observation, errMsg *string) error
	ListRuns(ctx context.Context, project string, limit, offset int) ([]*HandshakeRun, error)

	// Project and database state
	UpsertProjectState(ctx context.Context, state *ProjectState) error
	SetProjectStatus(ctx context.Context, name, status string) error
	GetProjectState(ctx context.Context, name string) (*ProjectState, error)
	ListProjectStates(ctx context.Context) ([]*ProjectState, error)
	ReplaceDatabaseStates(ctx context.Context, project string, states []*DatabaseState) error
	ListDatabaseStates(ctx context.Context, project string) ([]*DatabaseState, error)

	// Lifecycle events
	AppendLifecycleEvent(ctx context.Context, event *LifecycleEvent) error
	ListLifecycleEvents(ctx context.Context, project string, limit int) ([]*LifecycleEvent, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

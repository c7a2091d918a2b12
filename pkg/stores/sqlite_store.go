package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	config Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: is a separate database
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{config: cfg}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.config.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new handshake run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *HandshakeRun) error {
	query := `
		INSERT INTO handshake_runs (id, project, intent, status, output_path, started_at, completed_at, error, observation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Project,
		run.Intent,
		run.Status,
		run.OutputPath,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Observation,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*HandshakeRun, error) {
	query := `
		SELECT id, project, intent, status, output_path, started_at, completed_at, error, observation
		FROM handshake_runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// CompleteRun records the terminal status of a run
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, observation, errMsg *string) error {
	query := `
		UPDATE handshake_runs
		SET status = ?, observation = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	var completedAt *time.Time
	if status.IsTerminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, observation, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListRuns lists runs, newest first. An empty project lists all projects.
func (s *SQLiteStore) ListRuns(ctx context.Context, project string, limit, offset int) ([]*HandshakeRun, error) {
	query := `
		SELECT id, project, intent, status, output_path, started_at, completed_at, error, observation
		FROM handshake_runs
		WHERE (? = '' OR project = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, project, project, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*HandshakeRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*HandshakeRun, error) {
	run := &HandshakeRun{}
	err := row.Scan(
		&run.ID,
		&run.Project,
		&run.Intent,
		&run.Status,
		&run.OutputPath,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Observation,
	)
	return run, err
}

// UpsertProjectState inserts or replaces the persisted view of a project
func (s *SQLiteStore) UpsertProjectState(ctx context.Context, state *ProjectState) error {
	query := `
		INSERT INTO project_state (
			name, project_id, branch_id, endpoint_id, endpoint_type, region_id,
			host, port, database_name, role_name, connection_uri, state, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			project_id = excluded.project_id,
			branch_id = excluded.branch_id,
			endpoint_id = excluded.endpoint_id,
			endpoint_type = excluded.endpoint_type,
			region_id = excluded.region_id,
			host = excluded.host,
			port = excluded.port,
			database_name = excluded.database_name,
			role_name = excluded.role_name,
			connection_uri = excluded.connection_uri,
			state = excluded.state,
			updated_at = excluded.updated_at
	`

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		state.Name,
		state.ProjectID,
		state.BranchID,
		state.EndpointID,
		state.EndpointType,
		state.RegionID,
		state.Host,
		state.Port,
		state.DatabaseName,
		state.RoleName,
		state.ConnectionURI,
		state.State,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert project state: %w", err)
	}

	return nil
}

// SetProjectStatus updates only the lifecycle state of a project, creating
// the row when the project has not been persisted yet.
func (s *SQLiteStore) SetProjectStatus(ctx context.Context, name, status string) error {
	query := `
		INSERT INTO project_state (name, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, name, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set project status: %w", err)
	}
	return nil
}

const projectColumns = `name, project_id, branch_id, endpoint_id, endpoint_type, region_id,
	host, port, database_name, role_name, connection_uri, state, updated_at`

func scanProject(row scanner) (*ProjectState, error) {
	state := &ProjectState{}
	err := row.Scan(
		&state.Name,
		&state.ProjectID,
		&state.BranchID,
		&state.EndpointID,
		&state.EndpointType,
		&state.RegionID,
		&state.Host,
		&state.Port,
		&state.DatabaseName,
		&state.RoleName,
		&state.ConnectionURI,
		&state.State,
		&state.UpdatedAt,
	)
	return state, err
}

// GetProjectState retrieves the persisted view of a project
func (s *SQLiteStore) GetProjectState(ctx context.Context, name string) (*ProjectState, error) {
	query := `SELECT ` + projectColumns + ` FROM project_state WHERE name = ?`

	state, err := scanProject(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project state: %w", err)
	}

	return state, nil
}

// ListProjectStates lists all persisted projects ordered by name
func (s *SQLiteStore) ListProjectStates(ctx context.Context) ([]*ProjectState, error) {
	query := `SELECT ` + projectColumns + ` FROM project_state ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list project states: %w", err)
	}
	defer rows.Close()

	states := []*ProjectState{}
	for rows.Next() {
		state, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project state: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project states: %w", err)
	}

	return states, nil
}

// ReplaceDatabaseStates swaps the databases recorded for project in one
// transaction.
func (s *SQLiteStore) ReplaceDatabaseStates(ctx context.Context, project string, states []*DatabaseState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM database_state WHERE project = ?`, project); err != nil {
		return fmt.Errorf("failed to clear database states: %w", err)
	}

	insert := `
		INSERT INTO database_state (project, name, database_name, role_name, host, port, connection_uri, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	for _, st := range states {
		if st.UpdatedAt.IsZero() {
			st.UpdatedAt = now
		}
		_, err := tx.ExecContext(ctx, insert,
			project,
			st.Name,
			st.DatabaseName,
			st.RoleName,
			st.Host,
			st.Port,
			st.ConnectionURI,
			st.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert database state %s: %w", st.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit database states: %w", err)
	}
	return nil
}

// ListDatabaseStates lists the databases recorded for project
func (s *SQLiteStore) ListDatabaseStates(ctx context.Context, project string) ([]*DatabaseState, error) {
	query := `
		SELECT project, name, database_name, role_name, host, port, connection_uri, updated_at
		FROM database_state
		WHERE project = ?
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list database states: %w", err)
	}
	defer rows.Close()

	states := []*DatabaseState{}
	for rows.Next() {
		st := &DatabaseState{}
		if err := rows.Scan(
			&st.Project,
			&st.Name,
			&st.DatabaseName,
			&st.RoleName,
			&st.Host,
			&st.Port,
			&st.ConnectionURI,
			&st.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan database state: %w", err)
		}
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating database states: %w", err)
	}

	return states, nil
}

// AppendLifecycleEvent appends a state transition to the log
func (s *SQLiteStore) AppendLifecycleEvent(ctx context.Context, event *LifecycleEvent) error {
	query := `
		INSERT INTO lifecycle_events (project, from_state, to_state, message, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.Project,
		event.FromState,
		event.ToState,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append lifecycle event: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListLifecycleEvents returns the most recent events for project in the
// order they were appended.
func (s *SQLiteStore) ListLifecycleEvents(ctx context.Context, project string, limit int) ([]*LifecycleEvent, error) {
	query := `
		SELECT id, project, from_state, to_state, message, timestamp FROM (
			SELECT id, project, from_state, to_state, message, timestamp
			FROM lifecycle_events
			WHERE project = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycle events: %w", err)
	}
	defer rows.Close()

	events := []*LifecycleEvent{}
	for rows.Next() {
		event := &LifecycleEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.Project,
			&event.FromState,
			&event.ToState,
			&event.Message,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lifecycle events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

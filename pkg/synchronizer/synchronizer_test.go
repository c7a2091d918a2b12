package synchronizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/telemetry"
)

type recordedTransition struct {
	from, to engine.ResourceState
}

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []recordedTransition
	projects    []string
}

func (r *fakeRecorder) RecordTransition(_ context.Context, _ string, from, to engine.ResourceState, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, recordedTransition{from, to})
	return nil
}

func (r *fakeRecorder) RecordProject(_ context.Context, project *engine.ProjectResource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects = append(r.projects, project.Name())
	return nil
}

func startedProject(t *testing.T, s *Synchronizer, decls ...engine.DatabaseDeclaration) *engine.ProjectResource {
	t.Helper()
	project, err := engine.NewProjectResource("neon", engine.Directives{ProjectName: "demo"})
	if err != nil {
		t.Fatalf("NewProjectResource: %v", err)
	}
	for _, d := range decls {
		if _, err := project.AddDatabase(d); err != nil {
			t.Fatalf("AddDatabase: %v", err)
		}
	}
	if err := s.Start(context.Background(), project); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return project
}

func TestApplyDerivesFromDefaultURI(t *testing.T) {
	s := New(nil, nil)
	project := startedProject(t, s)

	out := &contract.Output{
		ProjectID:            "p1",
		BranchID:             "b1",
		EndpointID:           "e1",
		DefaultConnectionURI: "postgres://u:pw@host:5432/db",
		Databases:            []contract.DatabaseOutput{},
	}
	if err := s.Apply(context.Background(), project, out); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if project.State() != engine.StateRunning {
		t.Fatalf("state = %s, want running", project.State())
	}
	conn := project.Connection()
	if conn.Host != "host" || conn.Port != 5432 {
		t.Errorf("host/port = %s:%d, want host:5432", conn.Host, conn.Port)
	}
	if conn.RoleName != "u" || conn.Password != "pw" || conn.DatabaseName != "db" {
		t.Errorf("unexpected derived connection %+v", conn.Connection)
	}
	if conn.ProjectID != "p1" || conn.BranchID != "b1" || conn.EndpointID != "e1" {
		t.Errorf("unexpected ids %+v", conn)
	}
	if !project.Healthy() {
		t.Error("project should be healthy after apply")
	}
}

func TestApplyExplicitFieldsWin(t *testing.T) {
	s := New(nil, nil)
	project := startedProject(t, s)

	port := 6543
	out := &contract.Output{
		ProjectID:            "p1",
		EndpointID:           "e1",
		DefaultConnectionURI: "postgresql://u:pw@pooler.example.com/db",
		DefaultDatabaseName:  "neondb",
		DefaultRoleName:      "neondb_owner",
		Host:                 "ep-1.example.com",
		Port:                 &port,
		Password:             "secret",
	}
	if err := s.Apply(context.Background(), project, out); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	conn := project.Connection()
	if conn.Host != "ep-1.example.com" || conn.Port != 6543 || conn.Password != "secret" {
		t.Errorf("explicit fields not preferred: %+v", conn.Connection)
	}
	if conn.DatabaseName != "neondb" || conn.RoleName != "neondb_owner" {
		t.Errorf("default names not applied: %+v", conn.Connection)
	}
}

func TestApplyMatchesDatabases(t *testing.T) {
	s := New(nil, nil)
	project := startedProject(t, s,
		engine.DatabaseDeclaration{Name: "Orders"},
		engine.DatabaseDeclaration{Name: "analytics", DatabaseName: "warehouse", RoleName: "reader"},
	)

	out := &contract.Output{
		ProjectID:            "p1",
		EndpointID:           "e1",
		DefaultConnectionURI: "postgres://u:pw@host/neondb",
		Databases: []contract.DatabaseOutput{
			{ResourceName: "orders", DatabaseName: "orders", RoleName: "orders_owner", ConnectionURI: "postgres://orders_owner:a@host:5433/orders"},
			{ResourceName: "renamed", DatabaseName: "WAREHOUSE", RoleName: "reader", ConnectionURI: "postgres://reader:b@host/warehouse"},
		},
	}
	if err := s.Apply(context.Background(), project, out); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	dbs := project.Databases()
	if got := dbs[0].Connection(); got.Port != 5433 || got.Password != "a" || got.DatabaseName != "orders" {
		t.Errorf("orders bound to %+v", got)
	}
	if got := dbs[1].Connection(); got.Port != 5432 || got.Password != "b" || got.RoleName != "reader" {
		t.Errorf("analytics bound to %+v", got)
	}
}

func TestApplyMismatchBindsNothing(t *testing.T) {
	rec := &fakeRecorder{}
	s := New(nil, rec)
	project := startedProject(t, s,
		engine.DatabaseDeclaration{Name: "orders"},
		engine.DatabaseDeclaration{Name: "missing"},
	)

	out := &contract.Output{
		ProjectID:            "p1",
		EndpointID:           "e1",
		DefaultConnectionURI: "postgres://u:pw@host/db",
		Databases: []contract.DatabaseOutput{
			{ResourceName: "orders", DatabaseName: "orders", RoleName: "orders_owner", ConnectionURI: "postgres://x@host/orders"},
			{ResourceName: "other", DatabaseName: "other", RoleName: "other_owner", ConnectionURI: "postgres://x@host/other"},
		},
	}
	err := s.Apply(context.Background(), project, out)
	if !errors.Is(err, engine.ErrSyncMismatch) {
		t.Fatalf("expected SyncMismatch, got %v", err)
	}
	for _, want := range []string{"missing", "orders (orders/orders_owner)", "other (other/other_owner)"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	if project.State() != engine.StateFailedToStart {
		t.Errorf("state = %s, want failed_to_start", project.State())
	}
	if project.Healthy() {
		t.Error("project fields were bound despite the mismatch")
	}
	for _, db := range project.Databases() {
		if db.Healthy() {
			t.Errorf("database %s was bound despite the mismatch", db.Name())
		}
	}

	want := []recordedTransition{
		{engine.StateWaiting, engine.StateStarting},
		{engine.StateStarting, engine.StateFailedToStart},
	}
	if len(rec.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", rec.transitions, want)
	}
	for i := range want {
		if rec.transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, rec.transitions[i], want[i])
		}
	}
	if len(rec.projects) != 0 {
		t.Errorf("project persisted after failure: %v", rec.projects)
	}
}

func TestApplyInvalidURIFails(t *testing.T) {
	s := New(nil, nil)
	project := startedProject(t, s)

	err := s.Apply(context.Background(), project, &contract.Output{ProjectID: "p1", DefaultConnectionURI: "not a uri"})
	if !errors.Is(err, engine.ErrConfiguration) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if project.State() != engine.StateFailedToStart {
		t.Errorf("state = %s, want failed_to_start", project.State())
	}
}

func TestFailLeavesFieldsUntouched(t *testing.T) {
	s := New(nil, nil)
	project := startedProject(t, s)
	project.Bind(engine.ProjectConnection{ProjectID: "p0"})

	if err := s.Fail(context.Background(), project, errors.New("timeout")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if project.State() != engine.StateFailedToStart {
		t.Errorf("state = %s", project.State())
	}
	if project.Connection().ProjectID != "p0" {
		t.Error("Fail modified project fields")
	}
}

func TestTransitionsPublishedInOrder(t *testing.T) {
	tel := telemetry.Nop()
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}
	tel.Events = events

	var mu sync.Mutex
	var got []string
	events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Data["new_state"].(string))
		if e.RunID != "run-1" {
			t.Errorf("event run id = %q", e.RunID)
		}
	}, telemetry.FilterByType(telemetry.EventTypeStateChanged))

	s := New(tel, nil)
	ctx := WithRunID(context.Background(), "run-1")
	project, _ := engine.NewProjectResource("neon", engine.Directives{ProjectName: "demo"})
	if err := s.Start(ctx, project); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Apply(ctx, project, &contract.Output{ProjectID: "p1", EndpointID: "e1", DefaultConnectionURI: "postgres://u@h/db"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := events.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "starting,running" {
		t.Errorf("events = %v", got)
	}
}

func TestParseConnectionURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    ConnectionInfo
		wantErr bool
	}{
		{uri: "postgres://u:pw@host:5432/db", want: ConnectionInfo{Host: "host", Port: 5432, Database: "db", Role: "u", Password: "pw"}},
		{uri: "postgresql://u@host/db", want: ConnectionInfo{Host: "host", Port: 5432, Database: "db", Role: "u"}},
		{uri: "whatever://u:p%40ss@h:6000/x", want: ConnectionInfo{Host: "h", Port: 6000, Database: "x", Role: "u", Password: "p@ss"}},
		{uri: "", wantErr: true},
		{uri: "host-only", wantErr: true},
		{uri: "postgres://u@h:notaport/db", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseConnectionURI(tt.uri)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseConnectionURI(%q) expected error", tt.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseConnectionURI(%q): %v", tt.uri, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseConnectionURI(%q) = %+v, want %+v", tt.uri, got, tt.want)
		}
	}
}

func TestWriteEnvFiles(t *testing.T) {
	s := New(nil, nil)
	project := startedProject(t, s, engine.DatabaseDeclaration{Name: "orders"}, engine.DatabaseDeclaration{Name: "unbound"})
	project.Databases()[0].Bind(engine.Connection{
		Host: "h", Port: 5432, DatabaseName: "orders", RoleName: "orders_owner",
		Password: "it's", ConnectionURI: "postgres://orders_owner@h/orders",
	})
	project.Bind(engine.ProjectConnection{Connection: engine.Connection{Host: "h", Port: 5432, ConnectionURI: "postgres://u@h/db"}})

	dir := t.TempDir()
	paths, err := WriteEnvFiles(dir, project)
	if err != nil {
		t.Fatalf("WriteEnvFiles: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("wrote %v, want project and orders only", paths)
	}

	data, err := os.ReadFile(filepath.Join(dir, project.Name(), "orders.env"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, line := range []string{
		`NEON_PASSWORD='it'\''s'`,
		`NEON_PORT='5432'`,
		`NEON_USERNAME='orders_owner'`,
	} {
		if !strings.Contains(string(data), line+"\n") {
			t.Errorf("orders.env missing %s:\n%s", line, data)
		}
	}
}

func TestWriteEnvFilesKeepsProjectsApart(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"shop", "billing"} {
		project, err := engine.NewProjectResource(name, engine.Directives{ProjectName: name})
		if err != nil {
			t.Fatalf("NewProjectResource: %v", err)
		}
		db, err := project.AddDatabase(engine.DatabaseDeclaration{Name: "app"})
		if err != nil {
			t.Fatalf("AddDatabase: %v", err)
		}
		project.Bind(engine.ProjectConnection{Connection: engine.Connection{Host: name + "-host", ConnectionURI: "postgres://u@" + name + "-host/db"}})
		db.Bind(engine.Connection{Host: name + "-host", DatabaseName: "app", ConnectionURI: "postgres://app@" + name + "-host/app"})

		if _, err := WriteEnvFiles(dir, project); err != nil {
			t.Fatalf("WriteEnvFiles(%s): %v", name, err)
		}
	}

	for _, name := range []string{"shop", "billing"} {
		data, err := os.ReadFile(filepath.Join(dir, name, "app.env"))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if want := "NEON_HOST='" + name + "-host'\n"; !strings.Contains(string(data), want) {
			t.Errorf("%s/app.env holds another project's connection:\n%s", name, data)
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, "shop"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}
}

func TestWriteEnvFilesRejectsCollidingNames(t *testing.T) {
	project, _ := engine.NewProjectResource("shop", engine.Directives{ProjectName: "shop"})
	for _, name := range []string{"orders:v1", "Orders-V1"} {
		db, err := project.AddDatabase(engine.DatabaseDeclaration{Name: name})
		if err != nil {
			t.Fatalf("AddDatabase(%s): %v", name, err)
		}
		db.Bind(engine.Connection{Host: "h", ConnectionURI: "postgres://u@h/db"})
	}
	project.Bind(engine.ProjectConnection{Connection: engine.Connection{Host: "h", ConnectionURI: "postgres://u@h/db"}})

	_, err := WriteEnvFiles(t.TempDir(), project)
	if !errors.Is(err, engine.ErrConfiguration) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "would share") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWriteEnvFilesRequiresConnection(t *testing.T) {
	project, _ := engine.NewProjectResource("neon", engine.Directives{ProjectName: "demo"})
	if _, err := WriteEnvFiles(t.TempDir(), project); !errors.Is(err, engine.ErrConfiguration) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

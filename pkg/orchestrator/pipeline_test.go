package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/handshake"
	"github.com/openfroyo/neonlink/pkg/stores"
	"github.com/openfroyo/neonlink/pkg/synchronizer"
	"github.com/openfroyo/neonlink/pkg/template"
	"github.com/openfroyo/neonlink/pkg/worker"
)

// TestHelperProcess plays the worker binary for pipeline tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	outputPath := os.Getenv(contract.KeyOutputFilePath)
	switch os.Getenv("HELPER_BEHAVIOR") {
	case "fail":
		_ = os.WriteFile(contract.FailureLogPath(outputPath), []byte("branch limit reached"), 0o644)
		os.Exit(1)
	default:
		specs, err := contract.DecodeDatabaseSpecs(os.Getenv(contract.KeyDatabaseSpecsJSON))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		out := contract.Output{
			ProjectID:            "p-" + os.Getenv(contract.KeyProjectName),
			BranchID:             "b1",
			EndpointID:           "e1",
			DefaultConnectionURI: "postgres://neondb_owner:pw@ep-1.neon.tech/neondb",
			Databases:            []contract.DatabaseOutput{},
		}
		for _, s := range specs {
			out.Databases = append(out.Databases, contract.DatabaseOutput{
				ResourceName:  s.Name,
				DatabaseName:  s.DatabaseName,
				RoleName:      s.RoleName,
				ConnectionURI: fmt.Sprintf("postgres://%s:pw@ep-1.neon.tech/%s", s.RoleName, s.DatabaseName),
			})
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		os.Exit(0)
	}
}

type fakeGate struct {
	deny map[string]bool
}

func (g *fakeGate) Check(_ context.Context, project string, _ engine.Directives, _ []engine.DatabaseDeclaration) error {
	if g.deny[project] {
		return engine.NewPolicyDenied("denied by test").WithResource(project)
	}
	return nil
}

type fakeRuns struct {
	mu        sync.Mutex
	created   []string
	completed map[string]stores.RunStatus
}

func (f *fakeRuns) CreateRun(_ context.Context, run *stores.HandshakeRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, run.Project)
	return nil
}

func (f *fakeRuns) CompleteRun(_ context.Context, id string, status stores.RunStatus, _, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed == nil {
		f.completed = make(map[string]stores.RunStatus)
	}
	f.completed[id] = status
	return nil
}

func newTestPipeline(t *testing.T, behavior string, gate Gate, runs RunStore) *Pipeline {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("HELPER_BEHAVIOR", behavior)

	exe, err := filepath.Abs(os.Args[0])
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}

	workDir := t.TempDir()
	materializer := template.NewMaterializer(t.TempDir(), nil, nil)
	dir, err := materializer.Ensure(context.Background(), workDir)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	manifest := fmt.Sprintf("command: %q\nargs: [\"-test.run=TestHelperProcess\", \"--\"]\npassthrough_env: [GO_WANT_HELPER_PROCESS, HELPER_BEHAVIOR]\n", exe)
	if err := os.WriteFile(filepath.Join(dir, template.ManifestFileName), []byte(manifest), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	launcher := worker.NewLauncher(worker.Config{
		WorkDir:    workDir,
		OutputRoot: t.TempDir(),
		APIKey:     "k",
	}, materializer, nil)

	p, err := New(Options{
		Launcher:     launcher,
		Watcher:      handshake.NewWatcher(handshake.Config{PollInterval: 10 * time.Millisecond, Deadline: 20 * time.Second}, nil),
		Synchronizer: synchronizer.New(nil, nil),
		Gate:         gate,
		Runs:         runs,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func newProject(t *testing.T, name string, decls ...engine.DatabaseDeclaration) *engine.ProjectResource {
	t.Helper()
	project, err := engine.NewProjectResource(name, engine.Directives{
		ProjectName:            name,
		CreateProjectIfMissing: true,
	})
	if err != nil {
		t.Fatalf("NewProjectResource: %v", err)
	}
	for _, d := range decls {
		if _, err := project.AddDatabase(d); err != nil {
			t.Fatalf("AddDatabase: %v", err)
		}
	}
	return project
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReadyRunsOnce(t *testing.T) {
	runs := &fakeRuns{}
	p := newTestPipeline(t, "output", nil, runs)
	project := newProject(t, "neon", engine.DatabaseDeclaration{Name: "orders"})

	first := p.Ready(context.Background(), project)
	second := p.Ready(context.Background(), project)
	if first != second {
		t.Fatal("duplicate ready signal scheduled a second run")
	}

	out, err := p.Wait(waitCtx(t), "neon")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.ProjectID != "p-neon" {
		t.Errorf("ProjectID = %q", out.ProjectID)
	}
	if project.State() != engine.StateRunning {
		t.Errorf("state = %s, want running", project.State())
	}
	if got := project.Databases()[0].Connection(); got.Host != "ep-1.neon.tech" || got.Port != 5432 {
		t.Errorf("orders bound to %+v", got)
	}

	third := p.Ready(context.Background(), project)
	if third != first {
		t.Error("ready after completion scheduled a new run")
	}

	runs.mu.Lock()
	defer runs.mu.Unlock()
	if len(runs.created) != 1 {
		t.Errorf("recorded %d runs, want 1", len(runs.created))
	}
	if runs.completed[first.ID] != stores.RunStatusCompleted {
		t.Errorf("run status = %s", runs.completed[first.ID])
	}
}

func TestPipelineWorkerFailure(t *testing.T) {
	runs := &fakeRuns{}
	p := newTestPipeline(t, "fail", nil, runs)
	project := newProject(t, "neon")

	_, err := p.Ready(context.Background(), project).Wait(waitCtx(t))
	if !errors.Is(err, engine.ErrWorkerFailed) {
		t.Fatalf("expected ExplicitWorkerFailure, got %v", err)
	}
	if project.State() != engine.StateFailedToStart {
		t.Errorf("state = %s, want failed_to_start", project.State())
	}
	if project.Healthy() {
		t.Error("failed project has a connection")
	}

	run, _ := p.Run("neon")
	runs.mu.Lock()
	defer runs.mu.Unlock()
	if runs.completed[run.ID] != stores.RunStatusFailed {
		t.Errorf("run status = %s, want failed", runs.completed[run.ID])
	}
}

func TestPipelineGateDenies(t *testing.T) {
	p := newTestPipeline(t, "output", &fakeGate{deny: map[string]bool{"neon": true}}, nil)
	project := newProject(t, "neon")

	_, err := p.Ready(context.Background(), project).Wait(waitCtx(t))
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Fatalf("expected PolicyDenied, got %v", err)
	}
	if project.Worker() != nil {
		t.Error("worker configured despite policy denial")
	}
	if project.State() != engine.StateFailedToStart {
		t.Errorf("state = %s, want failed_to_start", project.State())
	}
}

func TestUpAll(t *testing.T) {
	p := newTestPipeline(t, "output", &fakeGate{deny: map[string]bool{"beta": true}}, nil)
	alpha := newProject(t, "alpha")
	beta := newProject(t, "beta")
	gamma := newProject(t, "gamma", engine.DatabaseDeclaration{Name: "app"})

	err := p.UpAll(waitCtx(t), []*engine.ProjectResource{alpha, beta, gamma})
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Fatalf("expected PolicyDenied from beta, got %v", err)
	}

	for _, project := range []*engine.ProjectResource{alpha, gamma} {
		if project.State() != engine.StateRunning {
			t.Errorf("%s state = %s, want running", project.Name(), project.State())
		}
	}
	if beta.State() != engine.StateFailedToStart {
		t.Errorf("beta state = %s", beta.State())
	}
}

func TestWaitUnknownProject(t *testing.T) {
	p := newTestPipeline(t, "output", nil, nil)
	if _, err := p.Wait(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for an unscheduled project")
	}
}

func TestNewRequiresComponents(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected an error without components")
	}
}

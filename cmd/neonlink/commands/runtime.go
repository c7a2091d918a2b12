package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/neonlink/pkg/config"
	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/handshake"
	"github.com/openfroyo/neonlink/pkg/orchestrator"
	"github.com/openfroyo/neonlink/pkg/policy"
	"github.com/openfroyo/neonlink/pkg/stores"
	"github.com/openfroyo/neonlink/pkg/synchronizer"
	"github.com/openfroyo/neonlink/pkg/telemetry"
	"github.com/openfroyo/neonlink/pkg/template"
	"github.com/openfroyo/neonlink/pkg/worker"
)

// app holds the components shared by the commands of one invocation.
type app struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore // nil when no store path is configured
	policies *policy.Engine
	launcher *worker.Launcher
}

func newApp(ctx context.Context) (*app, error) {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	if err := config.NewSchemaRegistry().ValidateSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	a := &app{settings: settings, tel: tel}

	if settings.StorePath != "" {
		if err := a.openStore(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	a.policies, err = policy.NewEngine(*tel.Logger.NewComponentLogger("policy").Zerolog(), tel.Events)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(settings.PolicyPaths) > 0 {
		if err := a.policies.LoadPolicies(ctx, settings.PolicyPaths); err != nil {
			a.close()
			return nil, err
		}
	}

	materializer := template.NewMaterializer(settings.CacheRoot, tel.Logger, tel.Metrics)
	a.launcher = worker.NewLauncher(worker.Config{
		WorkDir:    settings.WorkDir,
		OutputRoot: settings.OutputRoot,
		APIKey:     settings.APIKey,
		Command:    settings.WorkerCommand,
		Args:       settings.WorkerArgs,
	}, materializer, tel)

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	path := a.settings.StorePath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return err
	}
	a.store = store
	return nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown incomplete")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

// loadTopology parses the topology sources and logs every validation error.
func loadTopology(ctx context.Context) (*config.Topology, error) {
	topology, err := config.NewCUEParser().Parse(ctx, topologyPaths)
	if err != nil {
		return nil, err
	}
	for _, e := range topology.Errors {
		log.Error().Str("severity", e.Severity).Msg(e.String())
	}
	if !topology.Valid() {
		return topology, engine.NewConfigurationError(
			fmt.Sprintf("topology has %d validation errors", len(topology.Errors)), nil)
	}
	return topology, nil
}

// projects builds the project resources named in names, or all of them.
func (a *app) projects(ctx context.Context, names []string) ([]*engine.ProjectResource, error) {
	topology, err := loadTopology(ctx)
	if err != nil {
		return nil, err
	}
	all, err := topology.Resources()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return all, nil
	}

	byName := make(map[string]*engine.ProjectResource, len(all))
	for _, p := range all {
		byName[p.Name()] = p
	}
	selected := make([]*engine.ProjectResource, 0, len(names))
	for _, name := range names {
		p, ok := byName[name]
		if !ok {
			return nil, engine.NewConfigurationError(fmt.Sprintf("project %q is not declared", name), nil)
		}
		selected = append(selected, p)
	}
	return selected, nil
}

func (a *app) pipeline() (*orchestrator.Pipeline, error) {
	var (
		recorder synchronizer.Recorder
		runs     orchestrator.RunStore
	)
	if a.store != nil {
		recorder = stores.NewRecorder(a.store)
		runs = a.store
	}

	return orchestrator.New(orchestrator.Options{
		Launcher: a.launcher,
		Watcher: handshake.NewWatcher(handshake.Config{
			PollInterval: a.settings.PollInterval,
			Deadline:     a.settings.Deadline,
			Notify:       true,
		}, a.tel),
		Synchronizer: synchronizer.New(a.tel, recorder),
		Gate:         a.policies,
		Runs:         runs,
		Telemetry:    a.tel,
	})
}

// restore binds the persisted identifiers of project and configures its
// worker, so one-shot commands can run without a new handshake.
func (a *app) restore(ctx context.Context, project *engine.ProjectResource) error {
	if a.store == nil {
		return engine.NewCommandPrecondition("no store is configured; set store_path to keep provisioned projects").
			WithResource(project.Name())
	}

	state, err := a.store.GetProjectState(ctx, project.Name())
	if errors.Is(err, stores.ErrNotFound) {
		return engine.NewCommandPrecondition("project has not been provisioned yet").WithResource(project.Name())
	}
	if err != nil {
		return err
	}
	project.Bind(state.Connection())

	_, err = a.launcher.EnsureWorker(ctx, project, orchestrator.DefaultWorkerName, engine.ResolveIntent(project.Directives()))
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

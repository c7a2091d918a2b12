package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/stores"
	"github.com/openfroyo/neonlink/pkg/worker"
)

func newSuspendCommand() *cobra.Command {
	return newOneShotCommand(engine.CommandSuspend, "Suspend the compute endpoint of provisioned projects")
}

func newResumeCommand() *cobra.Command {
	return newOneShotCommand(engine.CommandResume, "Resume the compute endpoint of provisioned projects")
}

// newOneShotCommand runs the worker in mode for each named project, using
// the identifiers recorded by a previous up.
func newOneShotCommand(mode engine.CommandMode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode) + " project...",
		Short: short,
		Long: fmt.Sprintf(`Run the worker once in %s mode for each project.

The project and endpoint ids come from the store, so the projects must have
been provisioned with "neonlink up" and a store_path configured.`, mode),
		Example: fmt.Sprintf("  neonlink %s shop", mode),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			projects, err := a.projects(ctx, args)
			if err != nil {
				return err
			}

			executor := worker.NewCommandExecutor(worker.CommandConfig{
				APIKey:  a.settings.APIKey,
				Command: a.settings.WorkerCommand,
				Timeout: a.settings.CommandTimeout,
			}, a.tel)

			for _, project := range projects {
				if err := a.restore(ctx, project); err != nil {
					return err
				}
				if err := executor.Run(ctx, project, mode); err != nil {
					return err
				}
				if err := a.recordCommand(ctx, project.Name(), mode); err != nil {
					log.Warn().Err(err).Str("project", project.Name()).Msg("Failed to record state")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s completed\n", project.Name(), mode)
			}
			return nil
		},
	}
}

// recordCommand stores the state a completed one-shot command leaves the
// endpoint in. The in-memory project keeps its own state.
func (a *app) recordCommand(ctx context.Context, project string, mode engine.CommandMode) error {
	state, err := a.store.GetProjectState(ctx, project)
	if err != nil {
		return err
	}

	from := engine.ResourceState(state.State)
	to, message := engine.StateRunning, "endpoint resumed"
	if mode == engine.CommandSuspend {
		to, message = engine.StateSuspended, "endpoint suspended"
	}
	if from == to {
		return nil
	}
	return stores.NewRecorder(a.store).RecordTransition(ctx, project, from, to, message)
}

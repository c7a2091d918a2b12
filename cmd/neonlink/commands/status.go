package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/handshake"
	"github.com/openfroyo/neonlink/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "status [project...]",
		Short: "Show recorded project state and handshake runs",
		Long: `Show the state recorded for each project by previous runs.

Passwords are never stored; connection URIs are shown redacted. The OUTPUT
column is what a poll of the project's output file would observe right now.`,
		Example: `  # Show every recorded project
  neonlink status

  # Show one project with its last 10 handshake runs
  neonlink status shop --runs 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if a.store == nil {
				return engine.NewConfigurationError("no store is configured; set store_path or NEONLINK_STORE_PATH", nil)
			}

			var states []*stores.ProjectState
			if len(args) == 0 {
				if states, err = a.store.ListProjectStates(ctx); err != nil {
					return err
				}
			}
			for _, name := range args {
				state, err := a.store.GetProjectState(ctx, name)
				if err != nil {
					return err
				}
				states = append(states, state)
			}

			type report struct {
				*stores.ProjectState
				Output handshake.Observation   `json:"output"`
				Runs   []*stores.HandshakeRun `json:"runs,omitempty"`
			}
			reports := make([]report, 0, len(states))
			for _, state := range states {
				r := report{
					ProjectState: state,
					Output:       handshake.Observe(a.launcher.OutputPath(state.Name)).Observation,
				}
				if runs > 0 {
					if r.Runs, err = a.store.ListRuns(ctx, state.Name, runs, 0); err != nil {
						return err
					}
				}
				reports = append(reports, r)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), reports)
			}

			w := cmd.OutOrStdout()
			if len(reports) == 0 {
				fmt.Fprintln(w, "No projects recorded")
				return nil
			}
			fmt.Fprintf(w, "%-20s %-16s %-24s %-24s %-18s %s\n", "PROJECT", "STATE", "PROJECT ID", "ENDPOINT", "OUTPUT", "UPDATED")
			for _, r := range reports {
				fmt.Fprintf(w, "%-20s %-16s %-24s %-24s %-18s %s\n",
					r.Name, r.State, dash(r.ProjectID), dash(r.EndpointID), r.Output, r.UpdatedAt.Format(time.RFC3339))
				for _, run := range r.Runs {
					observation := ""
					if run.Observation != nil {
						observation = *run.Observation
					}
					fmt.Fprintf(w, "  run %s %-9s %-8s %s %s\n",
						shortID(run.ID), run.Status, run.Intent, run.StartedAt.Format(time.RFC3339), observation)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 0, "number of recent handshake runs to show per project")

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

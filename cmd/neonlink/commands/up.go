package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/synchronizer"
)

func newUpCommand() *cobra.Command {
	var (
		envDir      string
		writeEnvs   bool
		workerGrace time.Duration
	)

	cmd := &cobra.Command{
		Use:   "up [project...]",
		Short: "Provision projects and wait for their connections",
		Long: `Provision the declared projects and wait for their connection details.

For each project this command:
  - Checks the directives against the policies
  - Materializes the worker template and launches the worker
  - Waits for the worker's output file
  - Binds the connection details onto the project and its databases
  - Writes a .env file per project and database`,
		Example: `  # Provision every project in the current directory
  neonlink up

  # Provision one project from a specific topology
  neonlink up -f ./neon.cue shop

  # Write .env files into a custom directory
  neonlink up --env-dir ./.neon`,
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
			p, err := a.pipeline()
			if err != nil {
				return err
			}

			log.Info().Int("projects", len(projects)).Msg("Provisioning projects")
			upErr := p.UpAll(ctx, projects)

			for _, project := range projects {
				if project.State() != engine.StateRunning || !writeEnvs {
					continue
				}
				dir := envDir
				if dir == "" {
					dir = filepath.Dir(a.launcher.OutputPath(project.Name()))
				}
				paths, err := synchronizer.WriteEnvFiles(dir, project)
				if err != nil {
					log.Error().Err(err).Str("project", project.Name()).Msg("Failed to write env files")
					continue
				}
				log.Info().Str("project", project.Name()).Strs("files", paths).Msg("Connection env files written")
			}

			if workerGrace > 0 {
				reapWorkers(ctx, projects, workerGrace)
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), summarize(projects)); err != nil {
					return err
				}
			} else {
				printSummary(cmd.OutOrStdout(), projects)
			}
			return upErr
		},
	}

	cmd.Flags().StringVar(&envDir, "env-dir", "", "directory for .env files, one subdirectory per project (default: the output directory)")
	cmd.Flags().BoolVar(&writeEnvs, "env-files", true, "write .env files for running projects")
	cmd.Flags().DurationVar(&workerGrace, "worker-grace", 5*time.Second, "how long to wait for workers to exit after provisioning (0 to skip)")

	return cmd
}

// workerWaiter is the part of a worker handle that reports its exit.
type workerWaiter interface {
	Launched() bool
	Wait(ctx context.Context) error
}

// reapWorkers waits up to grace for each project's worker to exit and
// returns how each one ended, keyed by project. Workers never launched are
// skipped. A worker still running
// when grace runs out maps to context.DeadlineExceeded and is left alone.
func reapWorkers(ctx context.Context, projects []*engine.ProjectResource, grace time.Duration) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	results := make(map[string]error)
	for _, project := range projects {
		w, ok := project.Worker().(workerWaiter)
		if !ok || !w.Launched() {
			continue
		}
		err := w.Wait(ctx)
		results[project.Name()] = err

		logger := log.With().Str("project", project.Name()).Logger()
		switch {
		case err == nil:
			logger.Debug().Msg("Worker exited")
		case errors.Is(err, context.DeadlineExceeded):
			logger.Warn().Dur("grace", grace).Msg("Worker still running")
		default:
			logger.Warn().Err(err).Msg("Worker exited with error")
		}
	}
	return results
}

type projectSummary struct {
	Name       string            `json:"name"`
	State      string            `json:"state"`
	ProjectID  string            `json:"project_id,omitempty"`
	BranchID   string            `json:"branch_id,omitempty"`
	EndpointID string            `json:"endpoint_id,omitempty"`
	Host       string            `json:"host,omitempty"`
	Port       int               `json:"port,omitempty"`
	Databases  map[string]string `json:"databases,omitempty"`
}

func summarize(projects []*engine.ProjectResource) []projectSummary {
	out := make([]projectSummary, 0, len(projects))
	for _, project := range projects {
		conn := project.Connection()
		s := projectSummary{
			Name:       project.Name(),
			State:      string(project.State()),
			ProjectID:  conn.ProjectID,
			BranchID:   conn.BranchID,
			EndpointID: conn.EndpointID,
			Host:       conn.Host,
			Port:       conn.Port,
		}
		for _, db := range project.Databases() {
			if s.Databases == nil {
				s.Databases = make(map[string]string)
			}
			s.Databases[db.Name()] = db.DatabaseName()
		}
		out = append(out, s)
	}
	return out
}

func printSummary(w io.Writer, projects []*engine.ProjectResource) {
	fmt.Fprintf(w, "%-20s %-16s %-24s %s\n", "PROJECT", "STATE", "PROJECT ID", "HOST")
	for _, s := range summarize(projects) {
		fmt.Fprintf(w, "%-20s %-16s %-24s %s\n", s.Name, s.State, dash(s.ProjectID), dash(s.Host))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

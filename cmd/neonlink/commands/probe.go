package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/neonlink/pkg/health"
)

func newProbeCommand() *cobra.Command {
	var (
		timeout     time.Duration
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "probe [project...]",
		Short: "Provision projects and check their databases accept connections",
		Long: `Run the handshake for each project, then open a connection to the
project and each of its databases and ping it.

Passwords are only known right after a handshake, so probe always runs one;
workers reuse existing projects and branches.`,
		Example: `  # Probe every project
  neonlink probe

  # Probe one project with a longer timeout
  neonlink probe shop --timeout 15s`,
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
			if err := p.UpAll(ctx, projects); err != nil {
				log.Warn().Err(err).Msg("Not every project is running; probing the rest")
			}

			prober := health.NewProber(health.Config{Timeout: timeout, Concurrency: concurrency}, a.tel)
			results, err := prober.Probe(ctx, projects)
			if err != nil {
				return err
			}

			unhealthy := 0
			w := cmd.OutOrStdout()
			type probeReport struct {
				Resource string `json:"resource"`
				Host     string `json:"host,omitempty"`
				Status   string `json:"status"`
				Latency  string `json:"latency,omitempty"`
				Error    string `json:"error,omitempty"`
			}
			reports := make([]probeReport, 0, len(results))
			for _, r := range results {
				pr := probeReport{Resource: r.Resource(), Host: r.Host}
				switch {
				case r.Skipped:
					pr.Status = "unbound"
					unhealthy++
				case r.Err != nil:
					pr.Status = "unreachable"
					pr.Error = r.Err.Error()
					unhealthy++
				default:
					pr.Status = "ok"
					pr.Latency = r.Latency.Round(time.Millisecond).String()
				}
				reports = append(reports, pr)
			}

			if jsonOutput {
				if err := writeJSON(w, reports); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(w, "%-32s %-12s %-10s %s\n", "RESOURCE", "STATUS", "LATENCY", "HOST")
				for _, pr := range reports {
					fmt.Fprintf(w, "%-32s %-12s %-10s %s\n", pr.Resource, pr.Status, dash(pr.Latency), dash(pr.Host))
					if pr.Error != "" {
						fmt.Fprintf(w, "  %s\n", pr.Error)
					}
				}
			}

			if unhealthy > 0 {
				return fmt.Errorf("%d of %d resources are not reachable", unhealthy, len(results))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", health.DefaultTimeout, "timeout per probe")
	cmd.Flags().IntVar(&concurrency, "concurrency", health.DefaultConcurrency, "probes in flight")

	return cmd
}

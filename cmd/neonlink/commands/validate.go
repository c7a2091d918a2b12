package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var skipPolicies, watch bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the topology and settings",
		Long: `Validate the topology and settings without launching any worker.

This command checks:
  - CUE and YAML syntax
  - Schema conformance of projects, directives and databases
  - Directive rules (project identity, masking rules, duplicate databases)
  - Policy compliance (OPA/rego)

With --watch the checks run again each time a file under policy_paths
changes, until interrupted.`,
		Example: `  # Validate the topology in the current directory
  neonlink validate

  # Validate specific files
  neonlink validate -f ./neon.cue -f ./analytics.yaml

  # Re-check while editing policies
  neonlink validate --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			check := func() error {
				return a.validate(ctx, cmd.OutOrStdout(), skipPolicies)
			}
			if !watch {
				return check()
			}

			if len(a.settings.PolicyPaths) == 0 {
				return engine.NewConfigurationError("--watch needs policy_paths in the settings", nil)
			}
			reloaded, err := a.policies.Watch(ctx, a.settings.PolicyPaths)
			if err != nil {
				return err
			}
			if err := check(); err != nil {
				log.Warn().Err(err).Msg("Validation failed")
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-reloaded:
					log.Info().Msg("Policies changed, validating again")
					if err := check(); err != nil {
						log.Warn().Err(err).Msg("Validation failed")
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&skipPolicies, "skip-policies", false, "only check syntax and schemas")
	cmd.Flags().BoolVar(&watch, "watch", false, "validate again whenever a policy file changes")

	return cmd
}

// validate parses the topology and evaluates every project against the
// loaded policies. It returns PolicyDenied when any project is denied.
func (a *app) validate(ctx context.Context, w io.Writer, skipPolicies bool) error {
	topology, err := loadTopology(ctx)
	if err != nil {
		return err
	}

	var results []policyReport
	denied := 0
	if !skipPolicies {
		for _, project := range topology.Projects {
			result, err := a.policies.Evaluate(ctx, &policy.PolicyInput{
				Project:    project.Name,
				Directives: project.Directives,
				Databases:  project.Databases,
				Context: &policy.PolicyContext{
					Operation: "validate",
					Intent:    string(engine.ResolveIntent(project.Directives)),
				},
			})
			if err != nil {
				return err
			}
			if !result.Allowed {
				denied++
			}
			results = append(results, policyReport{Project: project.Name, Result: result})
		}
	}

	if jsonOutput {
		if err := writeJSON(w, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printPolicyReport(w, r)
		}
		fmt.Fprintf(w, "%d projects valid in %d files\n",
			len(topology.Projects)-denied, len(topology.SourceFiles))
	}

	if denied > 0 {
		return engine.NewPolicyDenied(fmt.Sprintf("%d projects violate policies", denied))
	}
	return nil
}

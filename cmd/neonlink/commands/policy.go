package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/neonlink/pkg/policy"
)

type policyReport struct {
	Project string               `json:"project"`
	Result  *policy.PolicyResult `json:"result"`
}

func printPolicyReport(w io.Writer, r policyReport) {
	status := "allowed"
	if !r.Result.Allowed {
		status = "denied"
	}
	fmt.Fprintf(w, "%s: %s\n", r.Project, status)
	for _, v := range r.Result.Violations {
		fmt.Fprintf(w, "  error   %-20s %s\n", v.Policy, v.Message)
	}
	for _, v := range r.Result.Warnings {
		fmt.Fprintf(w, "  warning %-20s %s\n", v.Policy, v.Message)
	}
	for _, e := range r.Result.Errors {
		fmt.Fprintf(w, "  failed  %s\n", e)
	}
}

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the policies applied before launch",
		Long: `Inspect the built-in policies and those loaded from policy_paths.

Policies are rego modules with a deny rule. Violations of error severity
stop a project before its worker is launched; warnings are logged.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			policies := a.policies.ListPolicies()
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), policies)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-24s %-8s %-8s %s\n", "NAME", "SEVERITY", "SOURCE", "DESCRIPTION")
			for _, p := range policies {
				source := "custom"
				if p.Builtin {
					source = "builtin"
				}
				if !p.Enabled {
					source += " (off)"
				}
				fmt.Fprintf(w, "%-24s %-8s %-8s %s\n", p.Name, p.Severity, source, p.Description)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show name",
		Short: "Print the rego source of a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.policies.GetPolicy(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.Rego)
			return nil
		},
	})

	return cmd
}

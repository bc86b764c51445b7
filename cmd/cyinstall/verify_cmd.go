package main

import (
	"github.com/spf13/cobra"

	"github.com/dorcha-inc/cyinstall/internal/verify"
)

// newVerifyCmd creates the verify command
func newVerifyCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify that the installed Cypress binary runs",
		Long: `Run the smoke test against the installed Cypress binary. A binary that has
already been verified is not tested again unless --force is passed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newVerifier(a).Verify(cmd.Context(), verify.Options{
				Force: force,
				Out:   cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Run the smoke test even if the binary is verified")

	return cmd
}

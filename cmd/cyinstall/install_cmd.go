package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dorcha-inc/cyinstall/internal/core"
	"github.com/dorcha-inc/cyinstall/internal/installer"
	"github.com/dorcha-inc/cyinstall/internal/tui"
	"github.com/dorcha-inc/cyinstall/internal/verify"
)

// newInstallCmd creates the install command
func newInstallCmd(a *app) *cobra.Command {
	var (
		force       bool
		archivePath string
		skipVerify  bool
		versionFlag string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the Cypress binary",
		Long: `Install the Cypress binary for this platform. The binary is downloaded into
the cache directory under its version and recorded as the installed version.

The version defaults to the one this build expects. It can be a version number,
a download URL, or a path to an already extracted binary.

Examples:
  cyinstall install
  cyinstall install --version 13.6.0
  cyinstall install --archive ./cypress.zip
  cyinstall install --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			verifier := newVerifier(a)
			inst := installer.New(a.cfg, a.store, packageVersion(), verifier)

			ui := tui.New(out)
			defer ui.Close()

			_, err := inst.Install(cmd.Context(), installer.Options{
				Version:     versionFlag,
				Force:       force,
				ArchivePath: archivePath,
				Verify:      !skipVerify,
				Out:         out,
				OnProgress:  stepReporter(ui),
			})
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reinstall even if the version is already installed")
	cmd.Flags().StringVar(&archivePath, "archive", "", "Install from a local archive instead of downloading")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Do not run the smoke test after installing")
	cmd.Flags().StringVar(&versionFlag, "version", "", "Version, download URL or local path to install")

	return cmd
}

func newVerifier(a *app) *verify.Verifier {
	return verify.NewVerifier(verify.Config{
		Store:            a.store,
		PackageVersion:   packageVersion(),
		SmokeTestTimeout: a.cfg.SmokeTestTimeout(),
		Display:          verify.CurrentDisplay(),
	})
}

// stepReporter forwards installer progress to the terminal UI
func stepReporter(ui *tui.UI) installer.ProgressFunc {
	return func(step installer.Step, percent, etaSeconds int) {
		ui.Step(fmt.Sprintf("%s %s", step, core.ProductName), percent, etaSeconds)
	}
}

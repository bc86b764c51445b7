package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dorcha-inc/cyinstall/internal/core"
	"github.com/dorcha-inc/cyinstall/internal/installer"
)

const (
	componentPackage = "package"
	componentBinary  = "binary"
)

var versionComponents = map[string]struct{}{
	componentPackage: {},
	componentBinary:  {},
}

// newVersionCmd creates the version command
func newVersionCmd(a *app) *cobra.Command {
	var component string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the package and binary versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			versions := installer.GetVersions(a.store, displayPackageVersion())
			out := cmd.OutOrStdout()

			switch component {
			case "":
				core.MustFprintf(out, "%s package version: %s\n", core.ProductName, versions.Package)
				core.MustFprintf(out, "%s binary version: %s\n", core.ProductName, versions.Binary)
			case componentPackage:
				core.MustFprintf(out, "%s\n", versions.Package)
			case componentBinary:
				core.MustFprintf(out, "%s\n", versions.Binary)
			default:
				return fmt.Errorf("unknown component %q, expected one of: %s", component, core.JoinMapKeys(versionComponents))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&component, "component", "", "Print only one version: package or binary")

	return cmd
}

func displayPackageVersion() string {
	if v := packageVersion(); v != "" {
		return v
	}
	return version
}

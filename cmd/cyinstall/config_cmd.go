package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dorcha-inc/cyinstall/internal/config"
	"github.com/dorcha-inc/cyinstall/internal/core"
)

// newConfigCmd creates the config command
func newConfigCmd(a *app) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the effective configuration as YAML. Values come from CYPRESS_* environment
variables, ./cyinstall.yaml, ~/.cyinstall/config.yaml and built-in defaults, in that order.

Use --list to see where each value came from.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if !list {
				dump, err := config.Dump(a.cfg)
				if err != nil {
					return err
				}
				core.MustFprintf(out, "%s", dump)
				return nil
			}

			values, err := config.ListConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to list configuration: %w", err)
			}

			keys := make([]string, 0, len(values))
			for key := range values {
				keys = append(keys, key)
			}
			slices.Sort(keys)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			if _, err := fmt.Fprintln(w, "KEY\tVALUE\tSOURCE"); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
			for _, key := range keys {
				if _, err := fmt.Fprintf(w, "%s\t%v\t%s\n", key, values[key].Value, values[key].Source); err != nil {
					return fmt.Errorf("failed to write row: %w", err)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "Show each value with its source")

	return cmd
}

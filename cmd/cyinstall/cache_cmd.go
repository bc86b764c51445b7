package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dorcha-inc/cyinstall/internal/core"
	"github.com/dorcha-inc/cyinstall/internal/state"
	"github.com/dorcha-inc/cyinstall/internal/tui"
)

// newCacheCmd creates the cache command
func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the Cypress binary cache",
		Long: `Manage the binary cache. Every installed version is kept in its own directory
under the cache directory so switching versions does not download again.`,
	}

	cmd.AddCommand(newCachePathCmd(a))
	cmd.AddCommand(newCacheListCmd(a))
	cmd.AddCommand(newCacheClearCmd(a))

	return cmd
}

// newCachePathCmd creates the cache path command
func newCachePathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core.MustFprintf(cmd.OutOrStdout(), "%s\n", a.store.CacheDirectory())
			return nil
		},
	}
}

type cachedVersionOutput struct {
	Version  string `json:"version"`
	Path     string `json:"path"`
	Verified string `json:"verified"`
}

// newCacheListCmd creates the cache list command
func newCacheListCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached binary versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := a.store.ListCachedVersions()
			if err != nil {
				return fmt.Errorf("failed to list cached versions: %w", err)
			}
			out := cmd.OutOrStdout()

			if jsonOutput {
				entries := make([]cachedVersionOutput, 0, len(versions))
				for _, v := range versions {
					entries = append(entries, cachedVersionOutput{Version: v.Version, Path: v.Path, Verified: v.Status.String()})
				}
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(entries)
			}

			if len(versions) == 0 {
				core.MustFprintf(out, "No cached binary versions found in %s\n", a.store.CacheDirectory())
				return nil
			}

			if ui := tui.New(out); ui.ColorEnabled() {
				rendered, err := ui.RenderMarkdown(cachedVersionsMarkdown(versions))
				if err != nil {
					return err
				}
				core.MustFprintf(out, "%s", rendered)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			if _, err := fmt.Fprintln(w, "VERSION\tVERIFIED\tPATH"); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
			for _, v := range versions {
				if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", v.Version, v.Status, v.Path); err != nil {
					return fmt.Errorf("failed to write row: %w", err)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func cachedVersionsMarkdown(versions []state.CachedVersion) string {
	var b strings.Builder
	b.WriteString("| VERSION | VERIFIED | PATH |\n|---|---|---|\n")
	for _, v := range versions {
		fmt.Fprintf(&b, "| %s | %s | `%s` |\n", v.Version, v.Status, v.Path)
	}
	return b.String()
}

// newCacheClearCmd creates the cache clear command
func newCacheClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all cached binaries",
		Long: `Delete the cache directory and every binary version in it. The install record
is cleared as well, so the next install downloads again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.ClearCache(); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			if err := a.store.ClearInstallRecord(); err != nil {
				return fmt.Errorf("failed to clear install record: %w", err)
			}
			core.MustFprintf(cmd.OutOrStdout(), "Cleared %s\n", a.store.CacheDirectory())
			return nil
		},
	}
}

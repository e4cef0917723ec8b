package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"clipforge/internal/bundle"
)

type bundleView struct {
	Key          string    `json:"key"`
	TemplateName string    `json:"templateName"`
	Path         string    `json:"path"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newBundlesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "List compiled template bundles in the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root := cfg.Paths.CacheDir
			entries, stats, err := bundle.ReadIndex(cmd.Context(), root)
			if err != nil {
				return fmt.Errorf("read bundle cache: %w", err)
			}
			if asJSON {
				views := make([]bundleView, 0, len(entries))
				for _, entry := range entries {
					views = append(views, bundleView(entry))
				}
				return writeJSON(cmd, views)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No cached bundles in %s\n", root)
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					shortKey(entry.Key),
					entry.TemplateName,
					entry.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					filepath.Base(entry.Path),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Key", "Template", "Created", "Directory"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "%d bundles, %s\n", stats.Entries, formatBytes(stats.Bytes))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print bundles as JSON")
	return cmd
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipforge/internal/api"
	"clipforge/internal/daemonctl"
	"clipforge/internal/render"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON bool
		wait   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, store, bundle cache, and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var snapshot daemonctl.StatusSnapshot
			err = ctx.withClient(func(client *daemonctl.Client) error {
				if wait > 0 {
					if err := client.WaitForDaemon(cmd.Context(), wait); err != nil {
						return err
					}
				}
				statusCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
				defer cancel()
				var buildErr error
				snapshot, buildErr = daemonctl.BuildStatusSnapshot(statusCtx, cfg, client)
				return buildErr
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, snapshot)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(snapshot, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status snapshot as JSON")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the daemon to answer before reporting")
	return cmd
}

func renderStatus(snapshot daemonctl.StatusSnapshot, colorize bool) string {
	var lines []string

	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if snapshot.Reachable {
		d := snapshot.Daemon
		lines = append(lines,
			renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", d.PID), colorize),
			renderStatusLine("Address", statusInfo, d.APIAddress, colorize),
			renderStatusLine("Render mode", renderModeKind(d.RenderMode), d.RenderMode, colorize),
		)
		storeKind := statusOK
		storeMsg := d.Store.Mode + " (ready)"
		if !d.Store.Ready {
			storeKind = statusError
			storeMsg = d.Store.Mode + " (not ready)"
		}
		lines = append(lines, renderStatusLine("Artifact store", storeKind, storeMsg, colorize))
		lines = append(lines, storeDetailLines(d.Store.Details, colorize)...)
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "not running at "+snapshot.DaemonURL, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Bundles", colorize)...)
	lines = append(lines,
		renderStatusLine("Cache", statusInfo, snapshot.Bundles.Root, colorize),
		renderStatusLine("Entries", statusInfo, fmt.Sprintf("%d (%s)", snapshot.Bundles.Entries, formatBytes(snapshot.Bundles.Bytes)), colorize),
	)

	if len(snapshot.LeftoverJobs) > 0 {
		var total int64
		for _, job := range snapshot.LeftoverJobs {
			total += job.Size
		}
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Work Directory", colorize)...)
		lines = append(lines, renderStatusLine("Leftover jobs", statusWarn,
			fmt.Sprintf("%d (%s)", len(snapshot.LeftoverJobs), formatBytes(total)), colorize))
		for _, job := range snapshot.LeftoverJobs {
			lines = append(lines, renderStatusLine("  "+job.Name, statusInfo,
				job.ModTime.Local().Format("2006-01-02 15:04:05"), colorize))
		}
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	lines = append(lines, dependencyLines(snapshot.Dependencies, colorize)...)

	if len(snapshot.Preflight) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Preflight", colorize)...)
		for _, result := range snapshot.Preflight {
			kind := statusOK
			if !result.Passed {
				kind = statusError
			}
			lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

func renderModeKind(mode string) statusKind {
	if mode == render.ModeBackend {
		return statusOK
	}
	return statusWarn
}

func dependencyLines(deps []api.DependencyStatus, colorize bool) []string {
	if len(deps) == 0 {
		return []string{renderStatusLine("Dependencies", statusInfo, "none configured", colorize)}
	}
	lines := make([]string, 0, len(deps))
	for _, dep := range deps {
		kind := statusOK
		message := "available"
		if dep.Command != "" {
			message = fmt.Sprintf("%s (%s)", message, dep.Command)
		}
		if !dep.Available {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
			message = dep.Detail
			if message == "" {
				message = "missing"
			}
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, message, colorize))
	}
	return lines
}

func storeDetailLines(details map[string]any, colorize bool) []string {
	if len(details) == 0 {
		return nil
	}
	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, renderStatusLine("  "+key, statusInfo, fmt.Sprint(details[key]), colorize))
	}
	return lines
}

package daemonctl

import (
	"context"
	"errors"

	"clipforge/internal/api"
	"clipforge/internal/bundle"
	"clipforge/internal/config"
	"clipforge/internal/preflight"
	"clipforge/internal/workdir"
)

// StatusSnapshot is what `clipforge status` renders. When the daemon is
// unreachable the bundle and dependency sections are computed locally, and
// job directories a stopped daemon left in the work dir are listed.
type StatusSnapshot struct {
	DaemonURL    string                 `json:"daemonUrl"`
	Reachable    bool                   `json:"reachable"`
	Daemon       api.DaemonStatus       `json:"daemon"`
	Bundles      api.BundleStatus       `json:"bundles"`
	Dependencies []api.DependencyStatus `json:"dependencies"`
	Preflight    []preflight.Result     `json:"preflight"`
	LeftoverJobs []workdir.DirInfo      `json:"leftoverJobs,omitempty"`
}

// BuildStatusSnapshot asks the daemon for its status and falls back to
// local inspection when nothing is listening. Any other client error is
// returned as-is.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config, client *Client) (StatusSnapshot, error) {
	snapshot := StatusSnapshot{}
	if client != nil {
		snapshot.DaemonURL = client.BaseURL()
		status, err := client.Status(ctx)
		switch {
		case err == nil:
			snapshot.Reachable = true
			snapshot.Daemon = status
			snapshot.Bundles = status.Bundles
			snapshot.Dependencies = status.Dependencies
		case errors.Is(err, ErrDaemonNotRunning):
		default:
			return StatusSnapshot{}, err
		}
	}

	if cfg != nil {
		snapshot.Preflight = preflight.RunAll(ctx, cfg)
		if !snapshot.Reachable {
			snapshot.Dependencies = api.DependenciesFrom(preflight.CheckSystemDeps(cfg))
			snapshot.Bundles = offlineBundles(ctx, cfg.Paths.CacheDir)
			if jobs, err := workdir.ListDirectories(cfg.Paths.WorkDir, workdir.JobPrefix); err == nil {
				snapshot.LeftoverJobs = jobs
			}
		}
	}
	return snapshot, nil
}

// offlineBundles reads the persisted bundle index without opening the cache.
func offlineBundles(ctx context.Context, root string) api.BundleStatus {
	status := api.BundleStatus{Root: root}
	_, stats, err := bundle.ReadIndex(ctx, root)
	if err != nil {
		return status
	}
	status.Entries = stats.Entries
	status.Bytes = stats.Bytes
	return status
}

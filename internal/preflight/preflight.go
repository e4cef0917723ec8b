package preflight

import (
	"context"
	"path/filepath"

	"clipforge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Bundle cache", cfg.Paths.CacheDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}

	switch cfg.Output.Mode {
	case config.OutputModeLocal:
		results = append(results, CheckParentWritable("Serve directory", cfg.Paths.ServeDir))
	case config.OutputModeDelegate:
		results = append(results, CheckDelegate(ctx, cfg.Delegate))
	}
	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func parentOf(path string) string {
	return filepath.Dir(filepath.Clean(path))
}

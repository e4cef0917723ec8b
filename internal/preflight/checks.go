package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"clipforge/internal/artifact"
	"clipforge/internal/config"
	"clipforge/internal/deps"
	"clipforge/internal/services"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckParentWritable verifies that path can be created. The serve directory
// is wiped and recreated at start, so only its parent has to exist.
func CheckParentWritable(name, path string) Result {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return CheckDirectoryAccess(name, path)
	}
	parent := path
	for {
		next := parentOf(parent)
		if next == parent {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: no existing parent)", path)}
		}
		parent = next
		if info, err := os.Stat(parent); err == nil && info.IsDir() {
			break
		}
	}
	if err := unix.Access(parent, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: cannot create under %s: %v)", path, parent, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
}

// CheckDelegate initializes a throwaway delegate client to confirm the
// remote endpoint answers and offers the upload tool. Single attempt.
func CheckDelegate(ctx context.Context, cfg config.Delegate) Result {
	const name = "Delegate storage"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store := artifact.NewDelegate(artifact.DelegateOptions{
		Endpoint: cfg.Endpoint,
		Token:    cfg.Token,
		Tool:     cfg.Tool,
		Timeout:  10 * time.Second,
	}, nil)
	defer func() { _ = store.Shutdown(context.Background()) }()

	if err := store.Init(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeDelegateError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable, tool offered"}
}

// CheckSystemDeps evaluates the external binaries for the given config.
// Both the daemon and the CLI status command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	binary, _ := cfg.BackendArgs()
	statuses := []deps.Status{deps.CheckRenderBackend(binary)}
	if deps.NeedsNode(binary) {
		statuses = append(statuses, deps.CheckNodeForBackend(binary))
	}
	return statuses
}

func summarizeDelegateError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "probe timed out (delegate unresponsive)"
	case errors.Is(err, services.ErrConfiguration):
		return "endpoint or token missing"
	default:
		return err.Error()
	}
}

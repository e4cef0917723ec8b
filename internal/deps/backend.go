package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// launchers are package runners that need a Node.js runtime to start the
// render backend.
var launchers = map[string]struct{}{
	"npx":  {},
	"npm":  {},
	"pnpm": {},
	"yarn": {},
	"bunx": {},
}

// CheckRenderBackend reports whether the configured backend launcher resolves.
// The backend is optional: without it renders produce mock payloads.
func CheckRenderBackend(binary string) Status {
	return checkBinary(Requirement{
		Name:        "Render backend",
		Command:     binary,
		Description: "Compiles templates and renders video and stills",
		Optional:    true,
	})
}

// NeedsNode reports whether binary is a JavaScript package runner.
func NeedsNode(binary string) bool {
	name := strings.TrimSuffix(filepath.Base(strings.TrimSpace(binary)), ".exe")
	_, ok := launchers[name]
	return ok
}

// CheckNodeForBackend reports the node binary a package-runner launcher will
// execute. A node binary next to the launcher wins over PATH, matching how
// version managers lay out their shims.
func CheckNodeForBackend(launcher string) Status {
	result := Status{
		Name:        "Node.js",
		Description: "Runs the render backend launcher",
		Optional:    true,
	}

	launcher = strings.TrimSpace(launcher)
	if launcher != "" {
		if resolved, err := exec.LookPath(launcher); err == nil {
			candidate := filepath.Join(filepath.Dir(resolved), executableName("node"))
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				result.Command = candidate
				result.Available = true
				return result
			}
		}
	}

	if nodePath, err := exec.LookPath("node"); err == nil {
		result.Command = nodePath
		result.Available = true
		return result
	}

	result.Command = "node"
	result.Detail = fmt.Sprintf("binary %q not found", "node")
	return result
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

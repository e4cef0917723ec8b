package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", path, err)
	}
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	writeStub(t, present)
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected unset result %#v", results[2])
	}
}

func TestCheckRenderBackendIsOptional(t *testing.T) {
	t.Setenv("PATH", "")
	status := CheckRenderBackend("npx")
	if status.Available {
		t.Fatal("expected npx to be missing with empty PATH")
	}
	if !status.Optional {
		t.Fatal("render backend must be optional")
	}
}

func TestNeedsNode(t *testing.T) {
	for binary, want := range map[string]bool{
		"npx":                true,
		"/usr/local/bin/npm": true,
		"pnpm":               true,
		"remotion":           false,
		"":                   false,
	} {
		if got := NeedsNode(binary); got != want {
			t.Fatalf("NeedsNode(%q) = %v, want %v", binary, got, want)
		}
	}
}

func TestCheckNodeForBackendSidecar(t *testing.T) {
	tmp := t.TempDir()
	npxPath := filepath.Join(tmp, executableName("npx"))
	nodePath := filepath.Join(tmp, executableName("node"))
	writeStub(t, npxPath)
	writeStub(t, nodePath)

	status := CheckNodeForBackend(npxPath)
	if !status.Available {
		t.Fatalf("expected sibling node to be available, got detail %q", status.Detail)
	}
	if status.Command != nodePath {
		t.Fatalf("expected node command %q, got %q", nodePath, status.Command)
	}
}

func TestCheckNodeForBackendPathFallback(t *testing.T) {
	tmp := t.TempDir()
	npxPath := filepath.Join(tmp, executableName("npx"))
	writeStub(t, npxPath)

	binDir := filepath.Join(tmp, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	nodePath := filepath.Join(binDir, executableName("node"))
	writeStub(t, nodePath)
	t.Setenv("PATH", binDir)

	status := CheckNodeForBackend(npxPath)
	if !status.Available || status.Command != nodePath {
		t.Fatalf("expected PATH node %q, got %#v", nodePath, status)
	}
}

func TestCheckNodeForBackendNotFound(t *testing.T) {
	t.Setenv("PATH", "")
	status := CheckNodeForBackend(filepath.Join(t.TempDir(), "npx"))
	if status.Available {
		t.Fatal("expected node resolution to fail")
	}
	if status.Detail == "" {
		t.Fatal("expected detail message when node is unavailable")
	}
}

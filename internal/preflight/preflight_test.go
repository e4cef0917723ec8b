package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"clipforge/internal/config"
	"clipforge/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckParentWritable_MissingLeaf(t *testing.T) {
	result := CheckParentWritable("serve", filepath.Join(t.TempDir(), "a", "b", "files"))
	if !result.Passed {
		t.Fatalf("expected pass when an ancestor is writable, got: %s", result.Detail)
	}
}

// Init wipes whatever sits at the serve path, so a stray file there passes.
func TestCheckParentWritable_ExistingFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckParentWritable("serve", f)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func delegateServer(t *testing.T, tools ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		list := make([]map[string]string, 0, len(tools))
		for _, name := range tools {
			list = append(list, map[string]string{"name": name})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1, "result": map[string]any{"tools": list},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckDelegate_OK(t *testing.T) {
	srv := delegateServer(t, "upload_file")
	result := CheckDelegate(context.Background(), config.Delegate{Endpoint: srv.URL, Token: "good"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckDelegate_BadToken(t *testing.T) {
	srv := delegateServer(t, "upload_file")
	result := CheckDelegate(context.Background(), config.Delegate{Endpoint: srv.URL, Token: "bad"})
	if result.Passed {
		t.Fatal("expected failure for rejected token")
	}
}

func TestCheckDelegate_MissingCredentials(t *testing.T) {
	result := CheckDelegate(context.Background(), config.Delegate{Endpoint: "http://localhost"})
	if result.Passed || result.Detail != "endpoint or token missing" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_LocalMode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_DelegateMode(t *testing.T) {
	srv := delegateServer(t, "something_else")
	cfg := testsupport.NewConfig(t, testsupport.WithDelegate(srv.URL, "good"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) != 1 || failed[0].Name != "Delegate storage" {
		t.Fatalf("expected only the delegate check to fail, got %+v", failed)
	}
}

func TestCheckSystemDeps_IncludesNodeForLaunchers(t *testing.T) {
	cfg := config.Default()
	cfg.Render.BackendCommand = "npx remotion"
	statuses := CheckSystemDeps(&cfg)
	if len(statuses) != 2 || statuses[1].Name != "Node.js" {
		t.Fatalf("expected backend and node statuses, got %+v", statuses)
	}

	cfg.Render.BackendCommand = "/opt/render/bin/remotion"
	if statuses := CheckSystemDeps(&cfg); len(statuses) != 1 {
		t.Fatalf("expected only backend status, got %+v", statuses)
	}
}

package bundle_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clipforge/internal/bundle"
	"clipforge/internal/services"
)

type fakeCompiler struct {
	calls   atomic.Int32
	fail    error
	gate    chan struct{}
	entries []string
	mu      sync.Mutex
}

func (f *fakeCompiler) Compile(ctx context.Context, entryPoint, outDir string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.entries = append(f.entries, entryPoint)
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(outDir, "bundle.js"), []byte("bundle"), 0o644); err != nil {
		return "", err
	}
	if f.fail != nil {
		return "", f.fail
	}
	return outDir, nil
}

func newCache(t *testing.T, root string, compiler bundle.Compiler) *bundle.Cache {
	t.Helper()
	cache := bundle.New(root, compiler, nil)
	if err := cache.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestBundleCacheHitIsIdempotent(t *testing.T) {
	compiler := &fakeCompiler{}
	cache := newCache(t, t.TempDir(), compiler)
	ctx := context.Background()

	first, release, err := cache.Bundle(ctx, "export default () => null;", "Main")
	if err != nil {
		t.Fatalf("first Bundle: %v", err)
	}
	release()
	second, release2, err := cache.Bundle(ctx, "export default () => null;", "Main")
	if err != nil {
		t.Fatalf("second Bundle: %v", err)
	}
	release2()

	if first.Path != second.Path {
		t.Fatalf("expected same bundle path, got %q and %q", first.Path, second.Path)
	}
	if first.Cached || !second.Cached {
		t.Fatalf("expected miss then hit, got %v/%v", first.Cached, second.Cached)
	}
	if got := compiler.calls.Load(); got != 1 {
		t.Fatalf("expected one compile, got %d", got)
	}
}

func TestBundleDistinctSourcesCompileSeparately(t *testing.T) {
	compiler := &fakeCompiler{}
	cache := newCache(t, t.TempDir(), compiler)
	ctx := context.Background()

	a, _, err := cache.Bundle(ctx, "a", "Main")
	if err != nil {
		t.Fatalf("Bundle a: %v", err)
	}
	b, _, err := cache.Bundle(ctx, "b", "Main")
	if err != nil {
		t.Fatalf("Bundle b: %v", err)
	}
	if a.Path == b.Path {
		t.Fatal("expected different bundle paths for different sources")
	}
	if got := compiler.calls.Load(); got != 2 {
		t.Fatalf("expected two compiles, got %d", got)
	}
	if stats := cache.Stats(); stats.Entries != 2 || stats.Bytes == 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBundleConcurrentMissesCompileOnce(t *testing.T) {
	compiler := &fakeCompiler{gate: make(chan struct{})}
	cache := newCache(t, t.TempDir(), compiler)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, release, err := cache.Bundle(ctx, "shared source", "Main")
			defer release()
			paths[i], errs[i] = handle.Path, err
		}(i)
	}
	close(compiler.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Fatalf("caller %d got %q, want %q", i, paths[i], paths[0])
		}
	}
	if got := compiler.calls.Load(); got != 1 {
		t.Fatalf("expected a single compile, got %d", got)
	}
}

func TestBundleFollowerSurvivesLeaderCancellation(t *testing.T) {
	compiler := &fakeCompiler{gate: make(chan struct{})}
	cache := newCache(t, t.TempDir(), compiler)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()
	leaderErr := make(chan error, 1)
	go func() {
		_, release, err := cache.Bundle(leaderCtx, "src", "Main")
		release()
		leaderErr <- err
	}()
	waitForCalls(t, compiler, 1)

	type outcome struct {
		handle bundle.Handle
		err    error
	}
	follower := make(chan outcome, 1)
	go func() {
		handle, release, err := cache.Bundle(context.Background(), "src", "Main")
		defer release()
		follower <- outcome{handle: handle, err: err}
	}()

	cancelLeader()
	select {
	case err := <-leaderErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected leader to see its own cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("leader did not return after cancellation")
	}

	close(compiler.gate)
	select {
	case got := <-follower:
		if got.err != nil {
			t.Fatalf("follower with live context failed: %v", got.err)
		}
		if _, err := os.Stat(got.handle.Path); err != nil {
			t.Fatalf("expected bundle on disk: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not complete")
	}
	if got := compiler.calls.Load(); got != 1 {
		t.Fatalf("expected a single compile, got %d", got)
	}
}

func waitForCalls(t *testing.T, compiler *fakeCompiler, want int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for compiler.calls.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("compiler reached %d calls, want %d", compiler.calls.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBundleCompileFailureCleansUp(t *testing.T) {
	root := t.TempDir()
	compiler := &fakeCompiler{fail: errors.New("SyntaxError: unexpected token")}
	cache := newCache(t, root, compiler)

	_, release, err := cache.Bundle(context.Background(), "export default (", "Main")
	release()
	if !errors.Is(err, services.ErrCompileFailed) {
		t.Fatalf("expected ErrCompileFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "unexpected token") {
		t.Fatalf("expected backend diagnostic in error, got %v", err)
	}
	if names := listDir(t, filepath.Join(root, "projects")); len(names) != 0 {
		t.Fatalf("expected project dirs removed, got %v", names)
	}
	if names := listDir(t, filepath.Join(root, "bundles")); len(names) != 0 {
		t.Fatalf("expected bundle output removed, got %v", names)
	}
	if len(cache.Entries()) != 0 {
		t.Fatal("expected no cache entry after failure")
	}
}

func TestReleaseRemovesProjectButKeepsBundle(t *testing.T) {
	root := t.TempDir()
	compiler := &fakeCompiler{}
	cache := newCache(t, root, compiler)

	handle, release, err := cache.Bundle(context.Background(), "src", "Main")
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if names := listDir(t, filepath.Join(root, "projects")); len(names) != 1 {
		t.Fatalf("expected one project dir before release, got %v", names)
	}
	entry := compiler.entries[0]
	if filepath.Base(entry) != "index.ts" {
		t.Fatalf("unexpected entry point %q", entry)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(entry), "template.tsx")); err != nil {
		t.Fatalf("expected template source in project: %v", err)
	}

	release()
	release()

	if names := listDir(t, filepath.Join(root, "projects")); len(names) != 0 {
		t.Fatalf("expected project dir removed, got %v", names)
	}
	if _, err := os.Stat(handle.Path); err != nil {
		t.Fatalf("expected bundle to survive release: %v", err)
	}
}

func TestBundleWithoutCompilerFails(t *testing.T) {
	cache := newCache(t, t.TempDir(), nil)
	if cache.Available() {
		t.Fatal("expected cache without compiler to be unavailable")
	}
	_, _, err := cache.Bundle(context.Background(), "src", "Main")
	if !errors.Is(err, services.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestBundleRejectsInvalidTemplateName(t *testing.T) {
	cache := newCache(t, t.TempDir(), &fakeCompiler{})
	_, _, err := cache.Bundle(context.Background(), "src", "../escape")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestIndexReusesBundlesAcrossInstances(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	first := bundle.New(root, &fakeCompiler{}, nil)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	original, _, err := first.Bundle(ctx, "persistent", "Main")
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	compiler := &fakeCompiler{}
	second := newCache(t, root, compiler)
	reused, _, err := second.Bundle(ctx, "persistent", "Main")
	if err != nil {
		t.Fatalf("Bundle after restart: %v", err)
	}
	if !reused.Cached || reused.Path != original.Path {
		t.Fatalf("expected cached reuse of %q, got %+v", original.Path, reused)
	}
	if got := compiler.calls.Load(); got != 0 {
		t.Fatalf("expected no recompilation, got %d", got)
	}
}

func TestReadIndexLeavesCacheUntouched(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	cache := newCache(t, root, &fakeCompiler{})
	if _, _, err := cache.Bundle(ctx, "a", "Main"); err != nil {
		t.Fatalf("Bundle a: %v", err)
	}
	b, _, err := cache.Bundle(ctx, "b", "Main")
	if err != nil {
		t.Fatalf("Bundle b: %v", err)
	}

	moved := b.Path + ".moved"
	if err := os.Rename(b.Path, moved); err != nil {
		t.Fatalf("rename: %v", err)
	}
	entries, stats, err := bundle.ReadIndex(ctx, root)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(entries) != 1 || stats.Entries != 1 || stats.Bytes == 0 {
		t.Fatalf("expected only the intact bundle, got %d entries %+v", len(entries), stats)
	}

	if err := os.Rename(moved, b.Path); err != nil {
		t.Fatalf("rename back: %v", err)
	}
	entries, _, err = bundle.ReadIndex(ctx, root)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected the index row to survive a listing, got %d entries", len(entries))
	}
}

func TestReadIndexOnMissingRootCreatesNothing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	entries, stats, err := bundle.ReadIndex(context.Background(), root)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(entries) != 0 || stats.Entries != 0 {
		t.Fatalf("expected empty listing, got %v %+v", entries, stats)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("expected %s to stay absent, stat err=%v", root, err)
	}
}

func TestMissingBundleDirectoryTriggersRecompile(t *testing.T) {
	root := t.TempDir()
	compiler := &fakeCompiler{}
	cache := newCache(t, root, compiler)
	ctx := context.Background()

	handle, _, err := cache.Bundle(ctx, "src", "Main")
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if err := os.RemoveAll(handle.Path); err != nil {
		t.Fatalf("remove bundle: %v", err)
	}
	again, _, err := cache.Bundle(ctx, "src", "Main")
	if err != nil {
		t.Fatalf("Bundle after removal: %v", err)
	}
	if again.Cached {
		t.Fatal("expected a fresh compile after bundle directory vanished")
	}
	if got := compiler.calls.Load(); got != 2 {
		t.Fatalf("expected two compiles, got %d", got)
	}
}

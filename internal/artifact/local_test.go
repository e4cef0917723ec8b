package artifact_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipforge/internal/artifact"
	"clipforge/internal/services"
	"clipforge/internal/testsupport"
)

func newLocal(t *testing.T, clock *testsupport.Clock, mutate func(*artifact.LocalOptions)) *artifact.LocalStore {
	t.Helper()
	opts := artifact.LocalOptions{
		ServeDir:      filepath.Join(t.TempDir(), "files"),
		BaseURL:       "http://files.test/",
		MaxDiskBytes:  1 << 20,
		MaxFiles:      10,
		TTL:           time.Hour,
		SweepInterval: time.Hour,
		Now:           clock.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	store := artifact.NewLocal(opts, nil)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = store.Shutdown(context.Background()) })
	return store
}

func mustStore(t *testing.T, store *artifact.LocalStore, size int, name string) artifact.Descriptor {
	t.Helper()
	desc, err := store.Store(context.Background(), artifact.Artifact{
		Data:     testsupport.Payload(size),
		MIMEType: "video/mp4",
		Filename: name,
	})
	if err != nil {
		t.Fatalf("Store %s: %v", name, err)
	}
	return desc
}

// fileRef splits a descriptor URL into the served filename and its token.
func fileRef(t *testing.T, desc artifact.Descriptor) (string, string) {
	t.Helper()
	parsed, err := url.Parse(desc.URL)
	if err != nil {
		t.Fatalf("parse url %q: %v", desc.URL, err)
	}
	return path.Base(parsed.Path), parsed.Query().Get("token")
}

func get(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func fileCount(store *artifact.LocalStore) int {
	return store.Status(context.Background()).Details["fileCount"].(int)
}

func diskBytes(store *artifact.LocalStore) int64 {
	return store.Status(context.Background()).Details["diskUsageBytes"].(int64)
}

func TestStoreBeforeInitIsNotReady(t *testing.T) {
	store := artifact.NewLocal(artifact.LocalOptions{ServeDir: t.TempDir(), MaxDiskBytes: 10, MaxFiles: 1, TTL: time.Second}, nil)
	_, err := store.Store(context.Background(), artifact.Artifact{Data: []byte("x"), MIMEType: "image/png"})
	if !errors.Is(err, services.ErrStoreNotReady) {
		t.Fatalf("expected ErrStoreNotReady, got %v", err)
	}
	if rec := get(t, store.Handler(), "/health"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before init, got %d", rec.Code)
	}
}

func TestStoreReturnsTokenizedURL(t *testing.T) {
	clock := testsupport.NewClock()
	store := newLocal(t, clock, nil)

	desc := mustStore(t, store, 32, "video.mp4")
	if !strings.HasPrefix(desc.URL, "http://files.test/files/") {
		t.Fatalf("unexpected url %q", desc.URL)
	}
	name, token := fileRef(t, desc)
	if !strings.HasSuffix(name, ".mp4") || len(strings.TrimSuffix(name, ".mp4")) != 32 {
		t.Fatalf("unexpected filename %q", name)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex token, got %q", token)
	}
	if desc.ExpiresAt == nil || !desc.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", desc.ExpiresAt)
	}
}

func TestInitWipesServeDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "files")
	testsupport.WriteFile(t, filepath.Join(dir, "stale.mp4"), 8)

	newLocal(t, testsupport.NewClock(), func(o *artifact.LocalOptions) { o.ServeDir = dir })

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read serve dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty serve dir after init, got %d entries", len(entries))
	}
}

func TestArtifactTooLargeRejectedBeforeWrite(t *testing.T) {
	store := newLocal(t, testsupport.NewClock(), func(o *artifact.LocalOptions) { o.MaxDiskBytes = 100 })
	mustStore(t, store, 60, "a.mp4")

	_, err := store.Store(context.Background(), artifact.Artifact{Data: testsupport.Payload(101), MIMEType: "video/mp4"})
	if !errors.Is(err, services.ErrArtifactTooLarge) {
		t.Fatalf("expected ErrArtifactTooLarge, got %v", err)
	}
	if fileCount(store) != 1 {
		t.Fatal("existing entries must survive a rejected store")
	}
}

func TestDiskQuotaEvictsLeastRecentlyUsed(t *testing.T) {
	clock := testsupport.NewClock()
	store := newLocal(t, clock, func(o *artifact.LocalOptions) { o.MaxDiskBytes = 100 })

	first := mustStore(t, store, 40, "a.mp4")
	clock.Advance(time.Second)
	second := mustStore(t, store, 40, "b.mp4")
	clock.Advance(time.Second)
	name, token := fileRef(t, first)
	if _, err := store.Lookup(name, token); err != nil {
		t.Fatalf("Lookup first: %v", err)
	}
	clock.Advance(time.Second)
	mustStore(t, store, 40, "c.mp4")

	if diskBytes(store) != 80 {
		t.Fatalf("expected 80 bytes on disk, got %d", diskBytes(store))
	}
	name, token = fileRef(t, second)
	if _, err := store.Lookup(name, token); !errors.Is(err, services.ErrFileNotFound) {
		t.Fatalf("expected untouched second entry evicted, got %v", err)
	}
}

func TestLRUEvictsOldestAccess(t *testing.T) {
	clock := testsupport.NewClock()
	store := newLocal(t, clock, func(o *artifact.LocalOptions) { o.MaxFiles = 3 })
	start := clock.Now()

	a := mustStore(t, store, 10, "a.mp4")
	b := mustStore(t, store, 10, "b.mp4")
	c := mustStore(t, store, 10, "c.mp4")

	touch := func(desc artifact.Descriptor, at time.Duration) {
		clock.Advance(start.Add(at).Sub(clock.Now()))
		name, token := fileRef(t, desc)
		if _, err := store.Lookup(name, token); err != nil {
			t.Fatalf("Lookup: %v", err)
		}
	}
	touch(a, 1*time.Second)
	touch(c, 3*time.Second)
	touch(b, 5*time.Second)

	mustStore(t, store, 10, "d.mp4")

	for _, tc := range []struct {
		desc artifact.Descriptor
		want error
	}{
		{a, services.ErrFileNotFound},
		{b, nil},
		{c, nil},
	} {
		name, token := fileRef(t, tc.desc)
		_, err := store.Lookup(name, token)
		if tc.want == nil && err != nil {
			t.Fatalf("expected %s to survive, got %v", name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("expected %s evicted, got %v", name, err)
		}
	}
}

func TestMaxFilesEvictsFirstOfThree(t *testing.T) {
	store := newLocal(t, testsupport.NewClock(), func(o *artifact.LocalOptions) { o.MaxFiles = 2 })

	f1 := mustStore(t, store, 10, "f1.mp4")
	f2 := mustStore(t, store, 10, "f2.mp4")
	f3 := mustStore(t, store, 10, "f3.mp4")

	if fileCount(store) != 2 {
		t.Fatalf("expected 2 files, got %d", fileCount(store))
	}
	for _, desc := range []artifact.Descriptor{f2, f3} {
		name, token := fileRef(t, desc)
		if rec := get(t, store.Handler(), "/files/"+name+"?token="+token); rec.Code != http.StatusOK {
			t.Fatalf("expected %s present, got %d", name, rec.Code)
		}
	}
	name, token := fileRef(t, f1)
	if rec := get(t, store.Handler(), "/files/"+name+"?token="+token); rec.Code != http.StatusNotFound {
		t.Fatalf("expected F1 to be 404, got %d", rec.Code)
	}
}

func TestQuotaInvariantHoldsAfterEveryStore(t *testing.T) {
	clock := testsupport.NewClock()
	const maxBytes, maxFiles = 200, 4
	store := newLocal(t, clock, func(o *artifact.LocalOptions) {
		o.MaxDiskBytes = maxBytes
		o.MaxFiles = maxFiles
	})

	sizes := []int{50, 120, 30, 200, 1, 75, 75, 75, 10, 199, 2, 3}
	for i, size := range sizes {
		clock.Advance(time.Millisecond)
		mustStore(t, store, size, "x.mp4")
		if got := diskBytes(store); got > maxBytes {
			t.Fatalf("store %d: disk usage %d exceeds %d", i, got, maxBytes)
		}
		if got := fileCount(store); got > maxFiles {
			t.Fatalf("store %d: file count %d exceeds %d", i, got, maxFiles)
		}
	}
}

// gatedWrites blocks every artifact write until release is closed.
func gatedWrites(t *testing.T) (started chan string, release chan struct{}) {
	t.Helper()
	started = make(chan string, 8)
	release = make(chan struct{})
	artifact.StubWriteFile(t, func(path string, data []byte, perm os.FileMode) error {
		started <- path
		<-release
		return os.WriteFile(path, data, perm)
	})
	return started, release
}

func TestHealthAnswersDuringSlowWrite(t *testing.T) {
	store := newLocal(t, testsupport.NewClock(), nil)
	started, release := gatedWrites(t)

	stored := make(chan error, 1)
	go func() {
		_, err := store.Store(context.Background(), artifact.Artifact{Data: testsupport.Payload(64), MIMEType: "video/mp4"})
		stored <- err
	}()
	<-started

	health := make(chan int, 1)
	go func() { health <- get(t, store.Handler(), "/health").Code }()
	select {
	case code := <-health:
		if code != http.StatusOK {
			t.Fatalf("expected 200 from /health during a write, got %d", code)
		}
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("/health blocked behind an artifact write")
	}
	if got := fileCount(store); got != 0 {
		t.Fatalf("in-flight write should not be listed yet, got %d files", got)
	}

	close(release)
	if err := <-stored; err != nil {
		t.Fatalf("Store: %v", err)
	}
	if got := fileCount(store); got != 1 {
		t.Fatalf("expected one file after the write, got %d", got)
	}
}

func TestInFlightWriteHoldsItsQuotaSlot(t *testing.T) {
	store := newLocal(t, testsupport.NewClock(), func(o *artifact.LocalOptions) {
		o.MaxFiles = 1
	})
	started, release := gatedWrites(t)

	results := make(chan error, 2)
	go func() {
		_, err := store.Store(context.Background(), artifact.Artifact{Data: testsupport.Payload(8), MIMEType: "video/mp4"})
		results <- err
	}()
	<-started
	go func() {
		_, err := store.Store(context.Background(), artifact.Artifact{Data: testsupport.Payload(8), MIMEType: "video/mp4"})
		results <- err
	}()

	select {
	case <-started:
		close(release)
		t.Fatal("second write started while the only slot was reserved")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}
	if got := fileCount(store); got != 1 {
		t.Fatalf("expected the file-count quota to hold, got %d files", got)
	}
}

func TestFailedWriteReleasesReservation(t *testing.T) {
	store := newLocal(t, testsupport.NewClock(), func(o *artifact.LocalOptions) {
		o.MaxDiskBytes = 10
		o.MaxFiles = 1
	})
	failed := false
	artifact.StubWriteFile(t, func(path string, data []byte, perm os.FileMode) error {
		if !failed {
			failed = true
			return errors.New("disk full")
		}
		return os.WriteFile(path, data, perm)
	})

	if _, err := store.Store(context.Background(), artifact.Artifact{Data: testsupport.Payload(10), MIMEType: "video/mp4"}); err == nil {
		t.Fatal("expected the failed write to surface")
	}
	if got := fileCount(store); got != 0 {
		t.Fatalf("failed write left %d entries", got)
	}
	mustStore(t, store, 10, "retry.mp4")
	if got := diskBytes(store); got != 10 {
		t.Fatalf("expected the full quota to be usable again, got %d bytes", got)
	}
}

func TestRetrievalStatusCodes(t *testing.T) {
	clock := testsupport.NewClock()
	store := newLocal(t, clock, func(o *artifact.LocalOptions) { o.TTL = time.Second })
	handler := store.Handler()

	desc, err := store.Store(context.Background(), artifact.Artifact{
		Data:     []byte("png-bytes"),
		MIMEType: "image/png",
		Filename: "Café \"still\".png",
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	name, token := fileRef(t, desc)

	rec := get(t, handler, "/files/"+name+"?token="+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body, _ := io.ReadAll(rec.Body); string(body) != "png-bytes" {
		t.Fatalf("unexpected body %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `inline; filename="Cafe _still_.png"` {
		t.Fatalf("unexpected content disposition %q", cd)
	}

	if rec := get(t, handler, "/files/"+name+"?token=wrong"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong token, got %d", rec.Code)
	}
	if rec := get(t, handler, "/files/deadbeef.png?token="+token); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown file, got %d", rec.Code)
	}

	clock.Advance(1500 * time.Millisecond)
	if rec := get(t, handler, "/files/"+name+"?token="+token); rec.Code != http.StatusGone {
		t.Fatalf("expected 410 after ttl, got %d", rec.Code)
	}
	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected sweep to remove 1 entry, got %d", removed)
	}
	if rec := get(t, handler, "/files/"+name+"?token="+token); rec.Code != http.StatusGone {
		t.Fatalf("expected 410 after sweep, got %d", rec.Code)
	}
	if diskBytes(store) != 0 || fileCount(store) != 0 {
		t.Fatal("expected expired file released from usage")
	}
}

func TestHealthStatusAndMetricsEndpoints(t *testing.T) {
	store := newLocal(t, testsupport.NewClock(), nil)
	mustStore(t, store, 5, "a.mp4")

	rec := get(t, store.Handler(), "/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"mode":"local"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
	rec = get(t, store.Handler(), "/status")
	for _, fragment := range []string{`"ready":true`, `"diskUsageBytes":5`, `"fileCount":1`, `"port":0`} {
		if !strings.Contains(rec.Body.String(), fragment) {
			t.Fatalf("expected %s in %s", fragment, rec.Body.String())
		}
	}
	rec = get(t, store.Handler(), "/metrics")
	if !strings.Contains(rec.Body.String(), "clipforge_artifact_store_stored_total 1") {
		t.Fatalf("expected stored counter in metrics, got %s", rec.Body.String())
	}
}

func TestShutdownKeepsFilesAndStopsServing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "files")
	store := artifact.NewLocal(artifact.LocalOptions{
		ServeDir:     dir,
		BaseURL:      "http://files.test",
		Bind:         "127.0.0.1:0",
		MaxDiskBytes: 1024,
		MaxFiles:     4,
		TTL:          time.Minute,
	}, nil)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	resp, err := http.Get("http://" + store.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from live listener, got %d", resp.StatusCode)
	}
	if port := store.Status(context.Background()).Details["port"].(int); port == 0 {
		t.Fatal("expected bound port in status")
	}

	mustStore(t, store, 5, "a.mp4")
	if err := store.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected file kept after shutdown, got %v %v", entries, err)
	}
	if store.Status(context.Background()).Ready {
		t.Fatal("expected store not ready after shutdown")
	}
	_, err = store.Store(context.Background(), artifact.Artifact{Data: []byte("x")})
	if !errors.Is(err, services.ErrStoreNotReady) {
		t.Fatalf("expected ErrStoreNotReady after shutdown, got %v", err)
	}
}

func TestBackgroundSweepRemovesExpired(t *testing.T) {
	clock := testsupport.NewClock()
	store := newLocal(t, clock, func(o *artifact.LocalOptions) {
		o.TTL = time.Second
		o.SweepInterval = 10 * time.Millisecond
	})
	mustStore(t, store, 5, "a.mp4")
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for fileCount(store) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background sweep did not remove expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

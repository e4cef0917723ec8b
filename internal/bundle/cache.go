package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"clipforge/internal/logging"
	"clipforge/internal/services"
)

const (
	stageName     = "bundle"
	lockRetry     = 100 * time.Millisecond
	indexFileName = "bundles.db"

	// compileTimeout bounds a shared compilation, which outlives any single caller.
	compileTimeout = 10 * time.Minute
)

var templateNamePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Compiler turns an entry point into a bundle written to outDir and returns
// the bundle path.
type Compiler interface {
	Compile(ctx context.Context, entryPoint, outDir string) (string, error)
}

// Entry records one compiled bundle.
type Entry struct {
	Key          string
	TemplateName string
	Path         string
	CreatedAt    time.Time
}

// Handle is the result of a Bundle call.
type Handle struct {
	Key    string
	Path   string
	Cached bool
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries int
	Bytes   int64
}

// ReleaseFunc removes the per-call project scaffold. It never touches the
// shared bundle output and is safe to call more than once.
type ReleaseFunc func()

func noopRelease() {}

// Cache memoizes compiled bundles by content key.
type Cache struct {
	root     string
	compiler Compiler
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
	index   *index
	ready   bool

	flights singleflight.Group
}

type flightResult struct {
	entry   Entry
	cached  bool
	release ReleaseFunc
}

// New constructs a cache rooted at root. A nil compiler leaves the cache in
// the backend-missing state where Bundle fails.
func New(root string, compiler Compiler, logger *slog.Logger) *Cache {
	return &Cache{
		root:     root,
		compiler: compiler,
		logger:   logging.NewComponentLogger(logger, "bundle-cache"),
		now:      time.Now,
		entries:  make(map[string]Entry),
	}
}

// Init creates the cache root and loads entries persisted by earlier runs.
// An unreadable index degrades the cache to memory-only.
func (c *Cache) Init(ctx context.Context) error {
	for _, dir := range []string{c.root, c.bundlesDir(), c.projectsDir(), c.locksDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, stageName, "init", "create cache directory", err)
		}
	}

	ix, err := openIndex(ctx, filepath.Join(c.root, indexFileName))
	if err != nil {
		logging.WarnWithContext(c.logger, "bundle index unavailable", "bundle_index_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the cache directory"),
			logging.String(logging.FieldImpact, "bundles will be recompiled after restart"))
		ix = nil
	}

	loaded := 0
	if ix != nil {
		rows, err := ix.list(ctx)
		if err != nil {
			c.logger.Debug("bundle index list failed", logging.Error(err))
		}
		for _, entry := range rows {
			if !dirExists(entry.Path) {
				_ = ix.remove(ctx, entry.Key)
				continue
			}
			c.mu.Lock()
			c.entries[entry.Key] = entry
			c.mu.Unlock()
			loaded++
		}
	}

	c.mu.Lock()
	c.index = ix
	c.ready = true
	c.mu.Unlock()

	if c.compiler == nil {
		logging.WarnWithContext(c.logger, "render backend missing; bundle compilation disabled", "bundle_backend_missing",
			logging.String(logging.FieldErrorHint, "install the renderer or set render.backend_command"),
			logging.String(logging.FieldImpact, "renders fall back to mock output"))
	}
	c.logger.Info("bundle cache ready",
		logging.String("root", c.root),
		logging.Int("entries", loaded),
		logging.Bool("compiler_available", c.compiler != nil))
	return nil
}

// Available reports whether a compiler is configured.
func (c *Cache) Available() bool {
	return c != nil && c.compiler != nil
}

// Close releases the persistent index.
func (c *Cache) Close() error {
	c.mu.Lock()
	ix := c.index
	c.index = nil
	c.ready = false
	c.mu.Unlock()
	return ix.close()
}

// Bundle returns the compiled bundle for source, compiling it on first use.
// Concurrent callers with the same key share one compilation.
func (c *Cache) Bundle(ctx context.Context, source, templateName string) (Handle, ReleaseFunc, error) {
	if !templateNamePattern.MatchString(templateName) {
		return Handle{}, noopRelease, services.Wrap(services.ErrValidation, stageName, "bundle",
			fmt.Sprintf("template name %q must contain only letters, digits and dashes", templateName), nil)
	}
	if c.compiler == nil {
		return Handle{}, noopRelease, services.Wrap(services.ErrBackendUnavailable, stageName, "bundle", "no compiler configured", nil)
	}
	c.mu.RLock()
	ready := c.ready
	c.mu.RUnlock()
	if !ready {
		return Handle{}, noopRelease, services.Wrap(services.ErrConfiguration, stageName, "bundle", "cache not initialized", nil)
	}

	key := Key(templateName, source)
	if entry, ok := c.lookupMemory(key); ok {
		c.logger.Debug("bundle cache hit", logging.String("key", key))
		return Handle{Key: key, Path: entry.Path, Cached: true}, noopRelease, nil
	}

	// The flight is shared, so it must not die with whichever caller started it.
	ch := c.flights.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compileTimeout)
		defer cancel()
		return c.compileLocked(flightCtx, key, templateName, source)
	})
	select {
	case <-ctx.Done():
		return Handle{}, noopRelease, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Handle{}, noopRelease, res.Err
		}
		result := res.Val.(flightResult)
		return Handle{Key: key, Path: result.entry.Path, Cached: result.cached}, result.release, nil
	}
}

// compileLocked holds the cross-process key lock, re-checks the index, and
// compiles when no other process has produced the bundle.
func (c *Cache) compileLocked(ctx context.Context, key, templateName, source string) (flightResult, error) {
	lock := flock.New(filepath.Join(c.locksDir(), key+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return flightResult{}, services.Wrap(services.ErrCompileFailed, stageName, "lock", key, err)
	}
	if !locked {
		return flightResult{}, services.Wrap(services.ErrCompileFailed, stageName, "lock", "could not acquire compile lock", nil)
	}
	defer func() { _ = lock.Unlock() }()

	if entry, ok := c.lookupMemory(key); ok {
		return flightResult{entry: entry, cached: true, release: noopRelease}, nil
	}
	if entry, ok := c.lookupIndex(ctx, key); ok {
		c.remember(entry)
		return flightResult{entry: entry, cached: true, release: noopRelease}, nil
	}

	return c.compile(ctx, key, templateName, source)
}

func (c *Cache) compile(ctx context.Context, key, templateName, source string) (flightResult, error) {
	projectDir := filepath.Join(c.projectsDir(), key+"-"+uuid.NewString())
	outDir := filepath.Join(c.bundlesDir(), key)
	cleanup := func() {
		c.removeDir(projectDir)
		c.removeDir(outDir)
	}

	// A leftover output directory without an index row is a partial build.
	c.removeDir(outDir)

	proj, err := writeProject(projectDir, templateName, source)
	if err != nil {
		cleanup()
		return flightResult{}, services.Wrap(services.ErrCompileFailed, stageName, "scaffold", templateName, err)
	}

	started := c.now()
	bundlePath, err := c.compiler.Compile(ctx, proj.entryPoint, outDir)
	if err != nil {
		cleanup()
		c.logger.Error("bundle compile failed",
			logging.String("key", key),
			logging.String("template", templateName),
			logging.Error(err))
		return flightResult{}, services.Wrap(services.ErrCompileFailed, stageName, "compile", templateName, err)
	}
	if strings.TrimSpace(bundlePath) == "" {
		bundlePath = outDir
	}

	entry := Entry{Key: key, TemplateName: templateName, Path: bundlePath, CreatedAt: c.now()}
	c.remember(entry)
	if ix := c.currentIndex(); ix != nil {
		if err := ix.put(ctx, entry); err != nil {
			logging.WarnWithContext(c.logger, "bundle index write failed", "bundle_index_write_failed",
				logging.String("key", key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "bundle will be recompiled after restart"))
		}
	}
	c.logger.Info("bundle compiled",
		logging.String("key", key),
		logging.String("template", templateName),
		logging.String("path", bundlePath),
		logging.Duration("elapsed", c.now().Sub(started)))

	var once sync.Once
	release := func() {
		once.Do(func() { c.removeDir(projectDir) })
	}
	return flightResult{entry: entry, release: release}, nil
}

func (c *Cache) lookupMemory(key string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if dirExists(entry.Path) {
		return entry, true
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return Entry{}, false
}

func (c *Cache) lookupIndex(ctx context.Context, key string) (Entry, bool) {
	ix := c.currentIndex()
	if ix == nil {
		return Entry{}, false
	}
	entry, ok, err := ix.lookup(ctx, key)
	if err != nil {
		c.logger.Debug("bundle index lookup failed", logging.String("key", key), logging.Error(err))
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	if !dirExists(entry.Path) {
		_ = ix.remove(ctx, key)
		return Entry{}, false
	}
	return entry, true
}

func (c *Cache) remember(entry Entry) {
	c.mu.Lock()
	c.entries[entry.Key] = entry
	c.mu.Unlock()
}

func (c *Cache) currentIndex() *index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index
}

// Entries lists cached bundles, oldest first.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	c.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries
}

// Stats reports the number of cached bundles and their size on disk.
func (c *Cache) Stats() Stats {
	return statsFor(c.Entries())
}

// ReadIndex lists the bundles recorded under root for inspection while a
// daemon may own the cache. It creates nothing and never prunes rows; rows
// whose directory is gone are skipped.
func ReadIndex(ctx context.Context, root string) ([]Entry, Stats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, Stats{}, nil
	}
	ix, err := openIndexReadOnly(ctx, filepath.Join(root, indexFileName))
	if err != nil {
		return nil, Stats{}, services.Wrap(services.ErrConfiguration, stageName, "read index", root, err)
	}
	if ix == nil {
		return nil, Stats{}, nil
	}
	defer func() { _ = ix.close() }()

	rows, err := ix.list(ctx)
	if err != nil {
		return nil, Stats{}, services.Wrap(services.ErrConfiguration, stageName, "read index", root, err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, entry := range rows {
		if dirExists(entry.Path) {
			entries = append(entries, entry)
		}
	}
	return entries, statsFor(entries), nil
}

func statsFor(entries []Entry) Stats {
	stats := Stats{Entries: len(entries)}
	for _, entry := range entries {
		stats.Bytes += dirSize(entry.Path)
	}
	return stats
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) bundlesDir() string  { return filepath.Join(c.root, "bundles") }
func (c *Cache) projectsDir() string { return filepath.Join(c.root, "projects") }
func (c *Cache) locksDir() string    { return filepath.Join(c.root, "locks") }

func (c *Cache) removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		c.logger.Debug("remove directory failed", logging.String("path", path), logging.Error(err))
	}
}

func dirExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if info, infoErr := d.Info(); infoErr == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

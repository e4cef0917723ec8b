package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"clipforge/internal/api"
	"clipforge/internal/artifact"
	"clipforge/internal/bundle"
	"clipforge/internal/config"
	"clipforge/internal/deps"
	"clipforge/internal/logging"
	"clipforge/internal/pipeline"
	"clipforge/internal/preflight"
	"clipforge/internal/render"
	"clipforge/internal/workdir"
)

const (
	lockFileName = "clipforge.lock"
	staleJobAge  = time.Hour
	scaffoldDir  = "projects"
)

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	backend    render.Backend
	backendSet bool
	store      artifact.Store
}

// WithBackend overrides backend detection. A nil backend forces mock renders.
func WithBackend(backend render.Backend) Option {
	return func(o *options) {
		o.backend = backend
		o.backendSet = true
	}
}

// WithStore overrides the artifact store selected from config.
func WithStore(store artifact.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// Daemon owns every long-lived component and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	bundles  *bundle.Cache
	renderer *render.Renderer
	store    artifact.Store
	pipeline *pipeline.Service
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
}

// New constructs a daemon with initialized dependencies. Nothing touches the
// disk or network until Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.backend
	if !o.backendSet {
		backend = detectBackend(cfg, logger)
	}

	var compiler bundle.Compiler
	if backend != nil {
		compiler = backend
	}
	cache := bundle.New(cfg.Paths.CacheDir, compiler, logger)
	renderer := render.New(render.Options{
		WorkRoot:        cfg.Paths.WorkDir,
		Concurrency:     cfg.Render.Concurrency,
		PerFrameTimeout: cfg.PerFrameTimeout(),
		Backend:         backend,
		Bundles:         cache,
	}, logger)

	store := o.store
	if store == nil {
		var err error
		store, err = artifact.New(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	lockPath := filepath.Join(cfg.Paths.StateDir, lockFileName)
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		bundles:  cache,
		renderer: renderer,
		store:    store,
		pipeline: pipeline.NewService(renderer, store, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	handler := api.NewHandler(d.pipeline, api.Options{Token: cfg.API.Token, Status: d.Status}, logger)
	if local, ok := store.(*artifact.LocalStore); ok {
		local.Mount("/api", handler)
	} else {
		d.api = newAPIServer(cfg.Output.Bind, handler, logger)
	}
	return d, nil
}

// detectBackend returns the CLI backend when its launcher resolves on PATH.
func detectBackend(cfg *config.Config, logger *slog.Logger) render.Backend {
	binary, args := cfg.BackendArgs()
	if binary == "" {
		return nil
	}
	status := deps.CheckRenderBackend(binary)
	if !status.Available {
		logging.WarnWithContext(logger, "render backend not found", "render_backend_missing",
			logging.String("command", binary),
			logging.String(logging.FieldErrorHint, "install the renderer or fix render.backend_command"),
			logging.String(logging.FieldImpact, "renders return mock payloads"))
		return nil
	}
	backend := render.NewCLIBackend(render.WithCommand(binary, args...))
	logger.Info("render backend detected",
		logging.String("command", backend.Binary()),
		logging.Int("base_args", len(args)))
	return backend
}

// Start acquires the daemon lock, clears stale job directories, and brings
// up the bundle cache, the artifact store, and the HTTP surface.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another clipforge daemon instance is already running")
	}

	d.cleanStale(ctx)
	for _, failed := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "run clipforge status for details"),
			logging.String(logging.FieldImpact, "renders may fail until resolved"))
	}

	if err := d.bundles.Init(ctx); err != nil {
		d.unlock()
		return fmt.Errorf("init bundle cache: %w", err)
	}
	if err := d.store.Init(ctx); err != nil {
		_ = d.bundles.Close()
		d.unlock()
		return fmt.Errorf("init artifact store: %w", err)
	}
	if err := d.api.start(); err != nil {
		_ = d.store.Shutdown(ctx)
		_ = d.bundles.Close()
		d.unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("clipforge daemon started",
		logging.String("lock", d.lockPath),
		logging.String("render_mode", d.renderer.Mode()),
		logging.String("store_mode", d.store.Status(ctx).Mode),
		logging.String("address", d.Address()))
	return nil
}

// Stop shuts components down in reverse order and releases the daemon lock.
func (d *Daemon) Stop(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop(ctx)
	if err := d.store.Shutdown(ctx); err != nil {
		d.logger.Warn("artifact store shutdown failed", logging.Error(err))
	}
	if err := d.bundles.Close(); err != nil {
		d.logger.Debug("bundle index close failed", logging.Error(err))
	}
	d.unlock()
	d.running.Store(false)
	d.logger.Info("clipforge daemon stopped")
}

// Address returns the bound HTTP address, or "" when not listening.
func (d *Daemon) Address() string {
	if local, ok := d.store.(*artifact.LocalStore); ok {
		return local.Addr()
	}
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	stats := d.bundles.Stats()
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		RenderMode:   d.renderer.Mode(),
		APIAddress:   d.Address(),
		Store:        d.store.Status(ctx),
		Bundles: api.BundleStatus{
			Root:      d.bundles.Root(),
			Entries:   stats.Entries,
			Bytes:     stats.Bytes,
			Available: d.bundles.Available(),
		},
		Dependencies: api.DependenciesFrom(preflight.CheckSystemDeps(d.cfg)),
	}
}

func (d *Daemon) cleanStale(ctx context.Context) {
	targets := []struct{ root, prefix string }{
		{d.cfg.Paths.WorkDir, workdir.JobPrefix},
		{filepath.Join(d.cfg.Paths.CacheDir, scaffoldDir), ""},
	}
	for _, target := range targets {
		result := workdir.CleanStale(ctx, target.root, target.prefix, staleJobAge, d.logger)
		if len(result.Removed) > 0 {
			d.logger.Info("stale directories removed",
				logging.String("root", target.root),
				logging.Int("removed", len(result.Removed)))
		}
	}
}

func (d *Daemon) unlock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

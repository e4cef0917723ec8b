package artifact

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"clipforge/internal/logging"
	"clipforge/internal/services"
)

const localStage = "artifact-store"

var writeFile = os.WriteFile

// LocalOptions configure a LocalStore.
type LocalOptions struct {
	ServeDir string
	BaseURL  string
	// Bind is the listen address. Empty disables the listener; the routes
	// remain reachable through Handler.
	Bind          string
	MaxDiskBytes  int64
	MaxFiles      int
	TTL           time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// FileEntry is one stored file.
type FileEntry struct {
	ID             string
	Filename       string
	Path           string
	Token          string
	MIMEType       string
	SizeBytes      int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	OriginalName   string

	seq uint64
}

func (e *FileEntry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

type tombstone struct {
	token     string
	expiredAt time.Time
}

// LocalStore persists artifacts on disk and serves them over HTTP.
type LocalStore struct {
	opts    LocalOptions
	logger  *slog.Logger
	metrics *storeMetrics
	router  chi.Router

	mu         sync.Mutex
	entries    map[string]*FileEntry
	tombstones map[string]tombstone
	totalBytes int64
	seq        uint64
	ready      bool

	// pendingBytes and pendingFiles hold quota for writes in flight.
	pendingBytes int64
	pendingFiles int
	settled      *sync.Cond

	server   *http.Server
	listener net.Listener

	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
}

// NewLocal constructs a LocalStore. Nothing touches the disk until Init.
func NewLocal(opts LocalOptions, logger *slog.Logger) *LocalStore {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	s := &LocalStore{
		opts:       opts,
		logger:     logging.NewComponentLogger(logger, "artifact-store"),
		metrics:    newStoreMetrics(),
		entries:    make(map[string]*FileEntry),
		tombstones: make(map[string]tombstone),
	}
	s.settled = sync.NewCond(&s.mu)
	s.router = s.newRouter()
	return s
}

// Init wipes the serve directory, starts the listener, and starts the
// background expiry sweep.
func (s *LocalStore) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if strings.TrimSpace(s.opts.ServeDir) == "" {
		return services.Wrap(services.ErrConfiguration, localStage, "init", "serve directory not configured", nil)
	}
	if err := os.RemoveAll(s.opts.ServeDir); err != nil {
		return services.Wrap(services.ErrConfiguration, localStage, "init", "wipe serve directory", err)
	}
	if err := os.MkdirAll(s.opts.ServeDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, localStage, "init", "create serve directory", err)
	}

	if s.opts.Bind != "" {
		listener, err := net.Listen("tcp", s.opts.Bind)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, localStage, "init", "listen on "+s.opts.Bind, err)
		}
		s.listener = listener
		s.server = &http.Server{
			Handler:           s.router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      10 * time.Minute,
			IdleTimeout:       60 * time.Second,
		}
		go func(server *http.Server, listener net.Listener) {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("artifact server error", logging.Error(err))
			}
		}(s.server, listener)
		s.logger.Info("artifact server listening", logging.String("address", listener.Addr().String()))
	}

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.sweepCancel = cancel
	s.sweepWG.Add(1)
	go s.sweepLoop(sweepCtx)

	s.mu.Lock()
	s.entries = make(map[string]*FileEntry)
	s.tombstones = make(map[string]tombstone)
	s.totalBytes = 0
	s.ready = true
	s.mu.Unlock()
	s.metrics.observeUsage(0, 0)

	s.logger.Info("local artifact store ready",
		logging.String("serve_dir", s.opts.ServeDir),
		logging.Int64("max_disk_bytes", s.opts.MaxDiskBytes),
		logging.Int("max_files", s.opts.MaxFiles),
		logging.Duration("ttl", s.opts.TTL))
	return nil
}

// Store writes the artifact and returns its tokenized URL. Expired entries are
// swept first, then least-recently-accessed entries are evicted for the disk
// quota and afterwards for the file-count quota. The quota slot is reserved
// before the file is written, and the write itself runs without the lock.
func (s *LocalStore) Store(ctx context.Context, artifact Artifact) (Descriptor, error) {
	logger := logging.WithContext(ctx, s.logger)
	size := int64(len(artifact.Data))

	s.mu.Lock()
	if err := s.reserveLocked(logger, size); err != nil {
		s.mu.Unlock()
		return Descriptor{}, err
	}
	s.mu.Unlock()

	id, token, err := newFileIdentity()
	if err != nil {
		s.release(size)
		return Descriptor{}, err
	}
	filename := id + extensionFor(artifact.MIMEType)
	path := filepath.Join(s.opts.ServeDir, filename)
	if err := writeFile(path, artifact.Data, 0o644); err != nil {
		_ = os.Remove(path)
		s.release(size)
		return Descriptor{}, fmt.Errorf("write artifact: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(size)
	if !s.ready {
		_ = os.Remove(path)
		return Descriptor{}, services.Wrap(services.ErrStoreNotReady, localStage, "store", "store shut down during write", nil)
	}

	now := s.opts.Now()
	s.seq++
	entry := &FileEntry{
		ID:             id,
		Filename:       filename,
		Path:           path,
		Token:          token,
		MIMEType:       artifact.MIMEType,
		SizeBytes:      size,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.opts.TTL),
		LastAccessedAt: now,
		OriginalName:   artifact.Filename,
		seq:            s.seq,
	}
	s.entries[filename] = entry
	s.totalBytes += size
	s.metrics.stored.Inc()
	s.metrics.observeUsage(s.totalBytes, len(s.entries))

	logger.Info("artifact stored",
		logging.String("file_id", id),
		logging.String("mime_type", artifact.MIMEType),
		logging.Int64("size_bytes", size),
		logging.Int("file_count", len(s.entries)),
		logging.Int64("disk_bytes", s.totalBytes))

	expires := entry.ExpiresAt.UTC()
	return Descriptor{
		URL:       fmt.Sprintf("%s/files/%s?token=%s", s.opts.BaseURL, filename, token),
		ExpiresAt: &expires,
	}, nil
}

// reserveLocked sweeps, evicts until size fits beside stored and in-flight
// files, and then holds that room for the caller. When only in-flight writes
// occupy the quota it waits for them to settle.
func (s *LocalStore) reserveLocked(logger *slog.Logger, size int64) error {
	if !s.ready {
		return services.Wrap(services.ErrStoreNotReady, localStage, "store", "store not initialized", nil)
	}
	s.sweepLocked(s.opts.Now())

	if size > s.opts.MaxDiskBytes {
		return services.Wrap(services.ErrArtifactTooLarge, localStage, "store",
			fmt.Sprintf("%d bytes exceeds quota of %d bytes", size, s.opts.MaxDiskBytes), nil)
	}
	for {
		for s.totalBytes+s.pendingBytes+size > s.opts.MaxDiskBytes && len(s.entries) > 0 {
			s.evictLRULocked(logger, "disk")
		}
		for s.opts.MaxFiles > 0 && len(s.entries)+s.pendingFiles >= s.opts.MaxFiles && len(s.entries) > 0 {
			s.evictLRULocked(logger, "count")
		}
		if s.fitsLocked(size) {
			break
		}
		s.settled.Wait()
		if !s.ready {
			return services.Wrap(services.ErrStoreNotReady, localStage, "store", "store shut down", nil)
		}
	}
	s.pendingBytes += size
	s.pendingFiles++
	return nil
}

func (s *LocalStore) fitsLocked(size int64) bool {
	if s.pendingFiles == 0 {
		return true
	}
	if s.totalBytes+s.pendingBytes+size > s.opts.MaxDiskBytes {
		return false
	}
	return s.opts.MaxFiles <= 0 || len(s.entries)+s.pendingFiles < s.opts.MaxFiles
}

func (s *LocalStore) release(size int64) {
	s.mu.Lock()
	s.releaseLocked(size)
	s.mu.Unlock()
}

func (s *LocalStore) releaseLocked(size int64) {
	s.pendingBytes -= size
	s.pendingFiles--
	s.settled.Broadcast()
}

func newFileIdentity() (string, string, error) {
	id, err := randomHex(idBytes)
	if err != nil {
		return "", "", err
	}
	token, err := randomHex(tokenBytes)
	if err != nil {
		return "", "", err
	}
	return id, token, nil
}

// Lookup resolves a retrieval request and marks the entry as accessed.
// It returns ErrFileNotFound, ErrInvalidToken or ErrFileExpired on failure.
func (s *LocalStore) Lookup(filename, token string) (FileEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return FileEntry{}, services.Wrap(services.ErrStoreNotReady, localStage, "lookup", "", nil)
	}
	now := s.opts.Now()
	entry, ok := s.entries[filename]
	if !ok {
		if tomb, dead := s.tombstones[filename]; dead {
			if !tokensEqual(tomb.token, token) {
				return FileEntry{}, services.Wrap(services.ErrInvalidToken, localStage, "lookup", "", nil)
			}
			return FileEntry{}, services.Wrap(services.ErrFileExpired, localStage, "lookup", filename, nil)
		}
		return FileEntry{}, services.Wrap(services.ErrFileNotFound, localStage, "lookup", filename, nil)
	}
	if !tokensEqual(entry.Token, token) {
		return FileEntry{}, services.Wrap(services.ErrInvalidToken, localStage, "lookup", "", nil)
	}
	if entry.expired(now) {
		return FileEntry{}, services.Wrap(services.ErrFileExpired, localStage, "lookup", filename, nil)
	}
	entry.LastAccessedAt = now
	return *entry, nil
}

// Status reports usage and readiness.
func (s *LocalStore) Status(context.Context) StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	details := map[string]any{
		"diskUsageBytes": s.totalBytes,
		"fileCount":      len(s.entries),
		"maxDiskBytes":   s.opts.MaxDiskBytes,
		"maxFiles":       s.opts.MaxFiles,
		"ttlSeconds":     int64(s.opts.TTL / time.Second),
		"port":           s.port(),
	}
	return StatusReport{Mode: ModeLocal, Ready: s.ready, Details: details}
}

// Shutdown stops the sweep and the listener. Stored files stay on disk.
func (s *LocalStore) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.ready = false
	s.settled.Broadcast()
	s.mu.Unlock()

	if s.sweepCancel != nil {
		s.sweepCancel()
		s.sweepWG.Wait()
		s.sweepCancel = nil
	}
	var err error
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(shutdownCtx)
		s.server = nil
		s.listener = nil
	}
	s.logger.Info("local artifact store stopped")
	return err
}

// Handler exposes the HTTP routes, for mounting in tests or other servers.
func (s *LocalStore) Handler() http.Handler {
	return s.router
}

// Mount attaches an additional handler under pattern on the store's router.
// Call before Init.
func (s *LocalStore) Mount(pattern string, handler http.Handler) {
	s.router.Mount(pattern, handler)
}

// Addr returns the bound listener address, or "" when not listening.
func (s *LocalStore) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *LocalStore) port() int {
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

func (s *LocalStore) sweepLoop(ctx context.Context) {
	defer s.sweepWG.Done()
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes expired entries. It runs on the background interval and
// before every Store.
func (s *LocalStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return 0
	}
	return s.sweepLocked(s.opts.Now())
}

func (s *LocalStore) sweepLocked(now time.Time) int {
	removed := 0
	for name, entry := range s.entries {
		if !entry.expired(now) {
			continue
		}
		s.removeLocked(entry)
		s.tombstones[name] = tombstone{token: entry.Token, expiredAt: now}
		s.metrics.expired.Inc()
		removed++
	}
	// Tombstones answer 410 for one more TTL period, then become 404s.
	for name, tomb := range s.tombstones {
		if now.Sub(tomb.expiredAt) > s.opts.TTL {
			delete(s.tombstones, name)
		}
	}
	if removed > 0 {
		s.metrics.observeUsage(s.totalBytes, len(s.entries))
		s.logger.Debug("expired artifacts removed",
			logging.Int("removed", removed),
			logging.Int("file_count", len(s.entries)))
	}
	return removed
}

func (s *LocalStore) evictLRULocked(logger *slog.Logger, reason string) {
	var victim *FileEntry
	for _, entry := range s.entries {
		if victim == nil || lessRecentlyUsed(entry, victim) {
			victim = entry
		}
	}
	if victim == nil {
		return
	}
	s.removeLocked(victim)
	s.metrics.evicted.WithLabelValues(reason).Inc()
	s.metrics.observeUsage(s.totalBytes, len(s.entries))
	logger.Info("artifact evicted",
		logging.String(logging.FieldEventType, "artifact_evicted"),
		logging.String("reason", reason),
		logging.String("file_id", victim.ID),
		logging.Time("last_accessed_at", victim.LastAccessedAt))
}

func (s *LocalStore) removeLocked(entry *FileEntry) {
	delete(s.entries, entry.Filename)
	s.totalBytes -= entry.SizeBytes
	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Debug("remove artifact file failed", logging.String("path", entry.Path), logging.Error(err))
	}
}

// lessRecentlyUsed orders by last access, then insertion order.
func lessRecentlyUsed(a, b *FileEntry) bool {
	if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
	return a.seq < b.seq
}

func tokensEqual(expected, provided string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

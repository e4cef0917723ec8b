package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Output modes select the artifact store strategy.
const (
	OutputModeLocal    = "local"
	OutputModeDelegate = "delegate"
)

// Paths contains directory configuration.
type Paths struct {
	CacheDir string `toml:"cache_dir"`
	WorkDir  string `toml:"work_dir"`
	ServeDir string `toml:"serve_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Render contains configuration for the external rendering backend.
type Render struct {
	// BackendCommand is the renderer executable plus leading arguments. Empty
	// forces mock mode.
	BackendCommand    string `toml:"backend_command"`
	Concurrency       int    `toml:"concurrency"`
	PerFrameTimeoutMS int    `toml:"per_frame_timeout_ms"`
}

// Output contains configuration for the artifact store.
type Output struct {
	Mode                 string `toml:"mode"`
	BaseURL              string `toml:"base_url"`
	Bind                 string `toml:"bind"`
	MaxDiskMB            int64  `toml:"max_disk_mb"`
	MaxFiles             int    `toml:"max_files"`
	TTLSeconds           int    `toml:"ttl_seconds"`
	SweepIntervalSeconds int    `toml:"sweep_interval_seconds"`
}

// Delegate contains configuration for the remote storage service.
type Delegate struct {
	Endpoint       string `toml:"endpoint"`
	Token          string `toml:"token"`
	Tool           string `toml:"tool"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// API contains configuration for the render HTTP API.
type API struct {
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for clipforge.
//
// Configuration sections by subsystem:
//   - Paths: bundle cache, job work, serve, state, and log directories
//   - Render: renderer command, concurrency, per-frame timeout
//   - Output: store mode, HTTP bind, quotas, TTL, sweep interval
//   - Delegate: remote storage endpoint and credential
//   - API: render API bearer token
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Render   Render   `toml:"render"`
	Output   Output   `toml:"output"`
	Delegate Delegate `toml:"delegate"`
	API      API      `toml:"api"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clipforge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("clipforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline writes into. The
// serve directory is left to the local store, which wipes it on start.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.WorkDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// MaxDiskBytes returns the local store disk quota in bytes.
func (c *Config) MaxDiskBytes() int64 {
	return c.Output.MaxDiskMB * 1024 * 1024
}

// TTL returns how long stored files remain retrievable.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.Output.TTLSeconds) * time.Second
}

// SweepInterval returns the period of the background expiry sweep.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Output.SweepIntervalSeconds) * time.Second
}

// PerFrameTimeout returns the render budget granted per frame.
func (c *Config) PerFrameTimeout() time.Duration {
	return time.Duration(c.Render.PerFrameTimeoutMS) * time.Millisecond
}

// DelegateTimeout returns the request timeout for the remote storage call.
func (c *Config) DelegateTimeout() time.Duration {
	return time.Duration(c.Delegate.TimeoutSeconds) * time.Second
}

// BackendArgs splits the renderer command into executable and leading args.
func (c *Config) BackendArgs() (string, []string) {
	fields := strings.Fields(c.Render.BackendCommand)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "clipforge", "bundles")
	}
	return "~/.cache/clipforge/bundles"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

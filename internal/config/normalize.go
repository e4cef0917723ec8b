package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRender()
	c.normalizeOutput()
	c.normalizeDelegate()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.cache_dir", &c.Paths.CacheDir, defaultCacheDir()},
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.serve_dir", &c.Paths.ServeDir, defaultServeDir},
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeRender() {
	c.Render.BackendCommand = strings.Join(strings.Fields(c.Render.BackendCommand), " ")
	if c.Render.Concurrency <= 0 {
		c.Render.Concurrency = defaultRenderConcurrency
	}
	if c.Render.PerFrameTimeoutMS <= 0 {
		c.Render.PerFrameTimeoutMS = defaultPerFrameTimeoutMS
	}
}

func (c *Config) normalizeOutput() {
	if value, ok := os.LookupEnv("CLIPFORGE_OUTPUT_MODE"); ok && strings.TrimSpace(value) != "" {
		c.Output.Mode = value
	}
	c.Output.Mode = strings.ToLower(strings.TrimSpace(c.Output.Mode))
	if c.Output.Mode == "" {
		c.Output.Mode = defaultOutputMode
	}
	c.Output.Bind = strings.TrimSpace(c.Output.Bind)
	if c.Output.Bind == "" {
		c.Output.Bind = defaultOutputBind
	}
	c.Output.BaseURL = strings.TrimRight(strings.TrimSpace(c.Output.BaseURL), "/")
	if c.Output.BaseURL == "" {
		c.Output.BaseURL = "http://" + c.Output.Bind
	}
	if c.Output.SweepIntervalSeconds <= 0 {
		c.Output.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
}

func (c *Config) normalizeDelegate() {
	if value, ok := os.LookupEnv("CLIPFORGE_DELEGATE_ENDPOINT"); ok {
		c.Delegate.Endpoint = value
	}
	if value, ok := os.LookupEnv("CLIPFORGE_DELEGATE_TOKEN"); ok {
		c.Delegate.Token = value
	}
	c.Delegate.Endpoint = strings.TrimSpace(c.Delegate.Endpoint)
	c.Delegate.Token = strings.TrimSpace(c.Delegate.Token)
	c.Delegate.Tool = strings.TrimSpace(c.Delegate.Tool)
	if c.Delegate.Tool == "" {
		c.Delegate.Tool = defaultDelegateTool
	}
	if c.Delegate.TimeoutSeconds <= 0 {
		c.Delegate.TimeoutSeconds = defaultDelegateTimeout
	}
}

func (c *Config) normalizeAPI() {
	if value, ok := os.LookupEnv("CLIPFORGE_API_TOKEN"); ok {
		c.API.Token = value
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format != "json" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

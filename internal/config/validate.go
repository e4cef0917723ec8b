package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateDelegate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRender() error {
	return ensurePositiveMap(map[string]int{
		"render.concurrency":          c.Render.Concurrency,
		"render.per_frame_timeout_ms": c.Render.PerFrameTimeoutMS,
	})
}

func (c *Config) validateOutput() error {
	switch c.Output.Mode {
	case OutputModeLocal, OutputModeDelegate:
	default:
		return fmt.Errorf("output.mode must be %q or %q, got %q", OutputModeLocal, OutputModeDelegate, c.Output.Mode)
	}
	if c.Output.Mode != OutputModeLocal {
		return nil
	}
	if c.Output.MaxDiskMB <= 0 {
		return errors.New("output.max_disk_mb must be positive")
	}
	if err := ensurePositiveMap(map[string]int{
		"output.max_files":              c.Output.MaxFiles,
		"output.ttl_seconds":            c.Output.TTLSeconds,
		"output.sweep_interval_seconds": c.Output.SweepIntervalSeconds,
	}); err != nil {
		return err
	}
	if strings.TrimSpace(c.Paths.ServeDir) == "" {
		return errors.New("paths.serve_dir must be set when output.mode is local")
	}
	if _, err := url.ParseRequestURI(c.Output.BaseURL); err != nil {
		return fmt.Errorf("output.base_url is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateDelegate() error {
	if c.Output.Mode != OutputModeDelegate {
		return nil
	}
	if c.Delegate.Endpoint == "" {
		return errors.New("delegate.endpoint must be set when output.mode is delegate (or set CLIPFORGE_DELEGATE_ENDPOINT)")
	}
	if _, err := url.ParseRequestURI(c.Delegate.Endpoint); err != nil {
		return fmt.Errorf("delegate.endpoint is invalid: %w", err)
	}
	if c.Delegate.Token == "" {
		return errors.New("delegate.token must be set when output.mode is delegate (or set CLIPFORGE_DELEGATE_TOKEN)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

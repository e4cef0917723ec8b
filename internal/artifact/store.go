package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/services"
)

// Store mode names reported in StatusReport.Mode.
const (
	ModeLocal    = config.OutputModeLocal
	ModeDelegate = config.OutputModeDelegate
)

// Artifact is a finished render ready for publication.
type Artifact struct {
	Data     []byte
	MIMEType string
	Filename string
	Metadata map[string]any
}

// Descriptor tells the caller where to fetch a stored artifact.
type Descriptor struct {
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// StatusReport summarizes store health.
type StatusReport struct {
	Mode    string         `json:"mode"`
	Ready   bool           `json:"ready"`
	Details map[string]any `json:"details"`
}

// Store publishes artifacts.
type Store interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, artifact Artifact) (Descriptor, error)
	Status(ctx context.Context) StatusReport
	Shutdown(ctx context.Context) error
}

// New builds the store selected by cfg.Output.Mode.
func New(cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "artifact", "new", "config required", nil)
	}
	switch cfg.Output.Mode {
	case config.OutputModeLocal:
		return NewLocal(LocalOptions{
			ServeDir:      cfg.Paths.ServeDir,
			BaseURL:       cfg.Output.BaseURL,
			Bind:          cfg.Output.Bind,
			MaxDiskBytes:  cfg.MaxDiskBytes(),
			MaxFiles:      cfg.Output.MaxFiles,
			TTL:           cfg.TTL(),
			SweepInterval: cfg.SweepInterval(),
		}, logger), nil
	case config.OutputModeDelegate:
		return NewDelegate(DelegateOptions{
			Endpoint: cfg.Delegate.Endpoint,
			Token:    cfg.Delegate.Token,
			Tool:     cfg.Delegate.Tool,
			Timeout:  cfg.DelegateTimeout(),
		}, logger), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "artifact", "new",
			fmt.Sprintf("unknown output mode %q", cfg.Output.Mode), nil)
	}
}

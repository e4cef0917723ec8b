package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"resty.dev/v3"

	"clipforge/internal/api"
	"clipforge/internal/config"
	"clipforge/internal/pipeline"
	"clipforge/internal/services"
)

const clientStage = "daemon-client"

// ErrDaemonNotRunning is returned when nothing answers at the daemon address.
var ErrDaemonNotRunning = errors.New("clipforge daemon is not running")

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient builds a client for the daemon at baseURL. Renders are bounded
// by the caller's context rather than a client timeout.
func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if strings.TrimSpace(token) != "" {
		client.SetAuthToken(token)
	}
	return &Client{baseURL: baseURL, http: client}
}

// DaemonURL derives the base URL the CLI uses to reach the local daemon.
// Wildcard bind hosts are replaced with loopback.
func DaemonURL(cfg *config.Config) string {
	bind := ""
	if cfg != nil {
		bind = strings.TrimSpace(cfg.Output.Bind)
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "http://" + bind
	}
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// BaseURL returns the daemon address this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// Status fetches the daemon status report.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// RenderVideo submits a video render and waits for the published outcome.
func (c *Client) RenderVideo(ctx context.Context, req pipeline.VideoRequest) (pipeline.Outcome, error) {
	var out pipeline.Outcome
	err := c.do(ctx, http.MethodPost, "/api/render/video", req, &out)
	return out, err
}

// RenderImage submits a still render and waits for the published outcome.
func (c *Client) RenderImage(ctx context.Context, req pipeline.ImageRequest) (pipeline.Outcome, error) {
	var out pipeline.Outcome
	err := c.do(ctx, http.MethodPost, "/api/render/image", req, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetResult(out)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if isConnectionRefused(err) {
			return fmt.Errorf("%w at %s", ErrDaemonNotRunning, c.baseURL)
		}
		return fmt.Errorf("contact daemon at %s: %w", c.baseURL, err)
	}
	if !resp.IsError() {
		return nil
	}
	var failure api.ErrorResponse
	_ = json.Unmarshal([]byte(resp.String()), &failure)
	message := strings.TrimSpace(failure.Error)
	if message == "" {
		message = http.StatusText(resp.StatusCode())
	}
	marker := markerFor(resp.StatusCode())
	if marker == nil {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode(), message)
	}
	return services.Wrap(marker, clientStage, strings.TrimPrefix(path, "/api/"), message, nil)
}

func markerFor(status int) error {
	switch status {
	case http.StatusBadRequest:
		return services.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return services.ErrInvalidToken
	case http.StatusNotFound:
		return services.ErrFileNotFound
	case http.StatusRequestEntityTooLarge:
		return services.ErrArtifactTooLarge
	case http.StatusBadGateway:
		return services.ErrRenderFailed
	case http.StatusServiceUnavailable:
		return services.ErrStoreNotReady
	case http.StatusGatewayTimeout:
		return services.ErrTimeout
	default:
		return nil
	}
}

func isConnectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

// WaitForDaemon polls the status endpoint until the daemon answers or the
// timeout elapses. Errors other than a refused connection end the wait.
func (c *Client) WaitForDaemon(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		_, err := c.Status(ctx)
		if err == nil || !errors.Is(err, ErrDaemonNotRunning) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("daemon did not start within %s: %w", timeout, err)
		case <-time.After(200 * time.Millisecond):
		}
	}
}

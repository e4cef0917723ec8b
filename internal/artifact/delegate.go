package artifact

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"resty.dev/v3"

	"clipforge/internal/logging"
	"clipforge/internal/services"
)

const delegateStage = "delegate-store"

// DelegateOptions configure a DelegateStore.
type DelegateOptions struct {
	Endpoint string
	Token    string
	Tool     string
	Timeout  time.Duration
}

// DelegateStore forwards artifacts to a remote storage tool over JSON-RPC.
// Failures are returned to the caller; nothing is retried or kept locally.
type DelegateStore struct {
	opts   DelegateOptions
	logger *slog.Logger
	client *resty.Client
	nextID atomic.Int64

	mu    sync.Mutex
	ready bool
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse[T any] struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Result  *T        `json:"result"`
	Error   *rpcError `json:"error"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments toolCallUpload `json:"arguments"`
}

type toolCallUpload struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
	Filename string `json:"filename"`
}

type toolCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

type toolListResult struct {
	Tools []struct {
		Name string `json:"name"`
	} `json:"tools"`
}

// NewDelegate constructs a DelegateStore. Credentials are checked in Init.
func NewDelegate(opts DelegateOptions, logger *slog.Logger) *DelegateStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if strings.TrimSpace(opts.Tool) == "" {
		opts.Tool = "upload_file"
	}
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	return &DelegateStore{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "delegate-store"),
		client: client,
	}
}

// Init fails fast when the endpoint or credential is missing, then probes the
// remote tool list to confirm the upload tool is offered.
func (d *DelegateStore) Init(ctx context.Context) error {
	if strings.TrimSpace(d.opts.Endpoint) == "" {
		return services.Wrap(services.ErrConfiguration, delegateStage, "init", "delegate endpoint not configured", nil)
	}
	if strings.TrimSpace(d.opts.Token) == "" {
		return services.Wrap(services.ErrConfiguration, delegateStage, "init", "delegate credential not configured", nil)
	}

	var listed rpcResponse[toolListResult]
	if err := d.call(ctx, "tools/list", nil, &listed); err != nil {
		return err
	}
	if listed.Error != nil {
		return services.Wrap(services.ErrDelegateProtocol, delegateStage, "init",
			fmt.Sprintf("tools/list error %d: %s", listed.Error.Code, listed.Error.Message), nil)
	}
	found := false
	if listed.Result != nil {
		for _, tool := range listed.Result.Tools {
			if tool.Name == d.opts.Tool {
				found = true
				break
			}
		}
	}
	if !found {
		return services.Wrap(services.ErrDelegateProtocol, delegateStage, "init",
			fmt.Sprintf("remote does not offer tool %q", d.opts.Tool), nil)
	}

	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()
	d.logger.Info("delegate artifact store ready",
		logging.String("endpoint", redactEndpoint(d.opts.Endpoint)),
		logging.String("tool", d.opts.Tool))
	return nil
}

// Store uploads the artifact and returns the URL the remote answered with.
func (d *DelegateStore) Store(ctx context.Context, artifact Artifact) (Descriptor, error) {
	if !d.isReady() {
		return Descriptor{}, services.Wrap(services.ErrStoreNotReady, delegateStage, "store", "store not initialized", nil)
	}
	params := toolCallParams{
		Name: d.opts.Tool,
		Arguments: toolCallUpload{
			Data:     base64.StdEncoding.EncodeToString(artifact.Data),
			MIMEType: artifact.MIMEType,
			Filename: artifact.Filename,
		},
	}
	var out rpcResponse[toolCallResult]
	if err := d.call(ctx, "tools/call", params, &out); err != nil {
		return Descriptor{}, err
	}
	if out.Error != nil {
		return Descriptor{}, services.Wrap(services.ErrDelegateProtocol, delegateStage, "store",
			fmt.Sprintf("rpc error %d: %s", out.Error.Code, out.Error.Message), nil)
	}
	text, err := firstText(out.Result)
	if err != nil {
		return Descriptor{}, err
	}
	if out.Result.IsError {
		return Descriptor{}, services.Wrap(services.ErrDelegateProtocol, delegateStage, "store", "remote tool failed: "+text, nil)
	}
	parsed, err := url.Parse(text)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return Descriptor{}, services.Wrap(services.ErrDelegateProtocol, delegateStage, "store",
			fmt.Sprintf("response is not an absolute URL: %q", truncate(text, 120)), nil)
	}

	logging.WithContext(ctx, d.logger).Info("artifact delegated",
		logging.String("mime_type", artifact.MIMEType),
		logging.Int("size_bytes", len(artifact.Data)),
		logging.String("host", parsed.Host))
	return Descriptor{URL: text}, nil
}

// Status reports readiness and the remote target.
func (d *DelegateStore) Status(context.Context) StatusReport {
	return StatusReport{
		Mode:  ModeDelegate,
		Ready: d.isReady(),
		Details: map[string]any{
			"endpoint": redactEndpoint(d.opts.Endpoint),
			"tool":     d.opts.Tool,
		},
	}
}

// Shutdown marks the store unavailable and releases the HTTP client.
func (d *DelegateStore) Shutdown(context.Context) error {
	d.mu.Lock()
	d.ready = false
	d.mu.Unlock()
	return d.client.Close()
}

func (d *DelegateStore) isReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

func (d *DelegateStore) call(ctx context.Context, method string, params any, out any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: d.nextID.Add(1), Method: method, Params: params}
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(out).
		Post(d.opts.Endpoint)
	if err != nil {
		return services.Wrap(services.ErrDelegateUnreachable, delegateStage, method, redactEndpoint(d.opts.Endpoint), err)
	}
	status := resp.StatusCode()
	switch {
	case status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrDelegateUnreachable, delegateStage, method, fmt.Sprintf("remote returned %d", status), nil)
	case status >= http.StatusBadRequest:
		return services.Wrap(services.ErrDelegateProtocol, delegateStage, method, fmt.Sprintf("remote returned %d", status), nil)
	}
	return nil
}

func firstText(result *toolCallResult) (string, error) {
	if result == nil {
		return "", services.Wrap(services.ErrDelegateProtocol, delegateStage, "store", "response has no result", nil)
	}
	for _, item := range result.Content {
		if item.Type == "text" {
			return strings.TrimSpace(item.Text), nil
		}
	}
	return "", services.Wrap(services.ErrDelegateProtocol, delegateStage, "store", "response has no text content", nil)
}

// redactEndpoint drops userinfo and query so credentials never reach logs.
func redactEndpoint(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	parsed.User = nil
	parsed.RawQuery = ""
	return parsed.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

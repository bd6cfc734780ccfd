package ollama

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/b0r1v0j3/workers-united/internal/config"
	"github.com/cockroachdb/errors"
	"github.com/ollama/ollama/api"
)

var ErrCircuitOpen = errors.New("ollama circuit open")

// Client wraps the Ollama API client and adds retries, timeout, and circuit breaker.
type Client struct {
	api    *api.Client
	cfg    config.OllamaConfig
	client *http.Client

	// circuit breaker state
	failures  int32
	openUntil int64 // unix nano
	closed    int32
}

// GenerateResult is a typed representation of a model response.
type GenerateResult struct {
	Text string          `json:"text"`
	Raw  json.RawMessage `json:"raw"`
	Meta map[string]any  `json:"meta,omitempty"`
}

// GenerateRequest describes one completion. Images are raw file bytes;
// Format "json" asks the model for a JSON object.
type GenerateRequest struct {
	Model  string
	Prompt string
	System string
	Format string
	Images [][]byte
}

// ModelInfo is a lightweight model descriptor returned by ListModels.
type ModelInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// NewClient creates a new Ollama client wrapper.
func NewClient(cfg config.OllamaConfig, httpClient *http.Client) (*Client, error) {
	cfg = withDefaults(cfg)
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base url")
	}

	c := &Client{
		api:    api.NewClient(u, httpClient),
		cfg:    cfg,
		client: httpClient,
	}
	logger.Debug("ollama client created", slog.String("base_url", cfg.BaseURL), slog.Duration("timeout", cfg.Timeout))
	return c, nil
}

func NewDefaultClient(cfg config.OllamaConfig) (*Client, error) {
	defaultClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 15 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return NewClient(cfg, defaultClient)
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.failures) < int32(c.cfg.CircuitFailureThreshold) {
		return false
	}

	if time.Now().UnixNano() < atomic.LoadInt64(&c.openUntil) {
		return true
	}

	// half-open: reset failures and allow a request
	atomic.StoreInt32(&c.failures, 0)
	return false
}

func (c *Client) recordFailure() {
	v := atomic.AddInt32(&c.failures, 1)
	if v >= int32(c.cfg.CircuitFailureThreshold) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.cfg.CircuitReset).UnixNano())
		logger.Warn("ollama circuit opened", slog.Int("failures", int(v)), slog.Duration("reset", c.cfg.CircuitReset))
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt32(&c.failures, 0)
}

// Close closes idle connections on the underlying transport. It is
// idempotent.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if c.client != nil && c.client.Transport != nil {
		if tr, ok := c.client.Transport.(interface{ CloseIdleConnections() }); ok {
			tr.CloseIdleConnections()
		}
	}
	return nil
}

// package-level logger for pkg/ollama; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/ollama. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Health checks that the instance answers and has at least one model.
func (c *Client) Health(ctx context.Context) error {
	if c.isCircuitOpen() {
		return ErrCircuitOpen
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	models, err := c.ListModels(ctx)
	if err != nil {
		return errors.Wrap(err, "health check failed")
	}
	if len(models) == 0 {
		c.recordFailure()
		return errors.New("health check failed: no models returned")
	}

	return nil
}

// ListModels returns the models installed on the instance.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if c.isCircuitOpen() {
		return nil, ErrCircuitOpen
	}

	resp, err := c.api.List(ctx)
	if err != nil {
		c.recordFailure()
		return nil, errors.Wrap(err, "list models")
	}

	out := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, ModelInfo{Name: m.Name, Size: m.Size})
	}

	c.recordSuccess()
	return out, nil
}

// Generate sends a request to the model and concatenates the streamed
// response. Transient failures are retried with linear backoff.
func (c *Client) Generate(ctx context.Context, in GenerateRequest) (GenerateResult, error) {
	var empty GenerateResult
	if c.isCircuitOpen() {
		return empty, ErrCircuitOpen
	}
	if in.Model == "" {
		in.Model = DefaultVisionModel
	}

	req := &api.GenerateRequest{Model: in.Model, Prompt: in.Prompt, System: in.System}
	if in.Format != "" {
		f, err := json.Marshal(in.Format)
		if err != nil {
			return empty, errors.Wrap(err, "encode format")
		}
		req.Format = f
	}
	for _, img := range in.Images {
		req.Images = append(req.Images, api.ImageData(img))
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return empty, errors.Wrap(ctx.Err(), "generate")
			case <-time.After(c.cfg.Backoff * time.Duration(attempt)):
			}
			if c.isCircuitOpen() {
				return empty, ErrCircuitOpen
			}
		}

		res, err := c.generateOnce(ctx, req)
		if err == nil {
			c.recordSuccess()
			return res, nil
		}

		lastErr = err
		c.recordFailure()
		logger.Warn("ollama generate failed", slog.String("model", in.Model), slog.Int("attempt", attempt+1), slog.Any("error", err))
	}

	return empty, errors.Wrap(lastErr, "generate failed after retries")
}

func (c *Client) generateOnce(ctx context.Context, req *api.GenerateRequest) (GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		text  strings.Builder
		last  api.GenerateResponse
		calls int
	)
	start := time.Now()
	err := c.api.Generate(ctx, req, func(r api.GenerateResponse) error {
		text.WriteString(r.Response)
		last = r
		calls++
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}
	if calls == 0 {
		return GenerateResult{}, errors.New("empty response stream")
	}

	raw, err := json.Marshal(last)
	if err != nil {
		return GenerateResult{}, errors.Wrap(err, "marshal response")
	}

	meta := map[string]any{"model": req.Model, "latency_ms": time.Since(start).Milliseconds(), "done": last.Done}
	return GenerateResult{Text: text.String(), Raw: raw, Meta: meta}, nil
}

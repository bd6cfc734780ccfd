package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// Dispatcher delivers a rendered message. An error means the message may
// be retried.
type Dispatcher interface {
	Dispatch(ctx context.Context, m Message) error
}

// HTTPDispatcher posts messages as JSON to an email/WhatsApp relay.
type HTTPDispatcher struct {
	url    string
	from   string
	client *http.Client
}

func NewHTTPDispatcher(url, from string, timeout time.Duration, client *http.Client) *HTTPDispatcher {
	if client == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPDispatcher{url: url, from: from, client: client}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, m Message) error {
	if m.From == "" {
		m.From = d.from
	}
	b, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "build relay request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "relay request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("relay returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogDispatcher only logs messages. It is used when no relay is configured.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Dispatch(_ context.Context, m Message) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "kind", m.Kind, "to", m.To, "phone", m.Phone, "subject", m.Subject)
	return nil
}

package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sydlexius/bodyscanmock/internal/event"
	"github.com/sydlexius/bodyscanmock/internal/version"
)

const (
	maxRetries     = 3
	requestTimeout = 10 * time.Second
)

// Dispatcher posts scan lifecycle events to a fixed list of URLs.
type Dispatcher struct {
	urls       []string
	httpClient *http.Client
	logger     *slog.Logger
	backoff    time.Duration

	inflight sync.WaitGroup
}

// NewDispatcher creates a dispatcher for urls.
func NewDispatcher(urls []string, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithHTTPClient(urls, &http.Client{Timeout: requestTimeout}, logger)
}

// NewDispatcherWithHTTPClient creates a dispatcher with a custom HTTP client (for testing).
func NewDispatcherWithHTTPClient(urls []string, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		urls:       urls,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "webhook-dispatcher")),
		backoff:    time.Second,
	}
}

// HandleEvent is an event.Handler that delivers e to every URL in the
// background.
func (d *Dispatcher) HandleEvent(e event.Event) {
	if len(d.urls) == 0 {
		return
	}
	body, err := formatPayload(e)
	if err != nil {
		d.logger.Error("encoding webhook payload", "type", string(e.Type), "error", err)
		return
	}
	for _, url := range d.urls {
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			d.deliver(url, e.Type, body)
		}()
	}
}

// Wait blocks until every delivery started so far has finished its
// retries, or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for webhook deliveries: %w", ctx.Err())
	}
}

func (d *Dispatcher) deliver(url string, t event.Type, body []byte) {
	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			time.Sleep(d.backoff << uint(attempt-1))
		}

		lastErr = d.send(url, body)
		if lastErr == nil {
			d.logger.Debug("webhook delivered", "url", url, "event", string(t), "attempt", attempt+1)
			return
		}

		d.logger.Warn("webhook delivery failed",
			"url", url,
			"event", string(t),
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	d.logger.Error("webhook delivery exhausted retries", "url", url, "event", string(t), "error", lastErr)
}

func (d *Dispatcher) send(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bodyscanmock-webhook/"+version.Version)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

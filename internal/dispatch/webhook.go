package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Webhook POSTs the payload as JSON. By default only Alert decisions are sent.
type Webhook struct {
	URL    string
	Client *http.Client
	SendOK bool
}

// NewWebhook returns a webhook notifier with a DefaultTimeout client.
// An empty url yields Noop.
func NewWebhook(url string) Notifier {
	if url == "" {
		return Noop{}
	}
	return &Webhook{URL: url, Client: &http.Client{Timeout: DefaultTimeout}}
}

func (w *Webhook) Notify(ctx context.Context, d Decision, p Payload) error {
	if d != Alert && !w.SendOK {
		return nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("dispatch: marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dispatch: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Collaborator: "webhook", StatusCode: resp.StatusCode}
	}
	return nil
}

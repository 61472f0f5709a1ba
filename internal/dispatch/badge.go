package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// BadgeFetcher renders a status badge image.
type BadgeFetcher interface {
	Fetch(ctx context.Context, label string, percent int64, color string) ([]byte, error)
}

// DefaultShieldsURL is the public shields.io endpoint.
const DefaultShieldsURL = "https://img.shields.io"

// maxBadgeBytes bounds a badge response body.
const maxBadgeBytes = 1 << 20

// ShieldsBadge fetches static badges from a shields.io compatible server.
type ShieldsBadge struct {
	BaseURL string
	Client  *http.Client
}

// NewShieldsBadge returns a fetcher for baseURL, or the public server when empty.
func NewShieldsBadge(baseURL string) *ShieldsBadge {
	if baseURL == "" {
		baseURL = DefaultShieldsURL
	}
	return &ShieldsBadge{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: DefaultTimeout},
	}
}

// BadgeURL is the static badge address, e.g. /badge/coverage-87%25-green.
func (b *ShieldsBadge) BadgeURL(label string, percent int64, color string) string {
	return fmt.Sprintf("%s/badge/%s-%d%%25-%s", b.BaseURL, url.PathEscape(label), percent, url.PathEscape(color))
}

func (b *ShieldsBadge) Fetch(ctx context.Context, label string, percent int64, color string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BadgeURL(label, percent, color), nil)
	if err != nil {
		return nil, fmt.Errorf("dispatch: build badge request: %w", err)
	}
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: badge: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Collaborator: "badge", StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBadgeBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: badge: read body: %w", ErrUnavailable, err)
	}
	return data, nil
}

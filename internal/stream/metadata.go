// Package stream provides live stream metadata: the "now playing" title and
// artwork shown while the Andaina stream is active.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Metadata describes what the live stream is currently broadcasting. The zero
// value means "no metadata".
type Metadata struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	ImageURL string `json:"image"`
}

// MetadataProvider fetches current stream metadata.
type MetadataProvider interface {
	Fetch(ctx context.Context) (Metadata, error)
}

// HTTPProvider fetches metadata from a JSON endpoint published alongside the
// stream.
type HTTPProvider struct {
	client *http.Client
	url    string
}

// NewHTTPProvider creates a provider for the given metadata endpoint. An empty
// URL yields a provider that always reports no metadata.
func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
	}
}

// Fetch returns the current stream metadata.
func (p *HTTPProvider) Fetch(ctx context.Context) (Metadata, error) {
	if p.url == "" {
		return Metadata{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", p.url, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to fetch stream metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var md Metadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse stream metadata: %w", err)
	}
	return md, nil
}

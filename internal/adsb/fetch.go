package adsb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/passive.radar/internal/httputil"
)

// ErrFeedStatus is returned when the truth feed answers with a non-200 status.
var ErrFeedStatus = errors.New("adsb: unexpected feed status")

// maxFeedBytes bounds a single aircraft.json body.
const maxFeedBytes = 16 << 20

// Fetcher retrieves the current aircraft list.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Aircraft, error)
}

// HTTPFetcher reads aircraft.json from a tar1090 server.
type HTTPFetcher struct {
	client httputil.HTTPClient
	url    string
}

// NewHTTPFetcher returns a fetcher for host, which is either "addr:port" or a
// full base URL. The tar1090 path /data/aircraft.json is appended.
func NewHTTPFetcher(client httputil.HTTPClient, host string) *HTTPFetcher {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPFetcher{client: client, url: FeedURL(host)}
}

// FeedURL builds the aircraft.json URL for a tar1090 host.
func FeedURL(host string) string {
	base := strings.TrimRight(host, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base + "/data/aircraft.json"
}

// URL returns the endpoint the fetcher reads.
func (f *HTTPFetcher) URL() string { return f.url }

// Fetch performs one GET. The request is bound to ctx so a caller deadline
// aborts it in flight.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]Aircraft, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrFeedStatus, resp.StatusCode)
	}

	var feed Feed
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode aircraft.json: %w", err)
	}
	return feed.Aircraft, nil
}

// Package webseed fetches piece data over HTTP byte-range requests
// against a BEP 19 URL. It provides Client.Fetch only; nothing in the
// engine package calls it. Grounded on the
// teacher's webseed-peer.go, which wraps a webseed.Client exposing
// StartNewRequest(RequestSpec) over (Start, Length) byte ranges; the
// underlying webseed.Client type itself wasn't in the retrieved pack,
// so the HTTP plumbing here is original, built directly on net/http
// (see DESIGN.md — no third-party HTTP client in the pack improves on
// net/http for single-range GETs).
package webseed

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// RequestSpec identifies a byte range within the torrent's flat byte
// stream.
type RequestSpec struct {
	Start  int64
	Length int64
}

// Client fetches byte ranges from a single webseed URL via HTTP Range
// requests. We never upload to webseeds, matching
// webseedPeer.lastWriteUploadRate's hardcoded zero.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// NewClient returns a Client for url using http.DefaultClient if hc is
// nil.
func NewClient(url string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{URL: url, HTTPClient: hc}
}

// Fetch issues a single Range request for spec and returns the body
// bytes, failing if the server doesn't honor the range with a 206.
func (c *Client) Fetch(ctx context.Context, spec RequestSpec) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", spec.Start, spec.Start+spec.Length-1))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("webseed: %s: expected 206 Partial Content, got %s", c.URL, resp.Status)
	}
	buf := make([]byte, spec.Length)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return nil, fmt.Errorf("webseed: %s: reading range body: %w", c.URL, err)
	}
	return buf, nil
}

package roadmap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client fetches roadmap updates from the upstream feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a feed client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// page is the wire shape of one feed page.
type page struct {
	Items      []Update `json:"items"`
	NextCursor string   `json:"nextCursor"`
}

// FetchPage fetches one page of updates. An empty cursor requests the first
// page. The returned cursor is empty when no further pages exist. Every item
// gets its plain-text description derived before being returned.
func (c *Client) FetchPage(ctx context.Context, cursor string) ([]Update, string, error) {
	u, err := url.Parse(c.baseURL + "/updates")
	if err != nil {
		return nil, "", fmt.Errorf("parse feed url: %w", err)
	}
	if cursor != "" {
		q := u.Query()
		q.Set("cursor", cursor)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, "", fmt.Errorf("unmarshal response: %w", err)
	}

	for i := range p.Items {
		if p.Items[i].DescriptionText == "" {
			p.Items[i].DescriptionText = HTMLToText(p.Items[i].Description)
		}
	}

	return p.Items, p.NextCursor, nil
}

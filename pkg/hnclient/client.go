// Package hnclient fetches items and user profiles from the Hacker News
// Firebase API. Remote failures are absorbed here: callers see either a
// decoded record or nil, never a transport error.
package hnclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Item is one content unit from the remote API, disambiguated by Type.
type Item struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	By          string  `json:"by"`
	Time        int64   `json:"time"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Score       int     `json:"score"`
	Descendants int     `json:"descendants"`
	Text        string  `json:"text"`
	Kids        []int64 `json:"kids"`
	Parent      int64   `json:"parent"`
	Deleted     bool    `json:"deleted"`
	Dead        bool    `json:"dead"`
}

// User is a remote user profile.
type User struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Karma   int    `json:"karma"`
	About   string `json:"about"`
}

// Observer receives timing for each remote call. Implemented by the
// metrics collector; a nil Observer is valid.
type Observer interface {
	RecordRemoteFetch(d time.Duration, ok bool)
}

// Client is the remote item client.
type Client struct {
	base     string
	http     *http.Client
	limit    int
	logger   *slog.Logger
	observer Observer
}

// New creates a client against the given base URL. limit bounds the
// top-story ID list; timeout applies per request.
func New(base string, limit int, timeout time.Duration, logger *slog.Logger, obs Observer) *Client {
	if limit <= 0 {
		limit = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:     base,
		http:     &http.Client{Timeout: timeout},
		limit:    limit,
		logger:   logger,
		observer: obs,
	}
}

// FetchItem returns the item with the given ID, or nil if the remote API
// is unreachable, answers non-2xx, or returns a malformed or empty body.
func (c *Client) FetchItem(ctx context.Context, id int64) *Item {
	var item Item
	if err := c.get(ctx, fmt.Sprintf("%s/item/%d.json", c.base, id), &item); err != nil {
		c.logger.Warn("fetch item failed", "id", id, "error", err)
		return nil
	}
	// The API answers "null" with status 200 for unknown IDs.
	if item.ID == 0 || item.Type == "" {
		c.logger.Warn("fetch item failed", "id", id, "error", "empty item")
		return nil
	}
	return &item
}

// FetchUser returns the profile for username, or nil if unavailable.
func (c *Client) FetchUser(ctx context.Context, username string) *User {
	var u User
	if err := c.get(ctx, fmt.Sprintf("%s/user/%s.json", c.base, username), &u); err != nil {
		c.logger.Warn("fetch user failed", "username", username, "error", err)
		return nil
	}
	if u.ID == "" {
		c.logger.Warn("fetch user failed", "username", username, "error", "empty profile")
		return nil
	}
	return &u
}

// TopStoryIDs returns the ranked front-page story IDs truncated to the
// configured limit, or nil if unavailable.
func (c *Client) TopStoryIDs(ctx context.Context) []int64 {
	var ids []int64
	if err := c.get(ctx, c.base+"/topstories.json", &ids); err != nil {
		c.logger.Warn("fetch top stories failed", "error", err)
		return nil
	}
	if len(ids) > c.limit {
		ids = ids[:c.limit]
	}
	return ids
}

// Ping probes the remote API with one lightweight call. Unlike the fetch
// methods it reports the failure, for use by pre-flight checks.
func (c *Client) Ping(ctx context.Context) error {
	var maxItem int64
	if err := c.get(ctx, c.base+"/maxitem.json", &maxItem); err != nil {
		return fmt.Errorf("remote API unreachable: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string, v any) error {
	start := time.Now()
	err := c.doGet(ctx, url, v)
	if c.observer != nil {
		c.observer.RecordRemoteFetch(time.Since(start), err == nil)
	}
	return err
}

func (c *Client) doGet(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

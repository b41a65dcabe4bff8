// Package hierarchy fetches the children of a scope from the scope service
// and memoizes them for the lifetime of a picker session.
package hierarchy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pbaille/scopes/internal/domain"
	"github.com/pbaille/scopes/internal/logging"
)

// maxBody bounds how much of a response is read (5MB)
const maxBody = 5 * 1024 * 1024

// ErrChildrenUnavailable is wrapped by every fetch failure
var ErrChildrenUnavailable = errors.New("children unavailable")

// FetchError describes a failed fetch of one parent's children
type FetchError struct {
	Level    domain.Level
	ParentID string
	Err      error
}

func (e *FetchError) Error() string {
	parent := e.ParentID
	if parent == "" {
		parent = "root"
	}
	return fmt.Sprintf("%s of %s: %v", strings.ToLower(e.Level.Label())+"s", parent, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrChildrenUnavailable, e.Err}
}

// Fetcher is what the tree and the form need from a client
type Fetcher interface {
	Children(ctx context.Context, level domain.Level, parentID string) ([]domain.Node, error)
}

// Client reads the hierarchy endpoint
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	cache     *Cache
	flight    singleflight.Group
	log       *logging.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each request. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger attaches a logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithCache shares a cache between clients
func WithCache(cache *Cache) Option {
	return func(c *Client) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// New creates a client for the service rooted at rawURL
func New(rawURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	c := &Client{
		baseURL:   u,
		http:      &http.Client{},
		userAgent: "scopes/1.0 (scope-picker)",
		cache:     NewCache(),
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Cache exposes the client's memo table
func (c *Client) Cache() *Cache {
	return c.cache
}

// Roots returns the textbooks
func (c *Client) Roots(ctx context.Context) ([]domain.Node, error) {
	return c.fetch(ctx, domain.Textbook, "")
}

// Children returns the children of parentID. The caller states which level
// the children are at; the endpoint does not say.
func (c *Client) Children(ctx context.Context, level domain.Level, parentID string) ([]domain.Node, error) {
	if !level.Valid() || level == domain.Textbook {
		return nil, &FetchError{Level: level, ParentID: parentID, Err: fmt.Errorf("no parent level for %s", level)}
	}
	if strings.TrimSpace(parentID) == "" {
		return nil, &FetchError{Level: level, ParentID: parentID, Err: errors.New("parent id is required")}
	}
	return c.fetch(ctx, level, parentID)
}

func (c *Client) fetch(ctx context.Context, level domain.Level, parentID string) ([]domain.Node, error) {
	key := cacheKey{level: level, parentID: parentID}
	if nodes, ok := c.cache.get(key); ok {
		c.log.Debug("hierarchy cache hit", "level", level.Label(), "parent", parentID)
		return cloneNodes(nodes), nil
	}

	// The shared request outlives any single waiter; each caller stops
	// waiting on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key.String(), func() (interface{}, error) {
		if nodes, ok := c.cache.get(key); ok {
			return nodes, nil
		}
		nodes, err := c.get(shared, level, parentID)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, nodes)
		return nodes, nil
	})

	select {
	case <-ctx.Done():
		return nil, &FetchError{Level: level, ParentID: parentID, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			c.log.Warn("hierarchy fetch failed", "level", level.Label(), "parent", parentID, "error", res.Err)
			return nil, &FetchError{Level: level, ParentID: parentID, Err: res.Err}
		}
		return cloneNodes(res.Val.([]domain.Node)), nil
	}
}

// Breadcrumbs returns the path from the textbook down to the scope id,
// with each node's level and parent filled in. It is not cached.
func (c *Client) Breadcrumbs(ctx context.Context, id string) ([]domain.Node, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("breadcrumbs: id is required")
	}
	u := *c.baseURL
	u.Path += "/scope/" + url.PathEscape(id) + "/breadcrumbs"

	body, err := c.getBody(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("breadcrumbs of %s: %w", id, err)
	}
	var path []domain.Node
	if err := decodeArray(body, &path); err != nil {
		return nil, fmt.Errorf("breadcrumbs of %s: %w", id, err)
	}
	return path, nil
}

type childJSON struct {
	ID    json.RawMessage `json:"id"`
	Title string          `json:"title"`
}

func (c *Client) get(ctx context.Context, level domain.Level, parentID string) ([]domain.Node, error) {
	u := *c.baseURL
	if parentID == "" {
		u.Path += "/scope/"
	} else {
		u.Path += "/scope/" + url.PathEscape(parentID) + "/"
	}

	c.log.Debug("hierarchy fetch", "url", u.String(), "level", level.Label())
	body, err := c.getBody(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var raw []childJSON
	if err := decodeArray(body, &raw); err != nil {
		return nil, fmt.Errorf("decode children: %w", err)
	}

	nodes := make([]domain.Node, 0, len(raw))
	for i, r := range raw {
		id, err := decodeID(r.ID)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		nodes = append(nodes, domain.Node{
			ID:       id,
			Level:    level,
			Title:    PlainTitle(r.Title),
			ParentID: parentID,
		})
	}
	return nodes, nil
}

func (c *Client) getBody(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// decodeArray decodes a top-level JSON array; null and objects are errors
func decodeArray(body []byte, out any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return errors.New("expected a JSON array")
	}
	return json.Unmarshal(body, out)
}

// decodeID accepts both JSON numbers and strings
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("missing id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode id: %w", err)
		}
		if s == "" {
			return "", errors.New("empty id")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode id: %w", err)
	}
	return n.String(), nil
}

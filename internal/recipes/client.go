// Package recipes keeps a local, checksum-reconciled mirror of the recipe
// API's users, categories, comments and recipes, and exposes the API's
// mutations.
package recipes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/recipes/internal/broadcast"
	"github.com/dukerupert/recipes/internal/model"
	"github.com/dukerupert/recipes/internal/store"
)

var (
	// ErrSyncAborted is returned by FetchData when the API answers a
	// conditional GET with anything but 200 or 204.
	ErrSyncAborted = errors.New("sync aborted")
	// ErrUnauthorized matches a StatusError for 401 or 403.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when the API has no such entity.
	ErrNotFound = errors.New("not found")
)

// StatusError reports a response status the operation does not accept.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// Config holds the API location and HTTP settings.
type Config struct {
	// BaseURL is the origin serving /api, e.g. "https://recipes.example.com".
	BaseURL string
	// PublicURL is the origin used in share links. Defaults to BaseURL.
	PublicURL string
	// HTTPClient is copied; its Jar is replaced when nil.
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Snapshot is the cache state handed to subscribers. Slices are shared with
// the client and must be treated as read-only.
type Snapshot struct {
	Recipes    []model.Recipe
	Categories []model.Category
	Users      []model.User
}

// Client is the data sync client. The in-memory caches are owned by the
// client; the cache store is a passive mirror rewritten after every
// successful sync.
type Client struct {
	base      *url.URL
	publicURL string
	http      *http.Client
	jar       *cookiejar.Jar
	cache     *store.CacheStore
	hub       *broadcast.Hub[Snapshot]
	flight    singleflight.Group
	logger    *slog.Logger

	mu         sync.RWMutex
	recipes    []model.Recipe
	categories []model.Category
	users      []model.User
	comments   []apiComment
	status     *model.UserStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a client and loads the last snapshots from the cache store.
// Missing or unreadable snapshots leave the caches empty.
func New(cfg Config, cache *store.CacheStore, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = base.Scheme + "://" + base.Host
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		*hc = *cfg.HTTPClient
	}
	hc.Jar = jar
	if hc.Timeout == 0 {
		hc.Timeout = cfg.Timeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		base:      base,
		publicURL: cfg.PublicURL,
		http:      hc,
		jar:       jar,
		cache:     cache,
		hub:       broadcast.NewHub[Snapshot](logger),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.load()
	return c, nil
}

func (c *Client) load() {
	var cookies []*http.Cookie
	if found, err := c.cache.Get(store.KeyCookies, &cookies); err != nil {
		c.logger.Warn("load session cookies", "error", err)
	} else if found {
		c.jar.SetCookies(c.base, cookies)
	}

	var status model.UserStatus
	if found, err := c.cache.Get(store.KeyStatus, &status); err != nil {
		c.logger.Warn("load user status", "error", err)
	} else if found {
		c.status = &status
	}

	c.loadSnapshot(store.KeyUsers, &c.users)
	c.loadSnapshot(store.KeyCategories, &c.categories)
	c.loadSnapshot(store.KeyComments, &c.comments)
	c.loadSnapshot(store.KeyRecipes, &c.recipes)
}

// loadSnapshot reads a durable snapshot into dst; failures are logged.
func (c *Client) loadSnapshot(key string, dst any) {
	if _, err := c.cache.Get(key, dst); err != nil {
		c.logger.Warn("load cached snapshot", "key", key, "error", err)
	}
}

// HTTPClient returns the cookie-carrying client, so other API consumers
// such as the shopping list transport share the login session.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// BaseURL returns the API origin.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Start schedules the initial reconciliation in the background.
func (c *Client) Start() {
	c.refresh()
}

// Wait blocks until scheduled background fetches have finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close cancels background fetches and waits for them to return.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

// Snapshot returns the current cache contents.
func (c *Client) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Recipes:    c.recipes,
		Categories: c.categories,
		Users:      c.users,
	}
}

// Subscribe registers fn, calls it right away with the current (possibly
// stale or empty) snapshot and schedules a background refresh. The returned
// func unsubscribes and may be called more than once.
func (c *Client) Subscribe(fn func(Snapshot)) (uint64, func()) {
	id, cancel := c.hub.Subscribe(fn)
	fn(c.Snapshot())
	c.refresh()
	return id, cancel
}

// Unsubscribe removes a subscriber; unknown ids are ignored.
func (c *Client) Unsubscribe(id uint64) {
	c.hub.Unsubscribe(id)
}

// RecipeOnce looks a recipe up in the cache without fetching.
func (c *Client) RecipeOnce(id int64) (model.Recipe, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.recipes {
		if r.ID != nil && *r.ID == id {
			return r, true
		}
	}
	return model.Recipe{}, false
}

func (c *Client) notify() {
	c.hub.Publish(c.Snapshot())
}

// refresh schedules a full FetchData on the client's own context.
func (c *Client) refresh() {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.FetchData(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("background fetch failed", "error", err)
		}
	}()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request to the API. A non-nil body is sent as JSON.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

// successful reports whether the API accepted a mutation: 200 or 204.
func successful(code int) bool {
	return code == http.StatusOK || code == http.StatusNoContent
}

func decode(resp *http.Response, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// drain discards the rest of a body so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

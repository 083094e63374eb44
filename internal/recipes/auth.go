package recipes

import (
	"context"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/dukerupert/recipes/internal/model"
	"github.com/dukerupert/recipes/internal/store"
)

const (
	minUsernameLen = 3
	minPasswordLen = 8
)

// Login opens a session with HTTP Basic credentials. The session cookies
// are persisted so later runs stay logged in.
func (c *Client) Login(ctx context.Context, username, password string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/login", nil), nil)
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.SetBasicAuth(username, password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: "login", Code: resp.StatusCode}
	}

	if err := c.cache.Put(store.KeyCookies, c.jar.Cookies(c.base)); err != nil {
		c.logger.Warn("persist session cookies", "error", err)
	}
	if _, err := c.RefreshStatus(ctx); err != nil {
		c.logger.Warn("refresh status after login", "error", err)
	}
	c.logger.Info("logged in", "user", username)
	c.refresh()
	return nil
}

// Logout closes the session and forgets everything cached for it.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/logout", nil, nil)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: "logout", Code: resp.StatusCode}
	}

	c.mu.Lock()
	c.status = nil
	c.recipes = nil
	c.categories = nil
	c.users = nil
	c.comments = nil
	c.mu.Unlock()

	// The jar has no removal API; expiring the cookies drops them.
	expired := c.jar.Cookies(c.base)
	for _, ck := range expired {
		ck.MaxAge = -1
	}
	c.jar.SetCookies(c.base, expired)

	if err := c.cache.Delete(store.KeyStatus, store.KeyCookies, store.KeyRecipes,
		store.KeyCategories, store.KeyUsers, store.KeyComments); err != nil {
		c.logger.Warn("clear cached snapshots", "error", err)
	}
	if err := c.cache.ClearChecksums(); err != nil {
		c.logger.Warn("clear checksums", "error", err)
	}
	c.logger.Info("logged out")
	c.notify()
	return nil
}

// Status returns the last known session status, or nil when logged out.
func (c *Client) Status() *model.UserStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status == nil {
		return nil
	}
	s := *c.status
	return &s
}

// RefreshStatus asks the API who is logged in. Any answer other than 200
// clears the cached status and returns nil.
func (c *Client) RefreshStatus(ctx context.Context) (*model.UserStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/status", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("refresh status: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		c.mu.Lock()
		c.status = nil
		c.mu.Unlock()
		if err := c.cache.Delete(store.KeyStatus); err != nil {
			c.logger.Warn("clear user status", "error", err)
		}
		return nil, nil
	}

	var status model.UserStatus
	if err := decode(resp, &status); err != nil {
		return nil, fmt.Errorf("refresh status: %w", err)
	}
	c.mu.Lock()
	c.status = &status
	c.mu.Unlock()
	if err := c.cache.Put(store.KeyStatus, status); err != nil {
		c.logger.Warn("persist user status", "error", err)
	}
	s := status
	return &s, nil
}

// CreateAccount registers a new user. Lengths are checked locally with the
// same minimums the API enforces.
func (c *Client) CreateAccount(ctx context.Context, username, password string) error {
	if utf8.RuneCountInString(username) < minUsernameLen {
		return fmt.Errorf("create account: username needs at least %d characters: %w", minUsernameLen, model.ErrInvalid)
	}
	if utf8.RuneCountInString(password) < minPasswordLen {
		return fmt.Errorf("create account: password needs at least %d characters: %w", minPasswordLen, model.ErrInvalid)
	}
	body := map[string]string{"username": username, "password": password}
	resp, err := c.do(ctx, http.MethodPost, "/api/users", nil, body)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: "create account", Code: resp.StatusCode}
	}
	return nil
}

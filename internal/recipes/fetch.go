package recipes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dukerupert/recipes/internal/model"
	"github.com/dukerupert/recipes/internal/store"
)

// Resource families in the order they are reconciled. Recipes reference the
// other three, so they come last.
const (
	familyUsers      = "users"
	familyCategories = "categories"
	familyComments   = "comments"
	familyRecipes    = "recipes"
)

// FetchData reconciles the caches against the API. Concurrent calls share
// one in-flight reconciliation. Subscribers are notified only after a
// complete pass; on failure the caches keep their last-known state.
func (c *Client) FetchData(ctx context.Context) error {
	ch := c.flight.DoChan("fetch", func() (any, error) {
		return nil, c.fetchData(c.ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) fetchData(ctx context.Context) error {
	reloadComments := false

	var users []model.User
	sum, changed, err := c.fetchFamily(ctx, familyUsers, &users)
	if err != nil {
		return err
	}
	if changed {
		reloadComments = true
		c.mu.Lock()
		c.users = users
		c.mu.Unlock()
		c.commit(familyUsers, store.KeyUsers, users, sum)
	} else {
		fallback(c, store.KeyUsers, &c.users)
	}

	var categories []apiCategory
	sum, changed, err = c.fetchFamily(ctx, familyCategories, &categories)
	if err != nil {
		return err
	}
	if changed {
		reloadComments = true
		resolved := make([]model.Category, len(categories))
		for i, cat := range categories {
			resolved[i] = model.Category{ID: cat.ID, Name: cat.Name}
		}
		c.mu.Lock()
		c.categories = resolved
		c.mu.Unlock()
		c.commit(familyCategories, store.KeyCategories, resolved, sum)
	} else {
		fallback(c, store.KeyCategories, &c.categories)
	}

	var comments []apiComment
	sum, changed, err = c.fetchFamily(ctx, familyComments, &comments)
	if err != nil {
		return err
	}
	if changed {
		reloadComments = true
		c.mu.Lock()
		c.comments = comments
		c.mu.Unlock()
		c.commit(familyComments, store.KeyComments, comments, sum)
	} else {
		fallback(c, store.KeyComments, &c.comments)
	}

	var recipes []apiRecipe
	sum, changed, err = c.fetchFamily(ctx, familyRecipes, &recipes)
	if err != nil {
		return err
	}
	if changed {
		// Resolving the fresh recipes attaches comments already.
		reloadComments = false
		c.mu.Lock()
		idx := newIndex(c.categories, c.users, c.comments)
		resolved := make([]model.Recipe, len(recipes))
		for i, r := range recipes {
			resolved[i] = idx.recipe(r)
		}
		c.recipes = resolved
		c.mu.Unlock()
		c.commit(familyRecipes, store.KeyRecipes, resolved, sum)
	} else {
		fallback(c, store.KeyRecipes, &c.recipes)
	}

	if reloadComments {
		c.mu.Lock()
		idx := newIndex(c.categories, c.users, c.comments)
		c.recipes = idx.withComments(c.recipes)
		patched := c.recipes
		c.mu.Unlock()
		c.persist(store.KeyRecipes, patched)
	}

	c.notify()
	return nil
}

// fetchFamily issues the conditional GET for one family. It returns the new
// checksum and true when the API sent a full list into dst, false when the
// API answered 204.
func (c *Client) fetchFamily(ctx context.Context, family string, dst any) (string, bool, error) {
	checksum, ok, err := c.cache.Checksum(family)
	if err != nil {
		c.logger.Warn("read checksum", "family", family, "error", err)
	}
	var query url.Values
	if ok {
		query = url.Values{"checksum": {checksum}}
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/"+family, query, nil)
	if err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", family, err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return "", false, nil
	default:
		// The session most likely expired; let the status reflect it.
		if _, err := c.RefreshStatus(ctx); err != nil {
			c.logger.Warn("refresh status", "error", err)
		}
		return "", false, fmt.Errorf("%w: %w", ErrSyncAborted, &StatusError{Op: "fetch " + family, Code: resp.StatusCode})
	}

	var page map[string]json.RawMessage
	if err := decode(resp, &page); err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", family, err)
	}
	if list, ok := page[family]; ok {
		if err := json.Unmarshal(list, dst); err != nil {
			return "", false, fmt.Errorf("fetch %s: decode list: %w", family, err)
		}
	}
	sum, err := checksumOf(page["checksum"])
	if err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", family, err)
	}
	return sum, true, nil
}

// checksumOf accepts the checksum as a JSON number or string.
func checksumOf(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode checksum: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode checksum: %w", err)
	}
	return n.String(), nil
}

// commit writes a fresh list to the cache store, followed by its checksum.
// The checksum is only advanced once the list it describes is durable, so a
// failed write makes the next sync fetch the full list again.
func (c *Client) commit(family, key string, v any, sum string) {
	if err := c.cache.Put(key, v); err != nil {
		c.logger.Warn("persist snapshot", "key", key, "error", err)
		return
	}
	if sum == "" {
		return
	}
	if err := c.cache.SetChecksum(family, sum); err != nil {
		c.logger.Warn("persist checksum", "family", family, "error", err)
	}
}

func (c *Client) persist(key string, v any) {
	if err := c.cache.Put(key, v); err != nil {
		c.logger.Warn("persist snapshot", "key", key, "error", err)
	}
}

// fallback loads the durable snapshot for key into an empty cache. dst
// points at one of the client's cache fields.
func fallback[T any](c *Client, key string, dst *[]T) {
	c.mu.RLock()
	empty := len(*dst) == 0
	c.mu.RUnlock()
	if !empty {
		return
	}

	var loaded []T
	found, err := c.cache.Get(key, &loaded)
	if err != nil {
		c.logger.Warn("load cached snapshot", "key", key, "error", err)
		return
	}
	if !found {
		return
	}
	c.mu.Lock()
	*dst = loaded
	c.mu.Unlock()
}

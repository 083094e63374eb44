package shopping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dukerupert/recipes/internal/model"
	"github.com/dukerupert/recipes/internal/recipes"
)

// errStreamClosed is returned by Stream when the server ends the response.
var errStreamClosed = errors.New("event stream closed")

// Transport moves shopping lists between the syncer and the API.
type Transport interface {
	// Upload sends items with POST, PUT or DELETE. A response other than
	// 200 or 201 (or 204 for DELETE) is reported as *recipes.StatusError.
	Upload(ctx context.Context, listKey, method string, items []model.ShoppingItem) error
	// Stream delivers every snapshot of a list until ctx is cancelled or
	// the stream ends. A nil slice means the server sent null.
	Stream(ctx context.Context, listKey string, fn func([]model.ShoppingItem)) error
	Lists(ctx context.Context) ([]model.ListInfo, error)
	SaveList(ctx context.Context, info model.ListInfo) error
	DeleteList(ctx context.Context, info model.ListInfo) error
}

// HTTPTransport talks to the API's shopping list endpoints.
type HTTPTransport struct {
	base   *url.URL
	client *http.Client
	stream *http.Client
}

// NewHTTPTransport uses client for requests. Streams use a copy of it
// without the overall timeout so they can stay open.
func NewHTTPTransport(base *url.URL, client *http.Client) *HTTPTransport {
	stream := *client
	stream.Timeout = 0
	return &HTTPTransport{base: base, client: client, stream: &stream}
}

// listPath maps a list key to its endpoint. The private list lives under
// the session's own path.
func listPath(key string) string {
	if key == model.DefaultListKey {
		return "/api/shoppingList"
	}
	return "/api/shoppingLists/" + key
}

func (t *HTTPTransport) send(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal body: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base.JoinPath(path).String(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !accepted(method, resp.StatusCode) {
		resp.Body.Close()
		return nil, &recipes.StatusError{Op: op, Code: resp.StatusCode}
	}
	return resp, nil
}

// accepted reports whether the API took a write: 200 or 201, and 204 for
// DELETE.
func accepted(method string, code int) bool {
	switch code {
	case http.StatusOK, http.StatusCreated:
		return true
	case http.StatusNoContent:
		return method == http.MethodDelete
	}
	return false
}

func (t *HTTPTransport) Upload(ctx context.Context, listKey, method string, items []model.ShoppingItem) error {
	if items == nil {
		items = []model.ShoppingItem{}
	}
	resp, err := t.send(ctx, "upload "+method, method, listPath(listKey), items)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (t *HTTPTransport) Stream(ctx context.Context, listKey string, fn func([]model.ShoppingItem)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base.JoinPath(listPath(listKey)).String(), nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.stream.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &recipes.StatusError{Op: "open stream", Code: resp.StatusCode}
	}

	err = readEvents(resp.Body, func(data []byte) error {
		var items []model.ShoppingItem
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(items)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return errStreamClosed
}

func (t *HTTPTransport) Lists(ctx context.Context) ([]model.ListInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base.JoinPath("/api/shoppingLists").String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create lists request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch lists: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &recipes.StatusError{Op: "fetch lists", Code: resp.StatusCode}
	}

	var infos []model.ListInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, fmt.Errorf("decode lists: %w", err)
	}
	return infos, nil
}

func (t *HTTPTransport) SaveList(ctx context.Context, info model.ListInfo) error {
	resp, err := t.send(ctx, "save list", http.MethodPost, "/api/shoppingLists", info)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (t *HTTPTransport) DeleteList(ctx context.Context, info model.ListInfo) error {
	resp, err := t.send(ctx, "delete list", http.MethodDelete, "/api/shoppingLists", info)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

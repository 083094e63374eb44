package recipes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukerupert/recipes/internal/model"
)

// ShareRecipe publishes a frozen copy of r and returns a public link to it.
func (c *Client) ShareRecipe(ctx context.Context, r model.Recipe) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/uniqueRecipes", nil, r)
	if err != nil {
		return "", fmt.Errorf("share recipe: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Op: "share recipe", Code: resp.StatusCode}
	}

	var created struct {
		CreatedID string `json:"createdId"`
	}
	if err := decode(resp, &created); err != nil {
		return "", fmt.Errorf("share recipe: %w", err)
	}
	if created.CreatedID == "" {
		return "", fmt.Errorf("share recipe: empty id in response")
	}
	return strings.TrimRight(c.publicURL, "/") + "/uniqueRecipes/" + url.PathEscape(created.CreatedID), nil
}

// UniqueRecipe fetches a shared recipe. It does not need a session.
func (c *Client) UniqueRecipe(ctx context.Context, id string) (model.Recipe, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/uniqueRecipes/"+id, nil, nil)
	if err != nil {
		return model.Recipe{}, fmt.Errorf("unique recipe: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return model.Recipe{}, &StatusError{Op: "unique recipe", Code: resp.StatusCode}
	}

	var r model.Recipe
	if err := decode(resp, &r); err != nil {
		return model.Recipe{}, fmt.Errorf("unique recipe: %w", err)
	}
	return r, nil
}

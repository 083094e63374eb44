package recipes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/recipes/internal/model"
)

// mutate sends one write request and schedules a refetch when the API
// accepted it. A rejected request returns *StatusError and leaves the
// caches untouched. When dst is non-nil the response body is decoded
// into it.
func (c *Client) mutate(ctx context.Context, op, method, path string, body, dst any) error {
	resp, err := c.do(ctx, method, path, nil, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer drain(resp)

	if !successful(resp.StatusCode) {
		return &StatusError{Op: op, Code: resp.StatusCode}
	}
	if dst != nil {
		if err := decode(resp, dst); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	c.refresh()
	return nil
}

// AddRecipe creates a recipe and returns the id the API assigned to it.
func (c *Client) AddRecipe(ctx context.Context, r model.Recipe) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, fmt.Errorf("add recipe: %w", err)
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := c.mutate(ctx, "add recipe", http.MethodPost, "/api/recipes", toBody(r), &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// UpdateRecipe replaces a saved recipe.
func (c *Client) UpdateRecipe(ctx context.Context, r model.Recipe) error {
	if !r.Saved() {
		return fmt.Errorf("update recipe: recipe has no id: %w", model.ErrInvalid)
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("update recipe: %w", err)
	}
	return c.mutate(ctx, "update recipe", http.MethodPut, recipePath(*r.ID), toBody(r), nil)
}

// DeleteRecipe removes a recipe by id.
func (c *Client) DeleteRecipe(ctx context.Context, id int64) error {
	return c.mutate(ctx, "delete recipe", http.MethodDelete, recipePath(id), nil, nil)
}

// AddCategory creates a category and returns it with its assigned id.
func (c *Client) AddCategory(ctx context.Context, name string) (model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Category{}, fmt.Errorf("add category: name is required: %w", model.ErrInvalid)
	}
	var created struct {
		ID int64 `json:"id"`
	}
	body := map[string]string{"name": name}
	if err := c.mutate(ctx, "add category", http.MethodPost, "/api/categories", body, &created); err != nil {
		return model.Category{}, err
	}
	return model.Category{ID: created.ID, Name: name}, nil
}

// AddComment posts a comment on a recipe.
func (c *Client) AddComment(ctx context.Context, text string, recipeID int64) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("add comment: text is required: %w", model.ErrInvalid)
	}
	body := struct {
		Text     string `json:"text"`
		RecipeID int64  `json:"recipeId"`
	}{text, recipeID}
	return c.mutate(ctx, "add comment", http.MethodPost, "/api/comments", body, nil)
}

// UpdateComment replaces a comment's text.
func (c *Client) UpdateComment(ctx context.Context, id int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("update comment: text is required: %w", model.ErrInvalid)
	}
	body := map[string]string{"text": text}
	return c.mutate(ctx, "update comment", http.MethodPut, commentPath(id), body, nil)
}

// DeleteComment removes a comment by id.
func (c *Client) DeleteComment(ctx context.Context, id int64) error {
	return c.mutate(ctx, "delete comment", http.MethodDelete, commentPath(id), nil, nil)
}

// IsRejected reports whether err is the API refusing a request, as opposed
// to a transport or validation failure.
func IsRejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

func recipePath(id int64) string {
	return "/api/recipes/" + strconv.FormatInt(id, 10)
}

func commentPath(id int64) string {
	return "/api/comments/" + strconv.FormatInt(id, 10)
}

package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is returned when an entity fails client-side validation.
var ErrInvalid = errors.New("invalid")

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"user"`
	ReadOnly bool   `json:"readOnly"`
}

type Comment struct {
	ID     int64      `json:"id"`
	Text   string     `json:"text"`
	Author *User      `json:"user,omitempty"`
	Date   time.Time  `json:"date"`
	Edited *time.Time `json:"editedDate,omitempty"`
}

// Recipe is the resolved, client-side form of a recipe. A nil ID marks an
// unsaved draft; nil Category or Owner marks a reference that did not
// resolve against the cached categories or users.
type Recipe struct {
	ID          *int64    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Category    *Category `json:"category,omitempty"`
	Ingredients []string  `json:"ingredients"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	Date        time.Time `json:"date"`
	Owner       *User     `json:"user,omitempty"`
	Comments    []Comment `json:"comments"`
}

// Saved reports whether the recipe has been assigned an ID by the API.
func (r *Recipe) Saved() bool {
	return r.ID != nil
}

// Validate checks the fields the API requires before a recipe is sent.
func (r *Recipe) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required: %w", ErrInvalid)
	}
	if r.Category == nil {
		return fmt.Errorf("category is required: %w", ErrInvalid)
	}
	return nil
}

// UserStatus is the session state reported by the API's status endpoint.
type UserStatus struct {
	Username string `json:"username"`
	Write    bool   `json:"write"`
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

package model

import "time"

// DefaultListKey is the key of the private shopping list every user has.
const DefaultListKey = "default"

type ShoppingItem struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Checked   bool      `json:"checked"`
	AddedTime time.Time `json:"addedTime"`
	Position  int       `json:"position"`
}

type ShoppingList struct {
	Name  string         `json:"name"`
	Items []ShoppingItem `json:"items"`
}

// ShoppingState is every shopping list known locally plus the active selector.
type ShoppingState struct {
	Lists       map[string]*ShoppingList `json:"lists"`
	Active      string                   `json:"active"`
	ShowChecked bool                     `json:"showChecked"`
	Version     int                      `json:"version"`
}

// ListInfo identifies a shopping list on the list-of-lists endpoint.
type ListInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// QueuedUpload is a shopping list mutation waiting for connectivity.
type QueuedUpload struct {
	ID        int64          `json:"id"`
	ListKey   string         `json:"list_key"`
	Method    string         `json:"method"`
	Items     []ShoppingItem `json:"items"`
	CreatedAt time.Time      `json:"created_at"`
}

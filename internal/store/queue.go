package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/recipes/internal/model"
)

// QueueStore persists shopping list uploads made while offline, oldest first.
type QueueStore struct {
	db *sql.DB
}

func NewQueueStore(db *sql.DB) *QueueStore {
	return &QueueStore{db: db}
}

func scanUpload(scanner interface{ Scan(...any) error }) (*model.QueuedUpload, error) {
	var u model.QueuedUpload
	var items string
	if err := scanner.Scan(&u.ID, &u.ListKey, &u.Method, &items, &u.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &u.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	return &u, nil
}

const uploadCols = `id, list_key, method, items, created_at`

func (s *QueueStore) Append(listKey, method string, items []model.ShoppingItem) (*model.QueuedUpload, error) {
	if items == nil {
		items = []model.ShoppingItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	result, err := s.db.Exec(
		`INSERT INTO shopping_queue (list_key, method, items) VALUES (?, ?, ?)`,
		listKey, method, string(data),
	)
	if err != nil {
		return nil, fmt.Errorf("insert upload: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+uploadCols+` FROM shopping_queue WHERE id = ?`, id)
	u, err := scanUpload(row)
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return u, nil
}

// Peek returns the oldest queued upload, or nil when the queue is empty.
func (s *QueueStore) Peek() (*model.QueuedUpload, error) {
	row := s.db.QueryRow(`SELECT ` + uploadCols + ` FROM shopping_queue ORDER BY id ASC LIMIT 1`)
	u, err := scanUpload(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek upload: %w", err)
	}
	return u, nil
}

func (s *QueueStore) Remove(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM shopping_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

func (s *QueueStore) List() ([]model.QueuedUpload, error) {
	rows, err := s.db.Query(`SELECT ` + uploadCols + ` FROM shopping_queue ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []model.QueuedUpload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, *u)
	}
	return uploads, rows.Err()
}

func (s *QueueStore) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM shopping_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count uploads: %w", err)
	}
	return n, nil
}

func (s *QueueStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM shopping_queue`); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

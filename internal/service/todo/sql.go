package todo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modalhub/internal/models"
)

// SQLStore persists todos in the todos table created by storage.Migrate.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an opened and migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Seed inserts titles only when the table is empty, so restarts do not duplicate them.
func (s *SQLStore) Seed(ctx context.Context, titles ...string) error {
	if len(titles) == 0 {
		return nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM todos`).Scan(&count); err != nil {
		return fmt.Errorf("count todos: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, title := range titles {
		if _, err := s.Create(ctx, title); err != nil && !errors.Is(err, ErrTitleRequired) {
			return err
		}
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]models.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, completed FROM todos ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	todos := make([]models.Todo, 0)
	for rows.Next() {
		var t models.Todo
		if err := rows.Scan(&t.ID, &t.Title, &t.Completed); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, id int64) (*models.Todo, error) {
	var t models.Todo
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, completed FROM todos WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &t.Completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get todo: %w", err)
	}
	return &t, nil
}

func (s *SQLStore) Create(ctx context.Context, title string) (*models.Todo, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (title, completed, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		title, false, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create todo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("todo id: %w", err)
	}
	return &models.Todo{ID: id, Title: title}, nil
}

func (s *SQLStore) Update(ctx context.Context, id int64, params UpdateParams) (*models.Todo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var t models.Todo
	err = tx.QueryRowContext(ctx,
		`SELECT id, title, completed FROM todos WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &t.Completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get todo: %w", err)
	}
	if params.Title != nil {
		t.Title = *params.Title
	}
	if params.Completed != nil {
		t.Completed = *params.Completed
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE todos SET title = ?, completed = ?, updated_at = ? WHERE id = ?`,
		t.Title, t.Completed, time.Now().UTC(), id,
	); err != nil {
		return nil, fmt.Errorf("update todo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update todo: %w", err)
	}
	return &t, nil
}

// Delete removes the todo if present; a missing id is not an error.
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	return nil
}

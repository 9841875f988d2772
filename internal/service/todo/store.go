// Package todo keeps the ordered todo collection behind a Store.
package todo

import (
	"context"
	"errors"
	"strings"

	"modalhub/internal/models"
)

var (
	// ErrNotFound is returned when no todo has the requested id.
	ErrNotFound = errors.New("todo not found")
	// ErrTitleRequired is returned for blank titles.
	ErrTitleRequired = errors.New("title is required")
)

// UpdateParams carries a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Title     *string
	Completed *bool
}

// Store is the todo collection. Ids are unique, strictly increasing and never reused.
type Store interface {
	List(ctx context.Context) ([]models.Todo, error)
	Get(ctx context.Context, id int64) (*models.Todo, error)
	Create(ctx context.Context, title string) (*models.Todo, error)
	Update(ctx context.Context, id int64, params UpdateParams) (*models.Todo, error)
	Delete(ctx context.Context, id int64) error
}

func normalizeTitle(title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", ErrTitleRequired
	}
	return title, nil
}


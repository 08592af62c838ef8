package dataset

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrDatasetNotFound = errors.New("dataset not found")

// Extractor runs compiled dataset statements with the saved query id bound.
type Extractor interface {
	Extract(ctx context.Context, sql string, queryID uuid.UUID) ([]string, []map[string]interface{}, error)
}

// Repository is the administrator-curated catalog of dataset queries.
type Repository interface {
	Create(ctx context.Context, q *Query) error
	GetByID(ctx context.Context, id uuid.UUID) (*Query, error)
	List(ctx context.Context, limit, offset int) ([]*Query, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

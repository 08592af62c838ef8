package cohort

import (
	"context"

	"github.com/google/uuid"
)

type QueryRepository interface {
	// Create stores q and its members in one transaction.
	Create(ctx context.Context, q *SavedQuery, members []Member) error
	GetByID(ctx context.Context, id uuid.UUID) (*SavedQuery, error)
	// List returns the queries of owner, newest first. An empty owner lists all.
	List(ctx context.Context, owner string, limit, offset int) ([]*SavedQuery, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Warehouse executes compiled statements against the clinical database.
type Warehouse interface {
	Count(ctx context.Context, sql string) (int64, error)
	// Members returns the PersonIds selected by a cohort statement, which
	// casts them to text.
	Members(ctx context.Context, sql string) ([]string, error)
}

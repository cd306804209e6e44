package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository is deliberately append-only: there is no update or delete.
type Repository interface {
	Append(ctx context.Context, e *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Event, int, error)
}

package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, enc *Encounter) error
	List(ctx context.Context, limit, offset int) ([]*Encounter, int, error)
	ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]*Encounter, int, error)
	AddStatusHistory(ctx context.Context, sh *StatusHistory) error
	GetStatusHistory(ctx context.Context, encounterID uuid.UUID) ([]*StatusHistory, error)
}

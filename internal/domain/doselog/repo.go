package doselog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no dose event has the requested id.
var ErrNotFound = errors.New("dose log not found")

// Repository stores dose events. The store is append-mostly: events are
// inserted, read back by window and occasionally corrected.
type Repository interface {
	Insert(ctx context.Context, e *DoseEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoseEvent, error)
	// Find returns the events matching f and the total match count before
	// Limit and Offset are applied.
	Find(ctx context.Context, f Filter) ([]*DoseEvent, int, error)
	Update(ctx context.Context, id uuid.UUID, c Correction) (*DoseEvent, error)
}

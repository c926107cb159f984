package medication

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no medication has the requested id.
	ErrNotFound = errors.New("medication not found")
	// ErrVersionMismatch is returned by UpdateIfVersion when the stored
	// version differs from the expected one. No write has happened.
	ErrVersionMismatch = errors.New("medication version mismatch")
)

// Repository is the persistence contract of the medication store. Every
// driver implements UpdateIfVersion as a single atomic compare-and-swap and
// honours a transaction carried in ctx.
type Repository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Medication, int, error)
	// UpdateIfVersion applies changes and bumps version by one only while the
	// stored version equals expected. It returns the updated record.
	UpdateIfVersion(ctx context.Context, id uuid.UUID, expected int, changes Changes) (*Medication, error)
	// DecrementPillCount lowers a positive pill count by one and bumps the
	// version. It reports false when the count is null or already zero.
	DecrementPillCount(ctx context.Context, id uuid.UUID) (*Medication, bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// VersionMismatchError carries the stored version observed after a failed
// compare-and-swap. It matches ErrVersionMismatch with errors.Is.
type VersionMismatchError struct {
	Current int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s: current version is %d", ErrVersionMismatch, e.Current)
}

func (e *VersionMismatchError) Is(target error) bool {
	return target == ErrVersionMismatch
}

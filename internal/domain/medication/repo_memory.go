package medication

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo keeps medications in a map. The mutex makes the version compare
// and the write one step. It backs the memory driver and the service tests.
type MemoryRepo struct {
	mu    sync.Mutex
	meds  map[uuid.UUID]*Medication
	now   func() time.Time
	order []uuid.UUID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{meds: make(map[uuid.UUID]*Medication), now: time.Now}
}

func (r *MemoryRepo) Create(_ context.Context, m *Medication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := r.now().UTC()
	m.Version = InitialVersion
	m.CreatedAt, m.UpdatedAt = now, now
	if _, exists := r.meds[m.ID]; !exists {
		r.order = append(r.order, m.ID)
	}
	r.meds[m.ID] = m.Clone()
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Medication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (r *MemoryRepo) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]*Medication, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var owned []*Medication
	for _, id := range r.order {
		if m, ok := r.meds[id]; ok && m.OwnerID == ownerID {
			owned = append(owned, m.Clone())
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	total := len(owned)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return owned[offset:end], total, nil
}

func (r *MemoryRepo) UpdateIfVersion(_ context.Context, id uuid.UUID, expected int, c Changes) (*Medication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meds[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.Version != expected {
		return nil, &VersionMismatchError{Current: m.Version}
	}
	c.Apply(m)
	m.Version++
	m.UpdatedAt = r.now().UTC()
	return m.Clone(), nil
}

func (r *MemoryRepo) DecrementPillCount(_ context.Context, id uuid.UUID) (*Medication, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meds[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if m.PillCount == nil || *m.PillCount <= 0 {
		return m.Clone(), false, nil
	}
	n := *m.PillCount - 1
	m.PillCount = &n
	m.Version++
	m.UpdatedAt = r.now().UTC()
	return m.Clone(), true, nil
}

func (r *MemoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.meds[id]; !ok {
		return ErrNotFound
	}
	delete(r.meds, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

package doselog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo keeps dose events in insertion order. MedicationName is kept as
// given at insert time.
type MemoryRepo struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*DoseEvent
	now    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{events: make(map[uuid.UUID]*DoseEvent), now: time.Now}
}

func clone(e *DoseEvent) *DoseEvent {
	c := *e
	if e.MedicationName != nil {
		name := *e.MedicationName
		c.MedicationName = &name
	}
	return &c
}

func (r *MemoryRepo) Insert(_ context.Context, e *DoseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = r.now().UTC()
	r.events[e.ID] = clone(e)
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*DoseEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

func (r *MemoryRepo) Find(_ context.Context, f Filter) ([]*DoseEvent, int, error) {
	r.mu.RLock()
	var items []*DoseEvent
	for _, e := range r.events {
		if f.Matches(e) {
			items = append(items, clone(e))
		}
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if f.Newest {
				return a.Timestamp.After(b.Timestamp)
			}
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID.String() < b.ID.String()
	})

	total := len(items)
	if f.Limit <= 0 {
		return items, total, nil
	}
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return items[f.Offset:end], total, nil
}

func (r *MemoryRepo) Update(_ context.Context, id uuid.UUID, c Correction) (*DoseEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Apply(e)
	return clone(e), nil
}

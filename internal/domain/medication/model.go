package medication

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive    = "Active"
	StatusPaused    = "Paused"
	StatusCompleted = "Completed"
)

var validStatuses = map[string]bool{
	StatusActive: true, StatusPaused: true, StatusCompleted: true,
}

// InitialVersion is the version a medication is created with.
const InitialVersion = 1

// Medication maps to the medication table. Version is the optimistic
// concurrency token: every successful mutation bumps it by exactly one.
type Medication struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	OwnerID             string    `db:"owner_id" json:"owner_id"`
	Name                string    `db:"name" json:"name"`
	Dosage              string    `db:"dosage" json:"dosage"`
	Frequency           string    `db:"frequency" json:"frequency"`
	Purpose             *string   `db:"purpose" json:"purpose,omitempty"`
	Schedule            *string   `db:"schedule" json:"schedule,omitempty"`
	Status              string    `db:"status" json:"status"`
	PillCount           *int      `db:"pill_count" json:"pill_count,omitempty"`
	LowStockThreshold   *int      `db:"low_stock_threshold" json:"low_stock_threshold,omitempty"`
	RefillReminder      bool      `db:"refill_reminder" json:"refill_reminder"`
	StorageInstructions *string   `db:"storage_instructions" json:"storage_instructions,omitempty"`
	Version             int       `db:"version" json:"version"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// LowStock reports whether the remaining pill count is at or below the
// refill threshold. Medications without either value never report low stock.
func (m *Medication) LowStock() bool {
	if m.PillCount == nil || m.LowStockThreshold == nil {
		return false
	}
	return *m.PillCount <= *m.LowStockThreshold
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (m *Medication) Clone() *Medication {
	c := *m
	c.Purpose = clonePtr(m.Purpose)
	c.Schedule = clonePtr(m.Schedule)
	c.PillCount = clonePtr(m.PillCount)
	c.LowStockThreshold = clonePtr(m.LowStockThreshold)
	c.StorageInstructions = clonePtr(m.StorageInstructions)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Changes is a partial update. A nil field is left untouched.
type Changes struct {
	Name                *string `json:"name,omitempty"`
	Dosage              *string `json:"dosage,omitempty"`
	Frequency           *string `json:"frequency,omitempty"`
	Purpose             *string `json:"purpose,omitempty"`
	Schedule            *string `json:"schedule,omitempty"`
	Status              *string `json:"status,omitempty"`
	PillCount           *int    `json:"pill_count,omitempty"`
	LowStockThreshold   *int    `json:"low_stock_threshold,omitempty"`
	RefillReminder      *bool   `json:"refill_reminder,omitempty"`
	StorageInstructions *string `json:"storage_instructions,omitempty"`
}

// IsEmpty reports whether the update would change nothing.
func (c Changes) IsEmpty() bool {
	return c.Name == nil && c.Dosage == nil && c.Frequency == nil && c.Purpose == nil &&
		c.Schedule == nil && c.Status == nil && c.PillCount == nil &&
		c.LowStockThreshold == nil && c.RefillReminder == nil && c.StorageInstructions == nil
}

// Apply writes the non-nil fields of c onto m. Version is not touched.
func (c Changes) Apply(m *Medication) {
	if c.Name != nil {
		m.Name = *c.Name
	}
	if c.Dosage != nil {
		m.Dosage = *c.Dosage
	}
	if c.Frequency != nil {
		m.Frequency = *c.Frequency
	}
	if c.Purpose != nil {
		m.Purpose = clonePtr(c.Purpose)
	}
	if c.Schedule != nil {
		m.Schedule = clonePtr(c.Schedule)
	}
	if c.Status != nil {
		m.Status = *c.Status
	}
	if c.PillCount != nil {
		m.PillCount = clonePtr(c.PillCount)
	}
	if c.LowStockThreshold != nil {
		m.LowStockThreshold = clonePtr(c.LowStockThreshold)
	}
	if c.RefillReminder != nil {
		m.RefillReminder = *c.RefillReminder
	}
	if c.StorageInstructions != nil {
		m.StorageInstructions = clonePtr(c.StorageInstructions)
	}
}

// Fields lists the json names of the fields the update touches, for logs
// and emitted events.
func (c Changes) Fields() []string {
	var f []string
	add := func(set bool, name string) {
		if set {
			f = append(f, name)
		}
	}
	add(c.Name != nil, "name")
	add(c.Dosage != nil, "dosage")
	add(c.Frequency != nil, "frequency")
	add(c.Purpose != nil, "purpose")
	add(c.Schedule != nil, "schedule")
	add(c.Status != nil, "status")
	add(c.PillCount != nil, "pill_count")
	add(c.LowStockThreshold != nil, "low_stock_threshold")
	add(c.RefillReminder != nil, "refill_reminder")
	add(c.StorageInstructions != nil, "storage_instructions")
	return f
}

// UpdateRequest is the body of PUT /medications/:id. Version is the version
// the client last read; it may also come from an If-Match header.
type UpdateRequest struct {
	Version *int `json:"version"`
	Changes
}

// Validate checks a medication before it is first stored.
func (m *Medication) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(m.Dosage) == "" {
		return fmt.Errorf("dosage is required")
	}
	if strings.TrimSpace(m.Frequency) == "" {
		return fmt.Errorf("frequency is required")
	}
	if !validStatuses[m.Status] {
		return fmt.Errorf("invalid status: %s", m.Status)
	}
	if m.PillCount != nil && *m.PillCount < 0 {
		return fmt.Errorf("pill_count must not be negative")
	}
	if m.LowStockThreshold != nil && *m.LowStockThreshold < 1 {
		return fmt.Errorf("low_stock_threshold must be at least 1")
	}
	return nil
}

// Validate checks a partial update. An update must touch at least one field.
func (c Changes) Validate() error {
	if c.IsEmpty() {
		return fmt.Errorf("no fields to update")
	}
	if c.Name != nil && strings.TrimSpace(*c.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if c.Dosage != nil && strings.TrimSpace(*c.Dosage) == "" {
		return fmt.Errorf("dosage must not be empty")
	}
	if c.Frequency != nil && strings.TrimSpace(*c.Frequency) == "" {
		return fmt.Errorf("frequency must not be empty")
	}
	if c.Status != nil && !validStatuses[*c.Status] {
		return fmt.Errorf("invalid status: %s", *c.Status)
	}
	if c.PillCount != nil && *c.PillCount < 0 {
		return fmt.Errorf("pill_count must not be negative")
	}
	if c.LowStockThreshold != nil && *c.LowStockThreshold < 1 {
		return fmt.Errorf("low_stock_threshold must be at least 1")
	}
	return nil
}

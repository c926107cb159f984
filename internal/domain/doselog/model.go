package doselog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusTaken   Status = "Taken"
	StatusMissed  Status = "Missed"
	StatusSkipped Status = "Skipped"
)

// Valid reports whether s is one of the canonical, case-sensitive statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTaken, StatusMissed, StatusSkipped:
		return true
	}
	return false
}

// DoseEvent maps to the dose_log table. MedicationName is joined on reads and
// is not stored.
type DoseEvent struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id"`
	MedicationID   uuid.UUID `db:"medication_id" json:"medication_id"`
	MedicationName *string   `db:"medication_name" json:"medication_name,omitempty"`
	Status         Status    `db:"status" json:"status"`
	Timestamp      time.Time `db:"timestamp" json:"timestamp"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Filter selects dose events of one user. Zero times leave that side of the
// range open. Until is inclusive, Before is exclusive.
type Filter struct {
	UserID       string
	MedicationID *uuid.UUID
	From         time.Time
	Until        time.Time
	Before       time.Time
	// Newest returns the most recent events first.
	Newest bool
	// Limit of zero returns every match.
	Limit  int
	Offset int
}

// Matches applies the filter to a single event. The memory store uses it and
// the SQL drivers express the same predicate in their WHERE clause.
func (f Filter) Matches(e *DoseEvent) bool {
	if e.UserID != f.UserID {
		return false
	}
	if f.MedicationID != nil && e.MedicationID != *f.MedicationID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if !f.Before.IsZero() && !e.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

// Correction is a partial update of a logged dose.
type Correction struct {
	Status    *Status    `json:"status,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (c Correction) Validate() error {
	if c.Status != nil && !c.Status.Valid() {
		return fmt.Errorf("status must be one of Taken, Missed, Skipped")
	}
	if c.Timestamp != nil && c.Timestamp.IsZero() {
		return fmt.Errorf("timestamp must not be empty")
	}
	return nil
}

func (c Correction) IsEmpty() bool {
	return c.Status == nil && c.Timestamp == nil
}

// Apply overwrites the event fields the correction sets.
func (c Correction) Apply(e *DoseEvent) {
	if c.Status != nil {
		e.Status = *c.Status
	}
	if c.Timestamp != nil {
		e.Timestamp = c.Timestamp.UTC()
	}
}

// DayStats counts the events that fall on one calendar day.
type DayStats struct {
	Total int `json:"total"`
	Taken int `json:"taken"`
}

type Stats struct {
	Total   int `json:"total"`
	Taken   int `json:"taken"`
	Missed  int `json:"missed"`
	Skipped int `json:"skipped"`
}

// AdherenceReport is computed on every request and never stored.
type AdherenceReport struct {
	AdherencePercent         int                 `json:"adherence_percent"`
	Trend                    string              `json:"trend"`
	PeriodLabel              string              `json:"period"`
	DailyBreakdown           map[string]DayStats `json:"daily_breakdown"`
	Stats                    Stats               `json:"stats"`
	Days                     int                 `json:"days"`
	PreviousAdherencePercent int                 `json:"previous_adherence_percent"`
	From                     time.Time           `json:"from"`
	To                       time.Time           `json:"to"`
}

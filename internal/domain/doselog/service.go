package doselog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pillara/pillara/internal/domain/medication"
	"github.com/pillara/pillara/internal/platform/apperr"
	"github.com/pillara/pillara/internal/platform/events"
	"github.com/pillara/pillara/internal/platform/metrics"
)

// Transactor runs fn as one unit of work. *db.PoolTransactor and
// *sqlitedb.Transactor carry the transaction in the context they pass to fn.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoTx calls fn directly. The memory driver has nothing to roll back.
type NoTx struct{}

func (NoTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type Service struct {
	repo    Repository
	meds    medication.Repository
	tx      Transactor
	loc     *time.Location
	now     func() time.Time
	pub     events.Publisher
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewService(repo Repository, meds medication.Repository, tx Transactor) *Service {
	if tx == nil {
		tx = NoTx{}
	}
	return &Service{
		repo: repo,
		meds: meds,
		tx:   tx,
		loc:  time.UTC,
		now:  time.Now,
		pub:  events.Nop{},
		log:  zerolog.Nop(),
	}
}

// SetLocation sets the zone whose midnight anchors report windows and whose
// calendar dates key the daily breakdown.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *Service) SetPublisher(p events.Publisher) {
	if p != nil {
		s.pub = p
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.log = l.With().Str("component", "doselog").Logger()
}

// GetAdherenceReport compares the caller's adherence over the last days to
// the equally long period before it. An unusable days value falls back to
// DefaultDays.
func (s *Service) GetAdherenceReport(ctx context.Context, callerID, days string) (*AdherenceReport, error) {
	if callerID == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	p := NewPeriod(s.now(), s.loc, ParseDays(days))

	current, _, err := s.repo.Find(ctx, Filter{UserID: callerID, From: p.Current.From, Until: p.Current.To})
	if err != nil {
		return nil, apperr.Internal(err, "load current dose window")
	}
	previous, _, err := s.repo.Find(ctx, Filter{UserID: callerID, From: p.Previous.From, Before: p.Previous.To})
	if err != nil {
		return nil, apperr.Internal(err, "load previous dose window")
	}

	report := Compute(p, current, previous, s.loc)
	return &report, nil
}

type doseLoggedPayload struct {
	Dose      *DoseEvent `json:"dose"`
	PillCount *int       `json:"pill_count,omitempty"`
}

// LogDose records a dose against one of the caller's medications. A Taken
// dose lowers a positive pill count by one in the same transaction; a count
// that is null or already zero is left alone.
func (s *Service) LogDose(ctx context.Context, callerID string, medicationID uuid.UUID, status Status, ts *time.Time) (*DoseEvent, error) {
	if callerID == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	if medicationID == uuid.Nil {
		return nil, apperr.Validation("medication_id is required")
	}
	if status == "" {
		status = StatusTaken
	}
	if !status.Valid() {
		return nil, apperr.Validation("status must be one of Taken, Missed, Skipped")
	}

	med, err := s.meds.GetByID(ctx, medicationID)
	if err != nil {
		return nil, medStoreErr(err, "get medication")
	}
	if med.OwnerID != callerID {
		return nil, apperr.Forbidden("medication belongs to another user")
	}

	ev := &DoseEvent{
		UserID:         callerID,
		MedicationID:   medicationID,
		MedicationName: &med.Name,
		Status:         status,
		Timestamp:      s.now().UTC(),
	}
	if ts != nil && !ts.IsZero() {
		ev.Timestamp = ts.UTC()
	}

	var decremented bool
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, ev); err != nil {
			return apperr.Internal(err, "insert dose log")
		}
		if status != StatusTaken {
			return nil
		}
		updated, ok, err := s.meds.DecrementPillCount(ctx, medicationID)
		if err != nil {
			return medStoreErr(err, "decrement pill count")
		}
		med, decremented = updated, ok
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Internal(err, "log dose")
		}
		return nil, err
	}

	s.metrics.DoseLogged(string(status), decremented)
	s.publish(ctx, events.TypeDoseLogged, callerID, doseLoggedPayload{Dose: ev, PillCount: med.PillCount})
	if decremented && crossedLowStock(med) {
		s.publish(ctx, events.TypeMedicationLowStock, callerID, med)
	}
	return ev, nil
}

// crossedLowStock is true for the one decrement that lands on the threshold.
func crossedLowStock(m *medication.Medication) bool {
	return m.PillCount != nil && m.LowStockThreshold != nil && *m.PillCount == *m.LowStockThreshold
}

// UpdateDoseLog corrects the status or timestamp of one of the caller's dose
// events. Pill counts are not touched.
func (s *Service) UpdateDoseLog(ctx context.Context, callerID string, id uuid.UUID, c Correction) (*DoseEvent, error) {
	if callerID == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	if err := c.Validate(); err != nil {
		return nil, apperr.Validation(err.Error())
	}
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, doseStoreErr(err, "get dose log")
	}
	if cur.UserID != callerID {
		return nil, apperr.Forbidden("dose log belongs to another user")
	}
	if c.IsEmpty() {
		return cur, nil
	}
	updated, err := s.repo.Update(ctx, id, c)
	if err != nil {
		return nil, doseStoreErr(err, "update dose log")
	}
	s.publish(ctx, events.TypeDoseCorrected, callerID, updated)
	return updated, nil
}

// ListDoseLogs returns the caller's dose events, newest first. days, when
// set, limits the list to the trailing days from now.
func (s *Service) ListDoseLogs(ctx context.Context, callerID string, medicationID *uuid.UUID, days string, limit, offset int) ([]*DoseEvent, int, error) {
	if callerID == "" {
		return nil, 0, apperr.Unauthorized("caller identity required")
	}
	f := Filter{UserID: callerID, MedicationID: medicationID, Newest: true, Limit: limit, Offset: offset}
	if days != "" {
		f.From = s.now().AddDate(0, 0, -ParseDays(days))
	}
	items, total, err := s.repo.Find(ctx, f)
	if err != nil {
		return nil, 0, apperr.Internal(err, "list dose logs")
	}
	return items, total, nil
}

func medStoreErr(err error, op string) error {
	if errors.Is(err, medication.ErrNotFound) {
		return apperr.NotFound("medication not found")
	}
	return apperr.Internal(err, op)
}

func doseStoreErr(err error, op string) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("dose log not found")
	}
	return apperr.Internal(err, op)
}

func (s *Service) publish(ctx context.Context, eventType, key string, payload interface{}) {
	if err := s.pub.Publish(ctx, events.Event{Type: eventType, Key: key, Payload: payload}); err != nil {
		s.log.Warn().Err(err).Str("type", eventType).Msg("publish event")
	}
}

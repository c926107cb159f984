package medication

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pillara/pillara/internal/platform/apperr"
	"github.com/pillara/pillara/internal/platform/events"
	"github.com/pillara/pillara/internal/platform/metrics"
)

// ConflictMessage is returned to clients whose submitted version is stale.
const ConflictMessage = "medication was updated on another device, please refresh"

type Service struct {
	repo    Repository
	pub     events.Publisher
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, pub: events.Nop{}, log: zerolog.Nop()}
}

// SetPublisher attaches the publisher used for medication events.
func (s *Service) SetPublisher(p events.Publisher) {
	if p != nil {
		s.pub = p
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.log = l.With().Str("component", "medication").Logger()
}

// Repo exposes the repository to collaborating services in the same process.
func (s *Service) Repo() Repository {
	return s.repo
}

func (s *Service) CreateMedication(ctx context.Context, callerID string, m *Medication) error {
	if callerID == "" {
		return apperr.Unauthorized("caller identity required")
	}
	m.OwnerID = callerID
	if m.Status == "" {
		m.Status = StatusActive
	}
	if err := m.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return apperr.Internal(err, "create medication")
	}
	s.publish(ctx, events.TypeMedicationCreated, m)
	return nil
}

// GetMedication returns the medication if the caller owns it.
func (s *Service) GetMedication(ctx context.Context, callerID string, id uuid.UUID) (*Medication, error) {
	if callerID == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeErr(err, "get medication")
	}
	if m.OwnerID != callerID {
		return nil, apperr.Forbidden("medication belongs to another user")
	}
	return m, nil
}

func (s *Service) ListMedications(ctx context.Context, callerID string, limit, offset int) ([]*Medication, int, error) {
	if callerID == "" {
		return nil, 0, apperr.Unauthorized("caller identity required")
	}
	items, total, err := s.repo.ListByOwner(ctx, callerID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err, "list medications")
	}
	return items, total, nil
}

func (s *Service) DeleteMedication(ctx context.Context, callerID string, id uuid.UUID) error {
	m, err := s.GetMedication(ctx, callerID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.storeErr(err, "delete medication")
	}
	s.publish(ctx, events.TypeMedicationDeleted, m)
	return nil
}

// UpdateMedication applies changes only when the caller owns the record and
// submitted the version currently stored. The stored version must still match
// at write time: the repository performs the write as a compare-and-swap, so
// of several requests holding the same version exactly one commits. Every
// failure path performs zero writes.
func (s *Service) UpdateMedication(ctx context.Context, callerID string, id uuid.UUID, submitted *int, changes Changes) (*Medication, error) {
	if callerID == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeErr(err, "get medication")
	}
	if cur.OwnerID != callerID {
		return nil, apperr.Forbidden("medication belongs to another user")
	}
	if submitted == nil {
		return nil, apperr.Validation("version is required")
	}
	if err := changes.Validate(); err != nil {
		return nil, apperr.Validation(err.Error())
	}
	// Behind and ahead are both stale views of the record.
	if *submitted != cur.Version {
		return nil, s.conflict(id, *submitted, cur.Version)
	}

	updated, err := s.repo.UpdateIfVersion(ctx, id, *submitted, changes)
	if err != nil {
		var vm *VersionMismatchError
		if errors.As(err, &vm) {
			return nil, s.conflict(id, *submitted, vm.Current)
		}
		return nil, s.storeErr(err, "update medication")
	}
	if updated == nil {
		return nil, apperr.Internal(nil, "update reported success without a record")
	}

	s.metrics.MedicationUpdated()
	s.log.Debug().Str("medication_id", id.String()).Int("version", updated.Version).
		Strs("fields", changes.Fields()).Msg("medication updated")
	s.publish(ctx, events.TypeMedicationUpdated, updated)
	if updated.LowStock() && !cur.LowStock() {
		s.publish(ctx, events.TypeMedicationLowStock, updated)
	}
	return updated, nil
}

func (s *Service) conflict(id uuid.UUID, submitted, current int) error {
	s.metrics.MedicationConflict()
	s.log.Info().Str("medication_id", id.String()).Int("submitted_version", submitted).
		Int("current_version", current).Msg("stale medication update rejected")
	return apperr.Conflict(ConflictMessage).WithDetail("current_version", current)
}

func (s *Service) storeErr(err error, op string) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("medication not found")
	}
	return apperr.Internal(err, op)
}

func (s *Service) publish(ctx context.Context, eventType string, m *Medication) {
	err := s.pub.Publish(ctx, events.Event{
		Type:    eventType,
		Key:     m.OwnerID,
		Payload: m,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("type", eventType).Str("medication_id", m.ID.String()).Msg("publish event")
	}
}

package doselog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pillara/pillara/internal/domain/medication"
	"github.com/pillara/pillara/internal/platform/apperr"
	"github.com/pillara/pillara/internal/platform/events"
	"github.com/pillara/pillara/internal/platform/metrics"
)

func intPtr(n int) *int { return &n }

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	svc   *Service
	doses *MemoryRepo
	meds  *medication.MemoryRepo
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{doses: NewMemoryRepo(), meds: medication.NewMemoryRepo(), pub: &recordingPublisher{}}
	f.svc = NewService(f.doses, f.meds, nil)
	f.svc.now = func() time.Time { return fixedNow }
	f.svc.SetPublisher(f.pub)
	f.svc.SetMetrics(metrics.New())
	return f
}

func (f *fixture) med(t *testing.T, owner string, pills, threshold *int) *medication.Medication {
	t.Helper()
	m := &medication.Medication{OwnerID: owner, Name: "Lisinopril", Dosage: "10mg", Frequency: "Daily",
		Status: medication.StatusActive, PillCount: pills, LowStockThreshold: threshold}
	if err := f.meds.Create(context.Background(), m); err != nil {
		t.Fatalf("create medication: %v", err)
	}
	return m
}

func (f *fixture) pills(t *testing.T, id uuid.UUID) (*int, int) {
	t.Helper()
	m, err := f.meds.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get medication: %v", err)
	}
	return m.PillCount, m.Version
}

func TestLogDose_TakenDecrementsPillCount(t *testing.T) {
	f := newFixture(t)
	m := f.med(t, "u1", intPtr(5), nil)

	got, err := f.svc.LogDose(context.Background(), "u1", m.ID, StatusTaken, nil)
	if err != nil {
		t.Fatalf("LogDose: %v", err)
	}
	if got.Status != StatusTaken || got.UserID != "u1" || !got.Timestamp.Equal(fixedNow) {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.MedicationName == nil || *got.MedicationName != "Lisinopril" {
		t.Errorf("medication name = %v", got.MedicationName)
	}
	count, version := f.pills(t, m.ID)
	if *count != 4 || version != 2 {
		t.Errorf("pill count = %d version = %d, want 4 and 2", *count, version)
	}
	if _, err := f.doses.GetByID(context.Background(), got.ID); err != nil {
		t.Errorf("event not persisted: %v", err)
	}
	if f.pub.count(events.TypeDoseLogged) != 1 {
		t.Errorf("expected one dose.logged event, got %v", f.pub.events)
	}
}

func TestLogDose_PillCountFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	empty := f.med(t, "u1", intPtr(0), nil)
	untracked := f.med(t, "u1", nil, nil)

	if _, err := f.svc.LogDose(ctx, "u1", empty.ID, StatusTaken, nil); err != nil {
		t.Fatalf("LogDose at zero: %v", err)
	}
	if count, version := f.pills(t, empty.ID); *count != 0 || version != 1 {
		t.Errorf("pill count = %d version = %d, want 0 and 1", *count, version)
	}

	if _, err := f.svc.LogDose(ctx, "u1", untracked.ID, StatusTaken, nil); err != nil {
		t.Fatalf("LogDose untracked: %v", err)
	}
	if count, _ := f.pills(t, untracked.ID); count != nil {
		t.Errorf("untracked pill count became %d", *count)
	}
}

func TestLogDose_OnlyTakenDecrements(t *testing.T) {
	f := newFixture(t)
	m := f.med(t, "u1", intPtr(5), nil)
	for _, s := range []Status{StatusMissed, StatusSkipped} {
		if _, err := f.svc.LogDose(context.Background(), "u1", m.ID, s, nil); err != nil {
			t.Fatalf("LogDose %s: %v", s, err)
		}
	}
	if count, _ := f.pills(t, m.ID); *count != 5 {
		t.Errorf("pill count = %d, want 5", *count)
	}
}

func TestLogDose_DefaultsAndTimestamp(t *testing.T) {
	f := newFixture(t)
	m := f.med(t, "u1", intPtr(2), nil)
	ts := time.Date(2024, 3, 9, 8, 0, 0, 0, time.FixedZone("UTC+2", 2*60*60))

	got, err := f.svc.LogDose(context.Background(), "u1", m.ID, "", &ts)
	if err != nil {
		t.Fatalf("LogDose: %v", err)
	}
	if got.Status != StatusTaken {
		t.Errorf("status = %s, want Taken", got.Status)
	}
	if !got.Timestamp.Equal(ts) || got.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v, want %v in UTC", got.Timestamp, ts)
	}
	if count, _ := f.pills(t, m.ID); *count != 1 {
		t.Errorf("default status should decrement, pill count = %d", *count)
	}
}

func TestLogDose_Errors(t *testing.T) {
	f := newFixture(t)
	m := f.med(t, "owner", intPtr(5), nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		caller string
		medID  uuid.UUID
		status Status
		want   apperr.Kind
	}{
		{"no caller", "", m.ID, StatusTaken, apperr.KindUnauthorized},
		{"no medication", "owner", uuid.Nil, StatusTaken, apperr.KindValidation},
		{"bad status", "owner", m.ID, "taken", apperr.KindValidation},
		{"unknown medication", "owner", uuid.New(), StatusTaken, apperr.KindNotFound},
		{"not owner", "intruder", m.ID, StatusTaken, apperr.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.LogDose(ctx, tt.caller, tt.medID, tt.status, nil)
			if !apperr.Is(err, tt.want) {
				t.Errorf("expected %s, got %v", tt.want, err)
			}
		})
	}

	if count, version := f.pills(t, m.ID); *count != 5 || version != 1 {
		t.Errorf("failed calls wrote: pill count = %d version = %d", *count, version)
	}
	if _, total, _ := f.doses.Find(ctx, Filter{UserID: "owner"}); total != 0 {
		t.Errorf("failed calls inserted %d events", total)
	}
	if _, total, _ := f.doses.Find(ctx, Filter{UserID: "intruder"}); total != 0 {
		t.Errorf("forbidden call inserted %d events", total)
	}
}

func TestLogDose_LowStockPublishedOnCrossing(t *testing.T) {
	f := newFixture(t)
	m := f.med(t, "u1", intPtr(4), intPtr(2))
	for i := 0; i < 4; i++ {
		if _, err := f.svc.LogDose(context.Background(), "u1", m.ID, StatusTaken, nil); err != nil {
			t.Fatalf("LogDose: %v", err)
		}
	}
	if n := f.pub.count(events.TypeMedicationLowStock); n != 1 {
		t.Errorf("low stock events = %d, want 1", n)
	}
	if n := f.pub.count(events.TypeDoseLogged); n != 4 {
		t.Errorf("dose.logged events = %d, want 4", n)
	}
}

// failingDecrement makes the pill count update fail after the insert.
type failingDecrement struct {
	medication.Repository
}

func (failingDecrement) DecrementPillCount(context.Context, uuid.UUID) (*medication.Medication, bool, error) {
	return nil, false, errors.New("disk full")
}

func TestLogDose_DecrementFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	m := f.med(t, "u1", intPtr(5), nil)
	f.svc.meds = failingDecrement{Repository: f.meds}

	_, err := f.svc.LogDose(context.Background(), "u1", m.ID, StatusTaken, nil)
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected Internal, got %v", err)
	}
	if f.pub.count(events.TypeDoseLogged) != 0 {
		t.Error("no event may be published for a failed dose")
	}
}

func TestGetAdherenceReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.med(t, "u1", nil, nil)
	day := func(d int) *time.Time {
		ts := time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC)
		return &ts
	}
	log := func(s Status, ts *time.Time) {
		t.Helper()
		if _, err := f.svc.LogDose(ctx, "u1", m.ID, s, ts); err != nil {
			t.Fatalf("LogDose: %v", err)
		}
	}
	// current window: 2024-03-03 00:00 .. now
	log(StatusTaken, day(4))
	log(StatusTaken, day(6))
	log(StatusMissed, day(7))
	log(StatusSkipped, day(10))
	// previous window: 2024-02-25 .. 2024-03-03
	log(StatusTaken, day(1))
	log(StatusMissed, day(1))
	log(StatusMissed, day(2))
	log(StatusMissed, day(2))
	// outside both windows
	log(StatusTaken, day(11))
	other := f.med(t, "u2", nil, nil)
	if _, err := f.svc.LogDose(ctx, "u2", other.ID, StatusMissed, day(5)); err != nil {
		t.Fatalf("LogDose: %v", err)
	}

	r, err := f.svc.GetAdherenceReport(ctx, "u1", "7")
	if err != nil {
		t.Fatalf("GetAdherenceReport: %v", err)
	}
	if r.AdherencePercent != 50 || r.Trend != "+25%" {
		t.Errorf("adherence = %d trend = %q, want 50 and +25%%", r.AdherencePercent, r.Trend)
	}
	if r.Stats != (Stats{Total: 4, Taken: 2, Missed: 1, Skipped: 1}) {
		t.Errorf("stats = %+v", r.Stats)
	}

	fallback, err := f.svc.GetAdherenceReport(ctx, "u1", "abc")
	if err != nil {
		t.Fatalf("non-numeric days must not fail: %v", err)
	}
	if fallback.Days != DefaultDays || fallback.PeriodLabel != "7 days" || fallback.AdherencePercent != 50 {
		t.Errorf("fallback report = %+v", fallback)
	}
}

func TestGetAdherenceReport_NoHistory(t *testing.T) {
	f := newFixture(t)
	r, err := f.svc.GetAdherenceReport(context.Background(), "newcomer", "")
	if err != nil {
		t.Fatalf("GetAdherenceReport: %v", err)
	}
	if r.AdherencePercent != 100 || r.Trend != "0%" || r.Stats.Total != 0 {
		t.Errorf("empty report = %+v", r)
	}
	if _, err := f.svc.GetAdherenceReport(context.Background(), "", "7"); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
}

type failingFind struct{ Repository }

func (failingFind) Find(context.Context, Filter) ([]*DoseEvent, int, error) {
	return nil, 0, errors.New("connection reset")
}

func TestGetAdherenceReport_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.svc.repo = failingFind{Repository: f.doses}
	r, err := f.svc.GetAdherenceReport(context.Background(), "u1", "7")
	if r != nil || !apperr.Is(err, apperr.KindInternal) {
		t.Errorf("expected Internal and no report, got %v, %v", r, err)
	}
}

func TestUpdateDoseLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.med(t, "u1", intPtr(5), nil)
	logged, err := f.svc.LogDose(ctx, "u1", m.ID, StatusMissed, nil)
	if err != nil {
		t.Fatalf("LogDose: %v", err)
	}

	taken := StatusTaken
	ts := fixedNow.Add(-time.Hour)
	got, err := f.svc.UpdateDoseLog(ctx, "u1", logged.ID, Correction{Status: &taken, Timestamp: &ts})
	if err != nil {
		t.Fatalf("UpdateDoseLog: %v", err)
	}
	if got.Status != StatusTaken || !got.Timestamp.Equal(ts) {
		t.Errorf("correction not applied: %+v", got)
	}
	if count, version := f.pills(t, m.ID); *count != 5 || version != 1 {
		t.Errorf("correction touched the medication: count=%d version=%d", *count, version)
	}
	if f.pub.count(events.TypeDoseCorrected) != 1 {
		t.Error("expected a dose.corrected event")
	}

	bad := Status("Later")
	if _, err := f.svc.UpdateDoseLog(ctx, "u1", logged.ID, Correction{Status: &bad}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected Validation, got %v", err)
	}
	if _, err := f.svc.UpdateDoseLog(ctx, "u2", logged.ID, Correction{Status: &taken}); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected Forbidden, got %v", err)
	}
	if _, err := f.svc.UpdateDoseLog(ctx, "u1", uuid.New(), Correction{Status: &taken}); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := f.svc.UpdateDoseLog(ctx, "", logged.ID, Correction{}); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
}

func TestListDoseLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.med(t, "u1", nil, nil)
	b := f.med(t, "u1", nil, nil)
	for i, id := range []uuid.UUID{a.ID, b.ID, a.ID} {
		ts := fixedNow.Add(-time.Duration(i) * 24 * time.Hour)
		if _, err := f.svc.LogDose(ctx, "u1", id, StatusTaken, &ts); err != nil {
			t.Fatalf("LogDose: %v", err)
		}
	}
	old := fixedNow.AddDate(0, 0, -30)
	if _, err := f.svc.LogDose(ctx, "u1", a.ID, StatusMissed, &old); err != nil {
		t.Fatalf("LogDose: %v", err)
	}

	items, total, err := f.svc.ListDoseLogs(ctx, "u1", nil, "", 20, 0)
	if err != nil || total != 4 || len(items) != 4 {
		t.Fatalf("list all: total=%d len=%d err=%v", total, len(items), err)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Timestamp.After(items[i-1].Timestamp) {
			t.Fatal("expected newest first")
		}
	}

	_, total, _ = f.svc.ListDoseLogs(ctx, "u1", &a.ID, "", 20, 0)
	if total != 3 {
		t.Errorf("filtered by medication: total = %d, want 3", total)
	}
	_, total, _ = f.svc.ListDoseLogs(ctx, "u1", nil, "7", 20, 0)
	if total != 3 {
		t.Errorf("last 7 days: total = %d, want 3", total)
	}
	page, total, _ := f.svc.ListDoseLogs(ctx, "u1", nil, "", 2, 2)
	if total != 4 || len(page) != 2 {
		t.Errorf("second page: total=%d len=%d", total, len(page))
	}
	if _, _, err := f.svc.ListDoseLogs(ctx, "", nil, "", 20, 0); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
}

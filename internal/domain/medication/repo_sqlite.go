package medication

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pillara/pillara/internal/platform/sqlitedb"
)

type medicationRepoSQLite struct{ db *sql.DB }

func NewRepoSQLite(db *sql.DB) Repository {
	return &medicationRepoSQLite{db: db}
}

func (r *medicationRepoSQLite) conn(ctx context.Context) sqlitedb.Queryable {
	return sqlitedb.Conn(ctx, r.db)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *medicationRepoSQLite) scanMed(row rowScanner) (*Medication, error) {
	var (
		m                  Medication
		id                 string
		created, updated   int64
		pillCount, minimum sql.NullInt64
	)
	err := row.Scan(&id, &m.OwnerID, &m.Name, &m.Dosage, &m.Frequency, &m.Purpose, &m.Schedule, &m.Status,
		&pillCount, &minimum, &m.RefillReminder, &m.StorageInstructions,
		&m.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse medication id %q: %w", id, err)
	}
	m.PillCount = intPtr(pillCount)
	m.LowStockThreshold = intPtr(minimum)
	m.CreatedAt = sqlitedb.FromUnix(created)
	m.UpdatedAt = sqlitedb.FromUnix(updated)
	return &m, nil
}

func (r *medicationRepoSQLite) Create(ctx context.Context, m *Medication) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	m.Version = InitialVersion
	m.CreatedAt, m.UpdatedAt = now, now
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO medication (id, owner_id, name, dosage, frequency, purpose, schedule, status,
			pill_count, low_stock_threshold, refill_reminder, storage_instructions, version,
			created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID.String(), m.OwnerID, m.Name, m.Dosage, m.Frequency, opt(m.Purpose), opt(m.Schedule), m.Status,
		opt(m.PillCount), opt(m.LowStockThreshold), m.RefillReminder, opt(m.StorageInstructions), m.Version,
		sqlitedb.ToUnix(now), sqlitedb.ToUnix(now))
	return err
}

func (r *medicationRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return r.scanMed(r.conn(ctx).QueryRowContext(ctx, `SELECT `+medCols+` FROM medication WHERE id = ?`, id.String()))
}

func (r *medicationRepoSQLite) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Medication, int, error) {
	var total int
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM medication WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).QueryContext(ctx, `SELECT `+medCols+` FROM medication WHERE owner_id = ?
		ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Medication
	for rows.Next() {
		m, err := r.scanMed(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *medicationRepoSQLite) UpdateIfVersion(ctx context.Context, id uuid.UUID, expected int, c Changes) (*Medication, error) {
	m, err := r.scanMed(r.conn(ctx).QueryRowContext(ctx, `
		UPDATE medication SET
			name = COALESCE(?3, name),
			dosage = COALESCE(?4, dosage),
			frequency = COALESCE(?5, frequency),
			purpose = COALESCE(?6, purpose),
			schedule = COALESCE(?7, schedule),
			status = COALESCE(?8, status),
			pill_count = COALESCE(?9, pill_count),
			low_stock_threshold = COALESCE(?10, low_stock_threshold),
			refill_reminder = COALESCE(?11, refill_reminder),
			storage_instructions = COALESCE(?12, storage_instructions),
			version = version + 1,
			updated_at = ?13
		WHERE id = ?1 AND version = ?2
		RETURNING `+medCols,
		id.String(), expected, opt(c.Name), opt(c.Dosage), opt(c.Frequency), opt(c.Purpose), opt(c.Schedule),
		opt(c.Status), opt(c.PillCount), opt(c.LowStockThreshold), opt(c.RefillReminder), opt(c.StorageInstructions),
		sqlitedb.ToUnix(time.Now())))
	if errors.Is(err, ErrNotFound) {
		return nil, r.missReason(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update medication: %w", err)
	}
	return m, nil
}

func (r *medicationRepoSQLite) DecrementPillCount(ctx context.Context, id uuid.UUID) (*Medication, bool, error) {
	m, err := r.scanMed(r.conn(ctx).QueryRowContext(ctx, `
		UPDATE medication SET pill_count = pill_count - 1, version = version + 1, updated_at = ?
		WHERE id = ? AND pill_count > 0
		RETURNING `+medCols, sqlitedb.ToUnix(time.Now()), id.String()))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("decrement pill count: %w", err)
	}
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

func (r *medicationRepoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM medication WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *medicationRepoSQLite) missReason(ctx context.Context, id uuid.UUID) error {
	var version int
	err := r.conn(ctx).QueryRowContext(ctx, `SELECT version FROM medication WHERE id = ?`, id.String()).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &VersionMismatchError{Current: version}
}

// opt turns a nil pointer into SQL NULL and dereferences anything else.
func opt[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

package medication

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pillara/pillara/internal/platform/db"
)

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &medicationRepoPG{pool: pool}
}

func (r *medicationRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const medCols = `id, owner_id, name, dosage, frequency, purpose, schedule, status,
	pill_count, low_stock_threshold, refill_reminder, storage_instructions,
	version, created_at, updated_at`

func (r *medicationRepoPG) scanMed(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.OwnerID, &m.Name, &m.Dosage, &m.Frequency, &m.Purpose, &m.Schedule, &m.Status,
		&m.PillCount, &m.LowStockThreshold, &m.RefillReminder, &m.StorageInstructions,
		&m.Version, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Version = InitialVersion
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication (id, owner_id, name, dosage, frequency, purpose, schedule, status,
			pill_count, low_stock_threshold, refill_reminder, storage_instructions, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		m.ID, m.OwnerID, m.Name, m.Dosage, m.Frequency, m.Purpose, m.Schedule, m.Status,
		m.PillCount, m.LowStockThreshold, m.RefillReminder, m.StorageInstructions, m.Version,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return r.scanMed(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medication WHERE id = $1`, id))
}

func (r *medicationRepoPG) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Medication, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medication WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medCols+` FROM medication WHERE owner_id = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, ownerID, limit, offset)
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

// UpdateIfVersion is one conditional UPDATE: the version predicate and the
// increment happen in the same statement, so two writers holding the same
// version cannot both match.
func (r *medicationRepoPG) UpdateIfVersion(ctx context.Context, id uuid.UUID, expected int, c Changes) (*Medication, error) {
	m, err := r.scanMed(r.conn(ctx).QueryRow(ctx, `
		UPDATE medication SET
			name = COALESCE($3, name),
			dosage = COALESCE($4, dosage),
			frequency = COALESCE($5, frequency),
			purpose = COALESCE($6, purpose),
			schedule = COALESCE($7, schedule),
			status = COALESCE($8, status),
			pill_count = COALESCE($9, pill_count),
			low_stock_threshold = COALESCE($10, low_stock_threshold),
			refill_reminder = COALESCE($11, refill_reminder),
			storage_instructions = COALESCE($12, storage_instructions),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+medCols,
		id, expected, c.Name, c.Dosage, c.Frequency, c.Purpose, c.Schedule, c.Status,
		c.PillCount, c.LowStockThreshold, c.RefillReminder, c.StorageInstructions))
	if errors.Is(err, ErrNotFound) {
		return nil, r.missReason(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update medication: %w", err)
	}
	return m, nil
}

func (r *medicationRepoPG) DecrementPillCount(ctx context.Context, id uuid.UUID) (*Medication, bool, error) {
	m, err := r.scanMed(r.conn(ctx).QueryRow(ctx, `
		UPDATE medication SET pill_count = pill_count - 1, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND pill_count > 0
		RETURNING `+medCols, id))
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

func (r *medicationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medication WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// missReason tells a vanished row apart from a stale version after a
// conditional update matched nothing.
func (r *medicationRepoPG) missReason(ctx context.Context, id uuid.UUID) error {
	var version int
	err := r.conn(ctx).QueryRow(ctx, `SELECT version FROM medication WHERE id = $1`, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &VersionMismatchError{Current: version}
}

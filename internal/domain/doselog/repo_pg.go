package doselog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pillara/pillara/internal/platform/db"
)

type doseLogRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &doseLogRepoPG{pool: pool}
}

func (r *doseLogRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const doseSelect = `SELECT d.id, d.user_id, d.medication_id, m.name, d.status, d.timestamp, d.created_at
	FROM dose_log d LEFT JOIN medication m ON m.id = d.medication_id`

func (r *doseLogRepoPG) scanDose(row pgx.Row) (*DoseEvent, error) {
	var e DoseEvent
	err := row.Scan(&e.ID, &e.UserID, &e.MedicationID, &e.MedicationName, &e.Status, &e.Timestamp, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *doseLogRepoPG) Insert(ctx context.Context, e *DoseEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO dose_log (id, user_id, medication_id, status, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		e.ID, e.UserID, e.MedicationID, e.Status, e.Timestamp,
	).Scan(&e.CreatedAt)
}

func (r *doseLogRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoseEvent, error) {
	return r.scanDose(r.conn(ctx).QueryRow(ctx, doseSelect+` WHERE d.id = $1`, id))
}

func (r *doseLogRepoPG) Find(ctx context.Context, f Filter) ([]*DoseEvent, int, error) {
	where := ` WHERE d.user_id = $1`
	args := []interface{}{f.UserID}
	idx := 2
	if f.MedicationID != nil {
		where += fmt.Sprintf(` AND d.medication_id = $%d`, idx)
		args = append(args, *f.MedicationID)
		idx++
	}
	if !f.From.IsZero() {
		where += fmt.Sprintf(` AND d.timestamp >= $%d`, idx)
		args = append(args, f.From)
		idx++
	}
	if !f.Until.IsZero() {
		where += fmt.Sprintf(` AND d.timestamp <= $%d`, idx)
		args = append(args, f.Until)
		idx++
	}
	if !f.Before.IsZero() {
		where += fmt.Sprintf(` AND d.timestamp < $%d`, idx)
		args = append(args, f.Before)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM dose_log d`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := doseSelect + where + ` ORDER BY d.timestamp ASC, d.id`
	if f.Newest {
		query = doseSelect + where + ` ORDER BY d.timestamp DESC, d.id`
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DoseEvent
	for rows.Next() {
		e, err := r.scanDose(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *doseLogRepoPG) Update(ctx context.Context, id uuid.UUID, c Correction) (*DoseEvent, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE dose_log SET status = COALESCE($2, dose_log.status), timestamp = COALESCE($3, dose_log.timestamp)
		WHERE id = $1`, id, c.Status, c.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("update dose log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

package doselog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pillara/pillara/internal/platform/sqlitedb"
)

type doseLogRepoSQLite struct{ db *sql.DB }

func NewRepoSQLite(db *sql.DB) Repository {
	return &doseLogRepoSQLite{db: db}
}

func (r *doseLogRepoSQLite) conn(ctx context.Context) sqlitedb.Queryable {
	return sqlitedb.Conn(ctx, r.db)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *doseLogRepoSQLite) scanDose(row rowScanner) (*DoseEvent, error) {
	var (
		e           DoseEvent
		id, medID   string
		name        sql.NullString
		ts, created int64
	)
	err := row.Scan(&id, &e.UserID, &medID, &name, &e.Status, &ts, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse dose log id %q: %w", id, err)
	}
	if e.MedicationID, err = uuid.Parse(medID); err != nil {
		return nil, fmt.Errorf("parse medication id %q: %w", medID, err)
	}
	if name.Valid {
		e.MedicationName = &name.String
	}
	e.Timestamp = sqlitedb.FromUnix(ts)
	e.CreatedAt = sqlitedb.FromUnix(created)
	return &e, nil
}

func (r *doseLogRepoSQLite) Insert(ctx context.Context, e *DoseEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO dose_log (id, user_id, medication_id, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.UserID, e.MedicationID.String(), string(e.Status),
		sqlitedb.ToUnix(e.Timestamp), sqlitedb.ToUnix(e.CreatedAt))
	return err
}

func (r *doseLogRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*DoseEvent, error) {
	return r.scanDose(r.conn(ctx).QueryRowContext(ctx, doseSelect+` WHERE d.id = ?`, id.String()))
}

func (r *doseLogRepoSQLite) Find(ctx context.Context, f Filter) ([]*DoseEvent, int, error) {
	where := ` WHERE d.user_id = ?`
	args := []interface{}{f.UserID}
	if f.MedicationID != nil {
		where += ` AND d.medication_id = ?`
		args = append(args, f.MedicationID.String())
	}
	if !f.From.IsZero() {
		where += ` AND d.timestamp >= ?`
		args = append(args, sqlitedb.ToUnix(f.From))
	}
	if !f.Until.IsZero() {
		where += ` AND d.timestamp <= ?`
		args = append(args, sqlitedb.ToUnix(f.Until))
	}
	if !f.Before.IsZero() {
		where += ` AND d.timestamp < ?`
		args = append(args, sqlitedb.ToUnix(f.Before))
	}

	var total int
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM dose_log d`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := doseSelect + where + ` ORDER BY d.timestamp ASC, d.id`
	if f.Newest {
		query = doseSelect + where + ` ORDER BY d.timestamp DESC, d.id`
	}
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.conn(ctx).QueryContext(ctx, query, args...)
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

func (r *doseLogRepoSQLite) Update(ctx context.Context, id uuid.UUID, c Correction) (*DoseEvent, error) {
	var status, ts interface{}
	if c.Status != nil {
		status = string(*c.Status)
	}
	if c.Timestamp != nil {
		ts = sqlitedb.ToUnix(*c.Timestamp)
	}
	res, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE dose_log SET status = COALESCE(?2, status), timestamp = COALESCE(?3, timestamp)
		WHERE id = ?1`, id.String(), status, ts)
	if err != nil {
		return nil, fmt.Errorf("update dose log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

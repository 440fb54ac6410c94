package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clofast/clofast/internal/apperr"
	"github.com/clofast/clofast/internal/database"
)

const recordColumns = `id, profile_id, expression, timezone, args, enabled, next_run, last_run,
	last_status, run_count, version, created_at, updated_at`

// Store is the durable trigger store.
type Store struct {
	db  database.Querier
	now func() time.Time
}

// NewStore creates a new trigger store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: database.Now}
}

// WithTx returns a store whose statements run inside tx.
func (s *Store) WithTx(tx *database.Tx) *Store {
	return &Store{db: tx, now: s.now}
}

// Create inserts a new record. An existing id is a DuplicateID error.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version = 1

	args, err := encodeArgs(rec.Args)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.ProfileID,
		rec.Expression,
		rec.Timezone,
		args,
		rec.Enabled,
		nullTimePtr(rec.NextRun),
		nullTimePtr(rec.LastRun),
		rec.LastStatus,
		rec.RunCount,
		rec.Version,
		database.FormatTime(rec.CreatedAt),
		database.FormatTime(rec.UpdatedAt),
	)
	if err != nil {
		if database.IsUniqueError(err) {
			return apperr.New(apperr.KindDuplicateID, "scheduler.store.create",
				"trigger already exists").WithID(rec.ID)
		}
		return storeErr("scheduler.store.create", err)
	}

	return nil
}

// Put inserts rec or replaces the stored expression, timezone, arguments,
// enabled flag and next run. Run bookkeeping and created_at are kept.
// Concurrent writers for the same id are last-writer-wins; Version tells
// them apart afterwards.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	args, err := encodeArgs(rec.Args)
	if err != nil {
		return err
	}

	var createdAt string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO schedules (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, '', 0, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			profile_id = excluded.profile_id,
			expression = excluded.expression,
			timezone = excluded.timezone,
			args = excluded.args,
			enabled = excluded.enabled,
			next_run = excluded.next_run,
			version = schedules.version + 1,
			updated_at = excluded.updated_at
		RETURNING version, created_at
	`,
		rec.ID,
		rec.ProfileID,
		rec.Expression,
		rec.Timezone,
		args,
		rec.Enabled,
		nullTimePtr(rec.NextRun),
		database.FormatTime(rec.CreatedAt),
		database.FormatTime(rec.UpdatedAt),
	).Scan(&rec.Version, &createdAt)
	if err != nil {
		return storeErr("scheduler.store.put", err)
	}

	if t, parseErr := database.ParseTime(createdAt); parseErr == nil {
		rec.CreatedAt = t
	}
	return nil
}

// Get retrieves a record by trigger id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM schedules WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "scheduler.store.get", "no trigger record").WithID(id)
		}
		return nil, storeErr("scheduler.store.get", err)
	}
	return rec, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return storeErr("scheduler.store.delete", err)
	}
	return requireAffected(res, "scheduler.store.delete", id)
}

// List returns every record in creation order. Rows that cannot be decoded
// are logged and left out.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM schedules
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, storeErr("scheduler.store.list", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			var decodeErr *recordDecodeError
			if errors.As(err, &decodeErr) {
				log.Error().
					Err(decodeErr.err).
					Str("trigger_id", decodeErr.id).
					Msg("Skipping unreadable trigger record")
				continue
			}
			return nil, storeErr("scheduler.store.list", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("scheduler.store.list", err)
	}

	return records, nil
}

// UpdateRun records a dispatched occurrence: the fire time, the next fire
// time and, when non-empty, the status. A zero next clears next_run.
func (s *Store) UpdateRun(ctx context.Context, id string, next, last time.Time, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET next_run = ?,
			last_run = ?,
			last_status = CASE WHEN ? = '' THEN last_status ELSE ? END,
			run_count = run_count + 1,
			updated_at = ?
		WHERE id = ?
	`,
		database.NullTime(next),
		database.NullTime(last),
		status, status,
		database.FormatTime(s.now()),
		id,
	)
	if err != nil {
		return storeErr("scheduler.store.update_run", err)
	}
	return requireAffected(res, "scheduler.store.update_run", id)
}

// SetNextRun stores a recomputed next fire time without touching run
// bookkeeping.
func (s *Store) SetNextRun(ctx context.Context, id string, next time.Time) error {
	query, args := database.Update("schedules").
		Set("next_run", database.NullTime(next)).
		Set("updated_at", database.FormatTime(s.now())).
		Where("id", id).
		Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("scheduler.store.set_next_run", err)
	}
	return requireAffected(res, "scheduler.store.set_next_run", id)
}

// SetStatus stores the outcome of the most recent firing.
func (s *Store) SetStatus(ctx context.Context, id string, status FiringStatus) error {
	query, args := database.Update("schedules").
		Set("last_status", string(status)).
		Set("updated_at", database.FormatTime(s.now())).
		Where("id", id).
		Build()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storeErr("scheduler.store.set_status", err)
	}
	return nil
}

// SetEnabled pauses or resumes a record. A paused record has no next run.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool, next time.Time) error {
	query, args := database.Update("schedules").
		Set("enabled", enabled).
		Set("next_run", database.NullTime(next)).
		SetExpr("version", "version + 1").
		Set("updated_at", database.FormatTime(s.now())).
		Where("id", id).
		Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("scheduler.store.set_enabled", err)
	}
	return requireAffected(res, "scheduler.store.set_enabled", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// recordDecodeError marks a row that was read but holds values this
// version cannot interpret.
type recordDecodeError struct {
	id  string
	err error
}

func (e *recordDecodeError) Error() string {
	return fmt.Sprintf("decoding trigger record %s: %v", e.id, e.err)
}

func (e *recordDecodeError) Unwrap() error { return e.err }

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var args string
	var nextRun, lastRun sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&rec.ID,
		&rec.ProfileID,
		&rec.Expression,
		&rec.Timezone,
		&args,
		&rec.Enabled,
		&nextRun,
		&lastRun,
		&rec.LastStatus,
		&rec.RunCount,
		&rec.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	decode := func(err error) (*Record, error) {
		return nil, &recordDecodeError{id: rec.ID, err: err}
	}

	if err := json.Unmarshal([]byte(args), &rec.Args); err != nil {
		return decode(fmt.Errorf("unmarshaling args: %w", err))
	}

	var err error
	if rec.NextRun, err = parseTimePtr(nextRun); err != nil {
		return decode(fmt.Errorf("parsing next_run: %w", err))
	}
	if rec.LastRun, err = parseTimePtr(lastRun); err != nil {
		return decode(fmt.Errorf("parsing last_run: %w", err))
	}
	if rec.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return decode(fmt.Errorf("parsing created_at: %w", err))
	}
	if rec.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return decode(fmt.Errorf("parsing updated_at: %w", err))
	}

	return &rec, nil
}

func encodeArgs(args map[string]string) (string, error) {
	if args == nil {
		return "{}", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshaling args: %w", err)
	}
	return string(b), nil
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return database.NullTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := database.ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, op, "no trigger record").WithID(id)
	}
	return nil
}

func storeErr(op string, err error) error {
	return apperr.Wrap(apperr.KindStoreUnavailable, op, err)
}

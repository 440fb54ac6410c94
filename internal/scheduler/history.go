package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clofast/clofast/internal/database"
)

// HistoryStore persists one row per dispatched or skipped firing.
type HistoryStore struct {
	db *database.DB
}

func NewHistoryStore(db *database.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record inserts f.
func (h *HistoryStore) Record(ctx context.Context, f *Firing) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO firings (id, trigger_id, scheduled_at, started_at, finished_at, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID,
		f.TriggerID,
		database.FormatTime(f.ScheduledAt),
		database.FormatTime(f.StartedAt),
		nullTimePtr(f.FinishedAt),
		string(f.Status),
		f.Error,
		f.DurationMs,
	)
	if err != nil {
		return storeErr("scheduler.history.record", err)
	}
	return nil
}

// Finish stores the outcome of a firing previously passed to Record.
func (h *HistoryStore) Finish(ctx context.Context, f *Firing) error {
	query, args := database.Update("firings").
		Set("finished_at", nullTimePtr(f.FinishedAt)).
		Set("status", string(f.Status)).
		Set("error", f.Error).
		Set("duration_ms", f.DurationMs).
		Where("id", f.ID).
		Build()

	if _, err := h.db.ExecContext(ctx, query, args...); err != nil {
		return storeErr("scheduler.history.finish", err)
	}
	return nil
}

// ListByTrigger returns the most recent firings of a trigger, newest first.
func (h *HistoryStore) ListByTrigger(ctx context.Context, triggerID string, limit int) ([]*Firing, error) {
	if limit <= 0 {
		limit = 50
	}

	query, args := database.Select("firings",
		"id", "trigger_id", "scheduled_at", "started_at", "finished_at", "status", "error", "duration_ms").
		Where("trigger_id", triggerID).
		OrderBy("scheduled_at", database.SortDesc).
		OrderBy("started_at", database.SortDesc).
		Limit(limit).
		Build()

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("scheduler.history.list", err)
	}
	defer rows.Close()

	var firings []*Firing
	for rows.Next() {
		var f Firing
		var status, scheduledAt, startedAt string
		var finishedAt sql.NullString

		if err := rows.Scan(&f.ID, &f.TriggerID, &scheduledAt, &startedAt, &finishedAt,
			&status, &f.Error, &f.DurationMs); err != nil {
			return nil, storeErr("scheduler.history.list", fmt.Errorf("scanning firing: %w", err))
		}

		f.Status = FiringStatus(status)
		if f.ScheduledAt, err = database.ParseTime(scheduledAt); err != nil {
			return nil, storeErr("scheduler.history.list", err)
		}
		if f.StartedAt, err = database.ParseTime(startedAt); err != nil {
			return nil, storeErr("scheduler.history.list", err)
		}
		if f.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
			return nil, storeErr("scheduler.history.list", err)
		}
		firings = append(firings, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("scheduler.history.list", err)
	}

	return firings, nil
}

// Prune deletes finished firings that started before cutoff and returns
// how many were removed.
func (h *HistoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx, `
		DELETE FROM firings WHERE started_at < ? AND status != ?
	`, database.FormatTime(cutoff), string(FiringRunning))
	if err != nil {
		return 0, storeErr("scheduler.history.prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("scheduler.history.prune", err)
	}
	return n, nil
}

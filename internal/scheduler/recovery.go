package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clofast/clofast/internal/metrics"
)

// maxMissedCount bounds the walk over occurrences lost to downtime.
const maxMissedCount = 1000

// recoverTriggers loads every stored record into the pending set. Records
// whose expression no longer parses are logged and skipped. Occurrences
// that fell inside downtime are counted but not replayed; each trigger
// resumes at its first occurrence after now.
func (e *Engine) recoverTriggers(ctx context.Context) error {
	records, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading triggers from store: %w", err)
	}

	now := e.clock.Now()

	log.Info().
		Int("count", len(records)).
		Msg("Recovering triggers from store")

	var restored, skipped, missedTotal int
	var fixes []runUpdate

	for _, rec := range records {
		if !rec.Enabled {
			log.Debug().
				Str("trigger_id", rec.ID).
				Msg("Skipping disabled trigger during recovery")
			continue
		}

		next, err := e.Validate(rec, now)
		if err != nil {
			skipped++
			log.Error().
				Err(err).
				Str("trigger_id", rec.ID).
				Str("expression", rec.Expression).
				Msg("Skipping malformed trigger record")
			continue
		}

		if missed := e.countMissed(rec, now); missed > 0 {
			missedTotal += missed
			log.Info().
				Str("trigger_id", rec.ID).
				Int("missed_count", missed).
				Time("next_run", next).
				Msg("Detected missed firings during downtime, resuming at next occurrence")
		}

		e.mu.Lock()
		e.queue.Put(entryFor(rec, next))
		e.mu.Unlock()
		restored++

		if rec.NextRun == nil || !rec.NextRun.Equal(next) {
			fixes = append(fixes, runUpdate{id: rec.ID, next: next})
		}
	}

	for _, f := range fixes {
		if err := e.store.SetNextRun(ctx, f.id, f.next); err != nil {
			log.Error().
				Err(err).
				Str("trigger_id", f.id).
				Msg("Failed to update next_run during recovery")
		}
	}

	metrics.SetPendingTriggers(restored)
	metrics.AddMissedFirings(missedTotal)
	if restored > 0 {
		e.setState(StateWaiting)
	}

	log.Info().
		Int("restored", restored).
		Int("skipped", skipped).
		Int("missed", missedTotal).
		Msg("Trigger recovery complete")

	return nil
}

// countMissed returns how many occurrences of rec fell between its stored
// next run and now.
func (e *Engine) countMissed(rec *Record, now time.Time) int {
	if rec.NextRun == nil || rec.NextRun.After(now) {
		return 0
	}

	count := 0
	current := *rec.NextRun
	for !current.After(now) && count < maxMissedCount {
		count++
		next, err := e.parser.NextRun(rec.Expression, e.zone(rec.Timezone), current)
		if err != nil {
			break
		}
		current = next
	}
	return count
}

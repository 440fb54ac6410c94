package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/clofast/clofast/internal/apperr"
	"github.com/clofast/clofast/internal/metrics"
)

const historyWriteTimeout = 5 * time.Second

// Executor runs callbacks off the engine's wake loop, one goroutine per
// firing, with at most one running firing per trigger id. An occurrence
// that comes due while the previous one is still running is skipped.
type Executor struct {
	callback Callback
	history  *HistoryStore
	records  *Store
	clock    clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewExecutor creates an executor for callback. history may be nil.
func NewExecutor(callback Callback, history *HistoryStore) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		callback: callback,
		history:  history,
		clock:    clockwork.NewRealClock(),
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[string]struct{}),
	}
}

// Dispatch starts f and reports its initial status: running, skipped when
// the trigger already has a firing in progress, or "" after Shutdown.
// It never blocks on the callback.
func (e *Executor) Dispatch(f *Firing) FiringStatus {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		log.Debug().Str("trigger_id", f.TriggerID).Msg("Executor shut down, dropping firing")
		return ""
	}

	if _, busy := e.running[f.TriggerID]; busy {
		e.wg.Add(1)
		e.mu.Unlock()
		go e.skip(f)
		return FiringSkipped
	}

	e.running[f.TriggerID] = struct{}{}
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(f)
	return FiringRunning
}

// Running lists trigger ids with a callback in progress.
func (e *Executor) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown stops accepting firings and waits for in-flight callbacks until
// ctx is done. The callbacks' context is cancelled either way.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	defer e.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		remaining := e.Running()
		log.Warn().
			Strs("trigger_ids", remaining).
			Msg("Drain timeout reached, abandoning running callbacks")
		return fmt.Errorf("draining executor: %d callbacks still running: %w", len(remaining), ctx.Err())
	}
}

func (e *Executor) run(f *Firing) {
	defer e.wg.Done()
	defer e.release(f.TriggerID)

	metrics.FiringStarted()
	defer metrics.FiringFinished()

	f.StartedAt = e.clock.Now()
	f.Status = FiringRunning
	e.recordHistory(f, true)

	log.Debug().
		Str("trigger_id", f.TriggerID).
		Str("firing_id", f.ID).
		Time("scheduled_at", f.ScheduledAt).
		Msg("Running callback")

	err := e.invoke(f)

	finished := e.clock.Now()
	duration := finished.Sub(f.StartedAt)
	f.FinishedAt = &finished
	f.DurationMs = duration.Milliseconds()

	if err != nil {
		f.Status = FiringFailed
		f.Error = err.Error()
		log.Error().
			Err(err).
			Str("trigger_id", f.TriggerID).
			Str("firing_id", f.ID).
			Dur("duration", duration).
			Msg("Callback failed")
	} else {
		f.Status = FiringSucceeded
		log.Info().
			Str("trigger_id", f.TriggerID).
			Str("firing_id", f.ID).
			Dur("duration", duration).
			Msg("Callback completed")
	}

	metrics.RecordFiring(string(f.Status), duration)
	e.recordHistory(f, false)
	e.recordStatus(f)
}

// invoke calls the callback, converting errors and panics into
// CallbackFailure.
func (e *Executor) invoke(f *Firing) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.KindCallbackFailure, "scheduler.execute", "panic: %v", r).WithID(f.TriggerID)
		}
	}()

	if cbErr := e.callback(e.ctx, f.TriggerID, f.Args); cbErr != nil {
		return &apperr.Error{Kind: apperr.KindCallbackFailure, Op: "scheduler.execute", ID: f.TriggerID, Err: cbErr}
	}
	return nil
}

func (e *Executor) skip(f *Firing) {
	defer e.wg.Done()

	now := e.clock.Now()
	f.StartedAt = now
	f.FinishedAt = &now
	f.Status = FiringSkipped
	f.Error = "previous firing still running"

	log.Warn().
		Str("trigger_id", f.TriggerID).
		Time("scheduled_at", f.ScheduledAt).
		Msg("Skipping firing, previous run still in progress")

	metrics.RecordFiring(string(FiringSkipped), 0)
	e.recordHistory(f, true)
}

func (e *Executor) release(triggerID string) {
	e.mu.Lock()
	delete(e.running, triggerID)
	e.mu.Unlock()
}

func (e *Executor) recordHistory(f *Firing, insert bool) {
	if e.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	var err error
	if insert {
		err = e.history.Record(ctx, f)
	} else {
		err = e.history.Finish(ctx, f)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("trigger_id", f.TriggerID).
			Str("firing_id", f.ID).
			Msg("Failed to write firing history")
	}
}

func (e *Executor) recordStatus(f *Firing) {
	if e.records == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := e.records.SetStatus(ctx, f.TriggerID, f.Status); err != nil {
		log.Error().
			Err(err).
			Str("trigger_id", f.TriggerID).
			Msg("Failed to record firing status")
	}
}

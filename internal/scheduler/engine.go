// Package scheduler holds the scheduling core: the durable trigger store, the
// engine that keeps pending firings and wakes at the right instants, and the
// executor that runs callbacks off the wake loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/clofast/clofast/internal/apperr"
	"github.com/clofast/clofast/internal/metrics"
)

const persistTimeout = 5 * time.Second

// Engine keeps one pending firing per enabled trigger and dispatches each to
// the executor when its time comes.
type Engine struct {
	store    *Store
	executor *Executor
	parser   *CronParser
	clock    clockwork.Clock
	timezone string

	mu    sync.Mutex
	queue *pendingQueue
	wake  chan struct{}
	state atomic.Int32

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithTimezone sets the zone used for records that carry none.
func WithTimezone(tz string) Option {
	return func(e *Engine) {
		e.timezone = tz
	}
}

// NewEngine creates an engine over store that dispatches to executor.
func NewEngine(store *Store, executor *Executor, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		executor: executor,
		parser:   NewCronParser(),
		clock:    clockwork.NewRealClock(),
		timezone: "UTC",
		queue:    newPendingQueue(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	executor.clock = e.clock
	if executor.records == nil {
		executor.records = store
	}
	return e
}

// Start rebuilds the pending set from the store and starts the wake loop.
func (e *Engine) Start(ctx context.Context) error {
	var err error
	e.startOnce.Do(func() {
		if err = e.recoverTriggers(ctx); err != nil {
			return
		}

		loopCtx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.started.Store(true)
		go e.loop(loopCtx)

		log.Info().
			Int("pending", e.pendingLen()).
			Str("timezone", e.timezone).
			Msg("Scheduler started")
	})
	return err
}

// Stop ends the wake loop, so no further firings happen, then drains the
// executor until ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	var err error
	e.stopOnce.Do(func() {
		e.state.Store(int32(StateShutdown))
		if e.started.Load() {
			e.cancel()
			<-e.done
		}
		err = e.executor.Shutdown(ctx)
		log.Info().Msg("Scheduler stopped")
	})
	return err
}

// State reports the wake loop's current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Validate checks that rec's expression and timezone are usable and returns
// its first fire time after from.
func (e *Engine) Validate(rec *Record, from time.Time) (time.Time, error) {
	next, err := e.parser.NextRun(rec.Expression, e.zone(rec.Timezone), from)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.ID == "" && rec.ID != "" {
			ae.ID = rec.ID
		}
		return time.Time{}, err
	}
	return next, nil
}

// Now returns the engine's clock reading.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Add inserts an already persisted record into the pending set and returns
// its fire time. A future rec.NextRun is kept; otherwise the next
// occurrence from now is used. Disabled records are ignored.
func (e *Engine) Add(rec *Record) (time.Time, error) {
	if !rec.Enabled {
		e.Remove(rec.ID)
		return time.Time{}, nil
	}

	now := e.clock.Now()
	at := time.Time{}
	if rec.NextRun != nil && rec.NextRun.After(now) {
		if _, err := e.Validate(rec, now); err != nil {
			return time.Time{}, err
		}
		at = *rec.NextRun
	} else {
		next, err := e.Validate(rec, now)
		if err != nil {
			return time.Time{}, err
		}
		at = next
	}

	e.put(entryFor(rec, at))
	return at, nil
}

// Remove cancels the pending firing for id and returns it, or nil when
// there was none. Once Remove returns, that firing will not be dispatched.
func (e *Engine) Remove(id string) *Entry {
	e.mu.Lock()
	removed := e.queue.Remove(id)
	n := e.queue.Len()
	e.mu.Unlock()

	if removed != nil {
		metrics.SetPendingTriggers(n)
		e.signal()
	}
	return removed
}

// Restore puts back an entry returned by Remove.
func (e *Engine) Restore(entry *Entry) {
	if entry == nil {
		return
	}
	e.put(entry)
}

// Register validates rec, stores it and schedules it.
func (e *Engine) Register(ctx context.Context, rec *Record) error {
	next, err := e.Validate(rec, e.clock.Now())
	if err != nil {
		return err
	}
	if rec.Enabled {
		rec.NextRun = &next
	} else {
		rec.NextRun = nil
	}

	if err := e.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("storing trigger %s: %w", rec.ID, err)
	}

	if _, err := e.Add(rec); err != nil {
		return err
	}
	return nil
}

// Unregister cancels and deletes a trigger. If the delete fails the pending
// firing is put back.
func (e *Engine) Unregister(ctx context.Context, id string) error {
	entry := e.Remove(id)
	if err := e.store.Delete(ctx, id); err != nil {
		e.Restore(entry)
		return err
	}
	return nil
}

// NextRun returns the pending fire time for id.
func (e *Engine) NextRun(id string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.queue.Get(id)
	if entry == nil {
		return time.Time{}, false
	}
	return entry.At, true
}

// Pending lists the pending firings in fire-time order.
func (e *Engine) Pending() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Snapshot()
}

func (e *Engine) zone(tz string) string {
	if tz == "" {
		return e.timezone
	}
	return tz
}

func (e *Engine) put(entry *Entry) {
	e.mu.Lock()
	e.queue.Put(entry)
	n := e.queue.Len()
	e.mu.Unlock()

	metrics.SetPendingTriggers(n)
	e.signal()
}

func (e *Engine) pendingLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// signal wakes the loop without blocking; one buffered wake is enough.
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) setState(s State) {
	for {
		cur := e.state.Load()
		if State(cur) == StateShutdown {
			return
		}
		if e.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	for {
		e.mu.Lock()
		head := e.queue.Peek()
		var at time.Time
		if head != nil {
			at = head.At
		}
		e.mu.Unlock()

		if head == nil {
			e.setState(StateIdle)
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
				continue
			}
		}

		if d := at.Sub(e.clock.Now()); d > 0 {
			e.setState(StateWaiting)
			timer := e.clock.NewTimer(d)
			// The clock may have moved between reading it and arming the
			// timer, leaving the deadline late.
			if !e.clock.Now().Before(at) {
				timer.Stop()
			} else {
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-e.wake:
					timer.Stop()
					continue
				case <-timer.Chan():
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		e.fireDue(ctx)
	}
}

type runUpdate struct {
	id     string
	next   time.Time
	last   time.Time
	status FiringStatus
}

// fireDue dispatches every entry whose time has come and reschedules it.
// Dispatch happens under the queue lock so that a concurrent Remove either
// wins outright or observes the firing as already started.
func (e *Engine) fireDue(ctx context.Context) {
	e.setState(StateFiring)
	now := e.clock.Now()

	var updates []runUpdate

	e.mu.Lock()
	for _, entry := range e.queue.PopDue(now) {
		firing := &Firing{
			ID:          uuid.NewString(),
			TriggerID:   entry.TriggerID,
			Args:        entry.Args,
			ScheduledAt: entry.At,
		}
		status := e.executor.Dispatch(firing)
		if status == "" {
			// Executor is shutting down; leave the entry for a restart.
			e.queue.Put(entry)
			continue
		}

		u := runUpdate{id: entry.TriggerID, last: entry.At}
		if status == FiringSkipped {
			u.status = FiringSkipped
		}

		next, err := e.parser.NextRun(entry.Expression, e.zone(entry.Timezone), now)
		if err != nil {
			log.Error().
				Err(err).
				Str("trigger_id", entry.TriggerID).
				Str("expression", entry.Expression).
				Msg("Cannot compute next firing, trigger removed from schedule")
		} else {
			u.next = next
			entry.At = next
			e.queue.Put(entry)
		}
		updates = append(updates, u)
	}
	n := e.queue.Len()
	e.mu.Unlock()

	metrics.SetPendingTriggers(n)
	e.setState(StateWaiting)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	for _, u := range updates {
		if err := e.store.UpdateRun(persistCtx, u.id, u.next, u.last, string(u.status)); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				log.Debug().Str("trigger_id", u.id).Msg("Trigger deleted before run was recorded")
				continue
			}
			log.Error().Err(err).Str("trigger_id", u.id).Msg("Failed to record trigger run")
			continue
		}
		log.Debug().
			Str("trigger_id", u.id).
			Time("next_run", u.next).
			Msg("Trigger rescheduled")
	}
}

func entryFor(rec *Record, at time.Time) *Entry {
	return &Entry{
		TriggerID:  rec.ID,
		ProfileID:  rec.ProfileID,
		Expression: rec.Expression,
		Timezone:   rec.Timezone,
		Args:       rec.Args,
		At:         at,
	}
}

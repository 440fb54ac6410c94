package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/clofast/clofast/internal/apperr"
	"github.com/clofast/clofast/internal/database"
)

var testStart = time.Date(2025, 2, 28, 14, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	calls map[string]int
	ch    chan string
	fail  map[string]bool
	block map[string]chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		calls: make(map[string]int),
		ch:    make(chan string, 64),
		fail:  make(map[string]bool),
		block: make(map[string]chan struct{}),
	}
}

func (r *recorder) callback(_ context.Context, triggerID string, _ map[string]string) error {
	r.mu.Lock()
	r.calls[triggerID]++
	fail := r.fail[triggerID]
	block := r.block[triggerID]
	r.mu.Unlock()

	r.ch <- triggerID
	if block != nil {
		<-block
	}
	if fail {
		panic("processing exploded")
	}
	return nil
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func (r *recorder) expect(t *testing.T, ids ...string) {
	t.Helper()

	want := make(map[string]int)
	for _, id := range ids {
		want[id]++
	}
	got := make(map[string]int)
	for range ids {
		select {
		case id := <-r.ch:
			got[id]++
		case <-time.After(5 * time.Second):
			t.Fatalf("expected firings %v, got %v", want, got)
		}
	}
	require.Equal(t, want, got)
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()

	select {
	case id := <-r.ch:
		t.Fatalf("unexpected firing of %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

type harness struct {
	db      *database.DB
	store   *Store
	history *HistoryStore
	clock   *clockwork.FakeClock
	rec     *recorder
	engine  *Engine
}

func newHarness(t *testing.T, db *database.DB, at time.Time) *harness {
	t.Helper()

	h := &harness{
		db:      db,
		store:   NewStore(db),
		history: NewHistoryStore(db),
		clock:   clockwork.NewFakeClockAt(at),
		rec:     newRecorder(),
	}
	h.engine = NewEngine(h.store, NewExecutor(h.rec.callback, h.history), WithClock(h.clock))
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	require.NoError(t, h.engine.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.engine.Stop(ctx)
	})
}

// advanceTo moves the fake clock once the loop has armed its timer.
func (h *harness) advanceTo(t *testing.T, at time.Time) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(at.Sub(h.clock.Now()))
}

func TestEngine_FiresAtScheduledTime(t *testing.T) {
	h := newHarness(t, testDB(t), testStart)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Register(ctx, testRecord("p1", "30 14 * * *")))

	next, ok := h.engine.NextRun("p1")
	require.True(t, ok)
	require.Equal(t, testStart.Add(30*time.Minute), next)

	h.advanceTo(t, testStart.Add(30*time.Minute))
	h.rec.expect(t, "p1")

	tomorrow := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	require.Eventually(t, func() bool {
		at, ok := h.engine.NextRun("p1")
		return ok && at.Equal(tomorrow)
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		rec, err := h.store.Get(ctx, "p1")
		return err == nil && rec.RunCount == 1 && rec.NextRun != nil && rec.NextRun.Equal(tomorrow) &&
			rec.LastStatus == string(FiringSucceeded)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_StateTransitions(t *testing.T) {
	h := newHarness(t, testDB(t), testStart)
	require.Equal(t, StateIdle, h.engine.State())

	h.start(t)
	require.NoError(t, h.engine.Register(context.Background(), testRecord("p1", "30 14 * * *")))
	require.Eventually(t, func() bool { return h.engine.State() == StateWaiting }, 5*time.Second, 10*time.Millisecond)

	h.engine.Remove("p1")
	require.Eventually(t, func() bool { return h.engine.State() == StateIdle }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.engine.Stop(context.Background()))
	require.Equal(t, StateShutdown, h.engine.State())
}

func TestEngine_EarlierTriggerWakesLoop(t *testing.T) {
	h := newHarness(t, testDB(t), testStart)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Register(ctx, testRecord("late", "0 16 * * *")))
	require.Eventually(t, func() bool { return h.engine.State() == StateWaiting }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.engine.Register(ctx, testRecord("early", "5 14 * * *")))

	pending := h.engine.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, "early", pending[0].TriggerID)
	require.Equal(t, "late", pending[1].TriggerID)

	h.advanceTo(t, testStart.Add(5*time.Minute))
	h.rec.expect(t, "early")
	h.rec.expectNone(t)
	require.Equal(t, 0, h.rec.count("late"))
}

func TestEngine_RemoveCancelsPendingFiring(t *testing.T) {
	h := newHarness(t, testDB(t), testStart)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Register(ctx, testRecord("keep", "1 14 * * *")))
	require.NoError(t, h.engine.Register(ctx, testRecord("drop", "1 14 * * *")))

	require.NoError(t, h.engine.Unregister(ctx, "drop"))
	_, ok := h.engine.NextRun("drop")
	require.False(t, ok)

	_, err := h.store.Get(ctx, "drop")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	h.advanceTo(t, testStart.Add(time.Minute))
	h.rec.expect(t, "keep")
	h.rec.expectNone(t)
}

func TestEngine_UnregisterRestoresOnStoreFailure(t *testing.T) {
	db := testDB(t)
	h := newHarness(t, db, testStart)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Register(ctx, testRecord("p1", "30 14 * * *")))
	require.NoError(t, db.Close())

	err := h.engine.Unregister(ctx, "p1")
	require.ErrorIs(t, err, apperr.ErrStoreUnavailable)

	at, ok := h.engine.NextRun("p1")
	require.True(t, ok)
	require.Equal(t, testStart.Add(30*time.Minute), at)
}

func TestEngine_CallbackFailureDoesNotAffectOthers(t *testing.T) {
	h := newHarness(t, testDB(t), testStart)
	h.rec.fail["bad"] = true
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Register(ctx, testRecord("bad", "* * * * *")))
	require.NoError(t, h.engine.Register(ctx, testRecord("good", "* * * * *")))

	h.advanceTo(t, testStart.Add(time.Minute))
	h.rec.expect(t, "bad", "good")

	// The failing trigger stays scheduled.
	h.advanceTo(t, testStart.Add(2*time.Minute))
	h.rec.expect(t, "bad", "good")

	require.Eventually(t, func() bool {
		firings, err := h.history.ListByTrigger(ctx, "bad", 10)
		if err != nil || len(firings) != 2 {
			return false
		}
		for _, f := range firings {
			if f.Status != FiringFailed {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	at, ok := h.engine.NextRun("bad")
	require.True(t, ok)
	require.Equal(t, testStart.Add(3*time.Minute), at)
}

func TestEngine_SkipsOverlappingFiring(t *testing.T) {
	h := newHarness(t, testDB(t), testStart)
	release := make(chan struct{})
	h.rec.block["slow"] = release
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Register(ctx, testRecord("slow", "* * * * *")))

	h.advanceTo(t, testStart.Add(time.Minute))
	h.rec.expect(t, "slow")

	h.advanceTo(t, testStart.Add(2*time.Minute))
	require.Eventually(t, func() bool {
		firings, err := h.history.ListByTrigger(ctx, "slow", 10)
		if err != nil {
			return false
		}
		for _, f := range firings {
			if f.Status == FiringSkipped {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	close(release)
	require.Equal(t, 1, h.rec.count("slow"))

	at, ok := h.engine.NextRun("slow")
	require.True(t, ok)
	require.Equal(t, testStart.Add(3*time.Minute), at)
}

func TestEngine_RegisterRejectsInvalidTrigger(t *testing.T) {
	h := newHarness(t, testDB(t), testStart)
	h.start(t)
	ctx := context.Background()

	for _, expr := range []string{"61 * * * *", "0 9 30 2 *", "every day", "0 9 * * 7"} {
		err := h.engine.Register(ctx, testRecord("bad", expr))
		require.ErrorIs(t, err, apperr.ErrInvalidTrigger, expr)
	}

	_, err := h.store.Get(ctx, "bad")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.Empty(t, h.engine.Pending())

	rec := testRecord("tz", "* * * * *")
	rec.Timezone = "Mars/Olympus"
	require.ErrorIs(t, h.engine.Register(ctx, rec), apperr.ErrInvalidTrigger)
}

func TestEngine_RecoveryRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	before := newHarness(t, db, testStart)
	before.start(t)
	require.NoError(t, before.engine.Register(ctx, testRecord("weekly", "30 14 * * 4")))
	rec := testRecord("offset", "0 9 * * *")
	rec.Timezone = "+05:30"
	require.NoError(t, before.engine.Register(ctx, rec))

	want := before.engine.Pending()
	require.NoError(t, before.engine.Stop(ctx))

	after := newHarness(t, db, testStart)
	after.start(t)

	got := after.engine.Pending()
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].TriggerID, got[i].TriggerID)
		require.Equal(t, want[i].Expression, got[i].Expression)
		require.Equal(t, want[i].Timezone, got[i].Timezone)
		require.True(t, want[i].At.Equal(got[i].At), "%s: %s != %s", want[i].TriggerID, want[i].At, got[i].At)
	}
	require.Equal(t, StateWaiting, after.engine.State())
}

func TestEngine_RecoveryDoesNotBackfill(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	before := newHarness(t, db, testStart)
	before.start(t)
	require.NoError(t, before.engine.Register(ctx, testRecord("daily", "30 14 * * *")))
	require.NoError(t, before.engine.Stop(ctx))

	// Down for ten days.
	restart := testStart.Add(10 * 24 * time.Hour)
	after := newHarness(t, db, restart)
	after.start(t)

	at, ok := after.engine.NextRun("daily")
	require.True(t, ok)
	require.Equal(t, restart.Add(30*time.Minute), at)
	after.rec.expectNone(t)

	stored, err := after.store.Get(ctx, "daily")
	require.NoError(t, err)
	require.True(t, stored.NextRun.Equal(at))
	require.Equal(t, 0, stored.RunCount)
	require.Equal(t, 10, after.engine.countMissed(&Record{
		Expression: "30 14 * * *",
		NextRun:    ptr(testStart.Add(30 * time.Minute)),
	}, restart))
}

func TestEngine_RecoverySkipsMalformedAndDisabled(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testRecord("good", "30 14 * * *")))
	require.NoError(t, store.Put(ctx, testRecord("corrupt", "this is not cron")))
	require.NoError(t, store.Put(ctx, testRecord("never", "0 0 31 2 *")))
	paused := testRecord("paused", "* * * * *")
	paused.Enabled = false
	require.NoError(t, store.Put(ctx, paused))

	h := newHarness(t, db, testStart)
	h.start(t)

	pending := h.engine.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "good", pending[0].TriggerID)

	// Skipped records stay in the store untouched.
	_, err := store.Get(ctx, "corrupt")
	require.NoError(t, err)
}

func TestEngine_AddKeepsFutureNextRun(t *testing.T) {
	h := newHarness(t, testDB(t), testStart)

	rec := testRecord("p1", "30 14 * * *")
	future := testStart.Add(48*time.Hour + 30*time.Minute)
	rec.NextRun = &future

	at, err := h.engine.Add(rec)
	require.NoError(t, err)
	require.Equal(t, future, at)

	rec.NextRun = ptr(testStart.Add(-time.Hour))
	at, err = h.engine.Add(rec)
	require.NoError(t, err)
	require.Equal(t, testStart.Add(30*time.Minute), at)
	require.Len(t, h.engine.Pending(), 1)

	rec.Enabled = false
	at, err = h.engine.Add(rec)
	require.NoError(t, err)
	require.True(t, at.IsZero())
	require.Empty(t, h.engine.Pending())
}

func TestEngine_StopHaltsFirings(t *testing.T) {
	h := newHarness(t, testDB(t), testStart)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Register(ctx, testRecord("p1", "* * * * *")))
	require.NoError(t, h.engine.Stop(ctx))

	h.clock.Advance(10 * time.Minute)
	h.rec.expectNone(t)
	require.Equal(t, StateShutdown, h.engine.State())
}

func ptr[T any](v T) *T {
	return &v
}

package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clofast/clofast/internal/apperr"
	"github.com/clofast/clofast/internal/config"
	"github.com/clofast/clofast/internal/database"
)

// testDB creates a migrated database in a temp dir.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testRecord(id, expression string) *Record {
	return &Record{
		ID:         id,
		ProfileID:  id,
		Expression: expression,
		Timezone:   "UTC",
		Args:       map[string]string{"profile_id": id},
		Enabled:    true,
	}
}

func TestStore_PutAndGet(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	next := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	rec := testRecord("p1", "30 14 * * *")
	rec.NextRun = &next

	require.NoError(t, store.Put(ctx, rec))
	require.Equal(t, int64(1), rec.Version)

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "30 14 * * *", got.Expression)
	require.Equal(t, "UTC", got.Timezone)
	require.Equal(t, map[string]string{"profile_id": "p1"}, got.Args)
	require.True(t, got.Enabled)
	require.NotNil(t, got.NextRun)
	require.True(t, got.NextRun.Equal(next))
	require.Nil(t, got.LastRun)
	require.Equal(t, 0, got.RunCount)
	require.False(t, got.CreatedAt.IsZero())
}

func TestStore_PutUpsertsAndBumpsVersion(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	rec := testRecord("p1", "30 14 * * *")
	require.NoError(t, store.Put(ctx, rec))
	created := rec.CreatedAt

	require.NoError(t, store.UpdateRun(ctx, "p1", time.Now().Add(time.Hour), time.Now(), ""))

	update := testRecord("p1", "0 9 15 * *")
	update.Enabled = false
	require.NoError(t, store.Put(ctx, update))
	require.Equal(t, int64(2), update.Version)
	require.True(t, update.CreatedAt.Equal(created))

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "0 9 15 * *", got.Expression)
	require.False(t, got.Enabled)
	require.Equal(t, int64(2), got.Version)
	require.Equal(t, 1, got.RunCount, "run bookkeeping survives an upsert")
	require.NotNil(t, got.LastRun)
}

func TestStore_CreateDuplicate(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testRecord("p1", "* * * * *")))

	err := store.Create(ctx, testRecord("p1", "0 * * * *"))
	require.ErrorIs(t, err, apperr.ErrDuplicateID)
}

func TestStore_NotFound(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.ErrorIs(t, store.Delete(ctx, "missing"), apperr.ErrNotFound)
	require.ErrorIs(t, store.UpdateRun(ctx, "missing", time.Now(), time.Now(), ""), apperr.ErrNotFound)
	require.ErrorIs(t, store.SetNextRun(ctx, "missing", time.Now()), apperr.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testRecord("p1", "* * * * *")))
	require.NoError(t, store.Delete(ctx, "p1"))

	_, err := store.Get(ctx, "p1")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStore_ListSkipsUnreadableRows(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testRecord("a", "* * * * *")))
	_, err := db.ExecContext(ctx, `
		INSERT INTO schedules (id, profile_id, expression, args, created_at, updated_at)
		VALUES ('broken', 'broken', '* * * * *', 'not json', '2025-01-01T00:00:00.000000Z', '2025-01-01T00:00:00.000000Z')
	`)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, testRecord("b", "0 * * * *")))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a", records[0].ID)
	require.Equal(t, "b", records[1].ID)
}

func TestStore_UpdateRun(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testRecord("p1", "* * * * *")))

	last := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	next := last.Add(time.Minute)
	require.NoError(t, store.UpdateRun(ctx, "p1", next, last, string(FiringSkipped)))
	require.NoError(t, store.UpdateRun(ctx, "p1", next.Add(time.Minute), next, ""))

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, got.RunCount)
	require.True(t, got.LastRun.Equal(next))
	require.True(t, got.NextRun.Equal(next.Add(time.Minute)))
	require.Equal(t, string(FiringSkipped), got.LastStatus, "empty status keeps the previous one")
	require.Equal(t, int64(1), got.Version, "bookkeeping does not bump the version")

	require.NoError(t, store.SetStatus(ctx, "p1", FiringSucceeded))
	got, err = store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, string(FiringSucceeded), got.LastStatus)
}

func TestStore_SetEnabled(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testRecord("p1", "* * * * *")))
	require.NoError(t, store.SetEnabled(ctx, "p1", false, time.Time{}))

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.False(t, got.Enabled)
	require.Nil(t, got.NextRun)
	require.Equal(t, int64(2), got.Version)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *database.Tx) error {
		if err := store.WithTx(tx).Create(ctx, testRecord("p1", "* * * * *")); err != nil {
			return err
		}
		return apperr.New(apperr.KindStoreUnavailable, "test", "forced rollback")
	})
	require.ErrorIs(t, err, apperr.ErrStoreUnavailable)

	_, err = store.Get(ctx, "p1")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStore_ClosedDatabaseIsUnavailable(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	require.NoError(t, db.Close())

	_, err := store.Get(context.Background(), "p1")
	require.ErrorIs(t, err, apperr.ErrStoreUnavailable)

	_, err = NewHistoryStore(db).Prune(context.Background(), time.Now())
	require.ErrorIs(t, err, apperr.ErrStoreUnavailable)
}

func TestHistoryStore(t *testing.T) {
	db := testDB(t)
	history := NewHistoryStore(db)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		f := &Firing{
			ID:          "f" + string(rune('a'+i)),
			TriggerID:   "p1",
			ScheduledAt: base.Add(time.Duration(i) * time.Hour),
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			Status:      FiringRunning,
		}
		require.NoError(t, history.Record(ctx, f))

		finished := f.StartedAt.Add(2 * time.Second)
		f.FinishedAt = &finished
		f.Status = FiringSucceeded
		f.DurationMs = 2000
		require.NoError(t, history.Finish(ctx, f))
	}
	require.NoError(t, history.Record(ctx, &Firing{
		ID: "other", TriggerID: "p2", ScheduledAt: base, StartedAt: base, Status: FiringSkipped,
	}))

	firings, err := history.ListByTrigger(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, firings, 2)
	require.Equal(t, "fc", firings[0].ID)
	require.Equal(t, FiringSucceeded, firings[0].Status)
	require.Equal(t, int64(2000), firings[0].DurationMs)
	require.NotNil(t, firings[0].FinishedAt)

	removed, err := history.Prune(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)

	firings, err = history.ListByTrigger(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	require.Equal(t, "fc", firings[0].ID)
}

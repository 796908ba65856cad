package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tymr/domain"
	"tymr/materialize"
	"tymr/storage"
)

type capturedFrame struct {
	userID string
	msg    domain.Message
}

type fakePublisher struct {
	frames []capturedFrame
}

func (f *fakePublisher) Publish(ctx context.Context, userID string, msg domain.Message) {
	f.frames = append(f.frames, capturedFrame{userID: userID, msg: msg})
}

type fakeCache struct {
	evicted []string
}

func (f *fakeCache) Evict(ctx context.Context, userID string) {
	f.evicted = append(f.evicted, userID)
}

type workerFixture struct {
	store *storage.Store
	pub   *fakePublisher
	cache *fakeCache
	w     *Worker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "tymr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	pub := &fakePublisher{}
	cache := &fakeCache{}
	now := func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	mat := materialize.New(s, materialize.Config{Window: 5 * 24 * time.Hour, Now: now})
	return &workerFixture{store: s, pub: pub, cache: cache, w: New(s, mat, nil, pub, cache)}
}

func (f *workerFixture) seedAnchor(t *testing.T, rule string) (domain.Task, string) {
	t.Helper()
	ctx := context.Background()
	series, err := f.store.CreateSeries(ctx, rule)
	require.NoError(t, err)
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	cd := domain.DateOf(start)
	task := domain.Task{
		UserID:     "u1",
		Title:      "standup",
		Status:     domain.StatusOnBoard,
		ColumnDate: &cd,
		StartAt:    &start,
		SeriesID:   &series.ID,
	}
	task.NormalizeSpan()
	require.NoError(t, f.store.CreateTask(ctx, &task))
	return task, series.ID
}

func TestProcessRebuildsWindowAndPublishesDiff(t *testing.T) {
	f := newWorkerFixture(t)
	anchor, seriesID := f.seedAnchor(t, "FREQ=DAILY")
	ctx := context.Background()

	// Stale forward rows left behind by an earlier rule.
	stale, _, err := f.store.CreateOccurrence(ctx, anchor, time.Date(2025, 3, 13, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, f.w.Process(ctx, domain.RegenJob{OccurrenceID: anchor.ID, UserID: "u1"}))

	_, err = f.store.GetTaskByID(ctx, stale.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	n, err := f.store.CountFutureOccurrences(ctx, seriesID, *anchor.ColumnDate)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.Len(t, f.pub.frames, 1)
	frame := f.pub.frames[0]
	require.Equal(t, "u1", frame.userID)
	require.Equal(t, domain.MsgRecRefresh, frame.msg.Type)
	require.Contains(t, frame.msg.Deleted, stale.ID)
	require.Len(t, frame.msg.Created, 5)
	require.Equal(t, []string{"u1"}, f.cache.evicted)
}

func TestProcessConvergesOnRerun(t *testing.T) {
	f := newWorkerFixture(t)
	anchor, seriesID := f.seedAnchor(t, "FREQ=DAILY")
	ctx := context.Background()
	job := domain.RegenJob{OccurrenceID: anchor.ID, UserID: "u1"}

	require.NoError(t, f.w.Process(ctx, job))
	require.NoError(t, f.w.Process(ctx, job))

	n, err := f.store.CountFutureOccurrences(ctx, seriesID, *anchor.ColumnDate)
	require.NoError(t, err)
	require.Equal(t, 5, n, "redelivered job must not widen the window")
}

func TestProcessMissingOccurrenceIsNoOp(t *testing.T) {
	f := newWorkerFixture(t)
	err := f.w.Process(context.Background(), domain.RegenJob{OccurrenceID: "gone", UserID: "u1"})
	require.NoError(t, err)
	require.Empty(t, f.pub.frames)
}

func TestProcessDetachedOccurrenceIsNoOp(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	task := domain.Task{UserID: "u1", Title: "one-off"}
	require.NoError(t, f.store.CreateTask(ctx, &task))

	require.NoError(t, f.w.Process(ctx, domain.RegenJob{OccurrenceID: task.ID, UserID: "u1"}))
	require.Empty(t, f.pub.frames)
}

func TestProcessBadRuleKeepsDeletesCommitted(t *testing.T) {
	f := newWorkerFixture(t)
	anchor, seriesID := f.seedAnchor(t, "FREQ=DAILY")
	ctx := context.Background()

	stale, _, err := f.store.CreateOccurrence(ctx, anchor, time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	// Corrupt the rule after the stale row exists.
	require.NoError(t, f.store.SetSeriesRule(ctx, seriesID, "FREQ=NEVER"))

	require.NoError(t, f.w.Process(ctx, domain.RegenJob{OccurrenceID: anchor.ID, UserID: "u1"}))

	_, err = f.store.GetTaskByID(ctx, stale.ID)
	require.ErrorIs(t, err, storage.ErrNotFound, "prune must commit even when expansion fails")
	n, err := f.store.CountFutureOccurrences(ctx, seriesID, *anchor.ColumnDate)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestSweepSeriesWorksWithoutQueue(t *testing.T) {
	f := newWorkerFixture(t)
	anchor, seriesID := f.seedAnchor(t, "FREQ=DAILY")
	ctx := context.Background()

	require.NoError(t, f.w.SweepSeries(ctx))

	n, err := f.store.CountFutureOccurrences(ctx, seriesID, *anchor.ColumnDate)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// A second sweep finds the window already full.
	f.pub.frames = nil
	require.NoError(t, f.w.SweepSeries(ctx))
	require.Empty(t, f.pub.frames)
}

package propagate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tymr/domain"
	"tymr/recurrence"
	"tymr/storage"
)

type fakeQueue struct {
	jobs    []domain.RegenJob
	failure error
}

func (f *fakeQueue) Enqueue(ctx context.Context, job domain.RegenJob) error {
	if f.failure != nil {
		return f.failure
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakePublisher struct {
	messages []domain.Message
	users    []string
}

func (f *fakePublisher) Publish(ctx context.Context, userID string, msg domain.Message) {
	f.users = append(f.users, userID)
	f.messages = append(f.messages, msg)
}

type fixture struct {
	store *storage.Store
	queue *fakeQueue
	pub   *fakePublisher
	prop  *Propagator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "tymr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	q := &fakeQueue{}
	pub := &fakePublisher{}
	return &fixture{store: s, queue: q, pub: pub, prop: New(s, q, pub)}
}

// seedSeriesTasks creates n daily occurrences starting 2025-03-10 09:00 UTC.
func (f *fixture) seedSeriesTasks(t *testing.T, n int) (string, []domain.Task) {
	t.Helper()
	ctx := context.Background()
	series, err := f.store.CreateSeries(ctx, "FREQ=DAILY")
	require.NoError(t, err)
	tasks := make([]domain.Task, 0, n)
	for i := 0; i < n; i++ {
		start := time.Date(2025, 3, 10+i, 9, 0, 0, 0, time.UTC)
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
		tasks = append(tasks, task)
	}
	return series.ID, tasks
}

func strPtr(s string) *string { return &s }

func TestSingleScopeLeavesSiblingsAlone(t *testing.T) {
	f := newFixture(t)
	_, tasks := f.seedSeriesTasks(t, 3)
	ctx := context.Background()

	got, err := f.prop.ApplyEdit(ctx, "u1", tasks[1].ID, TaskChanges{Title: strPtr("renamed")}, domain.ScopeSingle)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Title)

	for _, other := range []domain.Task{tasks[0], tasks[2]} {
		sib, err := f.store.GetTaskByID(ctx, other.ID)
		require.NoError(t, err)
		require.Equal(t, "standup", sib.Title)
	}
	require.Empty(t, f.queue.jobs, "single scope never touches the queue")
}

func TestFutureScopeEnqueuesRegeneration(t *testing.T) {
	f := newFixture(t)
	_, tasks := f.seedSeriesTasks(t, 3)

	_, err := f.prop.ApplyEdit(context.Background(), "u1", tasks[1].ID,
		TaskChanges{Title: strPtr("renamed")}, domain.ScopeFuture)
	require.NoError(t, err)

	require.Len(t, f.queue.jobs, 1)
	require.Equal(t, tasks[1].ID, f.queue.jobs[0].OccurrenceID)
	require.Equal(t, "u1", f.queue.jobs[0].UserID)
}

func TestAllScopeRewritesPastKeepingDates(t *testing.T) {
	f := newFixture(t)
	_, tasks := f.seedSeriesTasks(t, 3)
	ctx := context.Background()

	newStart := time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC)
	_, err := f.prop.ApplyEdit(ctx, "u1", tasks[2].ID,
		TaskChanges{Title: strPtr("retro"), StartAt: &newStart}, domain.ScopeAll)
	require.NoError(t, err)

	for i, orig := range tasks[:2] {
		sib, err := f.store.GetTaskByID(ctx, orig.ID)
		require.NoError(t, err)
		require.Equal(t, "retro", sib.Title)
		require.Equal(t, *orig.ColumnDate, *sib.ColumnDate, "sibling %d must keep its date", i)
		require.Equal(t, 14, sib.StartAt.Hour())
		require.Equal(t, 30, sib.StartAt.Minute())
		require.Equal(t, orig.StartAt.Day(), sib.StartAt.Day())
	}
	require.Len(t, f.queue.jobs, 1)
	require.NotEmpty(t, f.pub.messages)
	require.Equal(t, domain.MsgRecRefresh, f.pub.messages[0].Type)
	require.Len(t, f.pub.messages[0].Created, 2)
}

func TestQueueOutageDoesNotFailTheEdit(t *testing.T) {
	f := newFixture(t)
	_, tasks := f.seedSeriesTasks(t, 2)
	f.queue.failure = errors.New("queue down")

	got, err := f.prop.ApplyEdit(context.Background(), "u1", tasks[0].ID,
		TaskChanges{Title: strPtr("still works")}, domain.ScopeFuture)
	require.NoError(t, err)
	require.Equal(t, "still works", got.Title)
}

func TestRuleAttachStartsSeries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := domain.Task{UserID: "u1", Title: "water plants"}
	require.NoError(t, f.store.CreateTask(ctx, &task))

	got, err := f.prop.ApplyEdit(ctx, "u1", task.ID,
		TaskChanges{Rule: strPtr("FREQ=WEEKLY;BYDAY=MO")}, domain.ScopeSingle)
	require.NoError(t, err)
	require.NotNil(t, got.SeriesID)

	series, err := f.store.GetSeries(ctx, *got.SeriesID)
	require.NoError(t, err)
	require.Equal(t, "FREQ=WEEKLY;BYDAY=MO", series.Rule)
}

func TestRuleChangeRewritesSeries(t *testing.T) {
	f := newFixture(t)
	seriesID, tasks := f.seedSeriesTasks(t, 1)
	ctx := context.Background()

	_, err := f.prop.ApplyEdit(ctx, "u1", tasks[0].ID,
		TaskChanges{Rule: strPtr("FREQ=WEEKLY")}, domain.ScopeFuture)
	require.NoError(t, err)

	series, err := f.store.GetSeries(ctx, seriesID)
	require.NoError(t, err)
	require.Equal(t, "FREQ=WEEKLY", series.Rule)
}

func TestBadRuleRejectedBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	_, tasks := f.seedSeriesTasks(t, 1)
	ctx := context.Background()

	_, err := f.prop.ApplyEdit(ctx, "u1", tasks[0].ID,
		TaskChanges{Title: strPtr("nope"), Rule: strPtr("FREQ=FORTNIGHTLY")}, domain.ScopeSingle)
	var parseErr *recurrence.RuleParseError
	require.ErrorAs(t, err, &parseErr)

	got, err := f.store.GetTaskByID(ctx, tasks[0].ID)
	require.NoError(t, err)
	require.Equal(t, "standup", got.Title)
}

func TestTurnOffRepeatPrunesOnlyTheFuture(t *testing.T) {
	f := newFixture(t)
	seriesID, tasks := f.seedSeriesTasks(t, 4)
	ctx := context.Background()

	got, deleted, err := f.prop.TurnOffRepeat(ctx, "u1", tasks[1].ID)
	require.NoError(t, err)
	require.Nil(t, got.SeriesID)
	require.ElementsMatch(t, []string{tasks[2].ID, tasks[3].ID}, deleted)

	// Earlier occurrences survive untouched.
	past, err := f.store.GetTaskByID(ctx, tasks[0].ID)
	require.NoError(t, err)
	require.NotNil(t, past.SeriesID)

	_, err = f.store.GetTaskByID(ctx, tasks[2].ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Series still referenced by the past occurrence, so it stays.
	_, err = f.store.GetSeries(ctx, seriesID)
	require.NoError(t, err)

	require.NotEmpty(t, f.pub.messages)
	require.Equal(t, domain.MsgRecRefresh, f.pub.messages[0].Type)
	require.ElementsMatch(t, deleted, f.pub.messages[0].Deleted)
}

func TestTurnOffRepeatLastReferenceDropsSeries(t *testing.T) {
	f := newFixture(t)
	seriesID, tasks := f.seedSeriesTasks(t, 1)
	ctx := context.Background()

	_, _, err := f.prop.TurnOffRepeat(ctx, "u1", tasks[0].ID)
	require.NoError(t, err)

	_, err = f.store.GetSeries(ctx, seriesID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

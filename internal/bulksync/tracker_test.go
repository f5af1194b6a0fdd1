package bulksync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RebootGod/catalogsync/internal/kvstore"
)

func newTestTracker(t *testing.T) (*Tracker, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return NewTracker(kvstore.NewMemoryStore(), time.Hour, pub), pub
}

func failures(batchIDs ...int64) BatchResult {
	var res BatchResult
	for _, id := range batchIDs {
		res.add(ItemOutcome{ID: id, Outcome: OutcomeFailed, Error: fmt.Sprintf("movie %d: fetch: not found", id)})
	}
	return res
}

func TestTrackerLifecycle(t *testing.T) {
	tr, pub := newTestTracker(t)
	ctx := context.Background()

	rec, err := tr.Initialize(ctx, "k", EntityMovie, 7, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, rec.Status)
	assert.Equal(t, 7, rec.Waiting)
	assert.Equal(t, 0.0, rec.Percentage)

	require.NoError(t, tr.RecordBatchStart(ctx, "k", 1, []int64{1, 2, 3, 4, 5}))
	rec, err = tr.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, rec.CurrentlyProcessingIDs)
	assert.Equal(t, 1, rec.CurrentBatch)

	res := BatchResult{}
	res.add(ItemOutcome{ID: 1, Outcome: OutcomeSuccess})
	res.add(ItemOutcome{ID: 2, Outcome: OutcomeSkipped})
	res.add(ItemOutcome{ID: 3, Outcome: OutcomeFailed, Error: "movie 3: fetch: not found"})
	require.NoError(t, tr.RecordBatchResult(ctx, "k", 1, res))

	rec, err = tr.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, rec.CurrentlyProcessingIDs)
	assert.Equal(t, 3, rec.Processed)
	assert.Equal(t, 1, rec.Success)
	assert.Equal(t, 1, rec.Failed)
	assert.Equal(t, 1, rec.Skipped)
	assert.Equal(t, 4, rec.Waiting)
	assert.Equal(t, 42.9, rec.Percentage)
	assert.Equal(t, 1, rec.TotalErrorCount)
	require.Len(t, rec.Errors, 1)
	assert.Equal(t, ItemError{ID: 3, Batch: 1, Message: "movie 3: fetch: not found"}, rec.Errors[0])

	require.NoError(t, tr.MarkCompleted(ctx, "k"))
	rec, err = tr.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, rec.Completed)
	assert.Equal(t, StatusCompleted, rec.Status)

	assert.Len(t, pub.snapshot(), 4)
}

func TestTrackerCapsStoredErrors(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Initialize(ctx, "k", EntityMovie, 25, 5, 5)
	require.NoError(t, err)

	for batch := 1; batch <= 5; batch++ {
		base := int64((batch - 1) * 5)
		require.NoError(t, tr.RecordBatchResult(ctx, "k", batch, failures(base+1, base+2, base+3, base+4, base+5)))

		rec, err := tr.Get(ctx, "k")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(rec.Errors), MaxStoredErrors)
		assert.Equal(t, batch*5, rec.TotalErrorCount)
	}

	rec, err := tr.Get(ctx, "k")
	require.NoError(t, err)
	require.Len(t, rec.Errors, MaxStoredErrors)
	assert.Equal(t, int64(16), rec.Errors[0].ID)
	assert.Equal(t, int64(25), rec.Errors[MaxStoredErrors-1].ID)
}

func TestTrackerMarkFailedFoldsWaiting(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Initialize(ctx, "k", EntitySeries, 12, 3, 5)
	require.NoError(t, err)
	res := BatchResult{}
	for id := int64(1); id <= 5; id++ {
		res.add(ItemOutcome{ID: id, Outcome: OutcomeSuccess})
	}
	require.NoError(t, tr.RecordBatchResult(ctx, "k", 1, res))
	require.NoError(t, tr.RecordBatchStart(ctx, "k", 2, []int64{6, 7, 8, 9, 10}))

	require.NoError(t, tr.MarkFailed(ctx, "k", EntitySeries, 12, "provider unreachable"))

	rec, err := tr.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, rec.Completed)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "provider unreachable", rec.ErrorMessage)
	assert.Equal(t, 0, rec.Waiting)
	assert.Equal(t, 12, rec.Processed)
	assert.Equal(t, 5, rec.Success)
	assert.Equal(t, 7, rec.Failed)
	assert.Equal(t, 0, rec.TotalErrorCount)
	assert.Empty(t, rec.CurrentlyProcessingIDs)
}

func TestTrackerMarkFailedWithoutRecord(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.MarkFailed(ctx, "fresh", EntityMovie, 3, "bad request"))
	rec, err := tr.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Total)
	assert.Equal(t, 3, rec.Failed)
	assert.Equal(t, 100.0, rec.Percentage)
}

func TestTrackerGetMissing(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	err = tr.RecordBatchStart(context.Background(), "nope", 1, []int64{1})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestTrackerCancelFlag(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	ok, err := tr.CancelRequested(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.RequestCancel(ctx, "k"))
	ok, err = tr.CancelRequested(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tr.ClearCancel(ctx, "k"))
	ok, _ = tr.CancelRequested(ctx, "k")
	assert.False(t, ok)
}

func TestTrackerCancelFlagDoesNotCollideWithRecords(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Initialize(ctx, "a:cancel", EntityMovie, 3, 1, 5)
	require.NoError(t, err)
	_, err = tr.Initialize(ctx, "cancel:a", EntityMovie, 3, 1, 5)
	require.NoError(t, err)

	ok, err := tr.CancelRequested(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.RequestCancel(ctx, "a"))
	for _, key := range []string{"a:cancel", "cancel:a"} {
		rec, err := tr.Get(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, key, rec.ProgressKey)
		assert.Equal(t, StatusProcessing, rec.Status)
	}

	_, err = tr.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Percentage(0, 0))
	assert.Equal(t, 33.3, Percentage(1, 3))
	assert.Equal(t, 66.7, Percentage(2, 3))
	assert.Equal(t, 100.0, Percentage(7, 7))
}

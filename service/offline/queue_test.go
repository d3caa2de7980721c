package offline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlink/logger"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestQueue(t *testing.T, store Store) (*Queue, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	seq := 0
	q := NewQueue(context.Background(), store, QueueConf{
		Clock: clk.now,
		NewID: func() string { seq++; return fmt.Sprintf("action_%d", seq) },
		Log:   logger.Nop(),
	})
	return q, clk
}

func TestQueueActionAssignsFields(t *testing.T) {
	q, clk := newTestQueue(t, NewMemoryStore())
	a, err := q.QueueAction(context.Background(), ActionSendMessage, map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "action_1", a.ID)
	assert.Equal(t, clk.t.UnixMilli(), a.Timestamp)
	assert.Equal(t, 0, a.RetryCount)
	assert.Equal(t, 1, q.Size())
	assert.False(t, q.IsEmpty())
}

func TestCapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, NewMemoryStore())
	for i := 1; i <= 101; i++ {
		_, err := q.QueueAction(ctx, ActionSendMessage, map[string]any{"n": i})
		require.NoError(t, err)
	}
	snap := q.Snapshot()
	require.Len(t, snap, 100)
	assert.Equal(t, "action_2", snap[0].ID)
	assert.Equal(t, "action_101", snap[99].ID)
	assert.Equal(t, 1, q.Evicted())
}

func TestPersistAndReload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q, _ := newTestQueue(t, store)
	_, _ = q.QueueAction(ctx, ActionLikePost, map[string]any{"postId": "p1"})
	_, _ = q.QueueAction(ctx, ActionSubmitAnswer, nil)
	require.NoError(t, q.IncrementRetryCount(ctx, "action_1"))

	again := NewQueue(ctx, store, QueueConf{Log: logger.Nop()})
	snap := again.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, ActionLikePost, snap[0].Type)
	assert.Equal(t, 1, snap[0].RetryCount)
	assert.Equal(t, "p1", snap[0].Payload["postId"])
	assert.Equal(t, ActionSubmitAnswer, snap[1].Type)
}

func TestCorruptBlobStartsEmpty(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), DefaultKey, []byte("{not json")))
	q, _ := newTestQueue(t, store)
	assert.True(t, q.IsEmpty())
}

func TestFiltersAndRemoval(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, NewMemoryStore())
	_, _ = q.QueueAction(ctx, ActionSendMessage, nil)
	_, _ = q.QueueAction(ctx, ActionLikePost, nil)
	_, _ = q.QueueAction(ctx, ActionSendMessage, nil)

	byType := q.GetActionsByType(ActionSendMessage)
	require.Len(t, byType, 2)
	assert.Equal(t, "action_1", byType[0].ID)
	assert.Equal(t, "action_3", byType[1].ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.IncrementRetryCount(ctx, "action_2"))
	}
	retry := q.GetRetryableActions(3)
	require.Len(t, retry, 2)
	assert.Equal(t, "action_3", retry[1].ID)

	require.NoError(t, q.RemoveAction(ctx, "action_1"))
	require.NoError(t, q.RemoveAction(ctx, "missing"))
	assert.Equal(t, 2, q.Size())

	require.NoError(t, q.ClearAll(ctx))
	assert.True(t, q.IsEmpty())
}

func TestClearOldActions(t *testing.T) {
	ctx := context.Background()
	q, clk := newTestQueue(t, NewMemoryStore())
	_, _ = q.QueueAction(ctx, ActionSendMessage, nil)
	clk.t = clk.t.Add(6 * 24 * time.Hour)
	_, _ = q.QueueAction(ctx, ActionSendMessage, nil)
	clk.t = clk.t.Add(2 * 24 * time.Hour)

	n, err := q.ClearOldActions(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "action_2", snap[0].ID)

	n, err = q.ClearOldActions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, q.IsEmpty())
}

func TestProcessorAlwaysFails(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, NewMemoryStore())
	for i := 0; i < 3; i++ {
		_, _ = q.QueueAction(ctx, ActionSendMessage, nil)
	}
	p := NewProcessor(q)
	res := p.ProcessQueue(ctx, func(context.Context, Action) error { return errors.New("offline") })

	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, []string{"action_1", "action_2", "action_3"}, res.FailedIDs)
	assert.Equal(t, 3, q.Size())
	for _, a := range q.Snapshot() {
		assert.Equal(t, 1, a.RetryCount)
	}
}

func TestProcessorAlwaysSucceedsInOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, NewMemoryStore())
	for i := 0; i < 4; i++ {
		_, _ = q.QueueAction(ctx, ActionSendMessage, map[string]any{"n": i})
	}
	var seen []string
	res := NewProcessor(q).ProcessQueue(ctx, func(_ context.Context, a Action) error {
		seen = append(seen, a.ID)
		return nil
	})
	assert.Equal(t, 4, res.Succeeded)
	assert.Equal(t, []string{"action_1", "action_2", "action_3", "action_4"}, seen)
	assert.Equal(t, seen, res.SucceededIDs)
	assert.True(t, q.IsEmpty())
}

func TestProcessorSkipsExhaustedAndRecoversPanics(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, NewMemoryStore())
	_, _ = q.QueueAction(ctx, ActionSendMessage, nil)
	_, _ = q.QueueAction(ctx, ActionLikePost, nil)
	p := NewProcessor(q, WithMaxRetries(2))

	boom := func(context.Context, Action) error { panic("boom") }
	for i := 0; i < 2; i++ {
		res := p.ProcessActionType(ctx, ActionSendMessage, boom)
		assert.Equal(t, 1, res.Failed)
	}
	res := p.ProcessActionType(ctx, ActionSendMessage, boom)
	assert.Equal(t, 0, res.Attempted)

	res = p.ProcessQueue(ctx, func(context.Context, Action) error { return nil })
	assert.Equal(t, []string{"action_2"}, res.SucceededIDs)
	assert.Equal(t, 1, q.Size())
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "q")
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	b, err := fs.Load(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Nil(t, b)

	q, _ := newTestQueue(t, fs)
	_, err = q.QueueAction(ctx, ActionUpdateSettings, map[string]any{"theme": "dark"})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")

	again := NewQueue(ctx, fs, QueueConf{Log: logger.Nop()})
	assert.Equal(t, 1, again.Size())
}

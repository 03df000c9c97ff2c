package jobstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"story-engine/internal/jobstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(grace time.Duration) *jobstore.MemoryStore {
	return jobstore.NewMemoryStore(jobstore.MemoryStoreConfig{
		PollInterval: 10 * time.Millisecond,
		GraceWindow:  grace,
	}, zap.NewNop())
}

// collector потокобезопасно копит исполненные задачи.
type collector struct {
	mu   sync.Mutex
	jobs []jobstore.Job
}

func (c *collector) handle(_ context.Context, job jobstore.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
}

func (c *collector) snapshot() []jobstore.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]jobstore.Job(nil), c.jobs...)
}

func TestMemoryStoreScheduleAndCancel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(time.Minute)

	runAt := time.Now().UTC().Add(time.Hour)
	require.NoError(t, store.ScheduleAt(ctx, jobstore.Job{ID: "job-1", RunAt: runAt}))

	live, err := store.IsLive(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, live)

	t.Run("ScheduleAt replaces a job with the same ID", func(t *testing.T) {
		later := runAt.Add(time.Hour)
		require.NoError(t, store.ScheduleAt(ctx, jobstore.Job{ID: "job-1", RunAt: later}))

		jobs, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, later, jobs[0].RunAt)
	})

	t.Run("Cancel reports whether the job existed", func(t *testing.T) {
		removed, err := store.Cancel(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = store.Cancel(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, removed)

		live, err := store.IsLive(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, live)
	})
}

func TestMemoryStoreExecutesDueJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(time.Minute)
	c := &collector{}

	require.NoError(t, store.ScheduleAt(ctx, jobstore.Job{
		ID:      "due-now",
		RunAt:   time.Now().UTC().Add(-time.Second),
		Payload: []byte(`{"n":1}`),
	}))
	require.NoError(t, store.ScheduleAt(ctx, jobstore.Job{
		ID:    "far-future",
		RunAt: time.Now().UTC().Add(time.Hour),
	}))

	go func() { _ = store.Start(ctx, c.handle) }()

	assert.Eventually(t, func() bool {
		return len(c.snapshot()) == 1
	}, time.Second, 10*time.Millisecond, "due job must fire exactly once")

	store.Stop()

	executed := c.snapshot()
	require.Len(t, executed, 1)
	assert.Equal(t, "due-now", executed[0].ID)
	assert.Equal(t, []byte(`{"n":1}`), executed[0].Payload)

	// Созревшая задача изъята, будущая осталась
	live, err := store.IsLive(ctx, "due-now")
	require.NoError(t, err)
	assert.False(t, live)
	live, err = store.IsLive(ctx, "far-future")
	require.NoError(t, err)
	assert.True(t, live)
}

func TestMemoryStoreDropsStaleJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(50 * time.Millisecond)
	c := &collector{}

	require.NoError(t, store.ScheduleAt(ctx, jobstore.Job{
		ID:    "stale",
		RunAt: time.Now().UTC().Add(-time.Hour),
	}))

	go func() { _ = store.Start(ctx, c.handle) }()

	assert.Eventually(t, func() bool {
		live, err := store.IsLive(ctx, "stale")
		return err == nil && !live
	}, time.Second, 10*time.Millisecond, "stale job must be claimed")

	store.Stop()

	assert.Empty(t, c.snapshot(), "job past the misfire grace window must not execute")
}

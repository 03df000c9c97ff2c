package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"story-engine/internal/jobstore"
	"story-engine/internal/scheduler"
	sharedMocks "story-engine/shared/interfaces/mocks"
	"story-engine/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// capturingPublisher копит события публикации вместо отправки в шину.
type capturingPublisher struct {
	events []models.EpisodePublishedPayload
	err    error
}

func (p *capturingPublisher) PublishEpisodePublished(_ context.Context, payload models.EpisodePublishedPayload) error {
	p.events = append(p.events, payload)
	return p.err
}

type schedulerFixture struct {
	stories   *sharedMocks.StoryRepository
	episodes  *sharedMocks.EpisodeRepository
	tx        *sharedMocks.TxRunner
	jobs      *jobstore.MemoryStore
	publisher *capturingPublisher
	svc       scheduler.EpisodeScheduler
}

func newSchedulerFixture(cfg scheduler.Config) *schedulerFixture {
	f := &schedulerFixture{
		stories:   new(sharedMocks.StoryRepository),
		episodes:  new(sharedMocks.EpisodeRepository),
		tx:        new(sharedMocks.TxRunner),
		jobs:      jobstore.NewMemoryStore(jobstore.MemoryStoreConfig{}, zap.NewNop()),
		publisher: &capturingPublisher{},
	}
	f.svc = scheduler.NewEpisodeScheduler(nil, f.tx, f.stories, f.episodes, f.jobs, f.publisher, cfg, zap.NewNop())
	return f
}

func draftEpisode(storyID uuid.UUID, id int64, index int) *models.Episode {
	return &models.Episode{ID: id, StoryID: storyID, EpisodeIndex: index, Status: models.EpisodeStatusDraft}
}

func publishJobID(storyID uuid.UUID, index int) string {
	return fmt.Sprintf("publish_episode_%s_%d", storyID, index)
}

func TestScheduleStory(t *testing.T) {
	ctx := context.Background()
	storyID := uuid.New()
	t0 := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

	t.Run("Spreads episodes on the daily cadence and registers one job each", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.stories.On("GetByID", mock.Anything, mock.Anything, storyID).Return(&models.Story{ID: storyID}, nil)
		f.episodes.On("ListSchedulable", mock.Anything, mock.Anything, storyID).Return([]*models.Episode{
			draftEpisode(storyID, 1, 1),
			draftEpisode(storyID, 2, 2),
			draftEpisode(storyID, 3, 3),
		}, nil)
		f.episodes.On("MarkScheduled", mock.Anything, mock.Anything, int64(1), t0).Return(nil).Once()
		f.episodes.On("MarkScheduled", mock.Anything, mock.Anything, int64(2), t0.Add(24*time.Hour)).Return(nil).Once()
		f.episodes.On("MarkScheduled", mock.Anything, mock.Anything, int64(3), t0.Add(48*time.Hour)).Return(nil).Once()
		f.stories.On("UpdateSchedule", mock.Anything, mock.Anything, storyID, true, &t0, models.FrequencyDaily, "UTC", &t0).Return(nil).Once()

		result, err := f.svc.ScheduleStory(ctx, storyID, t0, models.FrequencyDaily, "UTC")

		require.NoError(t, err)
		assert.Equal(t, 3, result.EpisodesScheduled)
		assert.Equal(t, t0, result.NextReleaseAt)

		jobs, err := f.jobs.List(ctx)
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
		for index, wantRunAt := range map[int]time.Time{
			1: t0,
			2: t0.Add(24 * time.Hour),
			3: t0.Add(48 * time.Hour),
		} {
			live, err := f.jobs.IsLive(ctx, publishJobID(storyID, index))
			require.NoError(t, err)
			assert.True(t, live, "job for episode %d must be registered", index)
			for _, j := range jobs {
				if j.ID == publishJobID(storyID, index) {
					assert.Equal(t, wantRunAt, j.RunAt)
				}
			}
		}

		f.stories.AssertExpectations(t)
		f.episodes.AssertExpectations(t)
	})

	t.Run("Weekly cadence spaces releases seven days apart", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.stories.On("GetByID", mock.Anything, mock.Anything, storyID).Return(&models.Story{ID: storyID}, nil)
		f.episodes.On("ListSchedulable", mock.Anything, mock.Anything, storyID).Return([]*models.Episode{
			draftEpisode(storyID, 1, 1),
			draftEpisode(storyID, 2, 2),
		}, nil)
		f.episodes.On("MarkScheduled", mock.Anything, mock.Anything, int64(1), t0).Return(nil).Once()
		f.episodes.On("MarkScheduled", mock.Anything, mock.Anything, int64(2), t0.Add(7*24*time.Hour)).Return(nil).Once()
		f.stories.On("UpdateSchedule", mock.Anything, mock.Anything, storyID, true, &t0, models.FrequencyWeekly, "UTC", &t0).Return(nil).Once()

		_, err := f.svc.ScheduleStory(ctx, storyID, t0, models.FrequencyWeekly, "UTC")

		require.NoError(t, err)
		f.episodes.AssertExpectations(t)
	})

	t.Run("Story without schedulable episodes is a conflict", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.stories.On("GetByID", mock.Anything, mock.Anything, storyID).Return(&models.Story{ID: storyID}, nil)
		f.episodes.On("ListSchedulable", mock.Anything, mock.Anything, storyID).Return([]*models.Episode{}, nil)

		_, err := f.svc.ScheduleStory(ctx, storyID, t0, models.FrequencyDaily, "UTC")

		assert.ErrorIs(t, err, models.ErrNoSchedulableEpisodes)
		jobs, _ := f.jobs.List(ctx)
		assert.Empty(t, jobs)
	})

	t.Run("Missing story maps to ErrStoryNotFound", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.stories.On("GetByID", mock.Anything, mock.Anything, storyID).Return(nil, models.ErrNotFound)

		_, err := f.svc.ScheduleStory(ctx, storyID, t0, models.FrequencyDaily, "UTC")

		assert.ErrorIs(t, err, models.ErrStoryNotFound)
	})
}

func TestPublishEpisode(t *testing.T) {
	ctx := context.Background()
	storyID := uuid.New()
	userID := uuid.New()
	epTitle := "Финал первой арки"

	scheduledEpisode := func() *models.Episode {
		return &models.Episode{
			ID:           7,
			StoryID:      storyID,
			EpisodeIndex: 2,
			Title:        &epTitle,
			SafetyScore:  0.9,
			Status:       models.EpisodeStatusScheduled,
		}
	}

	t.Run("Publishes, advances next release and emits the event", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})
		next := time.Date(2025, 6, 3, 18, 0, 0, 0, time.UTC)

		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.episodes.On("GetByIndexForUpdate", mock.Anything, mock.Anything, storyID, 2).Return(scheduledEpisode(), nil)
		f.episodes.On("MarkPublished", mock.Anything, mock.Anything, int64(7), mock.AnythingOfType("time.Time")).Return(nil).Once()
		f.stories.On("IncrementCompleted", mock.Anything, mock.Anything, storyID, 0.9).Return(nil).Once()
		f.episodes.On("MinScheduledFor", mock.Anything, mock.Anything, storyID).Return(&next, nil)
		f.stories.On("UpdateNextRelease", mock.Anything, mock.Anything, storyID, &next).Return(nil).Once()
		f.stories.On("GetByID", mock.Anything, mock.Anything, storyID).Return(&models.Story{ID: storyID, UserID: userID, Title: "Хроники"}, nil)

		err := f.svc.PublishEpisode(ctx, storyID, 2)

		require.NoError(t, err)
		require.Len(t, f.publisher.events, 1)
		assert.Equal(t, storyID, f.publisher.events[0].StoryID)
		assert.Equal(t, 2, f.publisher.events[0].EpisodeIndex)
		assert.Equal(t, "Хроники", f.publisher.events[0].StoryTitle)
		assert.Equal(t, epTitle, f.publisher.events[0].EpisodeTitle)
		assert.Equal(t, userID, f.publisher.events[0].OwnerUserID)
		f.episodes.AssertExpectations(t)
		f.stories.AssertExpectations(t)
	})

	t.Run("Second publish of the same episode is a silent no-op", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})
		published := scheduledEpisode()
		published.Status = models.EpisodeStatusPublished

		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.episodes.On("GetByIndexForUpdate", mock.Anything, mock.Anything, storyID, 2).Return(published, nil)

		err := f.svc.PublishEpisode(ctx, storyID, 2)

		require.NoError(t, err)
		assert.Empty(t, f.publisher.events)
		f.episodes.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.stories.AssertNotCalled(t, "IncrementCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Vanished episode is skipped without error", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.episodes.On("GetByIndexForUpdate", mock.Anything, mock.Anything, storyID, 2).Return(nil, models.ErrNotFound)

		err := f.svc.PublishEpisode(ctx, storyID, 2)

		require.NoError(t, err)
		assert.Empty(t, f.publisher.events)
	})

	t.Run("Failed transaction arms a fixed-delay retry job", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{PublishRetryDelay: time.Hour, MaxPublishRetries: 24})
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.episodes.On("GetByIndexForUpdate", mock.Anything, mock.Anything, storyID, 2).Return(scheduledEpisode(), nil)
		f.episodes.On("MarkPublished", mock.Anything, mock.Anything, int64(7), mock.AnythingOfType("time.Time")).Return(errors.New("deadlock detected"))

		before := time.Now().UTC()
		err := f.svc.PublishEpisode(ctx, storyID, 2)

		require.Error(t, err)
		assert.Empty(t, f.publisher.events)

		retryID := publishJobID(storyID, 2) + "_retry"
		jobs, listErr := f.jobs.List(ctx)
		require.NoError(t, listErr)
		require.Len(t, jobs, 1)
		assert.Equal(t, retryID, jobs[0].ID)
		assert.True(t, jobs[0].RunAt.After(before.Add(59*time.Minute)), "retry must run after the fixed delay")

		var payload struct {
			Attempt int `json:"attempt"`
		}
		require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
		assert.Equal(t, 1, payload.Attempt)
	})

	t.Run("Retry budget exhaustion stops rescheduling", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{PublishRetryDelay: time.Hour, MaxPublishRetries: 2})
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.episodes.On("GetByIndexForUpdate", mock.Anything, mock.Anything, storyID, 2).Return(scheduledEpisode(), nil)
		f.episodes.On("MarkPublished", mock.Anything, mock.Anything, int64(7), mock.AnythingOfType("time.Time")).Return(errors.New("still broken"))

		payload, err := json.Marshal(map[string]any{
			"storyId":      storyID,
			"episodeIndex": 2,
			"attempt":      2,
		})
		require.NoError(t, err)

		f.svc.HandleJob(ctx, jobstore.Job{
			ID:      publishJobID(storyID, 2) + "_retry",
			RunAt:   time.Now().UTC(),
			Payload: payload,
		})

		jobs, listErr := f.jobs.List(ctx)
		require.NoError(t, listErr)
		assert.Empty(t, jobs, "exhausted retry budget must not arm a new job")
	})
}

func TestCancelStorySchedule(t *testing.T) {
	ctx := context.Background()
	storyID := uuid.New()
	t0 := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

	t.Run("Resets scheduled episodes and removes their jobs", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})

		require.NoError(t, f.jobs.ScheduleAt(ctx, jobstore.Job{ID: publishJobID(storyID, 2), RunAt: t0}))
		require.NoError(t, f.jobs.ScheduleAt(ctx, jobstore.Job{ID: publishJobID(storyID, 3), RunAt: t0.Add(24 * time.Hour)}))

		scheduled := []*models.Episode{
			{ID: 2, StoryID: storyID, EpisodeIndex: 2, Status: models.EpisodeStatusScheduled},
			{ID: 3, StoryID: storyID, EpisodeIndex: 3, Status: models.EpisodeStatusScheduled},
		}
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.stories.On("GetByID", mock.Anything, mock.Anything, storyID).Return(&models.Story{ID: storyID, IsSerialized: true, ReleaseFrequency: models.FrequencyDaily, Timezone: "UTC"}, nil)
		f.episodes.On("ListScheduled", mock.Anything, mock.Anything, storyID).Return(scheduled, nil)
		f.episodes.On("ResetToDraft", mock.Anything, mock.Anything, int64(2)).Return(nil).Once()
		f.episodes.On("ResetToDraft", mock.Anything, mock.Anything, int64(3)).Return(nil).Once()
		f.stories.On("UpdateSchedule", mock.Anything, mock.Anything, storyID, false, (*time.Time)(nil), models.FrequencyDaily, "UTC", (*time.Time)(nil)).Return(nil).Once()

		result, err := f.svc.CancelStorySchedule(ctx, storyID)

		require.NoError(t, err)
		assert.Equal(t, 2, result.EpisodesReset)
		assert.Equal(t, 2, result.CancelledJobs)

		jobs, _ := f.jobs.List(ctx)
		assert.Empty(t, jobs)
		f.episodes.AssertExpectations(t)
	})

	t.Run("Cancelling a non-serialized story is a conflict", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.stories.On("GetByID", mock.Anything, mock.Anything, storyID).Return(&models.Story{ID: storyID, IsSerialized: false}, nil)

		_, err := f.svc.CancelStorySchedule(ctx, storyID)

		assert.ErrorIs(t, err, models.ErrNotSerialized)
	})

	t.Run("Trigger firing after cancellation is a no-op", func(t *testing.T) {
		// Job уже снят, но гонка возможна: триггер в полете видит эпизод
		// в статусе draft и молча выходит
		f := newSchedulerFixture(scheduler.Config{})
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.episodes.On("GetByIndexForUpdate", mock.Anything, mock.Anything, storyID, 2).Return(&models.Episode{
			ID: 2, StoryID: storyID, EpisodeIndex: 2, Status: models.EpisodeStatusDraft,
		}, nil)

		err := f.svc.PublishEpisode(ctx, storyID, 2)

		require.NoError(t, err)
		assert.Empty(t, f.publisher.events)
		f.stories.AssertNotCalled(t, "IncrementCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestReconcileOnStartup(t *testing.T) {
	ctx := context.Background()
	storyID := uuid.New()
	next := time.Now().UTC().Add(6 * time.Hour).Truncate(time.Second)

	serializedStory := func() *models.Story {
		return &models.Story{
			ID:               storyID,
			IsSerialized:     true,
			ReleaseFrequency: models.FrequencyDaily,
			Timezone:         "UTC",
			NextReleaseAt:    &next,
		}
	}

	t.Run("Rebuilds the schedule when no live job backs a scheduled episode", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})

		scheduled := []*models.Episode{
			{ID: 4, StoryID: storyID, EpisodeIndex: 4, Status: models.EpisodeStatusScheduled},
			{ID: 5, StoryID: storyID, EpisodeIndex: 5, Status: models.EpisodeStatusScheduled},
		}
		f.stories.On("ListSerializedWithFutureRelease", mock.Anything, mock.Anything, mock.AnythingOfType("time.Time")).Return([]*models.Story{serializedStory()}, nil)
		f.episodes.On("ListScheduled", mock.Anything, mock.Anything, storyID).Return(scheduled, nil)

		// Пересборка идет через ScheduleStory от сохраненного next_release_at
		f.tx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
		f.stories.On("GetByID", mock.Anything, mock.Anything, storyID).Return(serializedStory(), nil)
		f.episodes.On("ListSchedulable", mock.Anything, mock.Anything, storyID).Return(scheduled, nil)
		f.episodes.On("MarkScheduled", mock.Anything, mock.Anything, int64(4), next).Return(nil).Once()
		f.episodes.On("MarkScheduled", mock.Anything, mock.Anything, int64(5), next.Add(24*time.Hour)).Return(nil).Once()
		f.stories.On("UpdateSchedule", mock.Anything, mock.Anything, storyID, true, &next, models.FrequencyDaily, "UTC", &next).Return(nil).Once()

		recovered, err := f.svc.ReconcileOnStartup(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, recovered)

		live, err := f.jobs.IsLive(ctx, publishJobID(storyID, 4))
		require.NoError(t, err)
		assert.True(t, live)
		live, err = f.jobs.IsLive(ctx, publishJobID(storyID, 5))
		require.NoError(t, err)
		assert.True(t, live)
	})

	t.Run("Story with a live job is left untouched", func(t *testing.T) {
		f := newSchedulerFixture(scheduler.Config{})

		require.NoError(t, f.jobs.ScheduleAt(ctx, jobstore.Job{ID: publishJobID(storyID, 4), RunAt: next}))

		f.stories.On("ListSerializedWithFutureRelease", mock.Anything, mock.Anything, mock.AnythingOfType("time.Time")).Return([]*models.Story{serializedStory()}, nil)
		f.episodes.On("ListScheduled", mock.Anything, mock.Anything, storyID).Return([]*models.Episode{
			{ID: 4, StoryID: storyID, EpisodeIndex: 4, Status: models.EpisodeStatusScheduled},
		}, nil)

		recovered, err := f.svc.ReconcileOnStartup(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, recovered)
		f.episodes.AssertNotCalled(t, "ListSchedulable", mock.Anything, mock.Anything, mock.Anything)
	})
}

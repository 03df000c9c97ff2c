package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"story-engine/internal/jobstore"
	"story-engine/shared/interfaces"
	"story-engine/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// retryJobSuffix отличает job повторной публикации от исходного триггера:
// исходный id остается свободным для инспекции и переназначения расписания.
const retryJobSuffix = "_retry"

// EpisodeEventPublisher публикует событие о вышедшем эпизоде во внешнюю
// шину. Планировщик зовёт его строго после коммита транзакции публикации.
//
//go:generate mockery --name EpisodeEventPublisher --output ./mocks --outpkg mocks --case=underscore
type EpisodeEventPublisher interface {
	PublishEpisodePublished(ctx context.Context, payload models.EpisodePublishedPayload) error
}

// Config — настройки планировщика релизов.
type Config struct {
	// PublishRetryDelay — фиксированная задержка перед повторной попыткой
	// публикации после ошибки транзакции.
	PublishRetryDelay time.Duration
	// MaxPublishRetries — бюджет повторов на один эпизод. 0 — без лимита.
	MaxPublishRetries int
}

// ScheduleResult — итог постановки истории на расписание.
type ScheduleResult struct {
	StoryID           uuid.UUID               `json:"storyId"`
	EpisodesScheduled int                     `json:"episodesScheduled"`
	NextReleaseAt     time.Time               `json:"nextReleaseAt"`
	ReleaseFrequency  models.ReleaseFrequency `json:"releaseFrequency"`
}

// CancelResult — итог снятия истории с расписания.
type CancelResult struct {
	StoryID       uuid.UUID `json:"storyId"`
	EpisodesReset int       `json:"episodesReset"`
	CancelledJobs int       `json:"cancelledJobs"`
}

// StatusResult — срез состояния расписания истории для интроспекции.
type StatusResult struct {
	Story      *models.Story     `json:"story"`
	Episodes   []*models.Episode `json:"episodes"`
	LiveJobIDs []string          `json:"liveJobIds"`
}

// publishJobPayload — полезная нагрузка job публикации. Attempt растет
// с каждым повтором и ограничивает бюджет ретраев.
type publishJobPayload struct {
	StoryID      uuid.UUID `json:"storyId"`
	EpisodeIndex int       `json:"episodeIndex"`
	Attempt      int       `json:"attempt"`
}

// EpisodeScheduler defines the interface for the serialized release scheduler.
//
//go:generate mockery --name EpisodeScheduler --output ./mocks --outpkg mocks --case=underscore
type EpisodeScheduler interface {
	// ScheduleStory включает сериализацию истории: раскладывает все
	// schedulable-эпизоды по каденции от стартового инстанта и регистрирует
	// job публикации на каждый. Повторный вызов пересчитывает расписание.
	ScheduleStory(ctx context.Context, storyID uuid.UUID, start time.Time, frequency models.ReleaseFrequency, timezone string) (*ScheduleResult, error)

	// CancelStorySchedule выключает сериализацию: scheduled-эпизоды
	// возвращаются в draft, их job-ы снимаются. Опубликованные не трогаем.
	CancelStorySchedule(ctx context.Context, storyID uuid.UUID) (*CancelResult, error)

	// PublishEpisode публикует эпизод немедленно. Идемпотентна: если эпизод
	// уже не в статусе scheduled — no-op без ошибки и без уведомлений.
	PublishEpisode(ctx context.Context, storyID uuid.UUID, episodeIndex int) error

	// ReconcileOnStartup пересоздает job-ы для историй, у которых расписание
	// активно, а триггеры потерялись (рестарт с in-memory хранилищем, сбой
	// Redis). Возвращает число историй, которым расписание пересобрано.
	ReconcileOnStartup(ctx context.Context) (int, error)

	// Status возвращает историю, её эпизоды и список живых job id.
	Status(ctx context.Context, storyID uuid.UUID) (*StatusResult, error)

	// ListJobs возвращает все зарегистрированные job-ы хранилища.
	ListJobs(ctx context.Context) ([]jobstore.Job, error)

	// HandleJob — обработчик созревших задач для jobstore.Store.
	HandleJob(ctx context.Context, job jobstore.Job)
}

type episodeSchedulerImpl struct {
	db        interfaces.DBTX
	tx        interfaces.TxRunner
	stories   interfaces.StoryRepository
	episodes  interfaces.EpisodeRepository
	jobs      jobstore.Store
	publisher EpisodeEventPublisher
	cfg       Config
	logger    *zap.Logger
}

var _ EpisodeScheduler = (*episodeSchedulerImpl)(nil)

// NewEpisodeScheduler создает планировщик релизов. publisher может быть nil —
// тогда события о публикации в шину не уходят.
func NewEpisodeScheduler(
	db interfaces.DBTX,
	tx interfaces.TxRunner,
	stories interfaces.StoryRepository,
	episodes interfaces.EpisodeRepository,
	jobs jobstore.Store,
	publisher EpisodeEventPublisher,
	cfg Config,
	logger *zap.Logger,
) EpisodeScheduler {
	if cfg.PublishRetryDelay <= 0 {
		cfg.PublishRetryDelay = time.Hour
	}
	return &episodeSchedulerImpl{
		db:        db,
		tx:        tx,
		stories:   stories,
		episodes:  episodes,
		jobs:      jobs,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("episode_scheduler"),
	}
}

func publishJobID(storyID uuid.UUID, episodeIndex int) string {
	return fmt.Sprintf("publish_episode_%s_%d", storyID, episodeIndex)
}

type episodePlan struct {
	episodeID    int64
	episodeIndex int
	runAt        time.Time
}

func (s *episodeSchedulerImpl) ScheduleStory(ctx context.Context, storyID uuid.UUID, start time.Time, frequency models.ReleaseFrequency, timezone string) (*ScheduleResult, error) {
	log := s.logger.With(zap.String("storyID", storyID.String()))
	start = start.UTC()

	var (
		plan   []episodePlan
		result *ScheduleResult
	)
	err := s.tx.WithinTx(ctx, func(q interfaces.DBTX) error {
		if _, err := s.stories.GetByID(ctx, q, storyID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrStoryNotFound
			}
			return err
		}

		episodes, err := s.episodes.ListSchedulable(ctx, q, storyID)
		if err != nil {
			return fmt.Errorf("ошибка выборки эпизодов для расписания: %w", err)
		}
		if len(episodes) == 0 {
			return models.ErrNoSchedulableEpisodes
		}

		current := start
		for _, ep := range episodes {
			if err := s.episodes.MarkScheduled(ctx, q, ep.ID, current); err != nil {
				return fmt.Errorf("ошибка перевода эпизода %d в scheduled: %w", ep.EpisodeIndex, err)
			}
			plan = append(plan, episodePlan{episodeID: ep.ID, episodeIndex: ep.EpisodeIndex, runAt: current})
			current = NextRelease(current, frequency)
		}

		next := plan[0].runAt
		if err := s.stories.UpdateSchedule(ctx, q, storyID, true, &start, frequency, timezone, &next); err != nil {
			return fmt.Errorf("ошибка сохранения настроек сериализации: %w", err)
		}

		result = &ScheduleResult{
			StoryID:           storyID,
			EpisodesScheduled: len(plan),
			NextReleaseAt:     next,
			ReleaseFrequency:  frequency,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Регистрация задач после коммита: наличие job всегда означает
	// закоммиченный scheduled-статус. Replace-семантика хранилища делает
	// повторный вызов пересчетом, а не дублированием.
	for _, p := range plan {
		id := publishJobID(storyID, p.episodeIndex)
		if _, err := s.jobs.Cancel(ctx, id+retryJobSuffix); err != nil {
			log.Warn("Failed to cancel pending retry job", zap.String("jobID", id+retryJobSuffix), zap.Error(err))
		}
		payload, err := json.Marshal(publishJobPayload{StoryID: storyID, EpisodeIndex: p.episodeIndex})
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации payload задачи %s: %w", id, err)
		}
		if err := s.jobs.ScheduleAt(ctx, jobstore.Job{ID: id, RunAt: p.runAt, Payload: payload}); err != nil {
			// Статус в базе уже закоммичен, job пересоздаст reconcile при
			// следующем старте.
			log.Error("Failed to register publish job", zap.String("jobID", id), zap.Error(err))
		}
	}

	log.Info("Story scheduled for serialized release",
		zap.Int("episodes", result.EpisodesScheduled),
		zap.Time("nextReleaseAt", result.NextReleaseAt),
		zap.String("frequency", string(frequency)),
	)
	return result, nil
}

func (s *episodeSchedulerImpl) CancelStorySchedule(ctx context.Context, storyID uuid.UUID) (*CancelResult, error) {
	log := s.logger.With(zap.String("storyID", storyID.String()))

	var scheduled []*models.Episode
	err := s.tx.WithinTx(ctx, func(q interfaces.DBTX) error {
		story, err := s.stories.GetByID(ctx, q, storyID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrStoryNotFound
			}
			return err
		}
		if !story.IsSerialized {
			return models.ErrNotSerialized
		}

		scheduled, err = s.episodes.ListScheduled(ctx, q, storyID)
		if err != nil {
			return fmt.Errorf("ошибка выборки запланированных эпизодов: %w", err)
		}
		for _, ep := range scheduled {
			if err := s.episodes.ResetToDraft(ctx, q, ep.ID); err != nil {
				return fmt.Errorf("ошибка возврата эпизода %d в draft: %w", ep.EpisodeIndex, err)
			}
		}

		if err := s.stories.UpdateSchedule(ctx, q, storyID, false, story.StartDate, story.ReleaseFrequency, story.Timezone, nil); err != nil {
			return fmt.Errorf("ошибка отключения сериализации: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cancelled := 0
	for _, ep := range scheduled {
		id := publishJobID(storyID, ep.EpisodeIndex)
		if ok, err := s.jobs.Cancel(ctx, id); err != nil {
			log.Warn("Failed to cancel publish job", zap.String("jobID", id), zap.Error(err))
		} else if ok {
			cancelled++
		}
		if ok, err := s.jobs.Cancel(ctx, id+retryJobSuffix); err != nil {
			log.Warn("Failed to cancel retry job", zap.String("jobID", id+retryJobSuffix), zap.Error(err))
		} else if ok {
			cancelled++
		}
	}

	log.Info("Story schedule cancelled",
		zap.Int("episodesReset", len(scheduled)),
		zap.Int("cancelledJobs", cancelled),
	)
	return &CancelResult{StoryID: storyID, EpisodesReset: len(scheduled), CancelledJobs: cancelled}, nil
}

func (s *episodeSchedulerImpl) PublishEpisode(ctx context.Context, storyID uuid.UUID, episodeIndex int) error {
	return s.publishEpisode(ctx, storyID, episodeIndex, 0)
}

func (s *episodeSchedulerImpl) publishEpisode(ctx context.Context, storyID uuid.UUID, episodeIndex int, attempt int) error {
	log := s.logger.With(
		zap.String("storyID", storyID.String()),
		zap.Int("episodeIndex", episodeIndex),
	)

	var (
		skip  bool
		event *models.EpisodePublishedPayload
	)
	err := s.tx.WithinTx(ctx, func(q interfaces.DBTX) error {
		// Блокировка строки до проверки статуса: параллельный триггер того же
		// эпизода дождется коммита и увидит published.
		ep, err := s.episodes.GetByIndexForUpdate(ctx, q, storyID, episodeIndex)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				log.Warn("Episode not found, skipping publish")
				skip = true
				return nil
			}
			return fmt.Errorf("ошибка выборки эпизода под блокировкой: %w", err)
		}
		if ep.Status != models.EpisodeStatusScheduled {
			log.Info("Episode is not scheduled, publish is a no-op", zap.String("status", string(ep.Status)))
			skip = true
			return nil
		}

		now := time.Now().UTC()
		if err := s.episodes.MarkPublished(ctx, q, ep.ID, now); err != nil {
			return fmt.Errorf("ошибка перевода эпизода в published: %w", err)
		}
		if err := s.stories.IncrementCompleted(ctx, q, storyID, ep.SafetyScore); err != nil {
			return fmt.Errorf("ошибка обновления счетчика эпизодов: %w", err)
		}

		next, err := s.episodes.MinScheduledFor(ctx, q, storyID)
		if err != nil {
			return fmt.Errorf("ошибка вычисления следующего релиза: %w", err)
		}
		if err := s.stories.UpdateNextRelease(ctx, q, storyID, next); err != nil {
			return fmt.Errorf("ошибка обновления next_release_at: %w", err)
		}

		story, err := s.stories.GetByID(ctx, q, storyID)
		if err != nil {
			return fmt.Errorf("ошибка выборки истории для события публикации: %w", err)
		}
		episodeTitle := ""
		if ep.Title != nil {
			episodeTitle = *ep.Title
		}
		event = &models.EpisodePublishedPayload{
			StoryID:      storyID,
			EpisodeIndex: episodeIndex,
			StoryTitle:   story.Title,
			EpisodeTitle: episodeTitle,
			OwnerUserID:  story.UserID,
		}
		return nil
	})
	if err != nil {
		s.reschedulePublishRetry(ctx, storyID, episodeIndex, attempt, err)
		return fmt.Errorf("ошибка публикации эпизода %d истории %s: %w", episodeIndex, storyID, err)
	}
	if skip {
		return nil
	}

	episodesPublishedTotal.Inc()
	log.Info("Episode published")

	// Событие уходит после коммита: подписчики никогда не видят эпизод,
	// которого нет в базе. Ошибка шины публикацию не откатывает.
	if s.publisher != nil {
		if err := s.publisher.PublishEpisodePublished(ctx, *event); err != nil {
			log.Error("Failed to publish episode event", zap.Error(err))
		}
	}
	return nil
}

// reschedulePublishRetry ставит повторную публикацию через фиксированную
// задержку. Статус эпизода остается scheduled — упавшая транзакция
// откатилась целиком, повтор стартует с чистого состояния.
func (s *episodeSchedulerImpl) reschedulePublishRetry(ctx context.Context, storyID uuid.UUID, episodeIndex int, attempt int, cause error) {
	log := s.logger.With(
		zap.String("storyID", storyID.String()),
		zap.Int("episodeIndex", episodeIndex),
		zap.Int("attempt", attempt),
	)

	if s.cfg.MaxPublishRetries > 0 && attempt >= s.cfg.MaxPublishRetries {
		publishRetriesExhaustedTotal.Inc()
		log.Error("Publish retry budget exhausted, episode left scheduled", zap.Error(cause))
		return
	}

	id := publishJobID(storyID, episodeIndex) + retryJobSuffix
	payload, err := json.Marshal(publishJobPayload{StoryID: storyID, EpisodeIndex: episodeIndex, Attempt: attempt + 1})
	if err != nil {
		log.Error("Failed to marshal retry job payload", zap.Error(err))
		return
	}
	runAt := time.Now().UTC().Add(s.cfg.PublishRetryDelay)
	if err := s.jobs.ScheduleAt(ctx, jobstore.Job{ID: id, RunAt: runAt, Payload: payload}); err != nil {
		log.Error("Failed to schedule publish retry", zap.String("jobID", id), zap.Error(err))
		return
	}

	publishRetriesScheduledTotal.Inc()
	log.Warn("Publish failed, retry scheduled",
		zap.String("jobID", id),
		zap.Time("runAt", runAt),
		zap.Error(cause),
	)
}

func (s *episodeSchedulerImpl) ReconcileOnStartup(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	stories, err := s.stories.ListSerializedWithFutureRelease(ctx, s.db, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка выборки историй для восстановления расписания: %w", err)
	}

	recovered := 0
	for _, story := range stories {
		log := s.logger.With(zap.String("storyID", story.ID.String()))

		scheduled, err := s.episodes.ListScheduled(ctx, s.db, story.ID)
		if err != nil {
			log.Error("Failed to list scheduled episodes during reconcile", zap.Error(err))
			continue
		}
		if len(scheduled) == 0 {
			continue
		}

		live := false
		for _, ep := range scheduled {
			ok, err := s.jobs.IsLive(ctx, publishJobID(story.ID, ep.EpisodeIndex))
			if err != nil {
				log.Error("Failed to probe job liveness during reconcile", zap.Error(err))
			}
			if ok {
				live = true
				break
			}
		}
		if live {
			continue
		}
		if story.NextReleaseAt == nil {
			continue
		}

		// Каденция пересчитывается от сохраненного next_release_at как от
		// свежего старта: первый невышедший эпизод выйдет в свой исходный
		// срок, хвост выравнивается за ним.
		if _, err := s.ScheduleStory(ctx, story.ID, *story.NextReleaseAt, story.ReleaseFrequency, story.Timezone); err != nil {
			log.Error("Failed to rebuild schedule during reconcile", zap.Error(err))
			continue
		}
		recovered++
	}

	s.logger.Info("Startup reconciliation finished",
		zap.Int("storiesChecked", len(stories)),
		zap.Int("schedulesRebuilt", recovered),
	)
	return recovered, nil
}

func (s *episodeSchedulerImpl) Status(ctx context.Context, storyID uuid.UUID) (*StatusResult, error) {
	story, err := s.stories.GetByID(ctx, s.db, storyID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrStoryNotFound
		}
		return nil, err
	}

	episodes, err := s.episodes.ListByStory(ctx, s.db, storyID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки эпизодов истории: %w", err)
	}

	var liveJobs []string
	for _, ep := range episodes {
		if ep.Status != models.EpisodeStatusScheduled {
			continue
		}
		id := publishJobID(storyID, ep.EpisodeIndex)
		if ok, err := s.jobs.IsLive(ctx, id); err == nil && ok {
			liveJobs = append(liveJobs, id)
		}
	}

	return &StatusResult{Story: story, Episodes: episodes, LiveJobIDs: liveJobs}, nil
}

func (s *episodeSchedulerImpl) ListJobs(ctx context.Context) ([]jobstore.Job, error) {
	return s.jobs.List(ctx)
}

func (s *episodeSchedulerImpl) HandleJob(ctx context.Context, job jobstore.Job) {
	var payload publishJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		s.logger.Error("Malformed publish job payload, dropping job",
			zap.String("jobID", job.ID),
			zap.Error(err),
		)
		return
	}
	if err := s.publishEpisode(ctx, payload.StoryID, payload.EpisodeIndex, payload.Attempt); err != nil {
		s.logger.Error("Scheduled publish failed",
			zap.String("jobID", job.ID),
			zap.Error(err),
		)
	}
}

package jobstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Compile-time check
var _ Store = (*RedisStore)(nil)

// RedisStore — durable реализация Store поверх Redis: ZSET со временем
// запуска в score плюс ключ с payload на каждую задачу. Задачи переживают
// рестарт процесса; блокировка на job id не даёт двум экземплярам сервиса
// исполнить один и тот же триггер одновременно.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger

	keyPrefix    string
	pollInterval time.Duration
	graceWindow  time.Duration
	lockTTL      time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// RedisStoreConfig — настройки Redis-хранилища задач.
type RedisStoreConfig struct {
	KeyPrefix    string        // префикс ключей, по умолчанию "story_engine:jobs"
	PollInterval time.Duration // период опроса, по умолчанию 1s
	GraceWindow  time.Duration // окно misfire grace, по умолчанию 5 минут
	LockTTL      time.Duration // TTL блокировки исполнения, по умолчанию 1 минута
}

func NewRedisStore(client *redis.Client, cfg RedisStoreConfig, logger *zap.Logger) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "story_engine:jobs"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &RedisStore{
		client:       client,
		logger:       logger.Named("redis_jobstore"),
		keyPrefix:    cfg.KeyPrefix,
		pollInterval: cfg.PollInterval,
		graceWindow:  cfg.GraceWindow,
		lockTTL:      cfg.LockTTL,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (s *RedisStore) scheduleKey() string        { return s.keyPrefix + ":schedule" }
func (s *RedisStore) payloadKey(id string) string { return s.keyPrefix + ":payload:" + id }
func (s *RedisStore) lockKey(id string) string    { return s.keyPrefix + ":lock:" + id }

func (s *RedisStore) ScheduleAt(ctx context.Context, job Job) error {
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.scheduleKey(), redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: job.ID,
	})
	pipe.Set(ctx, s.payloadKey(job.ID), job.Payload, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка регистрации задачи %s в Redis: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Cancel(ctx context.Context, id string) (bool, error) {
	removed, err := s.client.ZRem(ctx, s.scheduleKey(), id).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка удаления задачи %s из Redis: %w", id, err)
	}
	if err := s.client.Del(ctx, s.payloadKey(id)).Err(); err != nil {
		s.logger.Warn("Failed to delete job payload", zap.String("jobID", id), zap.Error(err))
	}
	return removed > 0, nil
}

func (s *RedisStore) IsLive(ctx context.Context, id string) (bool, error) {
	_, err := s.client.ZScore(ctx, s.scheduleKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки задачи %s в Redis: %w", id, err)
	}
	return true, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Job, error) {
	entries, err := s.client.ZRangeWithScores(ctx, s.scheduleKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки задач из Redis: %w", err)
	}
	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		id, _ := e.Member.(string)
		payload, err := s.client.Get(ctx, s.payloadKey(id)).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("ошибка чтения payload задачи %s: %w", id, err)
		}
		jobs = append(jobs, Job{
			ID:      id,
			RunAt:   time.UnixMilli(int64(e.Score)).UTC(),
			Payload: payload,
		})
	}
	return jobs, nil
}

func (s *RedisStore) Start(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	defer close(s.doneCh)

	s.logger.Info("Redis job store started",
		zap.String("keyPrefix", s.keyPrefix),
		zap.Duration("pollInterval", s.pollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.dispatchDue(ctx, handler)
		}
	}
}

func (s *RedisStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *RedisStore) dispatchDue(ctx context.Context, handler Handler) {
	now := time.Now().UTC()
	entries, err := s.client.ZRangeByScoreWithScores(ctx, s.scheduleKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		s.logger.Error("Failed to fetch due jobs", zap.Error(err))
		return
	}

	for _, e := range entries {
		id, _ := e.Member.(string)
		runAt := time.UnixMilli(int64(e.Score)).UTC()

		// Блокировка на job id: второй экземпляр сервиса триггер не возьмет
		locked, err := s.client.SetNX(ctx, s.lockKey(id), 1, s.lockTTL).Result()
		if err != nil {
			s.logger.Error("Failed to acquire job lock", zap.String("jobID", id), zap.Error(err))
			continue
		}
		if !locked {
			continue
		}

		// ZRem — точка захвата: кто удалил member, тот и исполняет.
		// Несколько пропущенных сроков схлопываются в одно исполнение.
		removed, err := s.client.ZRem(ctx, s.scheduleKey(), id).Result()
		if err != nil || removed == 0 {
			s.client.Del(ctx, s.lockKey(id))
			continue
		}

		payload, err := s.client.GetDel(ctx, s.payloadKey(id)).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			s.logger.Error("Failed to read job payload", zap.String("jobID", id), zap.Error(err))
		}

		if now.Sub(runAt) > s.graceWindow {
			staleJobsDroppedTotal.Inc()
			s.logger.Warn("Dropping stale job past misfire grace window",
				zap.String("jobID", id),
				zap.Time("runAt", runAt),
				zap.Duration("staleness", now.Sub(runAt)),
			)
			s.client.Del(ctx, s.lockKey(id))
			continue
		}

		jobsExecutedTotal.Inc()
		handler(ctx, Job{ID: id, RunAt: runAt, Payload: payload})
		s.client.Del(ctx, s.lockKey(id))
	}
}

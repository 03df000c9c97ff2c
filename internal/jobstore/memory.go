package jobstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Compile-time check
var _ Store = (*MemoryStore)(nil)

// MemoryStore — in-memory реализация Store. Используется в тестах и как
// fallback, когда Redis не сконфигурирован. Не переживает рестарт процесса —
// восстановление обеспечивает ReconcileOnStartup планировщика.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]Job
	logger *zap.Logger

	pollInterval time.Duration
	graceWindow  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// MemoryStoreConfig — настройки in-memory хранилища.
type MemoryStoreConfig struct {
	PollInterval time.Duration // период опроса, по умолчанию 250ms
	GraceWindow  time.Duration // окно misfire grace, по умолчанию 5 минут
}

func NewMemoryStore(cfg MemoryStoreConfig, logger *zap.Logger) *MemoryStore {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 5 * time.Minute
	}
	return &MemoryStore{
		jobs:         make(map[string]Job),
		logger:       logger.Named("memory_jobstore"),
		pollInterval: cfg.PollInterval,
		graceWindow:  cfg.GraceWindow,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (s *MemoryStore) ScheduleAt(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Replace-семантика: существующая задача с тем же ID перезаписывается
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) Cancel(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	return ok, nil
}

func (s *MemoryStore) IsLive(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Start опрашивает хранилище и последовательно исполняет созревшие задачи.
// Последовательность даёт гарантию "не более одного исполнения на job id".
func (s *MemoryStore) Start(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	defer close(s.doneCh)

	s.logger.Info("In-memory job store started", zap.Duration("pollInterval", s.pollInterval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			for _, job := range s.claimDue(time.Now().UTC()) {
				jobsExecutedTotal.Inc()
				handler(ctx, job)
			}
		}
	}
}

func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

// claimDue атомарно изымает созревшие задачи. Просроченные сверх grace-окна
// отбрасываются: лучше потерять триггер и дать reconcile пересоздать его,
// чем выстрелить релизом на часы позже.
func (s *MemoryStore) claimDue(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for id, job := range s.jobs {
		if job.RunAt.After(now) {
			continue
		}
		delete(s.jobs, id)
		if now.Sub(job.RunAt) > s.graceWindow {
			staleJobsDroppedTotal.Inc()
			s.logger.Warn("Dropping stale job past misfire grace window",
				zap.String("jobID", id),
				zap.Time("runAt", job.RunAt),
				zap.Duration("staleness", now.Sub(job.RunAt)),
			)
			continue
		}
		due = append(due, job)
	}
	return due
}

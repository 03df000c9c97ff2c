package notifier

import (
	"context"
	"time"

	"story-engine/internal/sender"
	"story-engine/shared/interfaces"
	"story-engine/shared/models"

	"go.uber.org/zap"
)

// AttemptFunc — одна попытка доставки по одному каналу одной цели.
type AttemptFunc func(ctx context.Context) (sender.Outcome, error)

// Retrier оборачивает попытку доставки в повторы с экспоненциальной
// задержкой: baseDelay * 2^(attempt-1) между попытками. OutcomePermanent
// обрывает повторы сразу. Статус и счетчик попыток фиксируются в журнале
// уведомлений после каждой попытки.
type Retrier struct {
	db     interfaces.DBTX
	logs   interfaces.NotificationLogRepository
	logger *zap.Logger

	maxRetries int
	baseDelay  time.Duration

	// sleep подменяется в тестах, чтобы не ждать реальных задержек
	sleep func(ctx context.Context, d time.Duration) error
}

// RetrierConfig — настройки повторов доставки.
type RetrierConfig struct {
	MaxRetries int           // всего попыток на цель, по умолчанию 3
	BaseDelay  time.Duration // базовая задержка, по умолчанию 1s
}

func NewRetrier(db interfaces.DBTX, logs interfaces.NotificationLogRepository, cfg RetrierConfig, logger *zap.Logger) *Retrier {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Retrier{
		db:         db,
		logs:       logs,
		logger:     logger.Named("retrier"),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		sleep:      sleepContext,
	}
}

// Do гоняет attempt до успеха, постоянной ошибки или исчерпания попыток.
// rec должен быть уже создан в журнале; Do мутирует его статус, счетчик
// попыток и текст ошибки и сохраняет после каждой попытки.
func (r *Retrier) Do(ctx context.Context, rec *models.NotificationLog, attempt AttemptFunc) (sender.Outcome, error) {
	var lastErr error
	for n := 1; n <= r.maxRetries; n++ {
		rec.Attempts = n
		if n > 1 {
			notificationRetriesTotal.Inc()
		}

		outcome, err := attempt(ctx)
		switch outcome {
		case sender.OutcomeSent:
			now := time.Now().UTC()
			rec.Status = models.NotificationSent
			rec.SentAt = &now
			rec.ErrorMessage = nil
			r.persist(ctx, rec)
			return sender.OutcomeSent, nil
		case sender.OutcomePermanent:
			rec.Status = models.NotificationFailed
			rec.ErrorMessage = errText(err)
			r.persist(ctx, rec)
			return sender.OutcomePermanent, err
		}

		lastErr = err
		if n == r.maxRetries {
			break
		}

		rec.Status = models.NotificationRetrying
		rec.ErrorMessage = errText(err)
		r.persist(ctx, rec)

		delay := r.baseDelay << (n - 1)
		r.logger.Debug("Delivery attempt failed, backing off",
			zap.Int64("logID", rec.ID),
			zap.Int("attempt", n),
			zap.Duration("delay", delay),
		)
		if err := r.sleep(ctx, delay); err != nil {
			rec.Status = models.NotificationFailed
			rec.ErrorMessage = errText(err)
			r.persist(ctx, rec)
			return sender.OutcomeRetryable, err
		}
	}

	rec.Status = models.NotificationFailed
	rec.ErrorMessage = errText(lastErr)
	r.persist(ctx, rec)
	return sender.OutcomeRetryable, lastErr
}

// persist — сбой записи журнала доставку не ломает, только логируется
func (r *Retrier) persist(ctx context.Context, rec *models.NotificationLog) {
	if err := r.logs.Update(ctx, r.db, rec); err != nil {
		r.logger.Error("Failed to persist notification log record",
			zap.Int64("logID", rec.ID),
			zap.Error(err),
		)
	}
}

func errText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

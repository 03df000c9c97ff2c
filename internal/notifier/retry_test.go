package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"story-engine/internal/sender"
	sharedMocks "story-engine/shared/interfaces/mocks"
	"story-engine/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestRetrier возвращает Retrier с подмененным sleep: задержки копятся
// в возвращаемый срез вместо реального ожидания.
func newTestRetrier(t *testing.T, cfg RetrierConfig) (*Retrier, *[]time.Duration) {
	t.Helper()

	logs := new(sharedMocks.NotificationLogRepository)
	logs.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	r := NewRetrier(nil, logs, cfg, zap.NewNop())
	delays := &[]time.Duration{}
	r.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return r, delays
}

func newLogRecord() *models.NotificationLog {
	return &models.NotificationLog{
		Channel: models.ChannelEmail,
		Status:  models.NotificationPending,
	}
}

func TestRetrierDo(t *testing.T) {
	ctx := context.Background()

	t.Run("First-attempt success marks the record sent", func(t *testing.T) {
		r, delays := newTestRetrier(t, RetrierConfig{MaxRetries: 3, BaseDelay: time.Second})
		rec := newLogRecord()

		outcome, err := r.Do(ctx, rec, func(context.Context) (sender.Outcome, error) {
			return sender.OutcomeSent, nil
		})

		require.NoError(t, err)
		assert.Equal(t, sender.OutcomeSent, outcome)
		assert.Equal(t, models.NotificationSent, rec.Status)
		assert.Equal(t, 1, rec.Attempts)
		assert.NotNil(t, rec.SentAt)
		assert.Nil(t, rec.ErrorMessage)
		assert.Empty(t, *delays)
	})

	t.Run("Transient failure recovers with exponential backoff", func(t *testing.T) {
		r, delays := newTestRetrier(t, RetrierConfig{MaxRetries: 3, BaseDelay: time.Second})
		rec := newLogRecord()

		calls := 0
		outcome, err := r.Do(ctx, rec, func(context.Context) (sender.Outcome, error) {
			calls++
			if calls < 3 {
				return sender.OutcomeRetryable, errors.New("smtp 451")
			}
			return sender.OutcomeSent, nil
		})

		require.NoError(t, err)
		assert.Equal(t, sender.OutcomeSent, outcome)
		assert.Equal(t, 3, rec.Attempts)
		assert.Equal(t, models.NotificationSent, rec.Status)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
	})

	t.Run("Retry cap exhausts with the 1s,2s delay sequence", func(t *testing.T) {
		r, delays := newTestRetrier(t, RetrierConfig{MaxRetries: 3, BaseDelay: time.Second})
		rec := newLogRecord()

		outcome, err := r.Do(ctx, rec, func(context.Context) (sender.Outcome, error) {
			return sender.OutcomeRetryable, errors.New("connection refused")
		})

		require.Error(t, err)
		assert.Equal(t, sender.OutcomeRetryable, outcome)
		assert.Equal(t, 3, rec.Attempts)
		assert.Equal(t, models.NotificationFailed, rec.Status)
		require.NotNil(t, rec.ErrorMessage)
		assert.Equal(t, "connection refused", *rec.ErrorMessage)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
	})

	t.Run("Permanent failure short-circuits without retries", func(t *testing.T) {
		r, delays := newTestRetrier(t, RetrierConfig{MaxRetries: 3, BaseDelay: time.Second})
		rec := newLogRecord()

		calls := 0
		outcome, err := r.Do(ctx, rec, func(context.Context) (sender.Outcome, error) {
			calls++
			return sender.OutcomePermanent, errors.New("subscription gone")
		})

		require.Error(t, err)
		assert.Equal(t, sender.OutcomePermanent, outcome)
		assert.Equal(t, 1, calls)
		assert.Equal(t, models.NotificationFailed, rec.Status)
		assert.Empty(t, *delays)
	})

	t.Run("Cancelled context aborts the backoff wait", func(t *testing.T) {
		logs := new(sharedMocks.NotificationLogRepository)
		logs.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		r := NewRetrier(nil, logs, RetrierConfig{MaxRetries: 3, BaseDelay: time.Second}, zap.NewNop())
		r.sleep = func(ctx context.Context, _ time.Duration) error {
			return context.Canceled
		}
		rec := newLogRecord()

		outcome, err := r.Do(ctx, rec, func(context.Context) (sender.Outcome, error) {
			return sender.OutcomeRetryable, errors.New("timeout")
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, sender.OutcomeRetryable, outcome)
		assert.Equal(t, models.NotificationFailed, rec.Status)
		assert.Equal(t, 1, rec.Attempts)
	})
}

package scheduler_test

import (
	"testing"
	"time"

	"story-engine/internal/scheduler"
	"story-engine/shared/models"

	"github.com/stretchr/testify/assert"
)

func TestNextRelease(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Daily frequency adds 24 hours", func(t *testing.T) {
		next := scheduler.NextRelease(t0, models.FrequencyDaily)
		assert.Equal(t, t0.Add(24*time.Hour), next)
	})

	t.Run("Weekly frequency adds 7 days", func(t *testing.T) {
		next := scheduler.NextRelease(t0, models.FrequencyWeekly)
		assert.Equal(t, t0.Add(7*24*time.Hour), next)
	})

	t.Run("Unknown frequency falls back to daily", func(t *testing.T) {
		next := scheduler.NextRelease(t0, models.ReleaseFrequency("biweekly"))
		assert.Equal(t, t0.Add(24*time.Hour), next)
	})

	t.Run("Fixed frequency is treated as daily", func(t *testing.T) {
		next := scheduler.NextRelease(t0, models.FrequencyFixed)
		assert.Equal(t, t0.Add(24*time.Hour), next)
	})

	t.Run("Chained calls produce an even cadence", func(t *testing.T) {
		second := scheduler.NextRelease(t0, models.FrequencyDaily)
		third := scheduler.NextRelease(second, models.FrequencyDaily)
		assert.Equal(t, t0.Add(48*time.Hour), third)
	})
}

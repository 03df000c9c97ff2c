package mocks

import (
	"context"
	"time"

	"story-engine/shared/interfaces"
	"story-engine/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock StoryRepository
type StoryRepository struct {
	mock.Mock
}

func (m *StoryRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Story, error) {
	args := m.Called(ctx, querier, id)
	story, _ := args.Get(0).(*models.Story)
	return story, args.Error(1)
}

func (m *StoryRepository) UpdateSchedule(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, isSerialized bool, startDate *time.Time, frequency models.ReleaseFrequency, timezone string, nextReleaseAt *time.Time) error {
	args := m.Called(ctx, querier, id, isSerialized, startDate, frequency, timezone, nextReleaseAt)
	return args.Error(0)
}

func (m *StoryRepository) UpdateNextRelease(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, nextReleaseAt *time.Time) error {
	args := m.Called(ctx, querier, id, nextReleaseAt)
	return args.Error(0)
}

func (m *StoryRepository) IncrementCompleted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, safetyScore float64) error {
	args := m.Called(ctx, querier, id, safetyScore)
	return args.Error(0)
}

func (m *StoryRepository) ListSerializedWithFutureRelease(ctx context.Context, querier interfaces.DBTX, after time.Time) ([]*models.Story, error) {
	args := m.Called(ctx, querier, after)
	stories, _ := args.Get(0).([]*models.Story)
	return stories, args.Error(1)
}

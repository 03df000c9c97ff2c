package mocks

import (
	"context"
	"time"

	"story-engine/shared/interfaces"
	"story-engine/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock EpisodeRepository
type EpisodeRepository struct {
	mock.Mock
}

func (m *EpisodeRepository) GetByIndex(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID, episodeIndex int) (*models.Episode, error) {
	args := m.Called(ctx, querier, storyID, episodeIndex)
	ep, _ := args.Get(0).(*models.Episode)
	return ep, args.Error(1)
}

func (m *EpisodeRepository) GetByIndexForUpdate(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID, episodeIndex int) (*models.Episode, error) {
	args := m.Called(ctx, querier, storyID, episodeIndex)
	ep, _ := args.Get(0).(*models.Episode)
	return ep, args.Error(1)
}

func (m *EpisodeRepository) ListSchedulable(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) ([]*models.Episode, error) {
	args := m.Called(ctx, querier, storyID)
	eps, _ := args.Get(0).([]*models.Episode)
	return eps, args.Error(1)
}

func (m *EpisodeRepository) ListByStory(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) ([]*models.Episode, error) {
	args := m.Called(ctx, querier, storyID)
	eps, _ := args.Get(0).([]*models.Episode)
	return eps, args.Error(1)
}

func (m *EpisodeRepository) ListScheduled(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) ([]*models.Episode, error) {
	args := m.Called(ctx, querier, storyID)
	eps, _ := args.Get(0).([]*models.Episode)
	return eps, args.Error(1)
}

func (m *EpisodeRepository) MarkScheduled(ctx context.Context, querier interfaces.DBTX, episodeID int64, scheduledFor time.Time) error {
	args := m.Called(ctx, querier, episodeID, scheduledFor)
	return args.Error(0)
}

func (m *EpisodeRepository) MarkPublished(ctx context.Context, querier interfaces.DBTX, episodeID int64, publishedAt time.Time) error {
	args := m.Called(ctx, querier, episodeID, publishedAt)
	return args.Error(0)
}

func (m *EpisodeRepository) ResetToDraft(ctx context.Context, querier interfaces.DBTX, episodeID int64) error {
	args := m.Called(ctx, querier, episodeID)
	return args.Error(0)
}

func (m *EpisodeRepository) MinScheduledFor(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) (*time.Time, error) {
	args := m.Called(ctx, querier, storyID)
	t, _ := args.Get(0).(*time.Time)
	return t, args.Error(1)
}

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"story-engine/shared/interfaces"
	"story-engine/shared/models"
)

// Константы запросов для работы с историями
const (
	getStoryByIDQuery = `
        SELECT id, user_id, title, total_episodes, completed_episodes,
               is_serialized, start_date, release_frequency, timezone,
               next_release_at, average_safety_score, status, created_at, updated_at
        FROM stories
        WHERE id = $1
    `
	updateStoryScheduleQuery = `
        UPDATE stories
        SET is_serialized = $2,
            start_date = $3,
            release_frequency = $4,
            timezone = $5,
            next_release_at = $6,
            updated_at = NOW()
        WHERE id = $1
    `
	updateStoryNextReleaseQuery = `UPDATE stories SET next_release_at = $2, updated_at = NOW() WHERE id = $1`
	// Скользящее среднее по уже опубликованным эпизодам
	incrementCompletedQuery = `
        UPDATE stories
        SET completed_episodes = completed_episodes + 1,
            average_safety_score = (average_safety_score * completed_episodes + $2) / (completed_episodes + 1),
            updated_at = NOW()
        WHERE id = $1
    `
	listSerializedWithFutureReleaseQuery = `
        SELECT id, user_id, title, total_episodes, completed_episodes,
               is_serialized, start_date, release_frequency, timezone,
               next_release_at, average_safety_score, status, created_at, updated_at
        FROM stories
        WHERE is_serialized = TRUE
          AND next_release_at IS NOT NULL
          AND next_release_at > $1
    `
)

// Compile-time check
var _ interfaces.StoryRepository = (*pgStoryRepository)(nil)

// pgStoryRepository реализует интерфейс StoryRepository для PostgreSQL.
type pgStoryRepository struct {
	logger *zap.Logger
}

func NewPgStoryRepository(logger *zap.Logger) interfaces.StoryRepository {
	return &pgStoryRepository{logger: logger.Named("story_repo")}
}

func (r *pgStoryRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Story, error) {
	var story models.Story
	row := querier.QueryRow(ctx, getStoryByIDQuery, id)
	err := row.Scan(
		&story.ID, &story.UserID, &story.Title,
		&story.TotalEpisodes, &story.CompletedEpisodes,
		&story.IsSerialized, &story.StartDate, &story.ReleaseFrequency, &story.Timezone,
		&story.NextReleaseAt, &story.AverageSafetyScore, &story.Status,
		&story.CreatedAt, &story.UpdatedAt,
	)
	if err != nil {
		return nil, WrapNotFound(err)
	}
	return &story, nil
}

func (r *pgStoryRepository) UpdateSchedule(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, isSerialized bool, startDate *time.Time, frequency models.ReleaseFrequency, timezone string, nextReleaseAt *time.Time) error {
	tag, err := querier.Exec(ctx, updateStoryScheduleQuery, id, isSerialized, startDate, frequency, timezone, nextReleaseAt)
	if err != nil {
		r.logger.Error("Failed to update story schedule", zap.String("storyID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка обновления расписания истории %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *pgStoryRepository) UpdateNextRelease(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, nextReleaseAt *time.Time) error {
	tag, err := querier.Exec(ctx, updateStoryNextReleaseQuery, id, nextReleaseAt)
	if err != nil {
		r.logger.Error("Failed to update next release", zap.String("storyID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка обновления next_release_at истории %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *pgStoryRepository) IncrementCompleted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, safetyScore float64) error {
	tag, err := querier.Exec(ctx, incrementCompletedQuery, id, safetyScore)
	if err != nil {
		r.logger.Error("Failed to increment completed episodes", zap.String("storyID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка обновления счетчика эпизодов истории %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *pgStoryRepository) ListSerializedWithFutureRelease(ctx context.Context, querier interfaces.DBTX, after time.Time) ([]*models.Story, error) {
	var stories []*models.Story
	if err := pgxscan.Select(ctx, querier, &stories, listSerializedWithFutureReleaseQuery, after); err != nil {
		r.logger.Error("Failed to list serialized stories", zap.Error(err))
		return nil, fmt.Errorf("ошибка выборки сериализованных историй: %w", err)
	}
	return stories, nil
}

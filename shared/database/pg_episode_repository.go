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

// Константы запросов для работы с эпизодами
const (
	episodeColumns = `id, story_id, episode_index, title, safety_score, status,
               scheduled_for, published_at, created_at, updated_at`

	getEpisodeByIndexQuery = `
        SELECT ` + episodeColumns + `
        FROM episodes
        WHERE story_id = $1 AND episode_index = $2
    `
	// FOR UPDATE — защита от двойной публикации при конкурентных триггерах
	getEpisodeByIndexForUpdateQuery = getEpisodeByIndexQuery + ` FOR UPDATE`

	listSchedulableEpisodesQuery = `
        SELECT ` + episodeColumns + `
        FROM episodes
        WHERE story_id = $1 AND status IN ('draft', 'scheduled')
        ORDER BY episode_index
    `
	listEpisodesByStoryQuery = `
        SELECT ` + episodeColumns + `
        FROM episodes
        WHERE story_id = $1
        ORDER BY episode_index
    `
	listScheduledEpisodesQuery = `
        SELECT ` + episodeColumns + `
        FROM episodes
        WHERE story_id = $1 AND status = 'scheduled'
        ORDER BY episode_index
    `
	markEpisodeScheduledQuery = `
        UPDATE episodes
        SET status = 'scheduled', scheduled_for = $2, updated_at = NOW()
        WHERE id = $1
    `
	markEpisodePublishedQuery = `
        UPDATE episodes
        SET status = 'published', published_at = $2, updated_at = NOW()
        WHERE id = $1
    `
	resetEpisodeToDraftQuery = `
        UPDATE episodes
        SET status = 'draft', scheduled_for = NULL, updated_at = NOW()
        WHERE id = $1
    `
	minScheduledForQuery = `
        SELECT MIN(scheduled_for)
        FROM episodes
        WHERE story_id = $1 AND status = 'scheduled'
    `
)

// Compile-time check
var _ interfaces.EpisodeRepository = (*pgEpisodeRepository)(nil)

// pgEpisodeRepository реализует интерфейс EpisodeRepository для PostgreSQL.
type pgEpisodeRepository struct {
	logger *zap.Logger
}

func NewPgEpisodeRepository(logger *zap.Logger) interfaces.EpisodeRepository {
	return &pgEpisodeRepository{logger: logger.Named("episode_repo")}
}

func (r *pgEpisodeRepository) scanOne(ctx context.Context, querier interfaces.DBTX, query string, storyID uuid.UUID, episodeIndex int) (*models.Episode, error) {
	var ep models.Episode
	row := querier.QueryRow(ctx, query, storyID, episodeIndex)
	err := row.Scan(
		&ep.ID, &ep.StoryID, &ep.EpisodeIndex, &ep.Title, &ep.SafetyScore, &ep.Status,
		&ep.ScheduledFor, &ep.PublishedAt, &ep.CreatedAt, &ep.UpdatedAt,
	)
	if err != nil {
		return nil, WrapNotFound(err)
	}
	return &ep, nil
}

func (r *pgEpisodeRepository) GetByIndex(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID, episodeIndex int) (*models.Episode, error) {
	return r.scanOne(ctx, querier, getEpisodeByIndexQuery, storyID, episodeIndex)
}

func (r *pgEpisodeRepository) GetByIndexForUpdate(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID, episodeIndex int) (*models.Episode, error) {
	return r.scanOne(ctx, querier, getEpisodeByIndexForUpdateQuery, storyID, episodeIndex)
}

func (r *pgEpisodeRepository) ListSchedulable(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) ([]*models.Episode, error) {
	return r.list(ctx, querier, listSchedulableEpisodesQuery, storyID)
}

func (r *pgEpisodeRepository) ListByStory(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) ([]*models.Episode, error) {
	return r.list(ctx, querier, listEpisodesByStoryQuery, storyID)
}

func (r *pgEpisodeRepository) ListScheduled(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) ([]*models.Episode, error) {
	return r.list(ctx, querier, listScheduledEpisodesQuery, storyID)
}

func (r *pgEpisodeRepository) list(ctx context.Context, querier interfaces.DBTX, query string, storyID uuid.UUID) ([]*models.Episode, error) {
	var episodes []*models.Episode
	if err := pgxscan.Select(ctx, querier, &episodes, query, storyID); err != nil {
		r.logger.Error("Failed to list episodes", zap.String("storyID", storyID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка выборки эпизодов истории %s: %w", storyID, err)
	}
	return episodes, nil
}

func (r *pgEpisodeRepository) MarkScheduled(ctx context.Context, querier interfaces.DBTX, episodeID int64, scheduledFor time.Time) error {
	return r.exec(ctx, querier, markEpisodeScheduledQuery, episodeID, scheduledFor)
}

func (r *pgEpisodeRepository) MarkPublished(ctx context.Context, querier interfaces.DBTX, episodeID int64, publishedAt time.Time) error {
	return r.exec(ctx, querier, markEpisodePublishedQuery, episodeID, publishedAt)
}

func (r *pgEpisodeRepository) ResetToDraft(ctx context.Context, querier interfaces.DBTX, episodeID int64) error {
	return r.exec(ctx, querier, resetEpisodeToDraftQuery, episodeID)
}

func (r *pgEpisodeRepository) exec(ctx context.Context, querier interfaces.DBTX, query string, args ...any) error {
	tag, err := querier.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update episode", zap.Error(err))
		return fmt.Errorf("ошибка обновления эпизода: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *pgEpisodeRepository) MinScheduledFor(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) (*time.Time, error) {
	var min *time.Time
	if err := querier.QueryRow(ctx, minScheduledForQuery, storyID).Scan(&min); err != nil {
		r.logger.Error("Failed to query min scheduled_for", zap.String("storyID", storyID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка выборки ближайшего релиза истории %s: %w", storyID, err)
	}
	return min, nil
}

package database

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"story-engine/shared/interfaces"
	"story-engine/shared/models"
)

const (
	insertNotificationLogQuery = `
        INSERT INTO notification_log
            (user_id, story_id, episode_index, channel, status, attempts, error_message, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `
	updateNotificationLogQuery = `
        UPDATE notification_log
        SET status = $2, attempts = $3, error_message = $4, sent_at = $5, updated_at = NOW()
        WHERE id = $1
    `
	listNotificationLogByUserQuery = `
        SELECT id, user_id, story_id, episode_index, channel, status, attempts,
               error_message, created_at, sent_at, updated_at
        FROM notification_log
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
)

// Compile-time check
var _ interfaces.NotificationLogRepository = (*pgNotificationLogRepository)(nil)

// pgNotificationLogRepository хранит журнал попыток доставки. Записи никогда
// не удаляются — только обновляются по мере ретраев.
type pgNotificationLogRepository struct {
	logger *zap.Logger
}

func NewPgNotificationLogRepository(logger *zap.Logger) interfaces.NotificationLogRepository {
	return &pgNotificationLogRepository{logger: logger.Named("notification_log_repo")}
}

func (r *pgNotificationLogRepository) Create(ctx context.Context, querier interfaces.DBTX, rec *models.NotificationLog) error {
	row := querier.QueryRow(ctx, insertNotificationLogQuery,
		rec.UserID, rec.StoryID, rec.EpisodeIndex, rec.Channel, rec.Status, rec.Attempts, rec.ErrorMessage)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		r.logger.Error("Failed to insert notification log", zap.String("userID", rec.UserID.String()), zap.Error(err))
		return fmt.Errorf("ошибка создания записи журнала уведомлений: %w", err)
	}
	return nil
}

func (r *pgNotificationLogRepository) Update(ctx context.Context, querier interfaces.DBTX, rec *models.NotificationLog) error {
	tag, err := querier.Exec(ctx, updateNotificationLogQuery,
		rec.ID, rec.Status, rec.Attempts, rec.ErrorMessage, rec.SentAt)
	if err != nil {
		r.logger.Error("Failed to update notification log", zap.Int64("logID", rec.ID), zap.Error(err))
		return fmt.Errorf("ошибка обновления записи журнала уведомлений %d: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *pgNotificationLogRepository) ListByUserID(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID, limit int) ([]*models.NotificationLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []*models.NotificationLog
	if err := pgxscan.Select(ctx, querier, &recs, listNotificationLogByUserQuery, userID, limit); err != nil {
		r.logger.Error("Failed to list notification log", zap.String("userID", userID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка выборки журнала уведомлений пользователя %s: %w", userID, err)
	}
	return recs, nil
}

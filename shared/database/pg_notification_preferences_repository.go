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
	getPreferencesByUserQuery = `
        SELECT user_id, email_enabled, email_address, webpush_enabled, device_push_enabled
        FROM notification_preferences
        WHERE user_id = $1
    `
	listEnabledPreferencesQuery = `
        SELECT user_id, email_enabled, email_address, webpush_enabled, device_push_enabled
        FROM notification_preferences
        WHERE email_enabled = TRUE OR webpush_enabled = TRUE OR device_push_enabled = TRUE
        ORDER BY user_id
    `
)

// Compile-time check
var _ interfaces.NotificationPreferencesRepository = (*pgNotificationPreferencesRepository)(nil)

type pgNotificationPreferencesRepository struct {
	logger *zap.Logger
}

func NewPgNotificationPreferencesRepository(logger *zap.Logger) interfaces.NotificationPreferencesRepository {
	return &pgNotificationPreferencesRepository{logger: logger.Named("notification_prefs_repo")}
}

func (r *pgNotificationPreferencesRepository) GetByUserID(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID) (*models.NotificationPreferences, error) {
	var prefs models.NotificationPreferences
	row := querier.QueryRow(ctx, getPreferencesByUserQuery, userID)
	err := row.Scan(&prefs.UserID, &prefs.EmailEnabled, &prefs.EmailAddress, &prefs.WebpushEnabled, &prefs.DevicePushEnabled)
	if err != nil {
		return nil, WrapNotFound(err)
	}
	return &prefs, nil
}

func (r *pgNotificationPreferencesRepository) ListEnabled(ctx context.Context, querier interfaces.DBTX) ([]*models.NotificationPreferences, error) {
	var prefs []*models.NotificationPreferences
	if err := pgxscan.Select(ctx, querier, &prefs, listEnabledPreferencesQuery); err != nil {
		r.logger.Error("Failed to list enabled notification preferences", zap.Error(err))
		return nil, fmt.Errorf("ошибка выборки настроек уведомлений: %w", err)
	}
	return prefs, nil
}

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
	listDeviceTokensForUserQuery = `
        SELECT user_id, token, platform
        FROM user_device_tokens
        WHERE user_id = $1
    `
	deleteDeviceTokenQuery = `DELETE FROM user_device_tokens WHERE token = $1`
)

// Compile-time check
var _ interfaces.DeviceTokenRepository = (*pgDeviceTokenRepository)(nil)

type pgDeviceTokenRepository struct {
	logger *zap.Logger
}

func NewPgDeviceTokenRepository(logger *zap.Logger) interfaces.DeviceTokenRepository {
	return &pgDeviceTokenRepository{logger: logger.Named("device_token_repo")}
}

func (r *pgDeviceTokenRepository) ListByUserID(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID) ([]*models.DeviceToken, error) {
	var tokens []*models.DeviceToken
	if err := pgxscan.Select(ctx, querier, &tokens, listDeviceTokensForUserQuery, userID); err != nil {
		r.logger.Error("Failed to list device tokens", zap.String("userID", userID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка выборки токенов устройств пользователя %s: %w", userID, err)
	}
	return tokens, nil
}

// Delete удаляет невалидный токен (Unregistered/BadDeviceToken от платформы).
func (r *pgDeviceTokenRepository) Delete(ctx context.Context, querier interfaces.DBTX, token string) error {
	_, err := querier.Exec(ctx, deleteDeviceTokenQuery, token)
	if err != nil {
		r.logger.Error("Failed to delete device token", zap.Error(err))
		return fmt.Errorf("ошибка удаления токена устройства: %w", err)
	}
	return nil
}

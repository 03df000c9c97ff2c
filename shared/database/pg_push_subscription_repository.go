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
	listSubscriptionsByUserQuery = `
        SELECT id, user_id, endpoint, p256dh_key, auth_key, created_at
        FROM push_subscriptions
        WHERE user_id = $1
        ORDER BY created_at
    `
	deleteSubscriptionQuery = `DELETE FROM push_subscriptions WHERE id = $1`
)

// Compile-time check
var _ interfaces.PushSubscriptionRepository = (*pgPushSubscriptionRepository)(nil)

type pgPushSubscriptionRepository struct {
	logger *zap.Logger
}

func NewPgPushSubscriptionRepository(logger *zap.Logger) interfaces.PushSubscriptionRepository {
	return &pgPushSubscriptionRepository{logger: logger.Named("push_subscription_repo")}
}

func (r *pgPushSubscriptionRepository) ListByUserID(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID) ([]*models.PushSubscription, error) {
	var subs []*models.PushSubscription
	if err := pgxscan.Select(ctx, querier, &subs, listSubscriptionsByUserQuery, userID); err != nil {
		r.logger.Error("Failed to list push subscriptions", zap.String("userID", userID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка выборки push-подписок пользователя %s: %w", userID, err)
	}
	return subs, nil
}

// Delete удаляет протухшую подписку (permanent failure от push-сервиса).
func (r *pgPushSubscriptionRepository) Delete(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) error {
	_, err := querier.Exec(ctx, deleteSubscriptionQuery, id)
	if err != nil {
		r.logger.Error("Failed to delete push subscription", zap.String("subscriptionID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка удаления push-подписки %s: %w", id, err)
	}
	return nil
}

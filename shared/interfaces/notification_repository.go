package interfaces

import (
	"context"

	"story-engine/shared/models"

	"github.com/google/uuid"
)

// NotificationPreferencesRepository is a read-only lookup of per-user channel opt-ins.
//
//go:generate mockery --name NotificationPreferencesRepository --output ./mocks --outpkg mocks --case=underscore
type NotificationPreferencesRepository interface {
	// GetByUserID returns the preferences row for one user.
	GetByUserID(ctx context.Context, querier DBTX, userID uuid.UUID) (*models.NotificationPreferences, error)

	// ListEnabled returns every user with at least one channel enabled.
	ListEnabled(ctx context.Context, querier DBTX) ([]*models.NotificationPreferences, error)
}

// PushSubscriptionRepository manages web-push endpoints. Writable only to
// delete an expired subscription.
//
//go:generate mockery --name PushSubscriptionRepository --output ./mocks --outpkg mocks --case=underscore
type PushSubscriptionRepository interface {
	ListByUserID(ctx context.Context, querier DBTX, userID uuid.UUID) ([]*models.PushSubscription, error)

	// Delete removes a subscription whose endpoint reported a permanent failure.
	Delete(ctx context.Context, querier DBTX, id uuid.UUID) error
}

// DeviceTokenRepository manages mobile push tokens. Writable only to delete
// a token the platform reported as unregistered.
//
//go:generate mockery --name DeviceTokenRepository --output ./mocks --outpkg mocks --case=underscore
type DeviceTokenRepository interface {
	ListByUserID(ctx context.Context, querier DBTX, userID uuid.UUID) ([]*models.DeviceToken, error)

	Delete(ctx context.Context, querier DBTX, token string) error
}

// NotificationLogRepository is the durable per-attempt audit trail. Rows are
// created pending, mutated across retries and never deleted.
//
//go:generate mockery --name NotificationLogRepository --output ./mocks --outpkg mocks --case=underscore
type NotificationLogRepository interface {
	// Create inserts a new log row and fills in its generated ID.
	Create(ctx context.Context, querier DBTX, rec *models.NotificationLog) error

	// Update persists status, attempts, error message and sent_at of rec.
	Update(ctx context.Context, querier DBTX, rec *models.NotificationLog) error

	// ListByUserID returns the user's log rows, newest first.
	ListByUserID(ctx context.Context, querier DBTX, userID uuid.UUID, limit int) ([]*models.NotificationLog, error)
}

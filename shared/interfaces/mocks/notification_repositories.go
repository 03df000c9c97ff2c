package mocks

import (
	"context"

	"story-engine/shared/interfaces"
	"story-engine/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock NotificationPreferencesRepository
type NotificationPreferencesRepository struct {
	mock.Mock
}

func (m *NotificationPreferencesRepository) GetByUserID(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID) (*models.NotificationPreferences, error) {
	args := m.Called(ctx, querier, userID)
	prefs, _ := args.Get(0).(*models.NotificationPreferences)
	return prefs, args.Error(1)
}

func (m *NotificationPreferencesRepository) ListEnabled(ctx context.Context, querier interfaces.DBTX) ([]*models.NotificationPreferences, error) {
	args := m.Called(ctx, querier)
	prefs, _ := args.Get(0).([]*models.NotificationPreferences)
	return prefs, args.Error(1)
}

// Mock PushSubscriptionRepository
type PushSubscriptionRepository struct {
	mock.Mock
}

func (m *PushSubscriptionRepository) ListByUserID(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID) ([]*models.PushSubscription, error) {
	args := m.Called(ctx, querier, userID)
	subs, _ := args.Get(0).([]*models.PushSubscription)
	return subs, args.Error(1)
}

func (m *PushSubscriptionRepository) Delete(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) error {
	args := m.Called(ctx, querier, id)
	return args.Error(0)
}

// Mock DeviceTokenRepository
type DeviceTokenRepository struct {
	mock.Mock
}

func (m *DeviceTokenRepository) ListByUserID(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID) ([]*models.DeviceToken, error) {
	args := m.Called(ctx, querier, userID)
	tokens, _ := args.Get(0).([]*models.DeviceToken)
	return tokens, args.Error(1)
}

func (m *DeviceTokenRepository) Delete(ctx context.Context, querier interfaces.DBTX, token string) error {
	args := m.Called(ctx, querier, token)
	return args.Error(0)
}

// Mock NotificationLogRepository
type NotificationLogRepository struct {
	mock.Mock
}

func (m *NotificationLogRepository) Create(ctx context.Context, querier interfaces.DBTX, rec *models.NotificationLog) error {
	args := m.Called(ctx, querier, rec)
	return args.Error(0)
}

func (m *NotificationLogRepository) Update(ctx context.Context, querier interfaces.DBTX, rec *models.NotificationLog) error {
	args := m.Called(ctx, querier, rec)
	return args.Error(0)
}

func (m *NotificationLogRepository) ListByUserID(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID, limit int) ([]*models.NotificationLog, error) {
	args := m.Called(ctx, querier, userID, limit)
	logs, _ := args.Get(0).([]*models.NotificationLog)
	return logs, args.Error(1)
}

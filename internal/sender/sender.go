package sender

import (
	"context"

	"story-engine/shared/models"
)

// Outcome классифицирует результат одной попытки доставки. Классификация
// решает судьбу попытки: Retryable уходит в повтор с экспоненциальной
// задержкой, Permanent повторов не получает и ведет к удалению цели
// (подписки или токена), если отправитель это пометил.
type Outcome int

const (
	// OutcomeSent — доставлено.
	OutcomeSent Outcome = iota
	// OutcomeRetryable — временный сбой (сеть, 5xx, rate limit), имеет смысл
	// повторить.
	OutcomeRetryable
	// OutcomePermanent — цель мертва или запрос заведомо невалиден, повторять
	// бессмысленно.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// EmailSender отправляет письмо о вышедшем эпизоде.
//
//go:generate mockery --name EmailSender --output ./mocks --outpkg mocks --case=underscore
type EmailSender interface {
	SendEpisodeEmail(ctx context.Context, to string, n models.EpisodeNotification) (Outcome, error)
}

// WebpushSender отправляет браузерный push по одной подписке.
// OutcomePermanent означает, что подписка истекла и подлежит удалению.
//
//go:generate mockery --name WebpushSender --output ./mocks --outpkg mocks --case=underscore
type WebpushSender interface {
	SendWebpush(ctx context.Context, sub models.PushSubscription, n models.EpisodeNotification) (Outcome, error)
}

// DevicePushSender отправляет мобильный push на один токен устройства.
// OutcomePermanent означает, что токен отозван и подлежит удалению.
//
//go:generate mockery --name DevicePushSender --output ./mocks --outpkg mocks --case=underscore
type DevicePushSender interface {
	SendDevicePush(ctx context.Context, token models.DeviceToken, n models.EpisodeNotification) (Outcome, error)
	// Platform — "ios" или "android".
	Platform() string
}

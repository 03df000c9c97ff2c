package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"story-engine/shared/models"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

// --- Заглушка для Webpush Sender ---

type stubWebpushSender struct {
	logger *zap.Logger
}

func NewStubWebpushSender(logger *zap.Logger) WebpushSender {
	return &stubWebpushSender{logger: logger.Named("stub_webpush_sender")}
}

func (s *stubWebpushSender) SendWebpush(_ context.Context, sub models.PushSubscription, n models.EpisodeNotification) (Outcome, error) {
	s.logger.Info("ЗАГЛУШКА: Отправка webpush",
		zap.String("endpoint", sub.Endpoint),
		zap.String("title", n.Title),
	)
	return OutcomeSent, nil
}

// --- Реальный Webpush Sender ---

// VAPIDConfig — ключи VAPID для Web Push.
type VAPIDConfig struct {
	PublicKey  string `yaml:"public_key" env:"VAPID_PUBLIC_KEY"`
	PrivateKey string `yaml:"private_key" env:"VAPID_PRIVATE_KEY"`
	Subscriber string `yaml:"subscriber" env:"VAPID_SUBSCRIBER"`
}

type webpushSender struct {
	cfg    VAPIDConfig
	logger *zap.Logger
}

// NewWebpushSender создает отправитель браузерных push через протокол Web Push.
// Возвращает nil, nil если VAPID-ключи не сконфигурированы.
func NewWebpushSender(cfg VAPIDConfig, logger *zap.Logger) (WebpushSender, error) {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		logger.Warn("VAPID ключи не заданы, webpush sender не будет создан.")
		return nil, nil
	}

	logger.Info("Webpush Sender успешно инициализирован", zap.String("subscriber", cfg.Subscriber))
	return &webpushSender{
		cfg:    cfg,
		logger: logger.Named("webpush_sender"),
	}, nil
}

var _ WebpushSender = (*webpushSender)(nil)

func (s *webpushSender) SendWebpush(ctx context.Context, sub models.PushSubscription, n models.EpisodeNotification) (Outcome, error) {
	message, err := json.Marshal(n)
	if err != nil {
		return OutcomePermanent, fmt.Errorf("ошибка сериализации webpush payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             3600,
	})
	if err != nil {
		s.logger.Warn("Ошибка отправки webpush", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return OutcomeRetryable, fmt.Errorf("ошибка отправки webpush: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Debug("Webpush отправлен", zap.String("endpoint", sub.Endpoint))
		return OutcomeSent, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// Подписка истекла или отозвана браузером, повторять бессмысленно
		s.logger.Info("Webpush подписка истекла",
			zap.String("endpoint", sub.Endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return OutcomePermanent, fmt.Errorf("webpush подписка недействительна (status %d)", resp.StatusCode)
	default:
		return OutcomeRetryable, fmt.Errorf("webpush push service вернул status %d", resp.StatusCode)
	}
}

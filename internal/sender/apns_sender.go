package sender

import (
	"context"
	"fmt"

	"story-engine/shared/models"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"
)

// APNSConfig — реквизиты token-based авторизации APNS.
type APNSConfig struct {
	KeyPath    string `yaml:"key_path" env:"APNS_KEY_PATH"`
	KeyID      string `yaml:"key_id" env:"APNS_KEY_ID"`
	TeamID     string `yaml:"team_id" env:"APNS_TEAM_ID"`
	Topic      string `yaml:"topic" env:"APNS_TOPIC"`
	Production bool   `yaml:"production" env:"APNS_PRODUCTION" env-default:"false"`
}

type apnsSender struct {
	client *apns2.Client
	topic  string
	logger *zap.Logger
}

// NewAPNSSender создает отправитель APNS.
// Возвращает nil, nil если APNS не сконфигурирован (KeyPath, KeyID, TeamID, Topic).
func NewAPNSSender(cfg APNSConfig, logger *zap.Logger) (DevicePushSender, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.Topic == "" {
		logger.Warn("APNS конфигурация не полная (KeyPath, KeyID, TeamID, Topic), APNS sender не будет создан.")
		return nil, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключа APNS из файла %s: %w", cfg.KeyPath, err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	logger.Info("APNS Sender успешно инициализирован",
		zap.String("key_id", cfg.KeyID),
		zap.String("team_id", cfg.TeamID),
		zap.String("topic", cfg.Topic),
		zap.Bool("production", cfg.Production),
	)
	return &apnsSender{
		client: client,
		topic:  cfg.Topic,
		logger: logger.Named("apns_sender"),
	}, nil
}

var _ DevicePushSender = (*apnsSender)(nil)

func (s *apnsSender) Platform() string { return "ios" }

func (s *apnsSender) SendDevicePush(ctx context.Context, deviceToken models.DeviceToken, n models.EpisodeNotification) (Outcome, error) {
	body := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Sound("default")
	if n.Link != "" {
		body.Custom("link", n.Link)
	}

	res, err := s.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken.Token,
		Topic:       s.topic,
		Payload:     body,
		Priority:    apns2.PriorityHigh,
	})
	if err != nil {
		s.logger.Warn("Ошибка вызова APNS", zap.String("token", deviceToken.Token), zap.Error(err))
		return OutcomeRetryable, fmt.Errorf("ошибка отправки APNS: %w", err)
	}

	if res.Sent() {
		s.logger.Debug("APNS уведомление отправлено",
			zap.String("token", deviceToken.Token),
			zap.String("apns_id", res.ApnsID),
		)
		return OutcomeSent, nil
	}

	// Unregistered и BadDeviceToken означают мертвый токен: повторы не помогут,
	// токен подлежит удалению из базы
	if res.Reason == apns2.ReasonUnregistered || res.Reason == apns2.ReasonBadDeviceToken {
		s.logger.Info("APNS токен недействителен",
			zap.String("token", deviceToken.Token),
			zap.String("reason", res.Reason),
		)
		return OutcomePermanent, fmt.Errorf("APNS токен недействителен: %s", res.Reason)
	}

	s.logger.Warn("APNS уведомление не доставлено",
		zap.String("token", deviceToken.Token),
		zap.Int("status_code", res.StatusCode),
		zap.String("reason", res.Reason),
	)
	return OutcomeRetryable, fmt.Errorf("APNS доставка не удалась: %s", res.Reason)
}

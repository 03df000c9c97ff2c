package sender

import (
	"context"
	"fmt"

	"story-engine/shared/models"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FCMConfig — реквизиты Firebase Cloud Messaging.
type FCMConfig struct {
	CredentialsPath string `yaml:"credentials_path" env:"FCM_CREDENTIALS_PATH"`
}

type fcmSender struct {
	client *fcm.Client
	logger *zap.Logger
}

// NewFCMSender создает отправитель FCM из ключа сервис-аккаунта Firebase.
// Возвращает nil, nil если путь к ключу не задан.
func NewFCMSender(ctx context.Context, cfg FCMConfig, logger *zap.Logger) (DevicePushSender, error) {
	if cfg.CredentialsPath == "" {
		logger.Warn("Путь к файлу ключа Firebase (FCM_CREDENTIALS_PATH) не указан, FCM sender не будет создан.")
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.CredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Firebase App из файла '%s': %w", cfg.CredentialsPath, err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения FCM Messaging client: %w", err)
	}

	logger.Info("FCM Sender успешно инициализирован", zap.String("credentials_path", cfg.CredentialsPath))
	return &fcmSender{
		client: client,
		logger: logger.Named("fcm_sender"),
	}, nil
}

var _ DevicePushSender = (*fcmSender)(nil)

func (s *fcmSender) Platform() string { return "android" }

func (s *fcmSender) SendDevicePush(ctx context.Context, deviceToken models.DeviceToken, n models.EpisodeNotification) (Outcome, error) {
	message := &fcm.Message{
		Token: deviceToken.Token,
		Notification: &fcm.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &fcm.AndroidConfig{
			Priority: "high",
		},
	}
	if n.Link != "" {
		message.Data = map[string]string{"link": n.Link}
	}

	_, err := s.client.Send(ctx, message)
	if err == nil {
		s.logger.Debug("FCM уведомление отправлено", zap.String("token", deviceToken.Token))
		return OutcomeSent, nil
	}

	// https://firebase.google.com/docs/cloud-messaging/manage-tokens#detect-invalid-token-responses-from-the-fcm-backend
	if fcm.IsUnregistered(err) || fcm.IsInvalidArgument(err) || fcm.IsSenderIDMismatch(err) {
		s.logger.Info("FCM токен недействителен",
			zap.String("token", deviceToken.Token),
			zap.Error(err),
		)
		return OutcomePermanent, fmt.Errorf("FCM токен недействителен: %w", err)
	}

	s.logger.Warn("Ошибка отправки FCM", zap.String("token", deviceToken.Token), zap.Error(err))
	return OutcomeRetryable, fmt.Errorf("ошибка отправки FCM: %w", err)
}

// --- Заглушка для Device Push Sender ---

type stubDevicePushSender struct {
	platform string
	logger   *zap.Logger
}

// NewStubDevicePushSender создает заглушку мобильного push для заданной платформы.
func NewStubDevicePushSender(platform string, logger *zap.Logger) DevicePushSender {
	return &stubDevicePushSender{
		platform: platform,
		logger:   logger.Named("stub_device_push_sender"),
	}
}

func (s *stubDevicePushSender) Platform() string { return s.platform }

func (s *stubDevicePushSender) SendDevicePush(_ context.Context, deviceToken models.DeviceToken, n models.EpisodeNotification) (Outcome, error) {
	s.logger.Info("ЗАГЛУШКА: Отправка мобильного push",
		zap.String("platform", s.platform),
		zap.String("token", deviceToken.Token),
		zap.String("title", n.Title),
	)
	return OutcomeSent, nil
}

package notifier

import (
	"context"
	"fmt"

	"story-engine/internal/sender"
	"story-engine/shared/interfaces"
	"story-engine/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FanOutResult — сводка рассылки по одному опубликованному эпизоду.
type FanOutResult struct {
	NotifiedUsers  int      `json:"notifiedUsers"`
	EmailSent      int      `json:"emailSent"`
	WebpushSent    int      `json:"webpushSent"`
	DevicePushSent int      `json:"devicePushSent"`
	Errors         []string `json:"errors,omitempty"`
}

// EpisodeNotifier рассылает уведомления о вышедшем эпизоде по всем каналам
// всех подписанных пользователей.
//
//go:generate mockery --name EpisodeNotifier --output ./mocks --outpkg mocks --case=underscore
type EpisodeNotifier interface {
	// NotifyEpisodePublished фанит уведомление по каналам. Сбой одного
	// пользователя или одной цели не прерывает рассылку остальным:
	// частичные ошибки копятся в Errors, err возвращается только когда
	// рассылку не удалось даже начать.
	NotifyEpisodePublished(ctx context.Context, payload models.EpisodePublishedPayload) (*FanOutResult, error)

	// NotifyUserEpisodePublished — адресная рассылка одному пользователю,
	// независимо от остальных получателей. Используется для повторной
	// доставки после жалобы пользователя.
	NotifyUserEpisodePublished(ctx context.Context, userID uuid.UUID, payload models.EpisodePublishedPayload) (*FanOutResult, error)

	// ListUserNotifications возвращает журнал уведомлений пользователя,
	// свежие сверху.
	ListUserNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*models.NotificationLog, error)
}

type episodeNotifierImpl struct {
	db     interfaces.DBTX
	prefs  interfaces.NotificationPreferencesRepository
	subs   interfaces.PushSubscriptionRepository
	tokens interfaces.DeviceTokenRepository
	logs   interfaces.NotificationLogRepository

	email      sender.EmailSender      // nil, если SMTP не сконфигурирован
	webpush    sender.WebpushSender    // nil, если VAPID не сконфигурирован
	devicePush []sender.DevicePushSender

	retrier *Retrier
	logger  *zap.Logger
}

var _ EpisodeNotifier = (*episodeNotifierImpl)(nil)

// NewEpisodeNotifier создает сервис рассылки. Несконфигурированные каналы
// передаются как nil и молча пропускаются при рассылке.
func NewEpisodeNotifier(
	db interfaces.DBTX,
	prefs interfaces.NotificationPreferencesRepository,
	subs interfaces.PushSubscriptionRepository,
	tokens interfaces.DeviceTokenRepository,
	logs interfaces.NotificationLogRepository,
	email sender.EmailSender,
	webpush sender.WebpushSender,
	devicePush []sender.DevicePushSender,
	retrier *Retrier,
	logger *zap.Logger,
) EpisodeNotifier {
	return &episodeNotifierImpl{
		db:         db,
		prefs:      prefs,
		subs:       subs,
		tokens:     tokens,
		logs:       logs,
		email:      email,
		webpush:    webpush,
		devicePush: devicePush,
		retrier:    retrier,
		logger:     logger.Named("episode_notifier"),
	}
}

func (s *episodeNotifierImpl) NotifyEpisodePublished(ctx context.Context, payload models.EpisodePublishedPayload) (*FanOutResult, error) {
	log := s.logger.With(
		zap.String("storyID", payload.StoryID.String()),
		zap.Int("episodeIndex", payload.EpisodeIndex),
	)

	content := renderEpisodeNotification(payload)

	users, err := s.prefs.ListEnabled(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки получателей: %w", err)
	}
	if len(users) == 0 {
		log.Info("No opted-in users, nothing to deliver")
		return &FanOutResult{}, nil
	}

	result := &FanOutResult{}
	for _, p := range users {
		delivered := s.notifyUser(ctx, p, payload, content, result)
		if delivered {
			result.NotifiedUsers++
		}
	}

	log.Info("Episode notification fan-out finished",
		zap.Int("notifiedUsers", result.NotifiedUsers),
		zap.Int("emailSent", result.EmailSent),
		zap.Int("webpushSent", result.WebpushSent),
		zap.Int("devicePushSent", result.DevicePushSent),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *episodeNotifierImpl) NotifyUserEpisodePublished(ctx context.Context, userID uuid.UUID, payload models.EpisodePublishedPayload) (*FanOutResult, error) {
	p, err := s.prefs.GetByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки настроек пользователя %s: %w", userID, err)
	}

	content := renderEpisodeNotification(payload)
	result := &FanOutResult{}
	if s.notifyUser(ctx, p, payload, content, result) {
		result.NotifiedUsers++
	}
	return result, nil
}

func (s *episodeNotifierImpl) ListUserNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*models.NotificationLog, error) {
	return s.logs.ListByUserID(ctx, s.db, userID, limit)
}

// notifyUser обходит каналы одного пользователя. Возвращает true, если
// хотя бы одна доставка удалась.
func (s *episodeNotifierImpl) notifyUser(ctx context.Context, p *models.NotificationPreferences, payload models.EpisodePublishedPayload, content models.EpisodeNotification, result *FanOutResult) bool {
	delivered := false

	if p.EmailEnabled && p.EmailAddress != nil && s.email != nil {
		if s.deliverEmail(ctx, p, payload, content, result) {
			delivered = true
		}
	}
	if p.WebpushEnabled && s.webpush != nil {
		if s.deliverWebpush(ctx, p.UserID, payload, content, result) {
			delivered = true
		}
	}
	if p.DevicePushEnabled && len(s.devicePush) > 0 {
		if s.deliverDevicePush(ctx, p.UserID, payload, content, result) {
			delivered = true
		}
	}

	return delivered
}

func (s *episodeNotifierImpl) deliverEmail(ctx context.Context, p *models.NotificationPreferences, payload models.EpisodePublishedPayload, content models.EpisodeNotification, result *FanOutResult) bool {
	rec, err := s.createLog(ctx, p.UserID, payload, models.ChannelEmail)
	if err != nil {
		s.recordError(result, p.UserID, models.ChannelEmail, err)
		return false
	}

	outcome, err := s.retrier.Do(ctx, rec, func(ctx context.Context) (sender.Outcome, error) {
		return s.email.SendEpisodeEmail(ctx, *p.EmailAddress, content)
	})
	if outcome == sender.OutcomeSent {
		notificationsSentTotal.WithLabelValues(string(models.ChannelEmail)).Inc()
		result.EmailSent++
		return true
	}

	notificationsFailedTotal.WithLabelValues(string(models.ChannelEmail)).Inc()
	s.recordError(result, p.UserID, models.ChannelEmail, err)
	return false
}

func (s *episodeNotifierImpl) deliverWebpush(ctx context.Context, userID uuid.UUID, payload models.EpisodePublishedPayload, content models.EpisodeNotification, result *FanOutResult) bool {
	subs, err := s.subs.ListByUserID(ctx, s.db, userID)
	if err != nil {
		s.recordError(result, userID, models.ChannelWebpush, err)
		return false
	}

	delivered := false
	for _, sub := range subs {
		rec, err := s.createLog(ctx, userID, payload, models.ChannelWebpush)
		if err != nil {
			s.recordError(result, userID, models.ChannelWebpush, err)
			continue
		}

		outcome, err := s.retrier.Do(ctx, rec, func(ctx context.Context) (sender.Outcome, error) {
			return s.webpush.SendWebpush(ctx, *sub, content)
		})
		switch outcome {
		case sender.OutcomeSent:
			notificationsSentTotal.WithLabelValues(string(models.ChannelWebpush)).Inc()
			result.WebpushSent++
			delivered = true
		case sender.OutcomePermanent:
			notificationsFailedTotal.WithLabelValues(string(models.ChannelWebpush)).Inc()
			s.recordError(result, userID, models.ChannelWebpush, err)
			// Мертвую подписку убираем сразу, чтобы не долбить push service
			// при каждом следующем эпизоде
			if delErr := s.subs.Delete(ctx, s.db, sub.ID); delErr != nil {
				s.logger.Error("Failed to delete expired push subscription",
					zap.String("subscriptionID", sub.ID.String()),
					zap.Error(delErr),
				)
			} else {
				deadTargetsDeletedTotal.WithLabelValues("push_subscription").Inc()
				s.logger.Info("Expired push subscription deleted",
					zap.String("subscriptionID", sub.ID.String()),
				)
			}
		default:
			notificationsFailedTotal.WithLabelValues(string(models.ChannelWebpush)).Inc()
			s.recordError(result, userID, models.ChannelWebpush, err)
		}
	}
	return delivered
}

func (s *episodeNotifierImpl) deliverDevicePush(ctx context.Context, userID uuid.UUID, payload models.EpisodePublishedPayload, content models.EpisodeNotification, result *FanOutResult) bool {
	tokens, err := s.tokens.ListByUserID(ctx, s.db, userID)
	if err != nil {
		s.recordError(result, userID, models.ChannelDevicePush, err)
		return false
	}

	delivered := false
	for _, dt := range tokens {
		platformSender := s.senderForPlatform(dt.Platform)
		if platformSender == nil {
			s.logger.Warn("No sender configured for device platform",
				zap.String("platform", dt.Platform),
				zap.String("userID", userID.String()),
			)
			continue
		}

		rec, err := s.createLog(ctx, userID, payload, models.ChannelDevicePush)
		if err != nil {
			s.recordError(result, userID, models.ChannelDevicePush, err)
			continue
		}

		outcome, err := s.retrier.Do(ctx, rec, func(ctx context.Context) (sender.Outcome, error) {
			return platformSender.SendDevicePush(ctx, *dt, content)
		})
		switch outcome {
		case sender.OutcomeSent:
			notificationsSentTotal.WithLabelValues(string(models.ChannelDevicePush)).Inc()
			result.DevicePushSent++
			delivered = true
		case sender.OutcomePermanent:
			notificationsFailedTotal.WithLabelValues(string(models.ChannelDevicePush)).Inc()
			s.recordError(result, userID, models.ChannelDevicePush, err)
			if delErr := s.tokens.Delete(ctx, s.db, dt.Token); delErr != nil {
				s.logger.Error("Failed to delete unregistered device token",
					zap.String("platform", dt.Platform),
					zap.Error(delErr),
				)
			} else {
				deadTargetsDeletedTotal.WithLabelValues("device_token").Inc()
				s.logger.Info("Unregistered device token deleted", zap.String("platform", dt.Platform))
			}
		default:
			notificationsFailedTotal.WithLabelValues(string(models.ChannelDevicePush)).Inc()
			s.recordError(result, userID, models.ChannelDevicePush, err)
		}
	}
	return delivered
}

func (s *episodeNotifierImpl) senderForPlatform(platform string) sender.DevicePushSender {
	for _, ds := range s.devicePush {
		if ds != nil && ds.Platform() == platform {
			return ds
		}
	}
	return nil
}

func (s *episodeNotifierImpl) createLog(ctx context.Context, userID uuid.UUID, payload models.EpisodePublishedPayload, channel models.NotificationChannel) (*models.NotificationLog, error) {
	rec := &models.NotificationLog{
		UserID:       userID,
		StoryID:      payload.StoryID,
		EpisodeIndex: payload.EpisodeIndex,
		Channel:      channel,
		Status:       models.NotificationPending,
	}
	if err := s.logs.Create(ctx, s.db, rec); err != nil {
		return nil, fmt.Errorf("ошибка создания записи журнала уведомлений: %w", err)
	}
	return rec, nil
}

func (s *episodeNotifierImpl) recordError(result *FanOutResult, userID uuid.UUID, channel models.NotificationChannel, err error) {
	if err == nil {
		return
	}
	result.Errors = append(result.Errors, fmt.Sprintf("user %s, channel %s: %v", userID, channel, err))
}

// renderEpisodeNotification собирает текст уведомления из события публикации.
func renderEpisodeNotification(payload models.EpisodePublishedPayload) models.EpisodeNotification {
	title := fmt.Sprintf("Новый эпизод: %s", payload.StoryTitle)
	body := fmt.Sprintf("Эпизод %d уже доступен.", payload.EpisodeIndex)
	if payload.EpisodeTitle != "" {
		body = fmt.Sprintf("«%s» — эпизод %d уже доступен.", payload.EpisodeTitle, payload.EpisodeIndex)
	}
	return models.EpisodeNotification{
		Title: title,
		Body:  body,
		Link:  fmt.Sprintf("/stories/%s/episodes/%d", payload.StoryID, payload.EpisodeIndex),
	}
}

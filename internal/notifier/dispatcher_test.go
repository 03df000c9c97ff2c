package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"story-engine/internal/sender"
	sharedMocks "story-engine/shared/interfaces/mocks"
	"story-engine/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedEmailSender проваливает доставку на адреса из failing.
type scriptedEmailSender struct {
	failing map[string]bool
	sent    []string
}

func (s *scriptedEmailSender) SendEpisodeEmail(_ context.Context, to string, _ models.EpisodeNotification) (sender.Outcome, error) {
	if s.failing[to] {
		return sender.OutcomeRetryable, errors.New("smtp connection reset")
	}
	s.sent = append(s.sent, to)
	return sender.OutcomeSent, nil
}

// scriptedWebpushSender отвечает permanent на endpoint'ы из gone.
type scriptedWebpushSender struct {
	gone map[string]bool
}

func (s *scriptedWebpushSender) SendWebpush(_ context.Context, sub models.PushSubscription, _ models.EpisodeNotification) (sender.Outcome, error) {
	if s.gone[sub.Endpoint] {
		return sender.OutcomePermanent, errors.New("webpush подписка недействительна (status 410)")
	}
	return sender.OutcomeSent, nil
}

// scriptedDevicePushSender отвечает permanent на токены из unregistered.
type scriptedDevicePushSender struct {
	platform     string
	unregistered map[string]bool
}

func (s *scriptedDevicePushSender) Platform() string { return s.platform }

func (s *scriptedDevicePushSender) SendDevicePush(_ context.Context, dt models.DeviceToken, _ models.EpisodeNotification) (sender.Outcome, error) {
	if s.unregistered[dt.Token] {
		return sender.OutcomePermanent, errors.New("token is unregistered")
	}
	return sender.OutcomeSent, nil
}

type dispatcherFixture struct {
	prefs  *sharedMocks.NotificationPreferencesRepository
	subs   *sharedMocks.PushSubscriptionRepository
	tokens *sharedMocks.DeviceTokenRepository
	logs   *sharedMocks.NotificationLogRepository
}

func newDispatcherFixture() *dispatcherFixture {
	f := &dispatcherFixture{
		prefs:  new(sharedMocks.NotificationPreferencesRepository),
		subs:   new(sharedMocks.PushSubscriptionRepository),
		tokens: new(sharedMocks.DeviceTokenRepository),
		logs:   new(sharedMocks.NotificationLogRepository),
	}
	f.logs.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.logs.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return f
}

func (f *dispatcherFixture) build(email sender.EmailSender, webpush sender.WebpushSender, devicePush []sender.DevicePushSender) EpisodeNotifier {
	retrier := NewRetrier(nil, f.logs, RetrierConfig{MaxRetries: 3, BaseDelay: time.Second}, zap.NewNop())
	retrier.sleep = func(context.Context, time.Duration) error { return nil }
	return NewEpisodeNotifier(nil, f.prefs, f.subs, f.tokens, f.logs, email, webpush, devicePush, retrier, zap.NewNop())
}

func emailPrefs(userID uuid.UUID, address string) *models.NotificationPreferences {
	return &models.NotificationPreferences{
		UserID:       userID,
		EmailEnabled: true,
		EmailAddress: &address,
	}
}

func testPayload() models.EpisodePublishedPayload {
	return models.EpisodePublishedPayload{
		StoryID:      uuid.New(),
		EpisodeIndex: 3,
		StoryTitle:   "Хроники севера",
		OwnerUserID:  uuid.New(),
	}
}

func TestNotifyEpisodePublished(t *testing.T) {
	ctx := context.Background()

	t.Run("One failing user does not block the other recipients", func(t *testing.T) {
		f := newDispatcherFixture()
		userA, userB, userC := uuid.New(), uuid.New(), uuid.New()

		f.prefs.On("ListEnabled", mock.Anything, mock.Anything).Return([]*models.NotificationPreferences{
			emailPrefs(userA, "a@example.com"),
			emailPrefs(userB, "b@example.com"),
			emailPrefs(userC, "c@example.com"),
		}, nil)

		email := &scriptedEmailSender{failing: map[string]bool{"b@example.com": true}}
		svc := f.build(email, nil, nil)

		result, err := svc.NotifyEpisodePublished(ctx, testPayload())

		require.NoError(t, err)
		assert.Equal(t, 2, result.NotifiedUsers)
		assert.Equal(t, 2, result.EmailSent)
		assert.Equal(t, []string{"a@example.com", "c@example.com"}, email.sent)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], userB.String())
	})

	t.Run("Expired webpush subscription is deleted, the live one still delivers", func(t *testing.T) {
		f := newDispatcherFixture()
		userID := uuid.New()
		liveSub := &models.PushSubscription{ID: uuid.New(), UserID: userID, Endpoint: "https://push.example.com/live"}
		deadSub := &models.PushSubscription{ID: uuid.New(), UserID: userID, Endpoint: "https://push.example.com/dead"}

		f.prefs.On("ListEnabled", mock.Anything, mock.Anything).Return([]*models.NotificationPreferences{
			{UserID: userID, WebpushEnabled: true},
		}, nil)
		f.subs.On("ListByUserID", mock.Anything, mock.Anything, userID).Return([]*models.PushSubscription{liveSub, deadSub}, nil)
		f.subs.On("Delete", mock.Anything, mock.Anything, deadSub.ID).Return(nil).Once()

		svc := f.build(nil, &scriptedWebpushSender{gone: map[string]bool{deadSub.Endpoint: true}}, nil)

		result, err := svc.NotifyEpisodePublished(ctx, testPayload())

		require.NoError(t, err)
		assert.Equal(t, 1, result.NotifiedUsers)
		assert.Equal(t, 1, result.WebpushSent)
		f.subs.AssertExpectations(t)
	})

	t.Run("Unregistered device token is deleted after a permanent failure", func(t *testing.T) {
		f := newDispatcherFixture()
		userID := uuid.New()

		f.prefs.On("ListEnabled", mock.Anything, mock.Anything).Return([]*models.NotificationPreferences{
			{UserID: userID, DevicePushEnabled: true},
		}, nil)
		f.tokens.On("ListByUserID", mock.Anything, mock.Anything, userID).Return([]*models.DeviceToken{
			{UserID: userID, Token: "ios-dead", Platform: "ios"},
			{UserID: userID, Token: "android-live", Platform: "android"},
		}, nil)
		f.tokens.On("Delete", mock.Anything, mock.Anything, "ios-dead").Return(nil).Once()

		svc := f.build(nil, nil, []sender.DevicePushSender{
			&scriptedDevicePushSender{platform: "ios", unregistered: map[string]bool{"ios-dead": true}},
			&scriptedDevicePushSender{platform: "android"},
		})

		result, err := svc.NotifyEpisodePublished(ctx, testPayload())

		require.NoError(t, err)
		assert.Equal(t, 1, result.NotifiedUsers)
		assert.Equal(t, 1, result.DevicePushSent)
		require.Len(t, result.Errors, 1)
		f.tokens.AssertExpectations(t)
	})

	t.Run("Targeted delivery reaches only the requested user", func(t *testing.T) {
		f := newDispatcherFixture()
		userID := uuid.New()

		f.prefs.On("GetByUserID", mock.Anything, mock.Anything, userID).Return(emailPrefs(userID, "only@example.com"), nil)

		email := &scriptedEmailSender{}
		svc := f.build(email, nil, nil)

		result, err := svc.NotifyUserEpisodePublished(ctx, userID, testPayload())

		require.NoError(t, err)
		assert.Equal(t, 1, result.NotifiedUsers)
		assert.Equal(t, []string{"only@example.com"}, email.sent)
		f.prefs.AssertNotCalled(t, "ListEnabled", mock.Anything, mock.Anything)
	})

	t.Run("Targeted delivery to an unknown user surfaces the lookup error", func(t *testing.T) {
		f := newDispatcherFixture()
		userID := uuid.New()

		f.prefs.On("GetByUserID", mock.Anything, mock.Anything, userID).Return(nil, models.ErrNotFound)

		svc := f.build(&scriptedEmailSender{}, nil, nil)

		result, err := svc.NotifyUserEpisodePublished(ctx, userID, testPayload())

		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.Nil(t, result)
	})

	t.Run("No opted-in users is an empty result, not an error", func(t *testing.T) {
		f := newDispatcherFixture()
		f.prefs.On("ListEnabled", mock.Anything, mock.Anything).Return([]*models.NotificationPreferences{}, nil)

		svc := f.build(&scriptedEmailSender{}, nil, nil)

		result, err := svc.NotifyEpisodePublished(ctx, testPayload())

		require.NoError(t, err)
		assert.Zero(t, result.NotifiedUsers)
		assert.Empty(t, result.Errors)
	})

	t.Run("Recipients query failure is returned to the caller", func(t *testing.T) {
		f := newDispatcherFixture()
		f.prefs.On("ListEnabled", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		svc := f.build(&scriptedEmailSender{}, nil, nil)

		result, err := svc.NotifyEpisodePublished(ctx, testPayload())

		require.Error(t, err)
		assert.Nil(t, result)
	})
}

func TestRenderEpisodeNotification(t *testing.T) {
	payload := testPayload()
	payload.EpisodeTitle = "Буря"

	n := renderEpisodeNotification(payload)

	assert.Contains(t, n.Title, payload.StoryTitle)
	assert.Contains(t, n.Body, "Буря")
	assert.Contains(t, n.Link, payload.StoryID.String())
	assert.Contains(t, n.Link, "/episodes/3")
}

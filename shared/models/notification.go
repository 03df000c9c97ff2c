package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationChannel identifies the delivery transport for one notification.
type NotificationChannel string

const (
	ChannelEmail      NotificationChannel = "email"
	ChannelWebpush    NotificationChannel = "webpush"
	ChannelDevicePush NotificationChannel = "devicepush"
)

// NotificationStatus is the delivery state of a single notification attempt
// record. Terminal states are "sent" and "failed".
type NotificationStatus string

const (
	NotificationPending  NotificationStatus = "pending"
	NotificationSent     NotificationStatus = "sent"
	NotificationRetrying NotificationStatus = "retrying"
	NotificationFailed   NotificationStatus = "failed"
)

// NotificationPreferences holds a user's per-channel opt-in flags.
// At most one email address per user; push targets live in their own tables.
type NotificationPreferences struct {
	UserID            uuid.UUID `db:"user_id" json:"userId"`
	EmailEnabled      bool      `db:"email_enabled" json:"emailEnabled"`
	EmailAddress      *string   `db:"email_address" json:"emailAddress,omitempty"`
	WebpushEnabled    bool      `db:"webpush_enabled" json:"webpushEnabled"`
	DevicePushEnabled bool      `db:"device_push_enabled" json:"devicePushEnabled"`
}

// PushSubscription is one browser web-push endpoint. A user may have several
// (multi-device). Deleted when the endpoint reports a permanent failure.
type PushSubscription struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"userId"`
	Endpoint  string    `db:"endpoint" json:"endpoint"`
	P256dhKey string    `db:"p256dh_key" json:"p256dhKey"`
	AuthKey   string    `db:"auth_key" json:"authKey"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// DeviceToken is a mobile push token (APNS or FCM) registered by a client.
type DeviceToken struct {
	UserID   uuid.UUID `db:"user_id" json:"userId"`
	Token    string    `db:"token" json:"token"`
	Platform string    `db:"platform" json:"platform"` // "ios" or "android"
}

// NotificationLog is the per-attempt audit record. One row per
// (user, channel target, episode); mutated in place across retries and
// never deleted.
type NotificationLog struct {
	ID           int64               `db:"id" json:"id"`
	UserID       uuid.UUID           `db:"user_id" json:"userId"`
	StoryID      uuid.UUID           `db:"story_id" json:"storyId"`
	EpisodeIndex int                 `db:"episode_index" json:"episodeIndex"`
	Channel      NotificationChannel `db:"channel" json:"channel"`
	Status       NotificationStatus  `db:"status" json:"status"`
	Attempts     int                 `db:"attempts" json:"attempts"`
	ErrorMessage *string             `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time           `db:"created_at" json:"createdAt"`
	SentAt       *time.Time          `db:"sent_at" json:"sentAt,omitempty"`
	UpdatedAt    time.Time           `db:"updated_at" json:"updatedAt"`
}

// EpisodeNotification is the rendered content delivered over every channel.
type EpisodeNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Link  string `json:"link"`
}

package models

import "github.com/google/uuid"

// EpisodePublishedPayload — сообщение о публикации эпизода. Публикуется
// планировщиком после коммита транзакции публикации и потребляется
// воркером рассылки уведомлений.
type EpisodePublishedPayload struct {
	StoryID      uuid.UUID `json:"storyId"`
	EpisodeIndex int       `json:"episodeIndex"`
	StoryTitle   string    `json:"storyTitle"`
	EpisodeTitle string    `json:"episodeTitle,omitempty"`
	OwnerUserID  uuid.UUID `json:"ownerUserId"`
}

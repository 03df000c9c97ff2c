package models

import (
	"time"

	"github.com/google/uuid"
)

// StoryStatus represents the lifecycle status of a story.
type StoryStatus string

const (
	StoryStatusActive    StoryStatus = "active"
	StoryStatusCompleted StoryStatus = "completed"
	StoryStatusArchived  StoryStatus = "archived"
)

// ReleaseFrequency governs the spacing between successive episode releases.
type ReleaseFrequency string

const (
	FrequencyDaily  ReleaseFrequency = "daily"
	FrequencyWeekly ReleaseFrequency = "weekly"
	FrequencyFixed  ReleaseFrequency = "fixed"
)

// IsValidReleaseFrequency reports whether f is one of the known frequencies.
func IsValidReleaseFrequency(f ReleaseFrequency) bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyFixed:
		return true
	default:
		return false
	}
}

// EpisodeStatus represents the publication status of a single episode.
type EpisodeStatus string

const (
	EpisodeStatusDraft     EpisodeStatus = "draft"
	EpisodeStatusScheduled EpisodeStatus = "scheduled"
	EpisodeStatusPublished EpisodeStatus = "published"
	EpisodeStatusArchived  EpisodeStatus = "archived"
)

// Story is the main story record. Rows are created by the story generation
// pipeline; the scheduler only advances the serialization fields.
type Story struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	UserID             uuid.UUID        `db:"user_id" json:"userId"`
	Title              string           `db:"title" json:"title"`
	TotalEpisodes      int              `db:"total_episodes" json:"totalEpisodes"`
	CompletedEpisodes  int              `db:"completed_episodes" json:"completedEpisodes"`
	IsSerialized       bool             `db:"is_serialized" json:"isSerialized"`
	StartDate          *time.Time       `db:"start_date" json:"startDate,omitempty"`
	ReleaseFrequency   ReleaseFrequency `db:"release_frequency" json:"releaseFrequency"`
	Timezone           string           `db:"timezone" json:"timezone"`
	NextReleaseAt      *time.Time       `db:"next_release_at" json:"nextReleaseAt,omitempty"`
	AverageSafetyScore float64          `db:"average_safety_score" json:"averageSafetyScore"`
	Status             StoryStatus      `db:"status" json:"status"`
	CreatedAt          time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updatedAt"`
}

// Episode is a single story episode. EpisodeIndex is 1-based and densely
// assigned per story; index order equals release order.
type Episode struct {
	ID           int64         `db:"id" json:"id"`
	StoryID      uuid.UUID     `db:"story_id" json:"storyId"`
	EpisodeIndex int           `db:"episode_index" json:"episodeIndex"`
	Title        *string       `db:"title" json:"title,omitempty"`
	SafetyScore  float64       `db:"safety_score" json:"safetyScore"`
	Status       EpisodeStatus `db:"status" json:"status"`
	ScheduledFor *time.Time    `db:"scheduled_for" json:"scheduledFor,omitempty"`
	PublishedAt  *time.Time    `db:"published_at" json:"publishedAt,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updatedAt"`
}

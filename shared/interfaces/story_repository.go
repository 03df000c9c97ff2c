package interfaces

import (
	"context"
	"time"

	"story-engine/shared/models"

	"github.com/google/uuid"
)

// StoryRepository defines the interface for interacting with story data.
// The scheduler only touches the serialization fields; everything else is
// owned by the upstream generation pipeline.
//
//go:generate mockery --name StoryRepository --output ./mocks --outpkg mocks --case=underscore
type StoryRepository interface {
	// GetByID retrieves a story by its unique ID.
	GetByID(ctx context.Context, querier DBTX, id uuid.UUID) (*models.Story, error)

	// UpdateSchedule persists the serialization settings of a story in one shot:
	// the serialized flag, start date, frequency, timezone and next release time.
	UpdateSchedule(ctx context.Context, querier DBTX, id uuid.UUID, isSerialized bool, startDate *time.Time, frequency models.ReleaseFrequency, timezone string, nextReleaseAt *time.Time) error

	// UpdateNextRelease sets next_release_at (nil clears it).
	UpdateNextRelease(ctx context.Context, querier DBTX, id uuid.UUID, nextReleaseAt *time.Time) error

	// IncrementCompleted bumps completed_episodes by one and folds the given
	// safety score into the running average.
	IncrementCompleted(ctx context.Context, querier DBTX, id uuid.UUID, safetyScore float64) error

	// ListSerializedWithFutureRelease returns stories with serialization active
	// and a non-null next_release_at strictly after the given instant.
	// Used by the startup reconciliation pass.
	ListSerializedWithFutureRelease(ctx context.Context, querier DBTX, after time.Time) ([]*models.Story, error)
}

// EpisodeRepository defines the interface for interacting with episode data.
//
//go:generate mockery --name EpisodeRepository --output ./mocks --outpkg mocks --case=underscore
type EpisodeRepository interface {
	// GetByIndex retrieves an episode by (story id, 1-based index).
	GetByIndex(ctx context.Context, querier DBTX, storyID uuid.UUID, episodeIndex int) (*models.Episode, error)

	// GetByIndexForUpdate does the same under a row-level lock
	// (SELECT ... FOR UPDATE). Must be called inside a transaction.
	GetByIndexForUpdate(ctx context.Context, querier DBTX, storyID uuid.UUID, episodeIndex int) (*models.Episode, error)

	// ListSchedulable returns the story's episodes in status draft or
	// scheduled, ordered by episode index ascending.
	ListSchedulable(ctx context.Context, querier DBTX, storyID uuid.UUID) ([]*models.Episode, error)

	// ListByStory returns every episode of the story ordered by index.
	ListByStory(ctx context.Context, querier DBTX, storyID uuid.UUID) ([]*models.Episode, error)

	// ListScheduled returns the story's episodes currently in status scheduled,
	// ordered by index.
	ListScheduled(ctx context.Context, querier DBTX, storyID uuid.UUID) ([]*models.Episode, error)

	// MarkScheduled transitions an episode to scheduled with the given trigger time.
	MarkScheduled(ctx context.Context, querier DBTX, episodeID int64, scheduledFor time.Time) error

	// MarkPublished transitions an episode to published.
	MarkPublished(ctx context.Context, querier DBTX, episodeID int64, publishedAt time.Time) error

	// ResetToDraft returns an episode to draft and clears scheduled_for.
	ResetToDraft(ctx context.Context, querier DBTX, episodeID int64) error

	// MinScheduledFor returns the earliest scheduled_for among the story's
	// scheduled episodes, or nil when none remain.
	MinScheduledFor(ctx context.Context, querier DBTX, storyID uuid.UUID) (*time.Time, error)
}

package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"story-engine/internal/notifier"
	"story-engine/internal/scheduler"
	"story-engine/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// scheduleStoryRequest — тело запроса постановки истории на расписание.
// StartDate принимается в RFC3339 либо как "2006-01-02T15:04:05" / "2006-01-02"
// в таймзоне Timezone.
type scheduleStoryRequest struct {
	StartDate string `json:"startDate" binding:"required"`
	Frequency string `json:"frequency" binding:"required"`
	Timezone  string `json:"timezone"`
}

// SchedulerHandler обрабатывает HTTP запросы планировщика релизов и рассылки.
type SchedulerHandler struct {
	scheduler scheduler.EpisodeScheduler
	notifier  notifier.EpisodeNotifier
	logger    *zap.Logger
}

// NewSchedulerHandler создает новый SchedulerHandler.
func NewSchedulerHandler(s scheduler.EpisodeScheduler, n notifier.EpisodeNotifier, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: s,
		notifier:  n,
		logger:    logger.Named("SchedulerHandler"),
	}
}

// RegisterRoutes регистрирует маршруты планировщика.
func (h *SchedulerHandler) RegisterRoutes(router *gin.Engine) {
	storiesGroup := router.Group("/stories")
	{
		storiesGroup.POST("/:story_id/schedule", h.scheduleStory)
		storiesGroup.DELETE("/:story_id/schedule", h.cancelStorySchedule)
		storiesGroup.GET("/:story_id/schedule", h.getScheduleStatus)
		storiesGroup.POST("/:story_id/episodes/:episode_index/notify", h.notifyEpisode)
	}

	router.GET("/scheduler/jobs", h.listJobs)
	router.GET("/users/:user_id/notifications", h.listUserNotifications)
}

func (h *SchedulerHandler) scheduleStory(c *gin.Context) {
	storyID, err := parseUUIDParam(c, "story_id")
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	var req scheduleStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body for scheduleStory", zap.Stringer("storyID", storyID), zap.Error(err))
		handleServiceError(c, models.ErrBadRequest, h.logger)
		return
	}

	frequency := models.ReleaseFrequency(req.Frequency)
	if !models.IsValidReleaseFrequency(frequency) {
		handleServiceError(c, fmt.Errorf("%w: unsupported frequency '%s'", models.ErrBadRequest, req.Frequency), h.logger)
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	start, err := parseStartDate(req.StartDate, timezone)
	if err != nil {
		handleServiceError(c, fmt.Errorf("%w: %v", models.ErrBadRequest, err), h.logger)
		return
	}

	result, err := h.scheduler.ScheduleStory(c.Request.Context(), storyID, start, frequency, timezone)
	if err != nil {
		h.logger.Error("Error scheduling story", zap.Stringer("storyID", storyID), zap.Error(err))
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *SchedulerHandler) cancelStorySchedule(c *gin.Context) {
	storyID, err := parseUUIDParam(c, "story_id")
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	result, err := h.scheduler.CancelStorySchedule(c.Request.Context(), storyID)
	if err != nil {
		h.logger.Error("Error cancelling story schedule", zap.Stringer("storyID", storyID), zap.Error(err))
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *SchedulerHandler) getScheduleStatus(c *gin.Context) {
	storyID, err := parseUUIDParam(c, "story_id")
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	status, err := h.scheduler.Status(c.Request.Context(), storyID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *SchedulerHandler) listJobs(c *gin.Context) {
	jobs, err := h.scheduler.ListJobs(c.Request.Context())
	if err != nil {
		h.logger.Error("Error listing scheduler jobs", zap.Error(err))
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// notifyEpisode вручную запускает рассылку по уже опубликованному эпизоду.
// Используется для повторной рассылки и отладки каналов доставки.
func (h *SchedulerHandler) notifyEpisode(c *gin.Context) {
	storyID, err := parseUUIDParam(c, "story_id")
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	episodeIndex, err := strconv.Atoi(c.Param("episode_index"))
	if err != nil || episodeIndex < 1 {
		handleServiceError(c, fmt.Errorf("%w: invalid episode index", models.ErrBadRequest), h.logger)
		return
	}

	status, err := h.scheduler.Status(c.Request.Context(), storyID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	var episode *models.Episode
	for _, ep := range status.Episodes {
		if ep.EpisodeIndex == episodeIndex {
			episode = ep
			break
		}
	}
	if episode == nil {
		handleServiceError(c, models.ErrEpisodeNotFound, h.logger)
		return
	}
	if episode.Status != models.EpisodeStatusPublished {
		handleServiceError(c, fmt.Errorf("%w: episode %d is not published", models.ErrConflict, episodeIndex), h.logger)
		return
	}

	episodeTitle := ""
	if episode.Title != nil {
		episodeTitle = *episode.Title
	}
	payload := models.EpisodePublishedPayload{
		StoryID:      storyID,
		EpisodeIndex: episodeIndex,
		StoryTitle:   status.Story.Title,
		EpisodeTitle: episodeTitle,
		OwnerUserID:  status.Story.UserID,
	}

	// Без user_id — рассылка всем подписанным, с ним — адресная доставка
	var result *notifier.FanOutResult
	if userIDStr := c.Query("user_id"); userIDStr != "" {
		userID, parseErr := uuid.Parse(userIDStr)
		if parseErr != nil {
			handleServiceError(c, fmt.Errorf("%w: invalid user_id format", models.ErrBadRequest), h.logger)
			return
		}
		result, err = h.notifier.NotifyUserEpisodePublished(c.Request.Context(), userID, payload)
	} else {
		result, err = h.notifier.NotifyEpisodePublished(c.Request.Context(), payload)
	}
	if err != nil {
		h.logger.Error("Error dispatching episode notifications",
			zap.Stringer("storyID", storyID),
			zap.Int("episodeIndex", episodeIndex),
			zap.Error(err),
		)
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *SchedulerHandler) listUserNotifications(c *gin.Context) {
	userID, err := parseUUIDParam(c, "user_id")
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			handleServiceError(c, fmt.Errorf("%w: invalid limit", models.ErrBadRequest), h.logger)
			return
		}
		limit = parsed
	}

	logs, err := h.notifier.ListUserNotifications(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("Error listing user notifications", zap.Stringer("userID", userID), zap.Error(err))
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": logs, "count": len(logs)})
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s format", models.ErrBadRequest, name)
	}
	return id, nil
}

// parseStartDate пробует RFC3339, затем локальные форматы в заданной таймзоне.
func parseStartDate(value, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown timezone '%s'", timezone)
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable start date '%s'", value)
}

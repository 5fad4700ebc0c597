package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vodcomb/vod-comb/app/config"
	"github.com/vodcomb/vod-comb/app/database"
)

func NewHandler(channelRepo database.ChannelRepository, episodeRepo database.EpisodeRepository,
	queueRepo database.QueueRepository, configStore *config.Store,
	generator GeneratorInterface, statsSource StatsSource) *Handler {
	return &Handler{
		channelRepo: channelRepo,
		episodeRepo: episodeRepo,
		queueRepo:   queueRepo,
		configStore: configStore,
		generator:   generator,
		stats:       statsSource,
	}
}

// GetFeedByID serves the podcast feed for a channel. The feed fingerprint
// doubles as the ETag so unchanged feeds answer with 304.
func (h *Handler) GetFeedByID(c *gin.Context) {
	name := c.Param("id")
	if name == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	channel, err := h.channelRepo.GetChannel(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_channel", "channel", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if channel == nil {
		c.Status(http.StatusNotFound)
		return
	}

	episodes, err := h.episodeRepo.GetCompletedEpisodes(channel.ID, channel.EpisodeCount)
	if err != nil {
		slog.Error("Database error", "operation", "get_episodes", "channel", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	doc, err := h.generator.Generate(channel, episodePtrs(episodes))
	if err != nil {
		slog.Error("Feed generation error", "channel", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	etag := `"` + doc.Fingerprint + `"`
	c.Header("ETag", etag)
	c.Header("Last-Modified", doc.LastModified.UTC().Format(http.TimeFormat))

	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.String(http.StatusOK, doc.RSS)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if channelCount, err := h.channelRepo.GetChannelCount(); err == nil {
		health["channels"] = channelCount
	}
	health["loaded_configurations"] = len(h.configStore.GetConfigs())

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Snapshot())
}

func (h *Handler) ListChannels(c *gin.Context) {
	configs := h.configStore.GetConfigs()

	channels := make([]map[string]interface{}, 0, len(configs))
	for _, channelConfig := range configs {
		info := map[string]interface{}{
			"name":          channelConfig.Name,
			"url":           channelConfig.Channel.URL,
			"title":         channelConfig.Channel.Title,
			"enabled":       channelConfig.Settings.Enabled,
			"episode_count": channelConfig.Settings.EpisodeCount,
			"format":        channelConfig.Settings.Format,
			"priority":      channelConfig.Settings.Priority,
		}

		if channel, err := h.channelRepo.GetChannel(channelConfig.Name); err == nil && channel != nil {
			info["title"] = channel.Title
			info["last_refresh_at"] = channel.LastRefreshAt
			info["updated_at"] = channel.UpdatedAt

			if total, completed, failed, err := h.episodeRepo.GetEpisodeStats(channel.ID); err == nil {
				info["episodes"] = map[string]int{
					"total":     total,
					"completed": completed,
					"failed":    failed,
				}
			}
		}

		channels = append(channels, info)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"channels": channels,
		"total":    len(channels),
	})
}

func (h *Handler) GetChannelDetailsByID(c *gin.Context) {
	name := c.Param("id")

	channelConfig, err := h.configStore.GetConfig(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel configuration not found"})
		return
	}

	channel, err := h.channelRepo.GetChannel(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_channel", "channel", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if channel == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found in database"})
		return
	}

	details := map[string]interface{}{
		"name":          name,
		"url":           channelConfig.Channel.URL,
		"title":         channel.Title,
		"enabled":       channelConfig.Settings.Enabled,
		"episode_count": channelConfig.Settings.EpisodeCount,
		"format":        channelConfig.Settings.Format,
		"priority":      channelConfig.Settings.Priority,
		"database": map[string]interface{}{
			"id":              channel.ID,
			"last_refresh_at": channel.LastRefreshAt,
			"created_at":      channel.CreatedAt,
			"updated_at":      channel.UpdatedAt,
		},
	}

	if total, completed, failed, err := h.episodeRepo.GetEpisodeStats(channel.ID); err == nil {
		details["episodes"] = map[string]int{
			"total":     total,
			"completed": completed,
			"failed":    failed,
		}
	}

	c.JSON(http.StatusOK, details)
}

// RefreshChannelByID clears the channel's refresh timestamp so the next
// refresh cycle picks it up immediately.
func (h *Handler) RefreshChannelByID(c *gin.Context) {
	name := c.Param("id")

	channel, err := h.channelRepo.GetChannel(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_channel", "channel", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if channel == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found"})
		return
	}

	if err := h.channelRepo.ClearLastRefresh(channel.ID); err != nil {
		slog.Error("Database error", "operation", "clear_last_refresh", "channel", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule refresh"})
		return
	}

	slog.Info("Channel refresh scheduled", "channel", name)
	c.JSON(http.StatusOK, gin.H{
		"message": "Refresh scheduled",
		"channel": name,
	})
}

// RequeueChannelByID re-arms the channel's failed downloads for another
// round of attempts.
func (h *Handler) RequeueChannelByID(c *gin.Context) {
	name := c.Param("id")

	channel, err := h.channelRepo.GetChannel(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_channel", "channel", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if channel == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found"})
		return
	}

	requeued, err := h.queueRepo.RequeueFailed(channel.ID)
	if err != nil {
		slog.Error("Database error", "operation", "requeue_failed", "channel", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to requeue downloads"})
		return
	}

	if failed, err := h.episodeRepo.GetFailedEpisodes(channel.ID); err == nil {
		for _, episode := range failed {
			if err := h.episodeRepo.UpdateEpisodeStatus(episode.ID, database.EpisodeStatusPending); err != nil {
				slog.Error("Database error", "operation", "reset_episode", "episode", episode.ID, "error", err)
			}
		}
	}

	slog.Info("Failed downloads requeued", "channel", name, "count", requeued)
	c.JSON(http.StatusOK, gin.H{
		"message":  "Failed downloads requeued",
		"channel":  name,
		"requeued": requeued,
	})
}

func episodePtrs(episodes []database.Episode) []*database.Episode {
	out := make([]*database.Episode, len(episodes))
	for i := range episodes {
		out[i] = &episodes[i]
	}
	return out
}

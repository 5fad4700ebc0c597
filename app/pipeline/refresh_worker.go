package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vodcomb/vod-comb/app/config"
	"github.com/vodcomb/vod-comb/app/database"
)

// RefreshWorker is the poll loop discovering new episodes. Each tick it
// refreshes every enabled channel due for a refresh, reconciles the listing
// against known episodes, enqueues new work and enforces each channel's
// rolling window.
type RefreshWorker struct {
	channelRepo database.ChannelRepository
	episodeRepo database.EpisodeRepository
	queueRepo   database.QueueRepository
	lister      Lister
	storage     Storage
	configs     *config.Store
	interval    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRefreshWorker(channelRepo database.ChannelRepository, episodeRepo database.EpisodeRepository,
	queueRepo database.QueueRepository, lister Lister, storage Storage,
	configs *config.Store, interval time.Duration) *RefreshWorker {
	ctx, cancel := context.WithCancel(context.Background())

	return &RefreshWorker{
		channelRepo: channelRepo,
		episodeRepo: episodeRepo,
		queueRepo:   queueRepo,
		lister:      lister,
		storage:     storage,
		configs:     configs,
		interval:    interval,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (w *RefreshWorker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		// First pass runs at startup so new channels do not wait a full
		// refresh interval.
		w.tick(time.Now())

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.tick(time.Now())
			}
		}
	}()
}

func (w *RefreshWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// tick refreshes all due channels. One channel's failure never aborts the
// others; each outcome is logged independently.
func (w *RefreshWorker) tick(now time.Time) {
	cutoff := now.Add(-w.interval)
	channels, err := w.channelRepo.GetChannelsDueForRefresh(cutoff)
	if err != nil {
		slog.Warn("Failed to select channels for refresh, retrying next tick", "error", err)
		return
	}
	if len(channels) == 0 {
		return
	}

	slog.Debug("Refreshing channels", "count", len(channels))

	for _, channel := range channels {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if err := w.refreshChannel(channel, now); err != nil {
			slog.Error("Channel refresh failed", "channel", channel.Name, "error", err)
			continue
		}
	}
}

func (w *RefreshWorker) refreshChannel(channel database.Channel, now time.Time) error {
	started := time.Now()

	listing, err := w.lister.FetchListing(w.ctx, channel.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch listing: %w", err)
	}

	w.applyChannelMetadata(channel, listing)

	priority := config.DefaultPriority
	if cfg, err := w.configs.GetConfig(channel.Name); err == nil {
		priority = cfg.Settings.Priority
	}

	newCount := 0
	for _, item := range listing.Items {
		known, err := w.episodeRepo.GetEpisodeBySourceItem(channel.ID, item.ItemID)
		if err != nil {
			return fmt.Errorf("failed to check known episode: %w", err)
		}
		if known != nil {
			continue
		}

		episodeID, err := w.episodeRepo.CreateEpisode(database.Episode{
			ChannelID:       channel.ID,
			SourceItemID:    item.ItemID,
			SourceURL:       item.URL,
			Title:           item.Title,
			Description:     item.Description,
			ThumbnailURL:    item.Thumbnail,
			DurationSeconds: item.DurationSeconds,
			PublishedAt:     item.PublishedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to create episode: %w", err)
		}

		if _, err := w.queueRepo.Enqueue(episodeID, priority); err != nil && err != database.ErrDuplicateItem {
			return fmt.Errorf("failed to enqueue episode: %w", err)
		}
		newCount++
	}

	evicted, err := w.enforceWindow(channel)
	if err != nil {
		return fmt.Errorf("failed to enforce rolling window: %w", err)
	}

	// Refresh succeeded even when nothing new was found.
	if err := w.channelRepo.UpdateLastRefresh(channel.ID, now.UTC()); err != nil {
		return fmt.Errorf("failed to update last refresh time: %w", err)
	}

	slog.Info("Channel refreshed",
		"channel", channel.Name,
		"duration", time.Since(started),
		"total", len(listing.Items),
		"new", newCount,
		"evicted", evicted)

	return nil
}

func (w *RefreshWorker) applyChannelMetadata(channel database.Channel, listing *Listing) {
	if listing.Title == "" && listing.Description == "" && listing.Thumbnail == "" {
		return
	}
	if listing.Title == channel.Title && listing.Description == channel.Description &&
		listing.Thumbnail == channel.ThumbnailURL {
		return
	}

	title := listing.Title
	if title == "" {
		title = channel.Title
	}
	description := listing.Description
	if description == "" {
		description = channel.Description
	}
	thumbnail := listing.Thumbnail
	if thumbnail == "" {
		thumbnail = channel.ThumbnailURL
	}

	if err := w.channelRepo.UpdateChannelMetadata(channel.ID, title, description, thumbnail); err != nil {
		slog.Warn("Failed to update channel metadata", "channel", channel.Name, "error", err)
	}
}

// enforceWindow evicts the oldest-published episodes beyond the channel's
// rolling window. An episode whose queue item is currently leased is never
// evicted; its turn comes on a later refresh.
func (w *RefreshWorker) enforceWindow(channel database.Channel) (int, error) {
	episodes, err := w.episodeRepo.GetActiveEpisodes(channel.ID)
	if err != nil {
		return 0, err
	}
	if len(episodes) <= channel.EpisodeCount {
		return 0, nil
	}

	evicted := 0
	// GetActiveEpisodes orders newest first; everything past the window is
	// an eviction candidate, oldest last.
	for i := len(episodes) - 1; i >= channel.EpisodeCount; i-- {
		episode := episodes[i]

		item, err := w.queueRepo.GetItemForEpisode(episode.ID)
		if err != nil {
			return evicted, err
		}
		if item != nil && item.Status == database.QueueStatusInProgress {
			slog.Debug("Skipping eviction of in-flight episode", "episode", episode.ID)
			continue
		}

		if err := w.queueRepo.CancelForEpisode(episode.ID); err != nil {
			return evicted, err
		}
		if err := w.episodeRepo.MarkEpisodeDeleted(episode.ID); err != nil {
			return evicted, err
		}
		if err := w.storage.RemoveEpisodeFiles(episode.AudioPath, episode.VideoPath); err != nil {
			slog.Warn("Failed to remove evicted episode files", "episode", episode.ID, "error", err)
		}
		evicted++
	}

	return evicted, nil
}

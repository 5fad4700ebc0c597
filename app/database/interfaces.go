package database

import (
	"errors"
	"time"
)

// ErrDuplicateItem is returned by Enqueue when an active queue item already
// exists for the episode.
var ErrDuplicateItem = errors.New("active queue item already exists for episode")

type ChannelRepository interface {
	GetChannel(name string) (*Channel, error)
	GetChannelByID(id string) (*Channel, error)
	GetChannels() ([]Channel, error)
	GetChannelCount() (int, error)

	// GetChannelsDueForRefresh returns enabled channels never refreshed or
	// last refreshed at or before cutoff, ordered oldest-refreshed-first.
	GetChannelsDueForRefresh(cutoff time.Time) ([]Channel, error)

	// UpsertChannel registers a channel from configuration, detecting source
	// URL changes. Returns the database ID and whether the URL changed.
	UpsertChannel(name, url, title, description, thumbnail string, episodeCount int, format string, enabled bool) (string, bool, error)

	UpdateChannelMetadata(id, title, description, thumbnail string) error
	UpdateLastRefresh(id string, at time.Time) error
	ClearLastRefresh(id string) error
	SetChannelEnabled(id string, enabled bool) error
}

type EpisodeRepository interface {
	CreateEpisode(ep Episode) (string, error)
	GetEpisode(id string) (*Episode, error)
	GetEpisodeBySourceItem(channelID, sourceItemID string) (*Episode, error)

	// GetActiveEpisodes returns non-deleted episodes for a channel ordered
	// by publish date descending.
	GetActiveEpisodes(channelID string) ([]Episode, error)
	GetCompletedEpisodes(channelID string, limit int) ([]Episode, error)
	GetFailedEpisodes(channelID string) ([]Episode, error)
	GetEpisodeStats(channelID string) (total, completed, failed int, err error)

	UpdateEpisodeStatus(id, status string) error
	UpdateEpisodeMetadata(id, title, description, thumbnail string, durationSeconds int) error
	MarkEpisodeCompleted(id, audioPath, videoPath string, audioSize, videoSize int64, downloadedAt time.Time) error
	MarkEpisodeFailed(id, lastError string) error
	MarkEpisodeDeleted(id string) error
}

type QueueRepository interface {
	// Enqueue creates a queue item for the episode. Fails with
	// ErrDuplicateItem when an active item exists; a terminal item is
	// re-armed as pending with attempts reset.
	Enqueue(episodeID string, priority int) (string, error)

	// LeaseNextBatch atomically claims up to maxCount eligible items
	// (pending, or retrying with next_retry_at <= now) in
	// (priority, created_at) order and marks them in_progress. Concurrent
	// callers never receive the same item.
	LeaseNextBatch(maxCount int, now time.Time) ([]QueueItem, error)

	ReportSuccess(itemID string) error

	// ReportFailure increments attempts and re-arms the item as retrying
	// with nextRetryAt, or marks it failed when terminal is set or the
	// attempt cap is reached.
	ReportFailure(itemID, lastError string, terminal bool, nextRetryAt time.Time) error

	Cancel(itemID string) error

	// CancelForEpisode cancels the episode's queue item when it is still
	// waiting to run. Items already leased or finished are left alone.
	CancelForEpisode(episodeID string) error

	GetItemForEpisode(episodeID string) (*QueueItem, error)
	CountByStatus() (map[string]int, error)

	// RequeueInFlight restores in_progress and cancelled items to pending
	// with attempts unchanged. Called once at startup before the workers.
	RequeueInFlight() (int, error)

	// RequeueFailed re-arms failed items for a channel with attempts reset.
	RequeueFailed(channelID string) (int, error)
}

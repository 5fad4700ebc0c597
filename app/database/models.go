package database

import (
	"time"
)

// Episode lifecycle statuses.
const (
	EpisodeStatusPending     = "pending"
	EpisodeStatusDownloading = "downloading"
	EpisodeStatusProcessing  = "processing"
	EpisodeStatusCompleted   = "completed"
	EpisodeStatusFailed      = "failed"
	EpisodeStatusDeleted     = "deleted"
)

// Download queue item statuses.
const (
	QueueStatusPending    = "pending"
	QueueStatusInProgress = "in_progress"
	QueueStatusCompleted  = "completed"
	QueueStatusRetrying   = "retrying"
	QueueStatusFailed     = "failed"
	QueueStatusCancelled  = "cancelled"
)

type Channel struct {
	ID            string // Database UUID
	Name          string // Configuration channel identifier derived from filename
	URL           string // Source channel URL from configuration
	Title         string
	Description   string
	ThumbnailURL  string
	EpisodeCount  int    // Rolling window size
	Format        string // audio, video or both
	Enabled       bool
	LastRefreshAt *time.Time // Last successful listing refresh
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Episode struct {
	ID              string
	ChannelID       string
	SourceItemID    string // Source item identifier, dedup key within a channel
	SourceURL       string
	Title           string
	Description     string
	ThumbnailURL    string
	DurationSeconds int
	PublishedAt     time.Time
	DownloadedAt    *time.Time
	AudioPath       string
	AudioSize       int64
	VideoPath       string
	VideoSize       int64
	Status          string
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type QueueItem struct {
	ID          string
	EpisodeID   string
	Priority    int // 1-10, lower is sooner
	Status      string
	Attempts    int
	MaxAttempts int
	LastError   string
	NextRetryAt *time.Time // Set only while status is retrying
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

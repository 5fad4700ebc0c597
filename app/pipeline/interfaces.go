package pipeline

import (
	"context"
	"time"
)

// Listing is a channel's current item inventory as reported by the external
// metadata tool, plus whatever channel-level metadata it carries.
type Listing struct {
	Title       string
	Description string
	Thumbnail   string
	Items       []ListingItem
}

type ListingItem struct {
	ItemID          string
	URL             string
	Title           string
	Description     string
	Thumbnail       string
	DurationSeconds int
	PublishedAt     time.Time
}

// FetchedVideo is the result of downloading one source item.
type FetchedVideo struct {
	ItemID          string
	Title           string
	Description     string
	Thumbnail       string
	DurationSeconds int
	FilePath        string
	Size            int64
}

// Lister fetches a channel's current item listing.
type Lister interface {
	FetchListing(ctx context.Context, channelURL string) (*Listing, error)
}

// Fetcher downloads one source item's media file into destDir. Failures are
// returned as *Error with a classified category.
type Fetcher interface {
	FetchVideo(ctx context.Context, sourceURL, destDir string) (*FetchedVideo, error)
}

// TranscodeResult describes one produced output file.
type TranscodeResult struct {
	OutputPath string
	Size       int64
	Elapsed    time.Duration
}

// Transcoder produces output files from a fetched media file. Failures are
// returned as *Error with a classified category.
type Transcoder interface {
	TranscodeAudio(ctx context.Context, inputPath, outputPath string) (*TranscodeResult, error)
	TranscodeVideo(ctx context.Context, inputPath, outputPath string) (*TranscodeResult, error)
}

// StatsSink receives terminal workflow outcomes. Implementations must be
// safe for concurrent use; the coordinator reports from every in-flight
// workflow.
type StatsSink interface {
	RecordDownloadStarted()
	RecordDownloadCompleted(bytes int64)
	RecordDownloadFailed(category ErrorCategory)
	RecordDownloadCancelled()
	RecordTranscode(format string, elapsed time.Duration)
}

// Storage abstracts episode file placement and removal.
type Storage interface {
	OutputPath(channelName, episodeID, title, ext string) string
	RemoveEpisodeFiles(audioPath, videoPath string) error
}

// ProgressEvent is a best-effort intermediate progress notification. Events
// are dropped when no observer is draining the channel.
type ProgressEvent struct {
	EpisodeID string
	Stage     string // downloading or processing
	Percent   float64
}

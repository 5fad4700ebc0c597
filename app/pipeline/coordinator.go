package pipeline

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/vodcomb/vod-comb/app/config"
	"github.com/vodcomb/vod-comb/app/database"
)

// Coordinator runs the download-then-transcode workflow for leased queue
// items under a fixed concurrency ceiling and routes every terminal outcome
// back to the queue store and the stats sink.
type Coordinator struct {
	queueRepo   database.QueueRepository
	episodeRepo database.EpisodeRepository
	channelRepo database.ChannelRepository
	fetcher     Fetcher
	transcoder  Transcoder
	storage     Storage
	stats       StatsSink
	policy      Policy
	tempDir     string

	slots    chan struct{}
	progress chan ProgressEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]context.CancelFunc // episode ID -> workflow cancel
}

func NewCoordinator(queueRepo database.QueueRepository, episodeRepo database.EpisodeRepository,
	channelRepo database.ChannelRepository, fetcher Fetcher, transcoder Transcoder,
	storage Storage, stats StatsSink, policy Policy, maxConcurrent int, tempDir string) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		queueRepo:   queueRepo,
		episodeRepo: episodeRepo,
		channelRepo: channelRepo,
		fetcher:     fetcher,
		transcoder:  transcoder,
		storage:     storage,
		stats:       stats,
		policy:      policy,
		tempDir:     tempDir,
		slots:       make(chan struct{}, maxConcurrent),
		progress:    make(chan ProgressEvent, 100),
		ctx:         ctx,
		cancel:      cancel,
		active:      make(map[string]context.CancelFunc),
	}
}

// InFlight returns the number of workflows currently occupying a slot.
func (c *Coordinator) InFlight() int {
	return len(c.slots)
}

// Progress exposes the best-effort progress stream. Events are dropped when
// nobody is draining it.
func (c *Coordinator) Progress() <-chan ProgressEvent {
	return c.progress
}

// Submit accepts a leased queue item and runs its workflow in the
// background. The caller is expected to lease no more items than there are
// free slots, so the acquisition here does not normally block.
func (c *Coordinator) Submit(item database.QueueItem) error {
	// Checked before the slot acquisition: once shutdown started, a free
	// slot must not win the select and admit new work.
	select {
	case <-c.ctx.Done():
		return c.reject(item)
	default:
	}

	select {
	case c.slots <- struct{}{}:
	case <-c.ctx.Done():
		return c.reject(item)
	}

	// Register the cancel handle before the goroutine starts so a
	// CancelEpisode arriving right after Submit returns is never lost.
	itemCtx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	c.active[item.EpisodeID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.slots }()
		defer func() {
			c.mu.Lock()
			delete(c.active, item.EpisodeID)
			c.mu.Unlock()
			cancel()
		}()
		c.run(itemCtx, item)
	}()

	return nil
}

// reject hands a leased item back during shutdown so startup recovery is
// not needed for an item that never started.
func (c *Coordinator) reject(item database.QueueItem) error {
	if err := c.queueRepo.Cancel(item.ID); err != nil {
		slog.Warn("Failed to cancel unstarted queue item", "item", item.ID, "error", err)
	}
	return c.ctx.Err()
}

// CancelEpisode aborts the in-flight workflow for the episode, if any.
func (c *Coordinator) CancelEpisode(episodeID string) {
	c.mu.Lock()
	cancel, ok := c.active[episodeID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels all in-flight workflows and waits for them to report.
func (c *Coordinator) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) run(itemCtx context.Context, item database.QueueItem) {
	episode, err := c.episodeRepo.GetEpisode(item.EpisodeID)
	if err != nil || episode == nil {
		slog.Error("Leased item references unknown episode", "item", item.ID, "episode", item.EpisodeID, "error", err)
		if cancelErr := c.queueRepo.Cancel(item.ID); cancelErr != nil {
			slog.Warn("Failed to cancel orphaned queue item", "item", item.ID, "error", cancelErr)
		}
		return
	}

	channel, err := c.channelRepo.GetChannelByID(episode.ChannelID)
	if err != nil || channel == nil {
		slog.Error("Episode references unknown channel", "episode", episode.ID, "channel", episode.ChannelID, "error", err)
		if cancelErr := c.queueRepo.Cancel(item.ID); cancelErr != nil {
			slog.Warn("Failed to cancel queue item", "item", item.ID, "error", cancelErr)
		}
		return
	}

	started := time.Now()
	c.stats.RecordDownloadStarted()

	if err := c.episodeRepo.UpdateEpisodeStatus(episode.ID, database.EpisodeStatusDownloading); err != nil {
		slog.Warn("Failed to update episode status", "episode", episode.ID, "error", err)
	}
	c.emitProgress(episode.ID, "downloading", 0)

	fetched, err := c.fetcher.FetchVideo(itemCtx, episode.SourceURL, c.tempDir)
	if err != nil {
		c.reportFailure(item, episode, err)
		return
	}
	defer os.Remove(fetched.FilePath)

	// Listings are often sparse; fill in whatever the full fetch knows.
	if fetched.Title != "" && (episode.Title == "" || episode.DurationSeconds == 0) {
		title := episode.Title
		if title == "" {
			title = fetched.Title
		}
		description := episode.Description
		if description == "" {
			description = fetched.Description
		}
		if err := c.episodeRepo.UpdateEpisodeMetadata(episode.ID, title, description, episode.ThumbnailURL, fetched.DurationSeconds); err != nil {
			slog.Warn("Failed to update episode metadata", "episode", episode.ID, "error", err)
		}
		episode.Title = title
	}

	if err := c.episodeRepo.UpdateEpisodeStatus(episode.ID, database.EpisodeStatusProcessing); err != nil {
		slog.Warn("Failed to update episode status", "episode", episode.ID, "error", err)
	}
	c.emitProgress(episode.ID, "processing", 0)

	var audioPath, videoPath string
	var audioSize, videoSize int64

	if channel.Format == config.FormatAudio || channel.Format == config.FormatBoth {
		out := c.storage.OutputPath(channel.Name, episode.ID, episode.Title, ".m4a")
		result, err := c.transcoder.TranscodeAudio(itemCtx, fetched.FilePath, out)
		if err != nil {
			c.reportFailure(item, episode, err)
			return
		}
		audioPath, audioSize = result.OutputPath, result.Size
		c.stats.RecordTranscode(config.FormatAudio, result.Elapsed)
	}

	if channel.Format == config.FormatVideo || channel.Format == config.FormatBoth {
		out := c.storage.OutputPath(channel.Name, episode.ID, episode.Title, ".mp4")
		result, err := c.transcoder.TranscodeVideo(itemCtx, fetched.FilePath, out)
		if err != nil {
			c.reportFailure(item, episode, err)
			return
		}
		videoPath, videoSize = result.OutputPath, result.Size
		c.stats.RecordTranscode(config.FormatVideo, result.Elapsed)
	}

	now := time.Now().UTC()
	if err := c.episodeRepo.MarkEpisodeCompleted(episode.ID, audioPath, videoPath, audioSize, videoSize, now); err != nil {
		slog.Error("Failed to persist completed episode", "episode", episode.ID, "error", err)
		c.reportFailure(item, episode, NewError(CategoryUnknown, "persist episode", err))
		return
	}

	if err := c.queueRepo.ReportSuccess(item.ID); err != nil {
		slog.Error("Failed to report queue success", "item", item.ID, "error", err)
	}

	c.stats.RecordDownloadCompleted(audioSize + videoSize)
	c.emitProgress(episode.ID, "processing", 100)

	slog.Info("Workflow completed",
		"episode", episode.ID,
		"channel", channel.Name,
		"title", episode.Title,
		"duration", time.Since(started),
		"bytes", audioSize+videoSize)
}

func (c *Coordinator) reportFailure(item database.QueueItem, episode *database.Episode, err error) {
	category := Classify(err)

	if category == CategoryCancelled {
		// Cancellation is not a failure: the item goes back through Cancel
		// so startup recovery re-arms it as pending.
		if cancelErr := c.queueRepo.Cancel(item.ID); cancelErr != nil {
			slog.Warn("Failed to cancel queue item", "item", item.ID, "error", cancelErr)
		}
		if statusErr := c.episodeRepo.UpdateEpisodeStatus(episode.ID, database.EpisodeStatusPending); statusErr != nil {
			slog.Warn("Failed to reset episode status", "episode", episode.ID, "error", statusErr)
		}
		c.stats.RecordDownloadCancelled()
		slog.Info("Workflow cancelled", "episode", episode.ID)
		return
	}

	attempt := item.Attempts + 1
	decision := c.policy.Next(attempt, category)

	if decision.Terminal {
		if reportErr := c.queueRepo.ReportFailure(item.ID, err.Error(), true, time.Time{}); reportErr != nil {
			slog.Error("Failed to report terminal failure", "item", item.ID, "error", reportErr)
		}
		if markErr := c.episodeRepo.MarkEpisodeFailed(episode.ID, err.Error()); markErr != nil {
			slog.Error("Failed to mark episode failed", "episode", episode.ID, "error", markErr)
		}
		c.stats.RecordDownloadFailed(category)
		slog.Error("Workflow failed permanently",
			"episode", episode.ID,
			"category", string(category),
			"attempt", attempt,
			"error", err)
		return
	}

	nextRetryAt := time.Now().UTC().Add(decision.Delay)
	if reportErr := c.queueRepo.ReportFailure(item.ID, err.Error(), false, nextRetryAt); reportErr != nil {
		slog.Error("Failed to report retryable failure", "item", item.ID, "error", reportErr)
	}
	if statusErr := c.episodeRepo.UpdateEpisodeStatus(episode.ID, database.EpisodeStatusPending); statusErr != nil {
		slog.Warn("Failed to reset episode status", "episode", episode.ID, "error", statusErr)
	}

	slog.Warn("Workflow failed, retry scheduled",
		"episode", episode.ID,
		"category", string(category),
		"attempt", attempt,
		"next_retry_at", nextRetryAt.Format(time.RFC3339),
		"error", err)
}

func (c *Coordinator) emitProgress(episodeID, stage string, percent float64) {
	select {
	case c.progress <- ProgressEvent{EpisodeID: episodeID, Stage: stage, Percent: percent}:
	default:
	}
}

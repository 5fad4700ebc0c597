package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vodcomb/vod-comb/app/database"
)

// Shared test fixtures: an in-memory store plus fake tool adapters.

type fixture struct {
	db          *database.DB
	channelRepo *database.ChannelRepo
	episodeRepo *database.EpisodeRepo
	queueRepo   *database.QueueRepo
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()

	db, err := database.NewConnection(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return &fixture{
		db:          db,
		channelRepo: database.NewChannelRepository(db),
		episodeRepo: database.NewEpisodeRepository(db),
		queueRepo:   database.NewQueueRepository(db, maxAttempts),
	}
}

func (f *fixture) channel(t *testing.T, name, format string, episodeCount int) string {
	t.Helper()
	id, _, err := f.channelRepo.UpsertChannel(name, "https://example.com/"+name, name, "", "", episodeCount, format, true)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	return id
}

func (f *fixture) episode(t *testing.T, channelID, sourceItemID string, publishedAt time.Time) string {
	t.Helper()
	id, err := f.episodeRepo.CreateEpisode(database.Episode{
		ChannelID:    channelID,
		SourceItemID: sourceItemID,
		SourceURL:    "https://example.com/watch?v=" + sourceItemID,
		Title:        "Episode " + sourceItemID,
		PublishedAt:  publishedAt,
	})
	if err != nil {
		t.Fatalf("Failed to create episode: %v", err)
	}
	return id
}

type fakeFetcher struct {
	mu    sync.Mutex
	err   error
	delay time.Duration
	calls int
}

func (f *fakeFetcher) FetchVideo(ctx context.Context, sourceURL, destDir string) (*FetchedVideo, error) {
	f.mu.Lock()
	f.calls++
	err, delay := f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, NewError(CategoryCancelled, "fetch video", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return &FetchedVideo{
		ItemID:          "item",
		Title:           "Fetched Title",
		DurationSeconds: 120,
		FilePath:        filepath.Join(destDir, "item.webm"),
		Size:            4096,
	}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTranscoder struct {
	mu         sync.Mutex
	err        error
	audioCalls int
	videoCalls int
}

func (f *fakeTranscoder) TranscodeAudio(ctx context.Context, inputPath, outputPath string) (*TranscodeResult, error) {
	f.mu.Lock()
	f.audioCalls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &TranscodeResult{OutputPath: outputPath, Size: 2048, Elapsed: 50 * time.Millisecond}, nil
}

func (f *fakeTranscoder) TranscodeVideo(ctx context.Context, inputPath, outputPath string) (*TranscodeResult, error) {
	f.mu.Lock()
	f.videoCalls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &TranscodeResult{OutputPath: outputPath, Size: 8192, Elapsed: 80 * time.Millisecond}, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeStorage) OutputPath(channelName, episodeID, title, ext string) string {
	return filepath.Join("data", channelName, episodeID+ext)
}

func (f *fakeStorage) RemoveEpisodeFiles(audioPath, videoPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if audioPath != "" {
		f.removed = append(f.removed, audioPath)
	}
	if videoPath != "" {
		f.removed = append(f.removed, videoPath)
	}
	return nil
}

type fakeStats struct {
	mu         sync.Mutex
	started    int
	completed  int
	failed     map[ErrorCategory]int
	cancelled  int
	transcodes map[string]int
}

func newFakeStats() *fakeStats {
	return &fakeStats{
		failed:     make(map[ErrorCategory]int),
		transcodes: make(map[string]int),
	}
}

func (f *fakeStats) RecordDownloadStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeStats) RecordDownloadCompleted(bytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
}

func (f *fakeStats) RecordDownloadFailed(category ErrorCategory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[category]++
}

func (f *fakeStats) RecordDownloadCancelled() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeStats) RecordTranscode(format string, elapsed time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcodes[format]++
}

type fakeLister struct {
	mu       sync.Mutex
	listings map[string]*Listing
	errs     map[string]error
	calls    int
}

func (f *fakeLister) FetchListing(ctx context.Context, channelURL string) (*Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[channelURL]; ok {
		return nil, err
	}
	if listing, ok := f.listings[channelURL]; ok {
		return listing, nil
	}
	return &Listing{}, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met within timeout")
}

var _ Fetcher = (*fakeFetcher)(nil)
var _ Transcoder = (*fakeTranscoder)(nil)
var _ Storage = (*fakeStorage)(nil)
var _ StatsSink = (*fakeStats)(nil)
var _ Lister = (*fakeLister)(nil)

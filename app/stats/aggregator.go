package stats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vodcomb/vod-comb/app/pipeline"
)

// DepthSource supplies the current queue depth by status for snapshots.
type DepthSource interface {
	CountByStatus() (map[string]int, error)
}

// FormatStats aggregates transcode outcomes for one output format.
type FormatStats struct {
	Count           int64   `json:"count"`
	AverageDuration float64 `json:"average_duration_seconds"`
}

// Snapshot is a consistent point-in-time read of the aggregator.
type Snapshot struct {
	DownloadsStarted   int64                    `json:"downloads_started"`
	DownloadsCompleted int64                    `json:"downloads_completed"`
	DownloadsFailed    int64                    `json:"downloads_failed"`
	DownloadsCancelled int64                    `json:"downloads_cancelled"`
	BytesDownloaded    int64                    `json:"bytes_downloaded"`
	SuccessRate        float64                  `json:"success_rate"`
	Transcodes         map[string]FormatStats   `json:"transcodes"`
	Errors             map[string]int64         `json:"errors"`
	QueueDepth         map[string]int           `json:"queue_depth"`
}

var _ pipeline.StatsSink = (*Aggregator)(nil)

// Aggregator centralizes pipeline counters behind a single atomic-update
// interface. Worker code never mutates counters directly.
type Aggregator struct {
	mu sync.Mutex

	started   int64
	completed int64
	failed    int64
	cancelled int64
	bytes     int64

	transcodeCount map[string]int64
	transcodeTotal map[string]time.Duration
	errorCounts    map[pipeline.ErrorCategory]int64

	depths DepthSource
}

func NewAggregator(depths DepthSource) *Aggregator {
	return &Aggregator{
		transcodeCount: make(map[string]int64),
		transcodeTotal: make(map[string]time.Duration),
		errorCounts:    make(map[pipeline.ErrorCategory]int64),
		depths:         depths,
	}
}

func (a *Aggregator) RecordDownloadStarted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started++
}

func (a *Aggregator) RecordDownloadCompleted(bytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completed++
	a.bytes += bytes
}

func (a *Aggregator) RecordDownloadFailed(category pipeline.ErrorCategory) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed++
	a.errorCounts[category]++
}

// RecordDownloadCancelled tracks cancellations separately; they never count
// against the success rate.
func (a *Aggregator) RecordDownloadCancelled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled++
}

func (a *Aggregator) RecordTranscode(format string, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcodeCount[format]++
	a.transcodeTotal[format] += elapsed
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()

	snapshot := Snapshot{
		DownloadsStarted:   a.started,
		DownloadsCompleted: a.completed,
		DownloadsFailed:    a.failed,
		DownloadsCancelled: a.cancelled,
		BytesDownloaded:    a.bytes,
		Transcodes:         make(map[string]FormatStats, len(a.transcodeCount)),
		Errors:             make(map[string]int64, len(a.errorCounts)),
		QueueDepth:         make(map[string]int),
	}

	if total := a.completed + a.failed; total > 0 {
		snapshot.SuccessRate = float64(a.completed) / float64(total)
	}

	for format, count := range a.transcodeCount {
		stats := FormatStats{Count: count}
		if count > 0 {
			stats.AverageDuration = a.transcodeTotal[format].Seconds() / float64(count)
		}
		snapshot.Transcodes[format] = stats
	}
	for category, count := range a.errorCounts {
		snapshot.Errors[string(category)] = count
	}

	a.mu.Unlock()

	if a.depths != nil {
		depths, err := a.depths.CountByStatus()
		if err != nil {
			slog.Warn("Failed to read queue depth for snapshot", "error", err)
		} else {
			snapshot.QueueDepth = depths
		}
	}

	return snapshot
}

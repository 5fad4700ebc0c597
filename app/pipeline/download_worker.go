package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vodcomb/vod-comb/app/database"
)

// DownloadWorker is the poll loop feeding the coordinator. Each tick it
// leases as many eligible queue items as there are free slots and submits
// them without waiting for completion.
type DownloadWorker struct {
	queueRepo     database.QueueRepository
	coordinator   *Coordinator
	interval      time.Duration
	maxConcurrent int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDownloadWorker(queueRepo database.QueueRepository, coordinator *Coordinator,
	interval time.Duration, maxConcurrent int) *DownloadWorker {
	ctx, cancel := context.WithCancel(context.Background())

	return &DownloadWorker{
		queueRepo:     queueRepo,
		coordinator:   coordinator,
		interval:      interval,
		maxConcurrent: maxConcurrent,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (w *DownloadWorker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

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

func (w *DownloadWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// tick leases and dispatches eligible items. Errors are logged and survived;
// the loop stays live for the life of the process.
func (w *DownloadWorker) tick(now time.Time) {
	availableSlots := w.maxConcurrent - w.coordinator.InFlight()
	if availableSlots <= 0 {
		return
	}

	items, err := w.queueRepo.LeaseNextBatch(availableSlots, now)
	if err != nil {
		slog.Warn("Failed to lease queue items, retrying next tick", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	slog.Debug("Dispatching leased items", "count", len(items), "slots", availableSlots)

	for i, item := range items {
		if err := w.coordinator.Submit(item); err != nil {
			slog.Debug("Coordinator rejected item", "item", item.ID, "error", err)
			// Submit rejects only during shutdown and cancels the rejected
			// item itself; hand the rest of the batch back too so nothing
			// stays leased across the restart.
			for _, rest := range items[i+1:] {
				if cancelErr := w.queueRepo.Cancel(rest.ID); cancelErr != nil {
					slog.Warn("Failed to cancel leased queue item", "item", rest.ID, "error", cancelErr)
				}
			}
			return
		}
	}
}

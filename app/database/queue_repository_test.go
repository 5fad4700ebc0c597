package database

import (
	"sync"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

func createTestChannel(t *testing.T, db *DB) string {
	t.Helper()

	repo := NewChannelRepository(db)
	id, _, err := repo.UpsertChannel("test-channel", "https://example.com/channel",
		"Test Channel", "", "", 10, "audio", true)
	if err != nil {
		t.Fatalf("Failed to create test channel: %v", err)
	}
	return id
}

func createTestEpisode(t *testing.T, db *DB, channelID, sourceItemID string, publishedAt time.Time) string {
	t.Helper()

	repo := NewEpisodeRepository(db)
	id, err := repo.CreateEpisode(Episode{
		ChannelID:    channelID,
		SourceItemID: sourceItemID,
		SourceURL:    "https://example.com/watch?v=" + sourceItemID,
		Title:        "Episode " + sourceItemID,
		PublishedAt:  publishedAt,
	})
	if err != nil {
		t.Fatalf("Failed to create test episode: %v", err)
	}
	return id
}

func TestEnqueueDuplicate(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	episodeID := createTestEpisode(t, db, channelID, "vid1", time.Now())

	queue := NewQueueRepository(db, 3)

	if _, err := queue.Enqueue(episodeID, 5); err != nil {
		t.Fatalf("Expected first enqueue to succeed, got: %v", err)
	}

	if _, err := queue.Enqueue(episodeID, 5); err != ErrDuplicateItem {
		t.Errorf("Expected ErrDuplicateItem, got: %v", err)
	}
}

func TestEnqueueRearmsTerminalItem(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	episodeID := createTestEpisode(t, db, channelID, "vid1", time.Now())

	queue := NewQueueRepository(db, 1)

	itemID, err := queue.Enqueue(episodeID, 5)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := queue.LeaseNextBatch(1, time.Now())
	if err != nil || len(items) != 1 {
		t.Fatalf("Lease failed: %v (items: %d)", err, len(items))
	}
	if err := queue.ReportFailure(itemID, "network timeout", false, time.Now()); err != nil {
		t.Fatalf("ReportFailure failed: %v", err)
	}

	item, _ := queue.GetItem(itemID)
	if item.Status != QueueStatusFailed {
		t.Fatalf("Expected failed after attempt cap, got %s", item.Status)
	}

	rearmedID, err := queue.Enqueue(episodeID, 3)
	if err != nil {
		t.Fatalf("Expected re-arm of terminal item, got: %v", err)
	}
	if rearmedID != itemID {
		t.Errorf("Expected same queue row to be re-armed")
	}

	item, _ = queue.GetItem(itemID)
	if item.Status != QueueStatusPending || item.Attempts != 0 || item.Priority != 3 {
		t.Errorf("Expected pending item with reset attempts, got status=%s attempts=%d priority=%d",
			item.Status, item.Attempts, item.Priority)
	}
}

func TestLeaseOrderAndLimit(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	queue := NewQueueRepository(db, 3)

	// Enqueue out of priority order.
	lowPrio := createTestEpisode(t, db, channelID, "low", time.Now())
	highPrio := createTestEpisode(t, db, channelID, "high", time.Now())
	midPrio := createTestEpisode(t, db, channelID, "mid", time.Now())

	if _, err := queue.Enqueue(lowPrio, 9); err != nil {
		t.Fatal(err)
	}
	if _, err := queue.Enqueue(highPrio, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := queue.Enqueue(midPrio, 5); err != nil {
		t.Fatal(err)
	}

	items, err := queue.LeaseNextBatch(2, time.Now())
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 leased items, got %d", len(items))
	}
	if items[0].EpisodeID != highPrio || items[1].EpisodeID != midPrio {
		t.Errorf("Expected priority order (high, mid), got (%s, %s)", items[0].EpisodeID, items[1].EpisodeID)
	}
	for _, item := range items {
		if item.Status != QueueStatusInProgress {
			t.Errorf("Expected leased item to be in_progress, got %s", item.Status)
		}
	}

	// Remaining item stays pending until slots free up.
	remaining, _ := queue.GetItemForEpisode(lowPrio)
	if remaining.Status != QueueStatusPending {
		t.Errorf("Expected unleased item pending, got %s", remaining.Status)
	}
}

func TestConcurrentLeasesAreDisjoint(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	queue := NewQueueRepository(db, 3)

	for i := 0; i < 20; i++ {
		episodeID := createTestEpisode(t, db, channelID, string(rune('a'+i)), time.Now())
		if _, err := queue.Enqueue(episodeID, 5); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := queue.LeaseNextBatch(4, time.Now())
			if err != nil {
				t.Errorf("Lease failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, item := range items {
				seen[item.ID]++
			}
		}()
	}
	wg.Wait()

	if len(seen) != 20 {
		t.Errorf("Expected all 20 items leased exactly once, got %d distinct", len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("Item %s leased %d times", id, count)
		}
	}
}

func TestRetryingEligibility(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	episodeID := createTestEpisode(t, db, channelID, "vid1", time.Now())

	queue := NewQueueRepository(db, 3)
	itemID, _ := queue.Enqueue(episodeID, 5)

	now := time.Now()
	if _, err := queue.LeaseNextBatch(1, now); err != nil {
		t.Fatal(err)
	}

	retryAt := now.Add(10 * time.Minute)
	if err := queue.ReportFailure(itemID, "network timeout", false, retryAt); err != nil {
		t.Fatal(err)
	}

	item, _ := queue.GetItem(itemID)
	if item.Status != QueueStatusRetrying {
		t.Fatalf("Expected retrying, got %s", item.Status)
	}
	if item.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", item.Attempts)
	}
	if item.NextRetryAt == nil {
		t.Fatal("Expected next_retry_at to be set for retrying item")
	}

	// Not yet eligible.
	items, err := queue.LeaseNextBatch(1, now.Add(5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items before next_retry_at, got %d", len(items))
	}

	// Eligible once the retry time passes.
	items, err = queue.LeaseNextBatch(1, now.Add(11*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Errorf("Expected 1 item after next_retry_at, got %d", len(items))
	}
}

func TestFailureSequenceReachesTerminal(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	episodeID := createTestEpisode(t, db, channelID, "vid1", time.Now())

	queue := NewQueueRepository(db, 3)
	itemID, _ := queue.Enqueue(episodeID, 5)

	now := time.Now()
	for attempt := 1; attempt <= 3; attempt++ {
		items, err := queue.LeaseNextBatch(1, now.Add(time.Duration(attempt)*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if len(items) != 1 {
			t.Fatalf("Attempt %d: expected lease to return the item", attempt)
		}
		if err := queue.ReportFailure(itemID, "network timeout", false, now.Add(time.Duration(attempt)*time.Hour)); err != nil {
			t.Fatal(err)
		}

		item, _ := queue.GetItem(itemID)
		if item.Attempts != attempt {
			t.Errorf("Expected %d attempts, got %d", attempt, item.Attempts)
		}
		if attempt < 3 && item.Status != QueueStatusRetrying {
			t.Errorf("Attempt %d: expected retrying, got %s", attempt, item.Status)
		}
		if attempt == 3 && item.Status != QueueStatusFailed {
			t.Errorf("Attempt 3: expected failed, got %s", item.Status)
		}
	}

	// A failed item is never leased again.
	items, err := queue.LeaseNextBatch(10, now.Add(100*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("Expected failed item to never be leased again, got %d items", len(items))
	}

	item, _ := queue.GetItem(itemID)
	if item.Attempts > item.MaxAttempts {
		t.Errorf("Attempts %d exceeded max attempts %d", item.Attempts, item.MaxAttempts)
	}
	if item.NextRetryAt != nil {
		t.Error("Expected next_retry_at cleared on terminal item")
	}
}

func TestTerminalFailureBypassesRetry(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	episodeID := createTestEpisode(t, db, channelID, "vid1", time.Now())

	queue := NewQueueRepository(db, 3)
	itemID, _ := queue.Enqueue(episodeID, 5)

	if _, err := queue.LeaseNextBatch(1, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := queue.ReportFailure(itemID, "video is private", true, time.Time{}); err != nil {
		t.Fatal(err)
	}

	item, _ := queue.GetItem(itemID)
	if item.Status != QueueStatusFailed {
		t.Errorf("Expected failed on terminal category, got %s", item.Status)
	}
	if item.Attempts != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", item.Attempts)
	}
}

func TestReportAgainstUnleasedItemFails(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	episodeID := createTestEpisode(t, db, channelID, "vid1", time.Now())

	queue := NewQueueRepository(db, 3)
	itemID, _ := queue.Enqueue(episodeID, 5)

	if err := queue.ReportSuccess(itemID); err == nil {
		t.Error("Expected error reporting success on unleased item")
	}
	if err := queue.ReportFailure(itemID, "boom", false, time.Now()); err == nil {
		t.Error("Expected error reporting failure on unleased item")
	}
}

func TestCancelForEpisodeOnlyTouchesWaitingItems(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	queue := NewQueueRepository(db, 3)

	leasedEp := createTestEpisode(t, db, channelID, "vid1", time.Now())
	leasedID, err := queue.Enqueue(leasedEp, 1)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pendingEp := createTestEpisode(t, db, channelID, "vid2", time.Now())
	pendingID, err := queue.Enqueue(pendingEp, 9)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := queue.LeaseNextBatch(1, time.Now())
	if err != nil || len(items) != 1 || items[0].ID != leasedID {
		t.Fatalf("Expected to lease %s, got %v (err: %v)", leasedID, items, err)
	}

	if err := queue.CancelForEpisode(pendingEp); err != nil {
		t.Fatalf("CancelForEpisode failed: %v", err)
	}
	if item, _ := queue.GetItem(pendingID); item.Status != QueueStatusCancelled {
		t.Errorf("Expected pending item cancelled, got %s", item.Status)
	}

	// A leased item is not touched; the running workflow owns it.
	if err := queue.CancelForEpisode(leasedEp); err != nil {
		t.Fatalf("CancelForEpisode failed: %v", err)
	}
	if item, _ := queue.GetItem(leasedID); item.Status != QueueStatusInProgress {
		t.Errorf("Expected leased item untouched, got %s", item.Status)
	}

	if err := queue.ReportSuccess(leasedID); err != nil {
		t.Fatalf("ReportSuccess failed: %v", err)
	}
	if err := queue.CancelForEpisode(leasedEp); err != nil {
		t.Fatalf("CancelForEpisode failed: %v", err)
	}
	if item, _ := queue.GetItem(leasedID); item.Status != QueueStatusCompleted {
		t.Errorf("Expected completed item untouched, got %s", item.Status)
	}
}

func TestRequeueInFlight(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	queue := NewQueueRepository(db, 3)

	first := createTestEpisode(t, db, channelID, "vid1", time.Now())
	second := createTestEpisode(t, db, channelID, "vid2", time.Now())

	firstID, _ := queue.Enqueue(first, 5)
	secondID, _ := queue.Enqueue(second, 5)

	items, err := queue.LeaseNextBatch(1, time.Now())
	if err != nil || len(items) != 1 {
		t.Fatalf("Lease failed: %v", err)
	}
	if err := queue.ReportFailure(firstID, "network timeout", false, time.Now()); err != nil {
		t.Fatal(err)
	}
	attemptsBefore := 1

	if _, err := queue.LeaseNextBatch(2, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := queue.Cancel(secondID); err != nil {
		t.Fatal(err)
	}

	// Simulated restart: the leftover in_progress item and the cancelled
	// item both return to pending, attempts untouched.
	count, err := queue.RequeueInFlight()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("Expected 2 requeued items, got %d", count)
	}

	firstItem, _ := queue.GetItem(firstID)
	if firstItem.Status != QueueStatusPending {
		t.Errorf("Expected pending after recovery, got %s", firstItem.Status)
	}
	if firstItem.Attempts != attemptsBefore {
		t.Errorf("Expected attempts unchanged at %d, got %d", attemptsBefore, firstItem.Attempts)
	}

	secondItem, _ := queue.GetItem(secondID)
	if secondItem.Status != QueueStatusPending {
		t.Errorf("Expected cancelled item pending after recovery, got %s", secondItem.Status)
	}
}

func TestCountByStatus(t *testing.T) {
	db := openTestDB(t)
	channelID := createTestChannel(t, db)
	queue := NewQueueRepository(db, 3)

	for i, name := range []string{"a", "b", "c"} {
		episodeID := createTestEpisode(t, db, channelID, name, time.Now())
		if _, err := queue.Enqueue(episodeID, i+1); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := queue.LeaseNextBatch(1, time.Now()); err != nil {
		t.Fatal(err)
	}

	counts, err := queue.CountByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if counts[QueueStatusPending] != 2 {
		t.Errorf("Expected 2 pending, got %d", counts[QueueStatusPending])
	}
	if counts[QueueStatusInProgress] != 1 {
		t.Errorf("Expected 1 in_progress, got %d", counts[QueueStatusInProgress])
	}
}

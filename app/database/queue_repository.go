package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ QueueRepository = (*QueueRepo)(nil)

type QueueRepo struct {
	db          *DB
	maxAttempts int
}

func NewQueueRepository(db *DB, maxAttempts int) *QueueRepo {
	return &QueueRepo{db: db, maxAttempts: maxAttempts}
}

const queueColumns = `id, episode_id, priority, status, attempts, max_attempts,
	last_error, next_retry_at, created_at, updated_at`

func (r *QueueRepo) scanItem(row interface{ Scan(...any) error }) (*QueueItem, error) {
	var item QueueItem
	err := row.Scan(&item.ID, &item.EpisodeID, &item.Priority, &item.Status,
		&item.Attempts, &item.MaxAttempts, &item.LastError, &item.NextRetryAt,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *QueueRepo) Enqueue(episodeID string, priority int) (string, error) {
	existing, err := r.GetItemForEpisode(episodeID)
	if err != nil {
		return "", fmt.Errorf("failed to check existing queue item: %w", err)
	}

	now := time.Now().UTC()

	if existing != nil {
		switch existing.Status {
		case QueueStatusPending, QueueStatusInProgress, QueueStatusRetrying:
			return "", ErrDuplicateItem
		}

		// Terminal item: re-arm the existing row with a fresh attempt budget.
		_, err = r.db.Exec(`
			UPDATE download_queue
			SET priority = ?, status = ?, attempts = 0, last_error = '',
				next_retry_at = NULL, updated_at = ?
			WHERE id = ?
		`, priority, QueueStatusPending, now, existing.ID)
		if err != nil {
			return "", fmt.Errorf("failed to re-arm queue item: %w", err)
		}
		return existing.ID, nil
	}

	id := uuid.NewString()
	_, err = r.db.Exec(`
		INSERT INTO download_queue (id, episode_id, priority, status, attempts,
			max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
	`, id, episodeID, priority, QueueStatusPending, r.maxAttempts, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue item: %w", err)
	}

	return id, nil
}

// LeaseNextBatch claims eligible items in a single UPDATE ... RETURNING
// statement. SQLite executes the statement atomically, so the sets returned
// to concurrent callers are disjoint.
func (r *QueueRepo) LeaseNextBatch(maxCount int, now time.Time) ([]QueueItem, error) {
	if maxCount <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(`
		UPDATE download_queue
		SET status = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM download_queue
			WHERE status = ? OR (status = ? AND next_retry_at <= ?)
			ORDER BY priority ASC, created_at ASC
			LIMIT ?
		)
		RETURNING `+queueColumns,
		QueueStatusInProgress, now.UTC(), QueueStatusPending,
		QueueStatusRetrying, now.UTC(), maxCount)
	if err != nil {
		return nil, fmt.Errorf("failed to lease queue items: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		item, err := r.scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leased item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leased items: %w", err)
	}

	return items, nil
}

func (r *QueueRepo) ReportSuccess(itemID string) error {
	result, err := r.db.Exec(`
		UPDATE download_queue
		SET status = ?, last_error = '', next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, QueueStatusCompleted, time.Now().UTC(), itemID, QueueStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to report success: %w", err)
	}
	return r.requireLeased(result, itemID)
}

func (r *QueueRepo) ReportFailure(itemID, lastError string, terminal bool, nextRetryAt time.Time) error {
	// The attempt cap is enforced here as well: attempts never pass
	// max_attempts regardless of what the caller decided.
	result, err := r.db.Exec(`
		UPDATE download_queue
		SET attempts = attempts + 1,
			last_error = ?,
			status = CASE WHEN ? OR attempts + 1 >= max_attempts THEN ? ELSE ? END,
			next_retry_at = CASE WHEN ? OR attempts + 1 >= max_attempts THEN NULL ELSE ? END,
			updated_at = ?
		WHERE id = ? AND status = ?
	`, lastError,
		terminal, QueueStatusFailed, QueueStatusRetrying,
		terminal, nextRetryAt.UTC(),
		time.Now().UTC(), itemID, QueueStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to report failure: %w", err)
	}
	return r.requireLeased(result, itemID)
}

func (r *QueueRepo) Cancel(itemID string) error {
	_, err := r.db.Exec(`
		UPDATE download_queue
		SET status = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ?
	`, QueueStatusCancelled, time.Now().UTC(), itemID)
	if err != nil {
		return fmt.Errorf("failed to cancel queue item: %w", err)
	}
	return nil
}

func (r *QueueRepo) CancelForEpisode(episodeID string) error {
	_, err := r.db.Exec(`
		UPDATE download_queue
		SET status = ?, next_retry_at = NULL, updated_at = ?
		WHERE episode_id = ? AND status IN (?, ?)
	`, QueueStatusCancelled, time.Now().UTC(), episodeID,
		QueueStatusPending, QueueStatusRetrying)
	if err != nil {
		return fmt.Errorf("failed to cancel queue item for episode: %w", err)
	}
	return nil
}

func (r *QueueRepo) GetItem(itemID string) (*QueueItem, error) {
	row := r.db.QueryRow(`SELECT `+queueColumns+` FROM download_queue WHERE id = ?`, itemID)

	item, err := r.scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

func (r *QueueRepo) GetItemForEpisode(episodeID string) (*QueueItem, error) {
	row := r.db.QueryRow(`SELECT `+queueColumns+` FROM download_queue WHERE episode_id = ?`, episodeID)

	item, err := r.scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item for episode: %w", err)
	}
	return item, nil
}

func (r *QueueRepo) CountByStatus() (map[string]int, error) {
	rows, err := r.db.Query(`
		SELECT status, COUNT(*)
		FROM download_queue
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

func (r *QueueRepo) RequeueInFlight() (int, error) {
	// Items whose episode was evicted stay cancelled; re-arming them would
	// re-download a deleted episode.
	result, err := r.db.Exec(`
		UPDATE download_queue
		SET status = ?, next_retry_at = NULL, updated_at = ?
		WHERE status IN (?, ?)
		  AND episode_id IN (SELECT id FROM episodes WHERE status != ?)
	`, QueueStatusPending, time.Now().UTC(), QueueStatusInProgress, QueueStatusCancelled, EpisodeStatusDeleted)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue in-flight items: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count requeued items: %w", err)
	}
	return int(affected), nil
}

func (r *QueueRepo) RequeueFailed(channelID string) (int, error) {
	result, err := r.db.Exec(`
		UPDATE download_queue
		SET status = ?, attempts = 0, last_error = '', next_retry_at = NULL, updated_at = ?
		WHERE status = ?
		  AND episode_id IN (SELECT id FROM episodes WHERE channel_id = ?)
	`, QueueStatusPending, time.Now().UTC(), QueueStatusFailed, channelID)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue failed items: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count requeued items: %w", err)
	}
	return int(affected), nil
}

// requireLeased surfaces terminal reports against an item the caller no
// longer holds (e.g. cancelled mid-flight by the refresh worker).
func (r *QueueRepo) requireLeased(result sql.Result, itemID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("queue item %s is not leased", itemID)
	}
	return nil
}

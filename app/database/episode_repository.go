package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ EpisodeRepository = (*EpisodeRepo)(nil)

type EpisodeRepo struct {
	db *DB
}

func NewEpisodeRepository(db *DB) *EpisodeRepo {
	return &EpisodeRepo{db: db}
}

const episodeColumns = `id, channel_id, source_item_id, source_url, title,
	description, thumbnail_url, duration_seconds, published_at, downloaded_at,
	audio_path, audio_size, video_path, video_size, status, last_error,
	created_at, updated_at`

func (r *EpisodeRepo) scanEpisode(row interface{ Scan(...any) error }) (*Episode, error) {
	var ep Episode
	err := row.Scan(&ep.ID, &ep.ChannelID, &ep.SourceItemID, &ep.SourceURL,
		&ep.Title, &ep.Description, &ep.ThumbnailURL, &ep.DurationSeconds,
		&ep.PublishedAt, &ep.DownloadedAt, &ep.AudioPath, &ep.AudioSize,
		&ep.VideoPath, &ep.VideoSize, &ep.Status, &ep.LastError,
		&ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

func (r *EpisodeRepo) CreateEpisode(ep Episode) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	status := ep.Status
	if status == "" {
		status = EpisodeStatusPending
	}

	_, err := r.db.Exec(`
		INSERT INTO episodes (id, channel_id, source_item_id, source_url, title,
			description, thumbnail_url, duration_seconds, published_at, status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, ep.ChannelID, ep.SourceItemID, ep.SourceURL, ep.Title,
		ep.Description, ep.ThumbnailURL, ep.DurationSeconds, ep.PublishedAt,
		status, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create episode: %w", err)
	}

	return id, nil
}

func (r *EpisodeRepo) GetEpisode(id string) (*Episode, error) {
	row := r.db.QueryRow(`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)

	ep, err := r.scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	return ep, nil
}

func (r *EpisodeRepo) GetEpisodeBySourceItem(channelID, sourceItemID string) (*Episode, error) {
	row := r.db.QueryRow(`
		SELECT `+episodeColumns+`
		FROM episodes
		WHERE channel_id = ? AND source_item_id = ?
	`, channelID, sourceItemID)

	ep, err := r.scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get episode by source item: %w", err)
	}
	return ep, nil
}

func (r *EpisodeRepo) GetActiveEpisodes(channelID string) ([]Episode, error) {
	rows, err := r.db.Query(`
		SELECT `+episodeColumns+`
		FROM episodes
		WHERE channel_id = ? AND status != ?
		ORDER BY published_at DESC, created_at DESC
	`, channelID, EpisodeStatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to get active episodes: %w", err)
	}
	defer rows.Close()

	return r.collectEpisodes(rows)
}

func (r *EpisodeRepo) GetCompletedEpisodes(channelID string, limit int) ([]Episode, error) {
	rows, err := r.db.Query(`
		SELECT `+episodeColumns+`
		FROM episodes
		WHERE channel_id = ? AND status = ?
		ORDER BY published_at DESC, created_at DESC
		LIMIT ?
	`, channelID, EpisodeStatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get completed episodes: %w", err)
	}
	defer rows.Close()

	return r.collectEpisodes(rows)
}

func (r *EpisodeRepo) GetFailedEpisodes(channelID string) ([]Episode, error) {
	rows, err := r.db.Query(`
		SELECT `+episodeColumns+`
		FROM episodes
		WHERE channel_id = ? AND status = ?
		ORDER BY published_at DESC, created_at DESC
	`, channelID, EpisodeStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed episodes: %w", err)
	}
	defer rows.Close()

	return r.collectEpisodes(rows)
}

func (r *EpisodeRepo) collectEpisodes(rows *sql.Rows) ([]Episode, error) {
	var episodes []Episode
	for rows.Next() {
		ep, err := r.scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode row: %w", err)
		}
		episodes = append(episodes, *ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating episode rows: %w", err)
	}
	return episodes, nil
}

func (r *EpisodeRepo) GetEpisodeStats(channelID string) (total, completed, failed int, err error) {
	err = r.db.QueryRow(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed
		FROM episodes
		WHERE channel_id = ? AND status != ?
	`, EpisodeStatusCompleted, EpisodeStatusFailed, channelID, EpisodeStatusDeleted).
		Scan(&total, &completed, &failed)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get episode stats: %w", err)
	}
	return total, completed, failed, nil
}

func (r *EpisodeRepo) UpdateEpisodeStatus(id, status string) error {
	_, err := r.db.Exec(`
		UPDATE episodes
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update episode status: %w", err)
	}
	return nil
}

func (r *EpisodeRepo) UpdateEpisodeMetadata(id, title, description, thumbnail string, durationSeconds int) error {
	_, err := r.db.Exec(`
		UPDATE episodes
		SET title = ?, description = ?, thumbnail_url = ?, duration_seconds = ?, updated_at = ?
		WHERE id = ?
	`, title, description, thumbnail, durationSeconds, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update episode metadata: %w", err)
	}
	return nil
}

func (r *EpisodeRepo) MarkEpisodeCompleted(id, audioPath, videoPath string, audioSize, videoSize int64, downloadedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE episodes
		SET status = ?, audio_path = ?, audio_size = ?, video_path = ?,
			video_size = ?, downloaded_at = ?, last_error = '', updated_at = ?
		WHERE id = ?
	`, EpisodeStatusCompleted, audioPath, audioSize, videoPath, videoSize,
		downloadedAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark episode completed: %w", err)
	}
	return nil
}

func (r *EpisodeRepo) MarkEpisodeFailed(id, lastError string) error {
	_, err := r.db.Exec(`
		UPDATE episodes
		SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, EpisodeStatusFailed, lastError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark episode failed: %w", err)
	}
	return nil
}

func (r *EpisodeRepo) MarkEpisodeDeleted(id string) error {
	_, err := r.db.Exec(`
		UPDATE episodes
		SET status = ?, audio_path = '', video_path = '', updated_at = ?
		WHERE id = ?
	`, EpisodeStatusDeleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark episode deleted: %w", err)
	}
	return nil
}

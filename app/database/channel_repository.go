package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ ChannelRepository = (*ChannelRepo)(nil)

type ChannelRepo struct {
	db *DB
}

func NewChannelRepository(db *DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

const channelColumns = `id, name, url, title, description, thumbnail_url,
	episode_count, format, enabled, last_refresh_at, created_at, updated_at`

func (r *ChannelRepo) scanChannel(row interface{ Scan(...any) error }) (*Channel, error) {
	var ch Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.URL, &ch.Title, &ch.Description,
		&ch.ThumbnailURL, &ch.EpisodeCount, &ch.Format, &ch.Enabled,
		&ch.LastRefreshAt, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *ChannelRepo) GetChannel(name string) (*Channel, error) {
	row := r.db.QueryRow(`SELECT `+channelColumns+` FROM channels WHERE name = ?`, name)

	ch, err := r.scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return ch, nil
}

func (r *ChannelRepo) GetChannelByID(id string) (*Channel, error) {
	row := r.db.QueryRow(`SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)

	ch, err := r.scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel by id: %w", err)
	}
	return ch, nil
}

func (r *ChannelRepo) GetChannels() ([]Channel, error) {
	rows, err := r.db.Query(`SELECT ` + channelColumns + ` FROM channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get channels: %w", err)
	}
	defer rows.Close()

	return r.collectChannels(rows)
}

func (r *ChannelRepo) GetChannelCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM channels`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get channel count: %w", err)
	}
	return count, nil
}

func (r *ChannelRepo) GetChannelsDueForRefresh(cutoff time.Time) ([]Channel, error) {
	rows, err := r.db.Query(`
		SELECT `+channelColumns+`
		FROM channels
		WHERE enabled = 1
		  AND (last_refresh_at IS NULL OR last_refresh_at <= ?)
		ORDER BY last_refresh_at IS NOT NULL, last_refresh_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get channels due for refresh: %w", err)
	}
	defer rows.Close()

	return r.collectChannels(rows)
}

func (r *ChannelRepo) collectChannels(rows *sql.Rows) ([]Channel, error) {
	var channels []Channel
	for rows.Next() {
		ch, err := r.scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		channels = append(channels, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channel rows: %w", err)
	}
	return channels, nil
}

func (r *ChannelRepo) UpsertChannel(name, url, title, description, thumbnail string, episodeCount int, format string, enabled bool) (string, bool, error) {
	existing, err := r.GetChannel(name)
	if err != nil {
		return "", false, fmt.Errorf("failed to check existing channel: %w", err)
	}

	now := time.Now().UTC()

	if existing != nil {
		urlChanged := existing.URL != url

		_, err = r.db.Exec(`
			UPDATE channels
			SET url = ?, episode_count = ?, format = ?, enabled = ?, updated_at = ?
			WHERE name = ?
		`, url, episodeCount, format, enabled, now, name)
		if err != nil {
			return "", false, fmt.Errorf("failed to update channel: %w", err)
		}
		return existing.ID, urlChanged, nil
	}

	id := uuid.NewString()
	_, err = r.db.Exec(`
		INSERT INTO channels (id, name, url, title, description, thumbnail_url,
			episode_count, format, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, name, url, title, description, thumbnail, episodeCount, format, enabled, now, now)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert channel: %w", err)
	}

	return id, false, nil
}

func (r *ChannelRepo) UpdateChannelMetadata(id, title, description, thumbnail string) error {
	_, err := r.db.Exec(`
		UPDATE channels
		SET title = ?, description = ?, thumbnail_url = ?, updated_at = ?
		WHERE id = ?
	`, title, description, thumbnail, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update channel metadata: %w", err)
	}
	return nil
}

func (r *ChannelRepo) UpdateLastRefresh(id string, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE channels
		SET last_refresh_at = ?, updated_at = ?
		WHERE id = ?
	`, at, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last refresh time: %w", err)
	}
	return nil
}

func (r *ChannelRepo) ClearLastRefresh(id string) error {
	_, err := r.db.Exec(`
		UPDATE channels
		SET last_refresh_at = NULL, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to clear last refresh time: %w", err)
	}
	return nil
}

func (r *ChannelRepo) SetChannelEnabled(id string, enabled bool) error {
	_, err := r.db.Exec(`
		UPDATE channels
		SET enabled = ?, updated_at = ?
		WHERE id = ?
	`, enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set channel enabled: %w", err)
	}
	return nil
}

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/vodcomb/vod-comb/app/pipeline"
)

const maxNameLength = 80

var _ pipeline.Storage = (*Store)(nil)

// Store lays out downloaded media under a single data directory, one
// subdirectory per channel.
type Store struct {
	dataDir string
}

func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// OutputPath builds the final media path for an episode and ensures the
// channel directory exists. The title only contributes a human-readable
// filename component; the episode id keeps paths unique.
func (s *Store) OutputPath(channelName string, episodeID string, title string, ext string) string {
	dir := filepath.Join(s.dataDir, SanitizeName(channelName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Failed to create channel directory", "dir", dir, "error", err)
	}

	name := SanitizeName(title)
	if name == "" {
		name = "episode"
	}

	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", name, episodeID, ext))
}

// RemoveEpisodeFiles deletes the media files for an evicted episode. Missing
// files are not an error; eviction must be idempotent. Paths that fall
// outside the data directory are never deleted.
func (s *Store) RemoveEpisodeFiles(audioPath string, videoPath string) error {
	var errs []error
	for _, path := range []string{audioPath, videoPath} {
		if path == "" {
			continue
		}
		resolved, err := s.resolve(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(resolved); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// resolve maps a stored media path onto the data directory and rejects
// anything that escapes it.
func (s *Store) resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(s.dataDir)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the data directory", path)
	}
	return abs, nil
}

// SanitizeName converts an arbitrary title into a safe filename component:
// accents are stripped, anything outside [a-zA-Z0-9._-] becomes an
// underscore, and runs of underscores collapse.
func SanitizeName(name string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range stripped {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	result := strings.Trim(b.String(), "._")
	if len(result) > maxNameLength {
		result = result[:maxNameLength]
		result = strings.Trim(result, "._")
	}
	return result
}

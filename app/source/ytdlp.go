package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/vodcomb/vod-comb/app/pipeline"
)

// flatPlaylist mirrors the downloader tool's -J output for a channel page.
type flatPlaylist struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Entries     []flatPlaylistEntry `json:"entries"`
}

type flatPlaylistEntry struct {
	ID          string  `json:"id"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	Timestamp   int64   `json:"timestamp"`
	UploadDate  string  `json:"upload_date"`
	Thumbnails  []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

// videoInfo mirrors the metadata JSON printed for a completed download.
type videoInfo struct {
	ID                 string  `json:"id"`
	Title              string  `json:"title"`
	Description        string  `json:"description"`
	Thumbnail          string  `json:"thumbnail"`
	Duration           float64 `json:"duration"`
	Filename           string  `json:"_filename"`
	RequestedDownloads []struct {
		Filepath string `json:"filepath"`
	} `json:"requested_downloads"`
}

func (p *Provider) fetchFlatPlaylist(ctx context.Context, channelURL string) (*pipeline.Listing, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, pipeline.NewError(pipeline.CategoryCancelled, "fetch listing", err)
	}

	args := []string{
		"--flat-playlist",
		"-J",
		"--no-warnings",
		"--user-agent", p.userAgent,
		channelURL,
	}

	cmd := exec.CommandContext(ctx, p.ytDlpPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Fetching flat playlist", "url", channelURL)
	if err := cmd.Run(); err != nil {
		return nil, classifyToolError(ctx, "fetch listing", err, stderr.String())
	}

	return parseFlatPlaylist(stdout.Bytes())
}

func parseFlatPlaylist(data []byte) (*pipeline.Listing, error) {
	var playlist flatPlaylist
	if err := json.Unmarshal(data, &playlist); err != nil {
		return nil, fmt.Errorf("failed to decode playlist metadata: %w", err)
	}

	listing := &pipeline.Listing{
		Title:       playlist.Title,
		Description: playlist.Description,
	}

	for _, entry := range playlist.Entries {
		if entry.ID == "" || entry.URL == "" {
			continue
		}
		item := pipeline.ListingItem{
			ItemID:          entry.ID,
			URL:             entry.URL,
			Title:           entry.Title,
			Description:     entry.Description,
			DurationSeconds: int(entry.Duration),
			PublishedAt:     entryPublishedAt(entry),
		}
		if len(entry.Thumbnails) > 0 {
			item.Thumbnail = entry.Thumbnails[len(entry.Thumbnails)-1].URL
		}
		listing.Items = append(listing.Items, item)
	}

	return listing, nil
}

func entryPublishedAt(entry flatPlaylistEntry) time.Time {
	if entry.Timestamp > 0 {
		return time.Unix(entry.Timestamp, 0).UTC()
	}
	if entry.UploadDate != "" {
		if t, err := time.Parse("20060102", entry.UploadDate); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// FetchVideo downloads one item's media into destDir and returns its
// metadata. The rate limiter spaces out tool invocations across all
// concurrent workflows.
func (p *Provider) FetchVideo(ctx context.Context, sourceURL string, destDir string) (*pipeline.FetchedVideo, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, pipeline.NewError(pipeline.CategoryCancelled, "download video", err)
	}

	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"--print-json",
		"--user-agent", p.userAgent,
		"-f", "bestvideo*+bestaudio/best",
		"--merge-output-format", "mp4",
		"-o", filepath.Join(destDir, "%(id)s.%(ext)s"),
		sourceURL,
	}

	cmd := exec.CommandContext(ctx, p.ytDlpPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Downloading video", "url", sourceURL)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, classifyToolError(ctx, "download video", err, stderr.String())
	}

	var info videoInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, pipeline.NewError(pipeline.CategoryUnknown, "download video",
			fmt.Errorf("failed to decode video metadata: %w", err))
	}

	filePath := info.Filename
	if len(info.RequestedDownloads) > 0 && info.RequestedDownloads[0].Filepath != "" {
		filePath = info.RequestedDownloads[0].Filepath
	}

	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, pipeline.NewError(pipeline.CategoryUnknown, "download video",
			fmt.Errorf("downloaded file missing: %w", err))
	}

	slog.Debug("Download finished", "url", sourceURL, "size", stat.Size(), "elapsed", time.Since(start))

	return &pipeline.FetchedVideo{
		ItemID:          info.ID,
		Title:           info.Title,
		Description:     info.Description,
		Thumbnail:       info.Thumbnail,
		DurationSeconds: int(info.Duration),
		FilePath:        filePath,
		Size:            stat.Size(),
	}, nil
}

// classifyToolError maps a failed tool invocation onto an error category
// using the diagnostics it printed.
func classifyToolError(ctx context.Context, op string, err error, stderr string) *pipeline.Error {
	if ctx.Err() != nil {
		return pipeline.NewError(pipeline.CategoryCancelled, op, ctx.Err())
	}

	category := classifyStderr(stderr)
	detail := strings.TrimSpace(stderr)
	if detail != "" {
		err = fmt.Errorf("%w: %s", err, lastLine(detail))
	}
	return pipeline.NewError(category, op, err)
}

func classifyStderr(stderr string) pipeline.ErrorCategory {
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "private video"),
		strings.Contains(lower, "this video is private"),
		strings.Contains(lower, "sign in to confirm your age"),
		strings.Contains(lower, "members-only"):
		return pipeline.CategoryVideoPrivate

	case strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "has been removed"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "404"):
		return pipeline.CategoryVideoNotFound

	case strings.Contains(lower, "unable to download"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "temporary failure"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "http error 5"),
		strings.Contains(lower, "http error 429"):
		return pipeline.CategoryNetwork
	}

	return pipeline.CategoryUnknown
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

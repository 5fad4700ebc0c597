package feed

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/eduncan911/podcast"

	"github.com/vodcomb/vod-comb/app/config"
	"github.com/vodcomb/vod-comb/app/database"
)

// Document is a rendered podcast feed plus the caching metadata derived
// from its content. Rendering reads no clock, so the same inputs always
// produce the same document.
type Document struct {
	RSS          string
	Fingerprint  string
	LastModified time.Time
}

// Generator renders podcast feeds for channels. Enclosure URLs are built
// from the public base URL and the media path relative to the data
// directory.
type Generator struct {
	baseURL string
	dataDir string
}

func NewGenerator(baseURL string, dataDir string) *Generator {
	return &Generator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dataDir: dataDir,
	}
}

type feedItem struct {
	episode   *database.Episode
	mediaURL  string
	mediaSize int64
	mediaType podcast.EnclosureType
}

// Generate renders the channel's feed from its completed episodes. Episodes
// without a usable enclosure for the channel's format are skipped; the rest
// are ordered newest first and capped at the channel's window size.
func (g *Generator) Generate(channel *database.Channel, episodes []*database.Episode) (*Document, error) {
	items := g.selectItems(channel, episodes)

	lastModified := channel.UpdatedAt
	for _, item := range items {
		if item.episode.PublishedAt.After(lastModified) {
			lastModified = item.episode.PublishedAt
		}
	}
	lastModified = lastModified.UTC()

	feedLink := fmt.Sprintf("%s/feeds/%s", g.baseURL, url.PathEscape(channel.Name))

	p := podcast.New(channelTitle(channel), feedLink, channel.Description, &lastModified, &lastModified)
	p.Generator = "vod-comb"
	if channel.ThumbnailURL != "" {
		p.AddImage(channel.ThumbnailURL)
	}

	for _, item := range items {
		episode := item.episode
		pubDate := episode.PublishedAt.UTC()

		entry := podcast.Item{
			Title:       episode.Title,
			Description: itemDescription(episode),
			Link:        episode.SourceURL,
			GUID:        episode.SourceItemID,
			PubDate:     &pubDate,
		}
		entry.AddEnclosure(item.mediaURL, item.mediaType, item.mediaSize)
		if episode.DurationSeconds > 0 {
			entry.AddDuration(int64(episode.DurationSeconds))
		}
		if episode.ThumbnailURL != "" {
			entry.AddImage(episode.ThumbnailURL)
		}

		if _, err := p.AddItem(entry); err != nil {
			return nil, fmt.Errorf("failed to add feed item %s: %w", episode.SourceItemID, err)
		}
	}

	return &Document{
		RSS:          p.String(),
		Fingerprint:  fingerprint(channel, items),
		LastModified: lastModified,
	}, nil
}

func (g *Generator) selectItems(channel *database.Channel, episodes []*database.Episode) []feedItem {
	items := make([]feedItem, 0, len(episodes))
	for _, episode := range episodes {
		if episode.Status != database.EpisodeStatusCompleted {
			continue
		}
		item, ok := g.enclosureFor(channel.Format, episode)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].episode.PublishedAt.After(items[j].episode.PublishedAt)
	})

	if channel.EpisodeCount > 0 && len(items) > channel.EpisodeCount {
		items = items[:channel.EpisodeCount]
	}
	return items
}

// enclosureFor picks the media file matching the channel format. A channel
// carrying both renditions publishes the audio one; podcast clients handle
// audio enclosures universally.
func (g *Generator) enclosureFor(format string, episode *database.Episode) (feedItem, bool) {
	useAudio := false
	switch format {
	case config.FormatAudio:
		useAudio = true
	case config.FormatVideo:
		useAudio = false
	case config.FormatBoth:
		useAudio = episode.AudioPath != ""
	}

	item := feedItem{episode: episode}
	if useAudio {
		if episode.AudioPath == "" {
			return item, false
		}
		item.mediaURL = g.mediaURL(episode.AudioPath)
		item.mediaSize = episode.AudioSize
		item.mediaType = podcast.M4A
	} else {
		if episode.VideoPath == "" {
			return item, false
		}
		item.mediaURL = g.mediaURL(episode.VideoPath)
		item.mediaSize = episode.VideoSize
		item.mediaType = podcast.MP4
	}
	return item, item.mediaURL != ""
}

func (g *Generator) mediaURL(mediaPath string) string {
	rel, err := filepath.Rel(g.dataDir, mediaPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}

	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return g.baseURL + "/media/" + strings.Join(segments, "/")
}

// fingerprint hashes the content that affects the rendered feed. Feed
// handlers use it as the ETag.
func fingerprint(channel *database.Channel, items []feedItem) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00", channel.Name, channelTitle(channel), channel.Description, channel.ThumbnailURL)
	for _, item := range items {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d\x00",
			item.episode.SourceItemID,
			item.episode.Title,
			item.mediaURL,
			item.mediaSize,
			item.episode.PublishedAt.Unix(),
		)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func channelTitle(channel *database.Channel) string {
	if channel.Title != "" {
		return channel.Title
	}
	return channel.Name
}

func itemDescription(episode *database.Episode) string {
	if episode.Description != "" {
		return episode.Description
	}
	return episode.Title
}

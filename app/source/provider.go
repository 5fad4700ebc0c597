package source

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/vodcomb/vod-comb/app/pipeline"
)

var (
	_ pipeline.Lister  = (*Provider)(nil)
	_ pipeline.Fetcher = (*Provider)(nil)
)

var channelIDPattern = regexp.MustCompile(`/channel/(UC[\w-]+)`)

// Provider resolves channel listings and downloads source items. Listings
// come from the channel's RSS feed when one can be derived, falling back to
// the downloader tool's flat playlist mode; media downloads always go
// through the downloader tool.
type Provider struct {
	ytDlpPath  string
	userAgent  string
	feedParser *gofeed.Parser
	limiter    *rate.Limiter
}

func NewProvider(ytDlpPath string, userAgent string, minFetchInterval time.Duration) *Provider {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent

	return &Provider{
		ytDlpPath:  ytDlpPath,
		userAgent:  userAgent,
		feedParser: parser,
		limiter:    rate.NewLimiter(rate.Every(minFetchInterval), 1),
	}
}

// FetchListing returns the channel's current item inventory. RSS is tried
// first because it is far cheaper than spawning the downloader tool.
func (p *Provider) FetchListing(ctx context.Context, channelURL string) (*pipeline.Listing, error) {
	if feedURL := feedURLFor(channelURL); feedURL != "" {
		listing, err := p.fetchFeedListing(ctx, feedURL)
		if err == nil {
			return listing, nil
		}
		if ctx.Err() != nil {
			return nil, pipeline.NewError(pipeline.CategoryCancelled, "fetch listing", ctx.Err())
		}
		slog.Debug("Channel feed fetch failed, falling back to playlist listing", "url", channelURL, "error", err)
	}

	return p.fetchFlatPlaylist(ctx, channelURL)
}

func (p *Provider) fetchFeedListing(ctx context.Context, feedURL string) (*pipeline.Listing, error) {
	feed, err := p.feedParser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel feed %s: %w", feedURL, err)
	}

	listing := &pipeline.Listing{
		Title:       feed.Title,
		Description: feed.Description,
	}
	if feed.Image != nil {
		listing.Thumbnail = feed.Image.URL
	}

	for _, item := range feed.Items {
		entry := pipeline.ListingItem{
			ItemID:      feedItemID(item),
			URL:         item.Link,
			Title:       item.Title,
			Description: item.Description,
		}
		if item.PublishedParsed != nil {
			entry.PublishedAt = item.PublishedParsed.UTC()
		}
		applyMediaGroup(&entry, item)

		if entry.ItemID == "" || entry.URL == "" {
			continue
		}
		listing.Items = append(listing.Items, entry)
	}

	return listing, nil
}

// feedURLFor derives the RSS feed endpoint for a channel page URL. Returns
// an empty string when no feed can be derived.
func feedURLFor(channelURL string) string {
	if strings.Contains(channelURL, "feeds/videos.xml") {
		return channelURL
	}
	if m := channelIDPattern.FindStringSubmatch(channelURL); m != nil {
		return "https://www.youtube.com/feeds/videos.xml?channel_id=" + m[1]
	}
	return ""
}

// feedItemID extracts the stable video id from a feed item. Channel feeds
// carry it as a "yt:video:<id>" guid; the watch URL is the fallback.
func feedItemID(item *gofeed.Item) string {
	if id, ok := strings.CutPrefix(item.GUID, "yt:video:"); ok {
		return id
	}
	if idx := strings.Index(item.Link, "v="); idx >= 0 {
		id := item.Link[idx+2:]
		if amp := strings.IndexByte(id, '&'); amp >= 0 {
			id = id[:amp]
		}
		return id
	}
	return item.GUID
}

// applyMediaGroup fills description and thumbnail from the media:group
// extension when present; the plain RSS fields are often empty there.
func applyMediaGroup(entry *pipeline.ListingItem, item *gofeed.Item) {
	groups, ok := item.Extensions["media"]["group"]
	if !ok || len(groups) == 0 {
		return
	}
	group := groups[0]

	if descs := group.Children["description"]; len(descs) > 0 && descs[0].Value != "" {
		entry.Description = descs[0].Value
	}
	if thumbs := group.Children["thumbnail"]; len(thumbs) > 0 {
		entry.Thumbnail = thumbs[0].Attrs["url"]
	}
}

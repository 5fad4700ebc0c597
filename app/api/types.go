package api

import (
	"github.com/vodcomb/vod-comb/app/config"
	"github.com/vodcomb/vod-comb/app/database"
	"github.com/vodcomb/vod-comb/app/feed"
	"github.com/vodcomb/vod-comb/app/stats"
)

type GeneratorInterface interface {
	Generate(channel *database.Channel, episodes []*database.Episode) (*feed.Document, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

// StatsSource exposes the current pipeline counters to the stats endpoint.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

type Handler struct {
	channelRepo database.ChannelRepository
	episodeRepo database.EpisodeRepository
	queueRepo   database.QueueRepository
	configStore *config.Store
	generator   GeneratorInterface
	stats       StatsSource
}

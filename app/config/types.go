package config

// ChannelConfig represents a complete channel configuration
type ChannelConfig struct {
	Name     string          `yaml:"-"` // Derived from the configuration filename
	Channel  ChannelInfo     `yaml:"channel"`
	Settings ChannelSettings `yaml:"settings"`
}

// ChannelInfo contains basic channel information
type ChannelInfo struct {
	URL         string `yaml:"url"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Thumbnail   string `yaml:"thumbnail"`
}

// ChannelSettings contains channel processing settings
type ChannelSettings struct {
	Enabled      bool   `yaml:"enabled"`
	EpisodeCount int    `yaml:"episode_count"` // Rolling window size, 1-1000
	Format       string `yaml:"format"`        // audio, video or both
	Priority     int    `yaml:"priority"`      // Download priority, 1-10, lower is sooner
}

// Feed format values accepted in channel configurations.
const (
	FormatAudio = "audio"
	FormatVideo = "video"
	FormatBoth  = "both"
)

const (
	DefaultEpisodeCount = 10
	DefaultPriority     = 5
)

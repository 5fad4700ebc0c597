package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and validation of channel configurations
type Loader struct {
	channelsDir string
}

func NewLoader(channelsDir string) *Loader {
	return &Loader{channelsDir: channelsDir}
}

// LoadAll loads all YAML configuration files from the channels directory.
// The channel name is derived from the filename without extension.
func (l *Loader) LoadAll() (map[string]*ChannelConfig, error) {
	configs := make(map[string]*ChannelConfig)

	if _, err := os.Stat(l.channelsDir); os.IsNotExist(err) {
		return configs, nil
	}

	files, err := filepath.Glob(filepath.Join(l.channelsDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YAML files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(l.channelsDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}
	files = append(files, ymlFiles...)

	for _, file := range files {
		config, err := l.loadFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}

		if err := l.validate(config); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", file, err)
		}

		configs[config.Name] = config
		slog.Debug("Loaded channel configuration", "file", file, "channel", config.Name)
	}

	return configs, nil
}

func (l *Loader) loadFile(path string) (*ChannelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config ChannelConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Base(path)
	config.Name = strings.TrimSuffix(base, filepath.Ext(base))

	l.setDefaults(&config)

	return &config, nil
}

func (l *Loader) setDefaults(config *ChannelConfig) {
	if config.Settings.EpisodeCount == 0 {
		config.Settings.EpisodeCount = DefaultEpisodeCount
	}
	if config.Settings.Format == "" {
		config.Settings.Format = FormatAudio
	}
	if config.Settings.Priority == 0 {
		config.Settings.Priority = DefaultPriority
	}
}

func (l *Loader) validate(config *ChannelConfig) error {
	if config.Channel.URL == "" {
		return fmt.Errorf("channel url is required")
	}
	if config.Settings.EpisodeCount < 1 || config.Settings.EpisodeCount > 1000 {
		return fmt.Errorf("episode_count must be between 1 and 1000, got %d", config.Settings.EpisodeCount)
	}
	switch config.Settings.Format {
	case FormatAudio, FormatVideo, FormatBoth:
	default:
		return fmt.Errorf("format must be audio, video or both, got %q", config.Settings.Format)
	}
	if config.Settings.Priority < 1 || config.Settings.Priority > 10 {
		return fmt.Errorf("priority must be between 1 and 10, got %d", config.Settings.Priority)
	}
	return nil
}

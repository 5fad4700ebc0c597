package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath      string `long:"db-path" env:"DB_PATH" default:"./vodcomb.db" description:"Path to the SQLite database file"`
	DataDir     string `long:"data-dir" env:"DATA_DIR" default:"./data" description:"Directory for downloaded and transcoded episode files"`
	TempDir     string `long:"temp-dir" env:"TEMP_DIR" default:"" description:"Directory for in-progress downloads (defaults to <data-dir>/tmp)"`
	ChannelsDir string `long:"channels-dir" env:"CHANNELS_DIR" default:"./channels" description:"Directory containing channel configuration files"`

	// Pipeline configuration
	MaxConcurrentDownloads int  `long:"max-concurrent-downloads" env:"MAX_CONCURRENT_DOWNLOADS" default:"2" description:"Maximum number of simultaneous download workflows (1-10)"`
	DownloadPollInterval   int  `long:"download-poll-interval" env:"DOWNLOAD_POLL_INTERVAL" default:"5" description:"Download worker poll interval in seconds (minimum 1)"`
	RefreshInterval        int  `long:"refresh-interval" env:"REFRESH_INTERVAL" default:"3600" description:"Channel refresh interval in seconds (minimum 300)"`
	MaxDownloadAttempts    int  `long:"max-download-attempts" env:"MAX_DOWNLOAD_ATTEMPTS" default:"3" description:"Maximum download attempts per episode before giving up"`
	WorkersDisabled        bool `long:"workers-disabled" env:"WORKERS_DISABLED" description:"Disable the background download and refresh workers"`

	// External tools
	YtDlpPath   string `long:"ytdlp-path" env:"YTDLP_PATH" default:"yt-dlp" description:"Path to the yt-dlp binary"`
	FFmpegPath  string `long:"ffmpeg-path" env:"FFMPEG_PATH" default:"ffmpeg" description:"Path to the ffmpeg binary"`
	FFprobePath string `long:"ffprobe-path" env:"FFPROBE_PATH" default:"ffprobe" description:"Path to the ffprobe binary"`

	// Application configuration
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://pods.example.com)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"VOD Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:                 raw.DBPath,
		DataDir:                raw.DataDir,
		TempDir:                cmp.Or(raw.TempDir, raw.DataDir+"/tmp"),
		ChannelsDir:            raw.ChannelsDir,
		MaxConcurrentDownloads: raw.MaxConcurrentDownloads,
		DownloadPollInterval:   raw.DownloadPollInterval,
		RefreshInterval:        raw.RefreshInterval,
		MaxDownloadAttempts:    raw.MaxDownloadAttempts,
		WorkersEnabled:         !raw.WorkersDisabled,
		YtDlpPath:              raw.YtDlpPath,
		FFmpegPath:             raw.FFmpegPath,
		FFprobePath:            raw.FFprobePath,
		Port:                   raw.Port,
		BaseUrl:                raw.BaseUrl,
		APIAccessKey:           raw.APIAccessKey,
		UserAgent:              raw.UserAgent,
		Timezone:               raw.Timezone,
		Debug:                  raw.Debug,
		Version:                GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func validate(cfg *Cfg) error {
	if cfg.MaxConcurrentDownloads < 1 || cfg.MaxConcurrentDownloads > 10 {
		return fmt.Errorf("max-concurrent-downloads must be between 1 and 10, got %d", cfg.MaxConcurrentDownloads)
	}
	if cfg.DownloadPollInterval < 1 {
		return fmt.Errorf("download-poll-interval must be at least 1 second, got %d", cfg.DownloadPollInterval)
	}
	if cfg.RefreshInterval < 300 {
		return fmt.Errorf("refresh-interval must be at least 300 seconds, got %d", cfg.RefreshInterval)
	}
	if cfg.MaxDownloadAttempts < 1 {
		return fmt.Errorf("max-download-attempts must be at least 1, got %d", cfg.MaxDownloadAttempts)
	}
	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}

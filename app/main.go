package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vodcomb/vod-comb/app/api"
	"github.com/vodcomb/vod-comb/app/cfg"
	"github.com/vodcomb/vod-comb/app/config"
	"github.com/vodcomb/vod-comb/app/database"
	"github.com/vodcomb/vod-comb/app/feed"
	"github.com/vodcomb/vod-comb/app/pipeline"
	"github.com/vodcomb/vod-comb/app/source"
	"github.com/vodcomb/vod-comb/app/stats"
	"github.com/vodcomb/vod-comb/app/storage"
	"github.com/vodcomb/vod-comb/app/transcode"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Vod Comb server", "version", appCfg.Version)

	for _, dir := range []string{appCfg.DataDir, appCfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	// Load channel configurations
	loader := config.NewLoader(appCfg.ChannelsDir)
	configs, err := loader.LoadAll()
	if err != nil {
		slog.Error("Failed to load channel configurations", "dir", appCfg.ChannelsDir, "error", err)
		os.Exit(1)
	}
	configStore := config.NewStore(configs)
	slog.Info("Loaded channel configurations", "dir", appCfg.ChannelsDir, "count", len(configs))

	channelRepo := database.NewChannelRepository(db)
	episodeRepo := database.NewEpisodeRepository(db)
	queueRepo := database.NewQueueRepository(db, appCfg.MaxDownloadAttempts)

	registerChannels(channelRepo, configStore)

	// Restore downloads interrupted by the previous shutdown
	requeued, err := queueRepo.RequeueInFlight()
	if err != nil {
		slog.Error("Failed to requeue interrupted downloads", "error", err)
		os.Exit(1)
	}
	if requeued > 0 {
		slog.Info("Requeued interrupted downloads", "count", requeued)
	}

	aggregator := stats.NewAggregator(queueRepo)
	provider := source.NewProvider(appCfg.YtDlpPath, appCfg.UserAgent, time.Second)
	transcoder := transcode.NewFFmpeg(appCfg.FFmpegPath, appCfg.FFprobePath)
	store := storage.NewStore(appCfg.DataDir)

	coordinator := pipeline.NewCoordinator(queueRepo, episodeRepo, channelRepo,
		provider, transcoder, store, aggregator,
		pipeline.DefaultPolicy(appCfg.MaxDownloadAttempts),
		appCfg.MaxConcurrentDownloads, appCfg.TempDir)

	go func() {
		for event := range coordinator.Progress() {
			slog.Debug("Workflow progress", "episode", event.EpisodeID, "stage", event.Stage, "percent", event.Percent)
		}
	}()

	downloadWorker := pipeline.NewDownloadWorker(queueRepo, coordinator,
		time.Duration(appCfg.DownloadPollInterval)*time.Second, appCfg.MaxConcurrentDownloads)
	refreshWorker := pipeline.NewRefreshWorker(channelRepo, episodeRepo, queueRepo,
		provider, store, configStore, time.Duration(appCfg.RefreshInterval)*time.Second)

	if appCfg.WorkersEnabled {
		slog.Info("Starting background workers",
			"max_concurrent_downloads", appCfg.MaxConcurrentDownloads,
			"download_poll_interval", appCfg.DownloadPollInterval,
			"refresh_interval", appCfg.RefreshInterval)
		downloadWorker.Start()
		refreshWorker.Start()
	} else {
		slog.Info("Background workers disabled")
	}

	baseURL := appCfg.BaseUrl
	if baseURL == "" {
		baseURL = "http://localhost:" + appCfg.Port
	}

	generator := feed.NewGenerator(baseURL, appCfg.DataDir)
	handler := api.NewHandler(channelRepo, episodeRepo, queueRepo, configStore, generator, aggregator)
	router := api.NewServer(handler, appCfg.DataDir, appCfg.APIAccessKey, appCfg.Version)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port, "base_url", baseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down")

	if appCfg.WorkersEnabled {
		downloadWorker.Stop()
		refreshWorker.Stop()
	}
	coordinator.Shutdown()
	slog.Info("Pipeline stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}

// registerChannels syncs configured channels into the database, reporting
// source URL changes.
func registerChannels(channelRepo database.ChannelRepository, configStore *config.Store) {
	registered := 0
	urlChanged := 0

	for _, channelConfig := range configStore.GetConfigs() {
		dbID, changed, err := channelRepo.UpsertChannel(
			channelConfig.Name,
			channelConfig.Channel.URL,
			channelConfig.Channel.Title,
			channelConfig.Channel.Description,
			channelConfig.Channel.Thumbnail,
			channelConfig.Settings.EpisodeCount,
			channelConfig.Settings.Format,
			channelConfig.Settings.Enabled,
		)
		if err != nil {
			slog.Warn("Failed to register channel", "channel", channelConfig.Name, "error", err)
			continue
		}

		if changed {
			slog.Info("Channel URL updated", "channel", channelConfig.Name, "id", dbID, "url", channelConfig.Channel.URL)
			urlChanged++
		} else {
			slog.Debug("Registered channel", "channel", channelConfig.Name, "id", dbID)
		}
		registered++
	}

	slog.Info("Channels registered", "count", registered, "url_changes", urlChanged)

	disableOrphanedChannels(channelRepo, configStore)
}

// disableOrphanedChannels turns off refresh for channels still in the
// database whose configuration file was removed. Their episodes and feeds
// stay served; only new work stops.
func disableOrphanedChannels(channelRepo database.ChannelRepository, configStore *config.Store) {
	channels, err := channelRepo.GetChannels()
	if err != nil {
		slog.Warn("Failed to list channels for orphan check", "error", err)
		return
	}

	for _, channel := range channels {
		if _, err := configStore.GetConfig(channel.Name); err == nil {
			continue
		}
		if !channel.Enabled {
			continue
		}
		if err := channelRepo.SetChannelEnabled(channel.ID, false); err != nil {
			slog.Warn("Failed to disable orphaned channel", "channel", channel.Name, "error", err)
			continue
		}
		slog.Info("Disabled channel with no configuration", "channel", channel.Name)
	}
}

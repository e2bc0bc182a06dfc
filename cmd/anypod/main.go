// SPDX-License-Identifier: MIT

// Command anypod turns web video sources into locally hosted podcast
// feeds: it discovers items on a schedule, downloads media, enforces
// retention, and serves RSS plus the media files over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anypod/anypod/internal/api"
	"github.com/anypod/anypod/internal/config"
	"github.com/anypod/anypod/internal/db"
	"github.com/anypod/anypod/internal/extractor"
	"github.com/anypod/anypod/internal/ffmpeg"
	"github.com/anypod/anypod/internal/files"
	"github.com/anypod/anypod/internal/images"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/paths"
	"github.com/anypod/anypod/internal/pipeline"
	"github.com/anypod/anypod/internal/reconcile"
	"github.com/anypod/anypod/internal/rss"
	"github.com/anypod/anypod/internal/schedule"
	"github.com/anypod/anypod/internal/transcripts"
	"github.com/anypod/anypod/internal/ytdlp"
)

var (
	version = "dev"
	commit  = "none"
)

const (
	ytdlpUpdateInterval = 24 * time.Hour
	ytdlpUpdateCheck    = 6 * time.Hour
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("anypod %s (%s)\n", version, commit)
		return
	}

	if err := run(*configPath); err != nil {
		logger := xlog.L()
		logger.Error().Err(err).Str("event", "main.fatal").Msg("anypod exited with error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "anypod", Version: version})
	logger := xlog.WithComponent("main")
	logger.Info().Str("event", "main.starting").Str("version", version).
		Int("feeds", len(cfg.Feeds)).Msg("anypod starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	holder := config.NewHolder(cfg, loader)

	pathMgr := paths.NewManager(cfg.DataDir, cfg.BaseURL)
	if err := pathMgr.EnsureBase(); err != nil {
		return err
	}
	fileMgr := files.NewManager()
	cleanLeftoverIncomplete(cfg.DataDir, fileMgr)

	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "anypod.db")
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	feedStore := db.NewFeedStore(database)
	downloadStore := db.NewDownloadStore(database)
	appState := db.NewAppStateStore(database)

	ytdlpClient := ytdlp.New(cfg.YtdlpPath)
	if v, err := ytdlpClient.Version(ctx); err != nil {
		logger.Warn().Str("event", "main.ytdlp_unavailable").Err(err).Msg("yt-dlp version check failed")
	} else {
		logger.Info().Str("event", "main.ytdlp_ready").Str("ytdlp_version", v).Msg("yt-dlp available")
	}
	ffmpegClient := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath)

	source := extractor.New(ytdlpClient, ffmpegClient)
	httpClient := &http.Client{Timeout: 2 * time.Minute}
	imageDL := images.New(httpClient, ffmpegClient, fileMgr)
	transcriptDL := transcripts.New(httpClient, fileMgr)

	rssGen := rss.NewGenerator(downloadStore, pathMgr, fileMgr)
	enqueuer := pipeline.NewEnqueuer(feedStore, downloadStore, source)
	downloader := pipeline.NewDownloader(downloadStore, source, enqueuer, imageDL, transcriptDL, pathMgr, fileMgr)
	pruner := pipeline.NewPruner(feedStore, downloadStore, pathMgr, fileMgr)
	coordinator := pipeline.NewDataCoordinator(feedStore, enqueuer, downloader, pruner, rssGen, imageDL, pathMgr, cfg.CookiesPath)
	manualSvc := pipeline.NewManualSubmissionService(downloadStore, source)
	reconciler := reconcile.NewReconciler(feedStore, downloadStore, pruner, source, cfg.CookiesPath)

	process := coordinator.ProcessFunc(func(feedID string) (*config.FeedConfig, bool) {
		fc, ok := holder.Current().Feeds[feedID]
		return fc, ok
	})

	guard := schedule.NewGuard()
	scheduler := schedule.NewScheduler(int64(cfg.MaxConcurrentFeeds), guard, process)
	manualRunner := schedule.NewManualFeedRunner(scheduler.Semaphore(), guard, process)

	// Reconcile and (re)register schedules for the active config. Also
	// runs after every config reload.
	var scheduledMu sync.Mutex
	scheduled := map[string]bool{}
	applyConfig := func(cfg *config.AppConfig) {
		ready, err := reconciler.ReconcileStartupState(ctx, cfg.Feeds)
		if err != nil {
			logger.Error().Str("event", "main.reconcile_failed").Err(err).Msg("state reconciliation failed")
			return
		}
		readySet := make(map[string]bool, len(ready))
		for _, id := range ready {
			readySet[id] = true
		}

		scheduledMu.Lock()
		defer scheduledMu.Unlock()
		for id := range scheduled {
			if !readySet[id] {
				scheduler.Remove(id)
				delete(scheduled, id)
			}
		}
		for _, id := range ready {
			fc := cfg.Feeds[id]
			if fc.IsManual() {
				scheduler.Remove(id)
				delete(scheduled, id)
				continue
			}
			if err := scheduler.Add(id, fc.Schedule); err != nil {
				logger.Error().Str("event", "main.schedule_failed").Str("feed_id", id).
					Err(err).Msg("could not schedule feed")
				continue
			}
			scheduled[id] = true
		}
	}

	applyConfig(cfg)
	holder.OnReload(func(newCfg *config.AppConfig) { go applyConfig(newCfg) })
	if configPath != "" {
		if err := holder.StartWatcher(ctx); err != nil {
			logger.Warn().Str("event", "main.watch_failed").Err(err).Msg("config hot reload disabled")
		}
	}

	scheduler.Start(ctx)

	server := api.NewServer(cfg.ListenAddr, api.Deps{
		Config:    holder.Current,
		Feeds:     feedStore,
		Downloads: downloadStore,
		RSS:       rssGen,
		Manual:    manualSvc,
		Enqueuer:  enqueuer,
		Paths:     pathMgr,
		Files:     fileMgr,
		Trigger: func(_ context.Context, feedID string) (bool, error) {
			// Runs detach from the HTTP request lifetime.
			return manualRunner.Trigger(ctx, feedID), nil
		},
		Version: version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Str("event", "main.shutting_down").Msg("shutdown requested")
		scheduler.Stop(true)
		manualRunner.Wait()
		return server.Shutdown(context.Background())
	})
	g.Go(func() error {
		runYtdlpSelfUpdate(gctx, ytdlpClient, appState)
		return nil
	})

	return g.Wait()
}

// cleanLeftoverIncomplete removes partial downloads a previous process
// left behind. Their rows are still QUEUED or ERROR and will be retried.
func cleanLeftoverIncomplete(dataDir string, fileMgr *files.Manager) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return
	}
	total := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, _ := fileMgr.CleanIncomplete(filepath.Join(dataDir, e.Name()), paths.IncompleteSuffix)
		total += n
	}
	if total > 0 {
		logger := xlog.WithComponent("main")
		logger.Info().Str("event", "main.cleaned_incomplete").
			Int("removed", total).Msg("removed leftover partial downloads")
	}
}

// runYtdlpSelfUpdate keeps the extractor binary current, at most once
// per day, with the watermark persisted across restarts.
func runYtdlpSelfUpdate(ctx context.Context, client *ytdlp.Client, appState *db.AppStateStore) {
	logger := xlog.WithComponent("main")
	ticker := time.NewTicker(ytdlpUpdateCheck)
	defer ticker.Stop()

	check := func() {
		last, err := appState.GetTime(ctx, db.KeyLastYtdlpUpdate)
		if err != nil {
			logger.Warn().Str("event", "main.ytdlp_update_state_failed").Err(err).Msg("could not read update watermark")
			return
		}
		if last != nil && time.Since(*last) < ytdlpUpdateInterval {
			return
		}
		if err := client.Update(ctx); err != nil {
			logger.Warn().Str("event", "main.ytdlp_update_failed").Err(err).Msg("yt-dlp self-update failed")
			return
		}
		if err := appState.SetTime(ctx, db.KeyLastYtdlpUpdate, time.Now().UTC()); err != nil {
			logger.Warn().Str("event", "main.ytdlp_update_state_failed").Err(err).Msg("could not persist update watermark")
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

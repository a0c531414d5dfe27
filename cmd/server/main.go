package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "hypertube/internal/api/http"
	"hypertube/internal/app"
	"hypertube/internal/cleanup"
	"hypertube/internal/domain"
	"hypertube/internal/download"
	"hypertube/internal/metrics"
	mongorepo "hypertube/internal/repository/mongo"
	"hypertube/internal/services/media/ffmpeg"
	"hypertube/internal/services/media/ffprobe"
	"hypertube/internal/services/swarm/anacrolix"
	"hypertube/internal/subtitles"
	"hypertube/internal/telemetry"
)

const broadcastInterval = 5 * time.Second

func main() {
	cfg := app.LoadConfig()

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	metrics.Register(prometheus.DefaultRegisterer)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, "hypertube")
	if err != nil {
		logger.Warn("tracing disabled", slog.String("error", err.Error()))
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	connectCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(connectCtx, cfg.MongoURI,
		options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	contentRepo := mongorepo.NewContentRepository(mongoClient, cfg.MongoDatabase, "contents")
	subtitleRepo := mongorepo.NewSubtitleRepository(mongoClient, cfg.MongoDatabase, "subtitles")
	if err := contentRepo.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("content index creation failed", slog.String("error", err.Error()))
	}
	if err := subtitleRepo.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("subtitle index creation failed", slog.String("error", err.Error()))
	}

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:  cfg.TorrentDataDir,
		NoUpload: true,
	})
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	transcoder := ffmpeg.New(cfg.FFMPEGPath)
	prober := ffprobe.New(cfg.FFProbePath)

	orchestrator := download.NewOrchestrator(engine, contentRepo, transcoder, download.Config{
		VideoDir:       cfg.VideoStorageDir,
		TorrentDataDir: cfg.TorrentDataDir,
	}, logger)

	restoreDownloads(rootCtx, contentRepo, orchestrator, logger)

	sweeper := cleanup.NewSweeper(contentRepo, subtitleRepo,
		cfg.VideoStorageDir, cfg.SubtitleDir, cfg.TempDir, logger)
	go cleanup.Runner{
		Sweeper:  sweeper,
		MaxAge:   time.Duration(cfg.CleanupDays) * 24 * time.Hour,
		Interval: time.Duration(cfg.CleanupIntervalHours) * time.Hour,
		Logger:   logger,
	}.Run(rootCtx)

	resolver := subtitles.NewResolver(subtitleRepo, contentRepo,
		subtitles.NewOpenSubtitlesClient(cfg.OpenSubtitlesAPIKey), cfg.SubtitleDir, logger)

	handler := apihttp.NewServer(
		apihttp.WithRepository(contentRepo),
		apihttp.WithDownloads(orchestrator),
		apihttp.WithSweeper(sweeper),
		apihttp.WithSubtitles(resolver),
		apihttp.WithMediaProbe(prober),
		apihttp.WithVideoDir(cfg.VideoStorageDir),
		apihttp.WithChunkSize(cfg.StreamChunkBytes),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithLogger(logger),
	)

	go broadcastStates(rootCtx, orchestrator, handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Range responses can stream for a long time; no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", slog.String("error", err.Error()))
	}
	orchestrator.Shutdown()
	if err := engine.Close(); err != nil {
		logger.Warn("torrent engine close failed", slog.String("error", err.Error()))
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		logger.Warn("mongo disconnect failed", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// restoreDownloads resumes jobs that were in flight when the previous
// process exited. Records stuck in downloading or processing still carry
// their magnet link, so the pipeline can simply be restarted for them.
func restoreDownloads(ctx context.Context, repo *mongorepo.ContentRepository, orchestrator *download.Orchestrator, logger *slog.Logger) {
	for _, status := range []domain.ContentStatus{domain.StatusDownloading, domain.StatusProcessing} {
		status := status
		records, err := repo.List(ctx, domain.ContentFilter{Status: &status})
		if err != nil {
			logger.Warn("restore lookup failed",
				slog.String("status", string(status)),
				slog.String("error", err.Error()))
			continue
		}
		for _, rec := range records {
			if rec.MagnetLink == "" {
				logger.Warn("cannot restore download without magnet link",
					slog.String("contentId", string(rec.ID)))
				if err := repo.SetStatus(ctx, rec.ID, domain.StatusError); err != nil {
					logger.Warn("restore status update failed",
						slog.String("contentId", string(rec.ID)),
						slog.String("error", err.Error()))
				}
				continue
			}
			if err := orchestrator.Start(ctx, rec.ID, rec.MagnetLink); err != nil {
				logger.Warn("restore failed",
					slog.String("contentId", string(rec.ID)),
					slog.String("error", err.Error()))
				continue
			}
			logger.Info("restored download", slog.String("contentId", string(rec.ID)))
		}
	}
}

// broadcastStates pushes in-flight download snapshots to websocket clients.
func broadcastStates(ctx context.Context, orchestrator *download.Orchestrator, handler *apihttp.Server) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			states := orchestrator.States()
			if len(states) == 0 {
				continue
			}
			handler.BroadcastStates(states)
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	var handler slog.Handler
	if strings.EqualFold(formatRaw, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

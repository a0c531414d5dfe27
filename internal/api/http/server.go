package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hypertube/internal/cleanup"
	"hypertube/internal/domain"
	domainports "hypertube/internal/domain/ports"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DownloadController is the orchestrator surface the handlers need.
type DownloadController interface {
	Start(ctx context.Context, id domain.ContentID, magnetLink string) error
	Progress(id domain.ContentID) (domain.DownloadState, bool)
	Stop(id domain.ContentID) bool
	States() []domain.DownloadState
}

type CleanupController interface {
	SweepContent(ctx context.Context, id domain.ContentID) (cleanup.Report, error)
}

type SubtitleResolver interface {
	Resolve(ctx context.Context, id domain.ContentID, language string) (string, error)
}

type MediaProbe interface {
	Probe(ctx context.Context, filePath string) (domain.MediaInfo, error)
}

const defaultChunkSize = 1 << 20 // 1 MiB

type Server struct {
	repo           domainports.ContentRepository
	downloads      DownloadController
	sweeper        CleanupController
	subtitles      SubtitleResolver
	mediaProbe     MediaProbe
	videoDir       string
	chunkSize      int64
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
	openFile       func(string) (*os.File, error)
}

type ServerOption func(*Server)

func WithRepository(repo domainports.ContentRepository) ServerOption {
	return func(s *Server) {
		s.repo = repo
	}
}

func WithDownloads(downloads DownloadController) ServerOption {
	return func(s *Server) {
		s.downloads = downloads
	}
}

func WithSweeper(sweeper CleanupController) ServerOption {
	return func(s *Server) {
		s.sweeper = sweeper
	}
}

func WithSubtitles(resolver SubtitleResolver) ServerOption {
	return func(s *Server) {
		s.subtitles = resolver
	}
}

func WithMediaProbe(probe MediaProbe) ServerOption {
	return func(s *Server) {
		s.mediaProbe = probe
	}
}

func WithVideoDir(dir string) ServerOption {
	return func(s *Server) {
		s.videoDir = strings.TrimSpace(dir)
		if s.videoDir != "" {
			if abs, err := filepath.Abs(s.videoDir); err == nil {
				s.videoDir = abs
			}
			s.videoDir = filepath.Clean(s.videoDir)
		}
	}
}

// WithChunkSize sets the default window served for open-ended range requests.
func WithChunkSize(size int64) ServerOption {
	return func(s *Server) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		chunkSize: defaultChunkSize,
		openFile:  os.Open,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/movies", s.handleMovies)
	mux.HandleFunc("/movies/", s.handleMovieByID)
	mux.HandleFunc("/storage/stats", s.handleStorageStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "hypertube",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close shuts down the WebSocket hub, disconnecting all clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// BroadcastStates pushes download progress to every WebSocket client.
func (s *Server) BroadcastStates(states []domain.DownloadState) {
	if s.wsHub != nil {
		s.wsHub.BroadcastStates(states)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

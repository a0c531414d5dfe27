package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hypertube/internal/domain"
)

func (s *Server) handleMovies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateMovie(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMovieByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/movies/"), "/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "movie id is required")
		return
	}
	segments := strings.Split(rest, "/")
	id := domain.ContentID(segments[0])

	switch {
	case len(segments) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleGetMovie(w, r, id)
	case len(segments) == 2 && segments[1] == "stream":
		switch r.Method {
		case http.MethodPost:
			s.handleStartStream(w, r, id)
		case http.MethodDelete:
			s.handleStopStream(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(segments) == 2 && segments[1] == "video":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleVideo(w, r, id)
	case len(segments) == 2 && segments[1] == "status":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleStatus(w, r, id)
	case len(segments) == 3 && segments[1] == "subtitles":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleSubtitles(w, r, id, segments[2])
	case len(segments) == 2 && segments[1] == "cleanup":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleCleanupMovie(w, r, id)
	case len(segments) == 2 && segments[1] == "media":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleMediaInfo(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

type createMovieRequest struct {
	ID     string `json:"id"`
	ImdbID string `json:"imdbId,omitempty"`
	Title  string `json:"title,omitempty"`
	Year   int    `json:"year,omitempty"`
}

func (s *Server) handleCreateMovie(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "repository not configured")
		return
	}

	var body createMovieRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	now := time.Now().UTC()
	record := domain.ContentRecord{
		ID:           domain.ContentID(strings.TrimSpace(body.ID)),
		ImdbID:       strings.TrimSpace(body.ImdbID),
		Title:        strings.TrimSpace(body.Title),
		Year:         body.Year,
		Status:       domain.StatusPending,
		LastAccessed: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := record.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.repo.Create(ctx, record); err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request, id domain.ContentID) {
	if s.repo == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "repository not configured")
		return
	}

	record, err := s.repo.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if err := s.repo.TouchLastAccessed(r.Context(), id); err != nil {
		s.logger.Debug("touch lastAccessed failed",
			slog.String("contentId", string(id)),
			slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, record)
}

type startStreamRequest struct {
	MagnetLink string `json:"magnetLink"`
}

type startStreamResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request, id domain.ContentID) {
	if s.repo == nil || s.downloads == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "download pipeline not configured")
		return
	}

	var body startStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	magnet := strings.TrimSpace(body.MagnetLink)
	if magnet == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "magnetLink is required")
		return
	}

	record, err := s.repo.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}

	// Already converted and still on disk: nothing to do.
	if record.Status == domain.StatusReady && fileExists(record.VideoPath) {
		writeJSON(w, http.StatusOK, startStreamResponse{
			Status:  string(domain.StatusReady),
			Message: "Video is ready to stream",
		})
		return
	}

	if err := s.downloads.Start(r.Context(), id, magnet); err != nil {
		writeError(w, http.StatusInternalServerError, "engine_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, startStreamResponse{
		Status:  string(domain.StatusDownloading),
		Message: "Download started",
	})
}

func (s *Server) handleStopStream(w http.ResponseWriter, r *http.Request, id domain.ContentID) {
	if s.downloads == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "download pipeline not configured")
		return
	}
	stopped := s.downloads.Stop(id)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

type statusResponse struct {
	Status        string  `json:"status"`
	Progress      float64 `json:"progress"`
	DownloadSpeed int64   `json:"downloadSpeed"`
	Peers         int     `json:"peers,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, id domain.ContentID) {
	if s.downloads != nil {
		if state, ok := s.downloads.Progress(id); ok {
			writeJSON(w, http.StatusOK, statusResponse{
				Status:        string(state.Status),
				Progress:      state.Progress,
				DownloadSpeed: state.DownloadSpeed,
				Peers:         state.Peers,
			})
			return
		}
	}

	if s.repo == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "repository not configured")
		return
	}
	record, err := s.repo.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}

	progress := 0.0
	if record.Status == domain.StatusReady {
		progress = 100
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:   string(record.Status),
		Progress: progress,
	})
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request, id domain.ContentID) {
	if s.repo == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "repository not configured")
		return
	}

	record, err := s.repo.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if record.Status != domain.StatusReady {
		writeError(w, http.StatusNotFound, "not_ready",
			fmt.Sprintf("video is not ready to stream (status %s)", record.Status))
		return
	}
	if !fileExists(record.VideoPath) {
		// The file was removed behind our back; flag the record so the
		// client re-triggers the download.
		if err := s.repo.SetStatus(r.Context(), id, domain.StatusError); err != nil {
			s.logger.Warn("self-heal status update failed",
				slog.String("contentId", string(id)),
				slog.String("error", err.Error()))
		}
		writeError(w, http.StatusNotFound, "not_found", "video file is missing")
		return
	}

	if err := s.repo.TouchLastAccessed(r.Context(), id); err != nil {
		s.logger.Debug("touch lastAccessed failed",
			slog.String("contentId", string(id)),
			slog.String("error", err.Error()))
	}

	s.serveVideoFile(w, r, record.VideoPath)
}

func (s *Server) handleSubtitles(w http.ResponseWriter, r *http.Request, id domain.ContentID, language string) {
	if s.subtitles == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "subtitles not configured")
		return
	}

	path, err := s.subtitles.Resolve(r.Context(), id, language)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "subtitles not available")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", fallbackContentType(strings.ToLower(filepath.Ext(path))))
	http.ServeFile(w, r, path)
}

func (s *Server) handleCleanupMovie(w http.ResponseWriter, r *http.Request, id domain.ContentID) {
	if s.sweeper == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "cleanup not configured")
		return
	}

	report, err := s.sweeper.SweepContent(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "content not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleMediaInfo(w http.ResponseWriter, r *http.Request, id domain.ContentID) {
	if s.repo == nil || s.mediaProbe == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "media probe not configured")
		return
	}

	record, err := s.repo.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if record.Status != domain.StatusReady || !fileExists(record.VideoPath) {
		writeError(w, http.StatusConflict, "not_ready", "video is not ready")
		return
	}

	info, err := s.mediaProbe.Probe(r.Context(), record.VideoPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "probe_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type storageStatsResponse struct {
	Files      int    `json:"files"`
	TotalBytes int64  `json:"totalBytes"`
	Dir        string `json:"dir"`
}

func (s *Server) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.videoDir == "" {
		writeError(w, http.StatusInternalServerError, "internal_error", "storage dir not configured")
		return
	}

	stats := storageStatsResponse{Dir: s.videoDir}
	err := filepath.WalkDir(s.videoDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.Files++
		stats.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

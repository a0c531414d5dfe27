package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hypertube/internal/metrics"
)

// videoCacheControl marks the converted file as immutable for a year; the
// canonical MP4 for a movie never changes once written.
const videoCacheControl = "public, max-age=31536000"

// serveVideoFile answers plain and Range requests against a file on disk.
// A 416 is decided from the file size alone, before the file is opened.
func (s *Server) serveVideoFile(w http.ResponseWriter, r *http.Request, path string) {
	info, err := os.Stat(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "video file is missing")
		metrics.RangeRequestsTotal.WithLabelValues("404").Inc()
		return
	}
	size := info.Size()
	contentType := fallbackContentType(strings.ToLower(filepath.Ext(path)))

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		s.serveFull(w, path, size, contentType)
		return
	}

	start, end, err := parseByteRange(rangeHeader, size, s.chunkSize)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		status := http.StatusRequestedRangeNotSatisfiable
		code := "range_not_satisfiable"
		if errors.Is(err, errInvalidRange) {
			code = "invalid_range"
		}
		writeError(w, status, code, err.Error())
		metrics.RangeRequestsTotal.WithLabelValues("416").Inc()
		return
	}

	file, err := s.openFile(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open video file")
		metrics.RangeRequestsTotal.WithLabelValues("500").Inc()
		return
	}
	defer file.Close()

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to seek video file")
		metrics.RangeRequestsTotal.WithLabelValues("500").Inc()
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", videoCacheControl)
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.WriteHeader(http.StatusPartialContent)

	written, err := io.CopyN(w, file, length)
	metrics.StreamedBytesTotal.Add(float64(written))
	metrics.RangeRequestsTotal.WithLabelValues("206").Inc()
	if err != nil && !isClientDisconnect(err) {
		// Headers are already out; all we can do is log and drop the
		// connection.
		s.logger.Warn("range stream aborted",
			slog.String("path", path),
			slog.Int64("written", written),
			slog.String("error", err.Error()))
	}
}

func (s *Server) serveFull(w http.ResponseWriter, path string, size int64, contentType string) {
	file, err := s.openFile(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open video file")
		metrics.RangeRequestsTotal.WithLabelValues("500").Inc()
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", videoCacheControl)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, file)
	metrics.StreamedBytesTotal.Add(float64(written))
	metrics.RangeRequestsTotal.WithLabelValues("200").Inc()
	if err != nil && !isClientDisconnect(err) {
		s.logger.Warn("full stream aborted",
			slog.String("path", path),
			slog.Int64("written", written),
			slog.String("error", err.Error()))
	}
}

// isClientDisconnect reports write failures caused by the player closing the
// connection, which happens constantly while seeking.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "client disconnected")
}

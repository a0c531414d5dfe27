package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hypertube/internal/domain"
	"hypertube/internal/domain/ports"
	"hypertube/internal/metrics"
)

const tempMaxAge = 24 * time.Hour

// Report summarizes one sweep.
type Report struct {
	Reclaimed  int   `json:"reclaimed"`
	BytesFreed int64 `json:"bytesFreed"`
}

// Sweeper reclaims disk space from movies nobody has watched for a while.
// A reclaimed record goes back to pending so the next stream request
// re-downloads it.
type Sweeper struct {
	contents  ports.ContentRepository
	subtitles ports.SubtitleRepository
	videoDir  string
	subDir    string
	tempDir   string
	log       *slog.Logger
	now       func() time.Time
}

func NewSweeper(contents ports.ContentRepository, subtitles ports.SubtitleRepository, videoDir, subDir, tempDir string, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		contents:  contents,
		subtitles: subtitles,
		videoDir:  videoDir,
		subDir:    subDir,
		tempDir:   tempDir,
		log:       logger,
		now:       time.Now,
	}
}

// Sweep reclaims every ready item whose last access is older than maxAge.
// Item failures are logged and skipped; the sweep always runs to the end.
func (s *Sweeper) Sweep(ctx context.Context, maxAge time.Duration) (Report, error) {
	cutoff := s.now().Add(-maxAge)
	status := domain.StatusReady
	records, err := s.contents.List(ctx, domain.ContentFilter{
		Status:         &status,
		AccessedBefore: &cutoff,
	})
	if err != nil {
		return Report{}, fmt.Errorf("list stale content: %w", err)
	}

	var report Report
	for _, record := range records {
		freed, err := s.reclaim(ctx, record)
		if err != nil {
			metrics.CleanupErrorsTotal.Inc()
			s.log.Warn("cleanup item failed",
				slog.String("contentId", string(record.ID)),
				slog.String("error", err.Error()))
			continue
		}
		report.Reclaimed++
		report.BytesFreed += freed
	}

	// Stale subtitle rows past the same cutoff go too.
	if removed, err := s.subtitles.DeleteOlderThan(ctx, cutoff); err != nil {
		metrics.CleanupErrorsTotal.Inc()
		s.log.Warn("subtitle cleanup failed", slog.String("error", err.Error()))
	} else {
		for _, sub := range removed {
			report.BytesFreed += removeFileSize(sub.FilePath)
		}
	}

	s.removeEmptyDirs(s.videoDir)
	s.removeEmptyDirs(s.subDir)
	s.sweepTemp()

	metrics.CleanupItemsReclaimed.Add(float64(report.Reclaimed))
	metrics.CleanupBytesFreed.Add(float64(report.BytesFreed))
	s.log.Info("cleanup sweep finished",
		slog.Int("reclaimed", report.Reclaimed),
		slog.Int64("bytesFreed", report.BytesFreed))
	return report, nil
}

// SweepContent reclaims a single item regardless of its last access time.
func (s *Sweeper) SweepContent(ctx context.Context, id domain.ContentID) (Report, error) {
	record, err := s.contents.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}
	freed, err := s.reclaim(ctx, record)
	if err != nil {
		return Report{}, err
	}
	return Report{Reclaimed: 1, BytesFreed: freed}, nil
}

func (s *Sweeper) reclaim(ctx context.Context, record domain.ContentRecord) (int64, error) {
	var freed int64
	if record.VideoPath != "" {
		freed += removeFileSize(record.VideoPath)
	}

	subs, err := s.subtitles.ListByContent(ctx, record.ID)
	if err != nil {
		return freed, fmt.Errorf("list subtitles: %w", err)
	}
	for _, sub := range subs {
		freed += removeFileSize(sub.FilePath)
	}
	if err := s.subtitles.DeleteByContent(ctx, record.ID); err != nil {
		return freed, fmt.Errorf("delete subtitle rows: %w", err)
	}

	if err := s.contents.Reclaim(ctx, record.ID); err != nil {
		return freed, fmt.Errorf("reclaim record: %w", err)
	}

	s.log.Info("content reclaimed",
		slog.String("contentId", string(record.ID)),
		slog.Int64("bytesFreed", freed))
	return freed, nil
}

// removeFileSize deletes path and returns its size. Missing files free
// nothing and are not an error.
func removeFileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if err := os.Remove(path); err != nil {
		return 0
	}
	return info.Size()
}

// removeEmptyDirs prunes empty subdirectories below root, leaving root
// itself in place.
func (s *Sweeper) removeEmptyDirs(root string) {
	if root == "" {
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		s.removeEmptyDirs(dir)
		// Remove fails on non-empty directories, which is what we want.
		if err := os.Remove(dir); err == nil {
			s.log.Debug("removed empty directory", slog.String("dir", dir))
		}
	}
}

// sweepTemp drops temp entries that have not been touched for a day.
func (s *Sweeper) sweepTemp() {
	if s.tempDir == "" {
		return
	}
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return
	}
	cutoff := s.now().Add(-tempMaxAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.tempDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.log.Warn("temp cleanup failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
}

// Runner periodically sweeps until the context is canceled.
type Runner struct {
	Sweeper  *Sweeper
	MaxAge   time.Duration
	Interval time.Duration
	Logger   *slog.Logger
}

func (r Runner) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweeper.Sweep(ctx, r.MaxAge); err != nil && r.Logger != nil {
				r.Logger.Error("scheduled sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

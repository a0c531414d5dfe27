package subtitles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hypertube/internal/domain"
	"hypertube/internal/domain/ports"
	"hypertube/internal/metrics"
)

// Provider fetches subtitle file contents from an external source.
type Provider interface {
	FetchByIMDb(ctx context.Context, imdbID, language string) ([]byte, error)
	SearchByTitle(ctx context.Context, title string, year int, language string) ([]byte, error)
}

// placeholderSRT is served when no real subtitles can be found anywhere.
const placeholderSRT = `1
00:00:01,000 --> 00:00:05,000
Subtitles not available for this content.

2
00:00:05,000 --> 00:00:10,000
Automatic subtitle generation coming soon.
`

// Resolver finds a subtitle file for a movie, in order of preference:
// cached file on disk, external provider by IMDb id, title search, and
// finally a generated placeholder.
type Resolver struct {
	repo     ports.SubtitleRepository
	contents ports.ContentRepository
	provider Provider
	dir      string
	log      *slog.Logger
	now      func() time.Time
}

func NewResolver(repo ports.SubtitleRepository, contents ports.ContentRepository, provider Provider, dir string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		repo:     repo,
		contents: contents,
		provider: provider,
		dir:      dir,
		log:      logger,
		now:      time.Now,
	}
}

func (r *Resolver) Resolve(ctx context.Context, id domain.ContentID, language string) (string, error) {
	language = normalizeLanguage(language)

	if path, ok := r.cached(ctx, id, language); ok {
		metrics.SubtitleFetchesTotal.WithLabelValues("cache").Inc()
		return path, nil
	}

	if data, ok := r.fromProvider(ctx, id, language); ok {
		path, err := r.store(ctx, id, language, fmt.Sprintf("%s_%s.srt", id, language), data)
		if err == nil {
			metrics.SubtitleFetchesTotal.WithLabelValues("provider").Inc()
			return path, nil
		}
		r.log.Warn("failed to store provider subtitles",
			slog.String("contentId", string(id)),
			slog.String("error", err.Error()))
	}

	path, err := r.store(ctx, id, language, fmt.Sprintf("%s_%s_auto.srt", id, language), []byte(placeholderSRT))
	if err != nil {
		return "", fmt.Errorf("%w: subtitles for %s/%s", domain.ErrNotFound, id, language)
	}
	metrics.SubtitleFetchesTotal.WithLabelValues("placeholder").Inc()
	return path, nil
}

// cached reports a previously resolved subtitle whose file still exists.
func (r *Resolver) cached(ctx context.Context, id domain.ContentID, language string) (string, bool) {
	record, err := r.repo.Get(ctx, id, language)
	if err != nil {
		return "", false
	}
	if _, err := os.Stat(record.FilePath); err != nil {
		return "", false
	}
	return record.FilePath, true
}

func (r *Resolver) fromProvider(ctx context.Context, id domain.ContentID, language string) ([]byte, bool) {
	if r.provider == nil {
		return nil, false
	}

	record, err := r.contents.Get(ctx, id)
	if err != nil {
		return nil, false
	}

	if record.ImdbID != "" {
		data, err := r.provider.FetchByIMDb(ctx, record.ImdbID, language)
		if err == nil && len(data) > 0 {
			return data, true
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.log.Warn("subtitle provider lookup failed",
				slog.String("contentId", string(id)),
				slog.String("imdbId", record.ImdbID),
				slog.String("error", err.Error()))
		}
	}

	if record.Title != "" {
		data, err := r.provider.SearchByTitle(ctx, record.Title, record.Year, language)
		if err == nil && len(data) > 0 {
			return data, true
		}
	}

	return nil, false
}

func (r *Resolver) store(ctx context.Context, id domain.ContentID, language, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}

	record := domain.SubtitleRecord{
		ContentID: id,
		Language:  language,
		FilePath:  path,
		CreatedAt: r.now(),
	}
	if err := r.repo.Upsert(ctx, record); err != nil {
		r.log.Warn("failed to persist subtitle record",
			slog.String("contentId", string(id)),
			slog.String("error", err.Error()))
	}
	return path, nil
}

func normalizeLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return "en"
	}
	return language
}

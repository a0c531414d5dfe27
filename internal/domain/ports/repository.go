package ports

import (
	"context"
	"time"

	"hypertube/internal/domain"
)

type ContentRepository interface {
	Create(ctx context.Context, c domain.ContentRecord) error
	Get(ctx context.Context, id domain.ContentID) (domain.ContentRecord, error)
	List(ctx context.Context, filter domain.ContentFilter) ([]domain.ContentRecord, error)
	SetStatus(ctx context.Context, id domain.ContentID, status domain.ContentStatus) error
	SetReady(ctx context.Context, id domain.ContentID, videoPath string) error
	SetDownloading(ctx context.Context, id domain.ContentID, magnetLink string) error
	Reclaim(ctx context.Context, id domain.ContentID) error
	TouchLastAccessed(ctx context.Context, id domain.ContentID) error
}

type SubtitleRepository interface {
	Upsert(ctx context.Context, s domain.SubtitleRecord) error
	Get(ctx context.Context, id domain.ContentID, language string) (domain.SubtitleRecord, error)
	ListByContent(ctx context.Context, id domain.ContentID) ([]domain.SubtitleRecord, error)
	DeleteByContent(ctx context.Context, id domain.ContentID) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]domain.SubtitleRecord, error)
}

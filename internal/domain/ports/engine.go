package ports

import (
	"context"

	"hypertube/internal/domain"
)

// Engine acquires content over a peer-to-peer swarm. One Session corresponds
// to one magnet link; sessions are owned by the caller and must be dropped
// when no longer needed.
type Engine interface {
	Open(ctx context.Context, magnetLink string) (Session, error)
	Close() error
}

type Session interface {
	InfoHash() string
	// GotInfo is closed once torrent metadata is resolved; Files, Length and
	// BytesCompleted are only meaningful afterwards.
	GotInfo() <-chan struct{}
	Files() []domain.FileRef
	Length() int64
	BytesCompleted() int64
	// DownloadSpeed reports the instantaneous download rate in bytes/sec.
	DownloadSpeed() int64
	Peers() int
	DownloadAll()
	Drop()
}

package ports

import (
	"context"

	"hypertube/internal/domain"
)

type Transcoder interface {
	// Convert transcodes inputPath into a web-playable MP4 at outputPath.
	// On failure no partial output is left behind.
	Convert(ctx context.Context, inputPath, outputPath string) error
}

type Prober interface {
	Probe(ctx context.Context, filePath string) (domain.MediaInfo, error)
}

package domain

import "time"

type DownloadStatus string

const (
	DownloadActive     DownloadStatus = "downloading"
	DownloadProcessing DownloadStatus = "processing"
	DownloadDone       DownloadStatus = "done"
	DownloadFailed     DownloadStatus = "error"
)

// DownloadState is a point-in-time view of an in-flight download job.
type DownloadState struct {
	ContentID     ContentID      `json:"contentId"`
	Status        DownloadStatus `json:"status"`
	Progress      float64        `json:"progress"`
	DownloadSpeed int64          `json:"downloadSpeed"`
	Peers         int            `json:"peers"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type FileRef struct {
	Index          int    `json:"index"`
	Path           string `json:"path"`
	Length         int64  `json:"length"`
	BytesCompleted int64  `json:"bytesCompleted"`
}

package domain

import (
	"errors"
	"time"
)

type ContentID string

type ContentRecord struct {
	ID           ContentID     `json:"id"`
	ImdbID       string        `json:"imdbId,omitempty"`
	Title        string        `json:"title"`
	Year         int           `json:"year,omitempty"`
	MagnetLink   string        `json:"-"`
	Status       ContentStatus `json:"status"`
	VideoPath    string        `json:"-"`
	LastAccessed time.Time     `json:"lastAccessed"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Validate checks domain invariants for ContentRecord.
func (r ContentRecord) Validate() error {
	if r.ID == "" {
		return errors.New("content id is required")
	}
	switch r.Status {
	case StatusPending, StatusDownloading, StatusProcessing, StatusReady, StatusError:
		// valid
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(r.Status))
	}
	if r.VideoPath != "" && r.Status != StatusReady {
		return errors.New("videoPath is only valid for ready content")
	}
	return nil
}

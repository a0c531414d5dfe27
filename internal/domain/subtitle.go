package domain

import "time"

// SubtitleRecord points at an on-disk caption file for one (content, language)
// pair. At most one record exists per pair; writers upsert.
type SubtitleRecord struct {
	ContentID ContentID `json:"contentId"`
	Language  string    `json:"language"`
	FilePath  string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

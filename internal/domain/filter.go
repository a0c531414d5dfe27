package domain

import "time"

type ContentFilter struct {
	Status         *ContentStatus `json:"status,omitempty"`
	AccessedBefore *time.Time     `json:"accessedBefore,omitempty"`
	Limit          int            `json:"limit,omitempty"`
}

package domain

type ContentStatus string

const (
	StatusPending     ContentStatus = "pending"
	StatusDownloading ContentStatus = "downloading"
	StatusProcessing  ContentStatus = "processing"
	StatusReady       ContentStatus = "ready"
	StatusError       ContentStatus = "error"
)

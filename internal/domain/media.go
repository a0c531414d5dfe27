package domain

type VideoStreamInfo struct {
	Codec   string  `json:"codec"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps,omitempty"`
	Bitrate int64   `json:"bitrate,omitempty"`
}

type AudioStreamInfo struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Bitrate    int64  `json:"bitrate,omitempty"`
}

// MediaInfo holds technical metadata extracted from a media file. Video and
// Audio describe the first stream of each kind; nil when absent.
type MediaInfo struct {
	Duration float64          `json:"duration"`
	Size     int64            `json:"size,omitempty"`
	Format   string           `json:"format"`
	Bitrate  int64            `json:"bitrate,omitempty"`
	Video    *VideoStreamInfo `json:"video,omitempty"`
	Audio    *AudioStreamInfo `json:"audio,omitempty"`
}

package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"hypertube/internal/domain"
)

// ErrProbe wraps any failure to extract metadata from a media file.
var ErrProbe = errors.New("probe failed")

const maxProbeTimeout = 30 * time.Second

type Prober struct {
	binary string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

func (p *Prober) Probe(ctx context.Context, filePath string) (domain.MediaInfo, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return domain.MediaInfo{}, fmt.Errorf("%w: file path is required", ErrProbe)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return domain.MediaInfo{}, fmt.Errorf("%w: %v", ErrProbe, err)
		}
		return domain.MediaInfo{}, fmt.Errorf("%w: %v: %s", ErrProbe, err, msg)
	}

	info, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		return domain.MediaInfo{}, fmt.Errorf("%w: %v", ErrProbe, err)
	}
	return info, nil
}

// probePayload is the subset of ffprobe JSON output we parse.
type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Channels   int    `json:"channels"`
	SampleRate string `json:"sample_rate"`
	BitRate    string `json:"bit_rate"`
	RFrameRate string `json:"r_frame_rate"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

func parseProbeOutput(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, err
	}
	if payload.Format.FormatName == "" && len(payload.Streams) == 0 {
		return domain.MediaInfo{}, errors.New("no recognized container")
	}

	info := domain.MediaInfo{
		Format:   payload.Format.FormatName,
		Duration: parseFloat(payload.Format.Duration),
		Size:     parseInt(payload.Format.Size),
		Bitrate:  parseInt(payload.Format.BitRate),
	}

	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			if info.Video != nil {
				continue
			}
			info.Video = &domain.VideoStreamInfo{
				Codec:   stream.CodecName,
				Width:   stream.Width,
				Height:  stream.Height,
				FPS:     parseFrameRate(stream.RFrameRate),
				Bitrate: parseInt(stream.BitRate),
			}
		case "audio":
			if info.Audio != nil {
				continue
			}
			info.Audio = &domain.AudioStreamInfo{
				Codec:      stream.CodecName,
				Channels:   stream.Channels,
				SampleRate: int(parseInt(stream.SampleRate)),
				Bitrate:    parseInt(stream.BitRate),
			}
		}
	}

	return info, nil
}

func parseFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseInt(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// parseFrameRate parses ffprobe's "num/den" rational frame rate.
func parseFrameRate(raw string) float64 {
	num, den, ok := strings.Cut(raw, "/")
	if !ok {
		return parseFloat(raw)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

// ErrTranscode wraps any failure while converting a media file. When ffmpeg
// produced stderr output, the trailing lines are included in the message.
var ErrTranscode = errors.New("transcode failed")

const stderrTailBytes = 2048

// Profile holds the encoding parameters for a single conversion pass.
type Profile struct {
	Preset      string
	CRF         int
	MaxRate     string
	BufSize     string
	H264Profile string // empty means encoder default
	H264Level   string
}

// QualityProfile favors fidelity over encode speed and is used for the
// canonical library copy of a movie.
var QualityProfile = Profile{
	Preset:  "fast",
	CRF:     23,
	MaxRate: "4M",
	BufSize: "8M",
}

// CompatProfile targets maximum decoder compatibility (baseline 3.0) at a
// lower bitrate, for clients that cannot handle high-profile H.264.
var CompatProfile = Profile{
	Preset:      "medium",
	CRF:         20,
	MaxRate:     "2M",
	BufSize:     "4M",
	H264Profile: "baseline",
	H264Level:   "3.0",
}

// buildConvertArgs constructs the ffmpeg argument list for a file-to-file
// MP4 conversion. This is a pure function with no side effects.
func buildConvertArgs(p Profile, input, output string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-progress", "pipe:1",
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-maxrate", p.MaxRate,
		"-bufsize", p.BufSize,
	}
	if p.H264Profile != "" {
		args = append(args, "-profile:v", p.H264Profile)
	}
	if p.H264Level != "" {
		args = append(args, "-level", p.H264Level)
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ac", "2",
		"-movflags", "+faststart",
		"-f", "mp4",
		output,
	)
	return args
}

type Transcoder struct {
	binary string

	progressUs atomic.Int64 // ffmpeg out_time_us of the running conversion
}

func New(binary string) *Transcoder {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Transcoder{binary: bin}
}

// Convert transcodes input into an MP4 at output using the quality profile.
func (t *Transcoder) Convert(ctx context.Context, input, output string) error {
	return t.run(ctx, QualityProfile, input, output)
}

// ConvertForStreaming transcodes input into a baseline-profile MP4 at output.
func (t *Transcoder) ConvertForStreaming(ctx context.Context, input, output string) error {
	return t.run(ctx, CompatProfile, input, output)
}

// Progress returns the encoded time in seconds of the running conversion.
func (t *Transcoder) Progress() float64 {
	us := t.progressUs.Load()
	if us <= 0 {
		return 0
	}
	return float64(us) / 1e6
}

func (t *Transcoder) run(ctx context.Context, p Profile, input, output string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%w: input path is required", ErrTranscode)
	}
	if strings.TrimSpace(output) == "" {
		return fmt.Errorf("%w: output path is required", ErrTranscode)
	}
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("%w: input: %w", ErrTranscode, err)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("%w: output dir: %v", ErrTranscode, err)
	}

	t.progressUs.Store(0)

	cmd := exec.CommandContext(ctx, t.binary, buildConvertArgs(p, input, output)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	progressR, progressW, pipeErr := os.Pipe()
	if pipeErr != nil {
		cmd.Stdout = io.Discard
	} else {
		cmd.Stdout = progressW
	}

	if err := cmd.Start(); err != nil {
		if progressR != nil {
			progressR.Close()
		}
		if progressW != nil {
			progressW.Close()
		}
		return fmt.Errorf("%w: %v", ErrTranscode, err)
	}

	if progressW != nil {
		progressW.Close()
	}
	progressDone := make(chan struct{})
	if progressR != nil {
		go func() {
			defer close(progressDone)
			t.parseProgress(progressR)
		}()
	} else {
		close(progressDone)
	}

	err := cmd.Wait()
	<-progressDone
	if err != nil {
		// Never leave a truncated output behind.
		os.Remove(output)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrTranscode, ctxErr)
		}
		if tail := stderrTail(&stderr); tail != "" {
			return fmt.Errorf("%w: %v: %s", ErrTranscode, err, tail)
		}
		return fmt.Errorf("%w: %v", ErrTranscode, err)
	}
	return nil
}

func (t *Transcoder) parseProgress(r *os.File) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "out_time_us=") {
			if us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64); err == nil {
				t.progressUs.Store(us)
			}
		}
	}
}

func stderrTail(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	return s
}

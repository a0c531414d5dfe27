package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hypertube/internal/domain"
	"hypertube/internal/domain/ports"
	"hypertube/internal/metrics"
)

// ErrNoPlayableFile is returned when torrent metadata resolves but none of
// the files carries a recognized video extension.
var ErrNoPlayableFile = errors.New("no playable video file in torrent")

var videoExtensions = map[string]struct{}{
	".mp4": {},
	".mkv": {},
	".avi": {},
	".mov": {},
	".wmv": {},
	".flv": {},
}

const progressInterval = time.Second

// selectPayload picks the file that will become the movie: the largest one
// with a recognized video extension.
func selectPayload(files []domain.FileRef) (domain.FileRef, error) {
	var best domain.FileRef
	found := false
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Path))
		if _, ok := videoExtensions[ext]; !ok {
			continue
		}
		if !found || f.Length > best.Length {
			best = f
			found = true
		}
	}
	if !found {
		return domain.FileRef{}, ErrNoPlayableFile
	}
	return best, nil
}

// CanonicalVideoPath is where the playable copy of a movie lives once the
// pipeline finishes.
func CanonicalVideoPath(videoDir string, id domain.ContentID) string {
	return filepath.Join(videoDir, fmt.Sprintf("movie_%s.mp4", id))
}

type job struct {
	id      domain.ContentID
	cancel  context.CancelFunc
	session ports.Session

	mu    sync.Mutex
	state domain.DownloadState

	terminal sync.Once
}

func (j *job) snapshot() domain.DownloadState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *job) setState(mutate func(*domain.DownloadState)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	mutate(&j.state)
}

type Config struct {
	VideoDir       string
	TorrentDataDir string
}

// Orchestrator drives magnet links through the download and conversion
// pipeline and keeps an in-memory view of every in-flight job.
type Orchestrator struct {
	engine     ports.Engine
	repo       ports.ContentRepository
	transcoder ports.Transcoder
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
	tick       time.Duration

	mu   sync.Mutex
	jobs map[domain.ContentID]*job
	wg   sync.WaitGroup
}

func NewOrchestrator(engine ports.Engine, repo ports.ContentRepository, transcoder ports.Transcoder, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		engine:     engine,
		repo:       repo,
		transcoder: transcoder,
		cfg:        cfg,
		log:        logger,
		now:        time.Now,
		tick:       progressInterval,
		jobs:       make(map[domain.ContentID]*job),
	}
}

// Start registers a download job for id and returns immediately. Starting an
// id that already has a job is a no-op.
func (o *Orchestrator) Start(ctx context.Context, id domain.ContentID, magnetLink string) error {
	o.mu.Lock()
	if _, exists := o.jobs[id]; exists {
		o.mu.Unlock()
		o.log.Info("download already in progress", slog.String("contentId", string(id)))
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		id:     id,
		cancel: cancel,
		state: domain.DownloadState{
			ContentID: id,
			Status:    domain.DownloadActive,
			UpdatedAt: o.now(),
		},
	}
	o.jobs[id] = j
	o.mu.Unlock()

	if err := o.repo.SetDownloading(ctx, id, magnetLink); err != nil {
		o.deregister(id)
		cancel()
		return err
	}

	metrics.ActiveDownloads.Inc()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer metrics.ActiveDownloads.Dec()
		o.run(runCtx, j, magnetLink)
	}()

	o.log.Info("download started", slog.String("contentId", string(id)))
	return nil
}

// Progress reports the in-memory state of a job, if one exists.
func (o *Orchestrator) Progress(id domain.ContentID) (domain.DownloadState, bool) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return domain.DownloadState{}, false
	}
	return j.snapshot(), true
}

// States returns a snapshot of every in-flight job.
func (o *Orchestrator) States() []domain.DownloadState {
	o.mu.Lock()
	jobs := make([]*job, 0, len(o.jobs))
	for _, j := range o.jobs {
		jobs = append(jobs, j)
	}
	o.mu.Unlock()

	states := make([]domain.DownloadState, 0, len(jobs))
	for _, j := range jobs {
		states = append(states, j.snapshot())
	}
	return states
}

// Stop cancels a job and drops its swarm session. The persisted record keeps
// whatever status it had; callers decide on any rollback.
func (o *Orchestrator) Stop(id domain.ContentID) bool {
	o.mu.Lock()
	j, ok := o.jobs[id]
	var session ports.Session
	if ok {
		delete(o.jobs, id)
		session = j.session
	}
	o.mu.Unlock()
	if !ok {
		return false
	}

	j.cancel()
	if session != nil {
		session.Drop()
	}
	o.log.Info("download stopped", slog.String("contentId", string(id)))
	return true
}

// Shutdown cancels every job and waits for the runners to exit.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	ids := make([]domain.ContentID, 0, len(o.jobs))
	for id := range o.jobs {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.Stop(id)
	}
	o.wg.Wait()
}

func (o *Orchestrator) deregister(id domain.ContentID) {
	o.mu.Lock()
	delete(o.jobs, id)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, j *job, magnetLink string) {
	session, err := o.engine.Open(ctx, magnetLink)
	if err != nil {
		o.fail(ctx, j, "open", err)
		return
	}

	o.mu.Lock()
	j.session = session
	o.mu.Unlock()

	select {
	case <-session.GotInfo():
	case <-ctx.Done():
		session.Drop()
		o.fail(ctx, j, "canceled", ctx.Err())
		return
	}

	payload, err := selectPayload(session.Files())
	if err != nil {
		session.Drop()
		o.fail(ctx, j, "no_playable_file", err)
		return
	}

	o.log.Info("payload selected",
		slog.String("contentId", string(j.id)),
		slog.String("file", payload.Path),
		slog.Int64("length", payload.Length))

	session.DownloadAll()
	if err := o.monitor(ctx, j, session); err != nil {
		session.Drop()
		o.fail(ctx, j, "download", err)
		return
	}

	j.setState(func(s *domain.DownloadState) {
		s.Status = domain.DownloadProcessing
		s.Progress = 100
		s.UpdatedAt = o.now()
	})
	if err := o.repo.SetStatus(ctx, j.id, domain.StatusProcessing); err != nil {
		o.log.Warn("status update failed",
			slog.String("contentId", string(j.id)),
			slog.String("error", err.Error()))
	}

	videoPath, err := o.produceCanonical(ctx, j.id, payload)
	session.Drop()
	if err != nil {
		o.fail(ctx, j, "processing", err)
		return
	}

	j.terminal.Do(func() {
		j.setState(func(s *domain.DownloadState) {
			s.Status = domain.DownloadDone
			s.UpdatedAt = o.now()
		})
		if err := o.repo.SetReady(ctx, j.id, videoPath); err != nil {
			o.log.Error("failed to persist ready status",
				slog.String("contentId", string(j.id)),
				slog.String("error", err.Error()))
			return
		}
		metrics.DownloadsCompletedTotal.Inc()
		o.log.Info("download complete",
			slog.String("contentId", string(j.id)),
			slog.String("videoPath", videoPath))
	})
	o.deregister(j.id)
}

// monitor updates the job state once a second until the session holds every
// byte. Progress never moves backwards.
func (o *Orchestrator) monitor(ctx context.Context, j *job, session ports.Session) error {
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			length := session.Length()
			completed := session.BytesCompleted()

			var progress float64
			if length > 0 {
				progress = float64(completed) / float64(length) * 100
			}
			if progress > 100 {
				progress = 100
			}

			speed := session.DownloadSpeed()
			peers := session.Peers()
			j.setState(func(s *domain.DownloadState) {
				if progress > s.Progress {
					s.Progress = progress
				}
				s.DownloadSpeed = speed
				s.Peers = peers
				s.UpdatedAt = o.now()
			})
			metrics.DownloadSpeedBytes.Set(float64(speed))

			if length > 0 && completed >= length {
				return nil
			}
		}
	}
}

// produceCanonical turns the downloaded payload into the canonical MP4. An
// MP4 payload is copied as-is; everything else goes through FFmpeg.
func (o *Orchestrator) produceCanonical(ctx context.Context, id domain.ContentID, payload domain.FileRef) (string, error) {
	source := filepath.Join(o.cfg.TorrentDataDir, payload.Path)
	target := CanonicalVideoPath(o.cfg.VideoDir, id)

	if err := os.MkdirAll(o.cfg.VideoDir, 0o755); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(payload.Path))
	if ext == ".mp4" {
		if err := copyFile(source, target); err != nil {
			os.Remove(target)
			return "", err
		}
		return target, nil
	}

	metrics.TranscodeJobsTotal.Inc()
	started := o.now()
	if err := o.transcoder.Convert(ctx, source, target); err != nil {
		metrics.TranscodeFailuresTotal.Inc()
		os.Remove(target)
		return "", err
	}
	metrics.TranscodeDuration.Observe(o.now().Sub(started).Seconds())
	return target, nil
}

func (o *Orchestrator) fail(ctx context.Context, j *job, reason string, cause error) {
	// A stop is not a failure; leave the persisted record alone.
	if errors.Is(cause, context.Canceled) {
		o.log.Info("download canceled", slog.String("contentId", string(j.id)))
		o.deregister(j.id)
		return
	}
	j.terminal.Do(func() {
		j.setState(func(s *domain.DownloadState) {
			s.Status = domain.DownloadFailed
			s.UpdatedAt = o.now()
		})
		os.Remove(CanonicalVideoPath(o.cfg.VideoDir, j.id))
		if err := o.repo.SetStatus(context.WithoutCancel(ctx), j.id, domain.StatusError); err != nil {
			o.log.Error("failed to persist error status",
				slog.String("contentId", string(j.id)),
				slog.String("error", err.Error()))
		}
		metrics.DownloadsFailedTotal.WithLabelValues(reason).Inc()
		o.log.Error("download failed",
			slog.String("contentId", string(j.id)),
			slog.String("reason", reason),
			slog.String("error", cause.Error()))
	})
	o.deregister(j.id)
}

func copyFile(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

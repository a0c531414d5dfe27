package download

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hypertube/internal/domain"
	"hypertube/internal/domain/ports"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeSession struct {
	mu        sync.Mutex
	infoHash  string
	gotInfo   chan struct{}
	files     []domain.FileRef
	length    int64
	completed int64
	dropped   bool
}

func newFakeSession(files []domain.FileRef) *fakeSession {
	var total int64
	for _, f := range files {
		total += f.Length
	}
	s := &fakeSession{
		infoHash: "deadbeef",
		gotInfo:  make(chan struct{}),
		files:    files,
		length:   total,
	}
	close(s.gotInfo)
	return s
}

func (s *fakeSession) InfoHash() string          { return s.infoHash }
func (s *fakeSession) GotInfo() <-chan struct{}  { return s.gotInfo }
func (s *fakeSession) Files() []domain.FileRef   { return s.files }
func (s *fakeSession) Length() int64             { return s.length }
func (s *fakeSession) DownloadSpeed() int64      { return 1024 }
func (s *fakeSession) Peers() int                { return 3 }
func (s *fakeSession) DownloadAll()              {}

func (s *fakeSession) BytesCompleted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *fakeSession) complete() {
	s.mu.Lock()
	s.completed = s.length
	s.mu.Unlock()
}

func (s *fakeSession) Drop() {
	s.mu.Lock()
	s.dropped = true
	s.mu.Unlock()
}

func (s *fakeSession) wasDropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

type fakeEngine struct {
	session ports.Session
	err     error
	opens   int
}

func (e *fakeEngine) Open(ctx context.Context, magnetLink string) (ports.Session, error) {
	e.opens++
	if e.err != nil {
		return nil, e.err
	}
	return e.session, nil
}

func (e *fakeEngine) Close() error { return nil }

type fakeRepo struct {
	mu          sync.Mutex
	statuses    map[domain.ContentID]domain.ContentStatus
	readyPaths  map[domain.ContentID]string
	downloading int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		statuses:   make(map[domain.ContentID]domain.ContentStatus),
		readyPaths: make(map[domain.ContentID]string),
	}
}

func (r *fakeRepo) Create(ctx context.Context, c domain.ContentRecord) error { return nil }

func (r *fakeRepo) Get(ctx context.Context, id domain.ContentID) (domain.ContentRecord, error) {
	return domain.ContentRecord{}, domain.ErrNotFound
}

func (r *fakeRepo) List(ctx context.Context, f domain.ContentFilter) ([]domain.ContentRecord, error) {
	return nil, nil
}

func (r *fakeRepo) SetStatus(ctx context.Context, id domain.ContentID, status domain.ContentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	return nil
}

func (r *fakeRepo) SetReady(ctx context.Context, id domain.ContentID, videoPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = domain.StatusReady
	r.readyPaths[id] = videoPath
	return nil
}

func (r *fakeRepo) SetDownloading(ctx context.Context, id domain.ContentID, magnetLink string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = domain.StatusDownloading
	r.downloading++
	return nil
}

func (r *fakeRepo) Reclaim(ctx context.Context, id domain.ContentID) error { return nil }

func (r *fakeRepo) TouchLastAccessed(ctx context.Context, id domain.ContentID) error { return nil }

func (r *fakeRepo) status(id domain.ContentID) domain.ContentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

func (r *fakeRepo) readyPath(id domain.ContentID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readyPaths[id]
}

type fakeTranscoder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeTranscoder) Convert(ctx context.Context, input, output string) error {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(output, []byte("converted"), 0o644)
}

func (f *fakeTranscoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newTestOrchestrator(t *testing.T, engine ports.Engine, repo ports.ContentRepository, tr ports.Transcoder) (*Orchestrator, Config) {
	t.Helper()
	cfg := Config{
		VideoDir:       t.TempDir(),
		TorrentDataDir: t.TempDir(),
	}
	o := NewOrchestrator(engine, repo, tr, cfg, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	o.tick = 5 * time.Millisecond
	return o, cfg
}

func waitFor(t *testing.T, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// ---------------------------------------------------------------------------
// payload selection
// ---------------------------------------------------------------------------

func TestSelectPayload(t *testing.T) {
	tests := []struct {
		name     string
		files    []domain.FileRef
		wantPath string
		wantErr  error
	}{
		{
			name: "largest video wins",
			files: []domain.FileRef{
				{Path: "sample.mp4", Length: 10},
				{Path: "movie.mkv", Length: 5000},
				{Path: "extras/bonus.avi", Length: 400},
			},
			wantPath: "movie.mkv",
		},
		{
			name: "non video files ignored",
			files: []domain.FileRef{
				{Path: "readme.txt", Length: 999999},
				{Path: "movie.MP4", Length: 100},
			},
			wantPath: "movie.MP4",
		},
		{
			name: "no playable file",
			files: []domain.FileRef{
				{Path: "readme.txt", Length: 10},
				{Path: "cover.jpg", Length: 20},
			},
			wantErr: ErrNoPlayableFile,
		},
		{
			name:    "empty torrent",
			wantErr: ErrNoPlayableFile,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := selectPayload(tc.files)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("selectPayload: %v", err)
			}
			if got.Path != tc.wantPath {
				t.Errorf("path = %q, want %q", got.Path, tc.wantPath)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// orchestrator
// ---------------------------------------------------------------------------

func TestStartDeduplicates(t *testing.T) {
	session := newFakeSession([]domain.FileRef{{Path: "movie.mkv", Length: 100}})
	engine := &fakeEngine{session: session}
	repo := newFakeRepo()
	o, _ := newTestOrchestrator(t, engine, repo, &fakeTranscoder{})
	defer o.Shutdown()

	if err := o.Start(context.Background(), "42", "magnet:?xt=a"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := o.Start(context.Background(), "42", "magnet:?xt=a"); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	repo.mu.Lock()
	downloading := repo.downloading
	repo.mu.Unlock()
	if downloading != 1 {
		t.Errorf("SetDownloading called %d times, want 1", downloading)
	}
}

func TestRunNoPlayableFile(t *testing.T) {
	session := newFakeSession([]domain.FileRef{{Path: "readme.txt", Length: 100}})
	engine := &fakeEngine{session: session}
	repo := newFakeRepo()
	tr := &fakeTranscoder{}
	o, _ := newTestOrchestrator(t, engine, repo, tr)

	if err := o.Start(context.Background(), "7", "magnet:?xt=a"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return repo.status("7") == domain.StatusError }, "status never became error")
	waitFor(t, session.wasDropped, "session never dropped")
	if _, ok := o.Progress("7"); ok {
		t.Error("job should be deregistered after failure")
	}
	if got := tr.callCount(); got != 0 {
		t.Errorf("transcoder called %d times, want 0 when no playable file", got)
	}
}

func TestRunSuccessCopiesMP4(t *testing.T) {
	session := newFakeSession([]domain.FileRef{{Path: "movie.mp4", Length: 9}})
	engine := &fakeEngine{session: session}
	repo := newFakeRepo()
	tr := &fakeTranscoder{}
	o, cfg := newTestOrchestrator(t, engine, repo, tr)

	if err := os.WriteFile(filepath.Join(cfg.TorrentDataDir, "movie.mp4"), []byte("mp4 bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := o.Start(context.Background(), "42", "magnet:?xt=a"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	session.complete()

	waitFor(t, func() bool { return repo.status("42") == domain.StatusReady }, "status never became ready")

	wantPath := CanonicalVideoPath(cfg.VideoDir, "42")
	if got := repo.readyPath("42"); got != wantPath {
		t.Errorf("videoPath = %q, want %q", got, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("canonical file: %v", err)
	}
	if string(data) != "mp4 bytes" {
		t.Errorf("canonical content = %q", data)
	}
	if tr.callCount() != 0 {
		t.Errorf("transcoder called %d times for an mp4 payload", tr.callCount())
	}
	waitFor(t, session.wasDropped, "session never dropped")
}

func TestRunTranscodesNonMP4(t *testing.T) {
	session := newFakeSession([]domain.FileRef{{Path: "movie.mkv", Length: 9}})
	engine := &fakeEngine{session: session}
	repo := newFakeRepo()
	tr := &fakeTranscoder{}
	o, cfg := newTestOrchestrator(t, engine, repo, tr)

	if err := os.WriteFile(filepath.Join(cfg.TorrentDataDir, "movie.mkv"), []byte("mkv bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := o.Start(context.Background(), "9", "magnet:?xt=a"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	session.complete()

	waitFor(t, func() bool { return repo.status("9") == domain.StatusReady }, "status never became ready")
	if tr.callCount() != 1 {
		t.Errorf("transcoder called %d times, want 1", tr.callCount())
	}
	if _, err := os.Stat(CanonicalVideoPath(cfg.VideoDir, "9")); err != nil {
		t.Errorf("canonical file: %v", err)
	}
}

func TestRunTranscodeFailure(t *testing.T) {
	session := newFakeSession([]domain.FileRef{{Path: "movie.avi", Length: 9}})
	engine := &fakeEngine{session: session}
	repo := newFakeRepo()
	tr := &fakeTranscoder{err: errors.New("boom")}
	o, cfg := newTestOrchestrator(t, engine, repo, tr)

	if err := os.WriteFile(filepath.Join(cfg.TorrentDataDir, "movie.avi"), []byte("avi bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := o.Start(context.Background(), "13", "magnet:?xt=a"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	session.complete()

	waitFor(t, func() bool { return repo.status("13") == domain.StatusError }, "status never became error")
	if _, err := os.Stat(CanonicalVideoPath(cfg.VideoDir, "13")); !os.IsNotExist(err) {
		t.Errorf("partial canonical file should be removed, stat err = %v", err)
	}
}

func TestEngineOpenFailure(t *testing.T) {
	engine := &fakeEngine{err: errors.New("client busy")}
	repo := newFakeRepo()
	o, _ := newTestOrchestrator(t, engine, repo, &fakeTranscoder{})

	if err := o.Start(context.Background(), "5", "magnet:?xt=a"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return repo.status("5") == domain.StatusError }, "status never became error")
}

func TestStop(t *testing.T) {
	session := newFakeSession([]domain.FileRef{{Path: "movie.mkv", Length: 1 << 20}})
	engine := &fakeEngine{session: session}
	repo := newFakeRepo()
	o, _ := newTestOrchestrator(t, engine, repo, &fakeTranscoder{})

	if err := o.Start(context.Background(), "3", "magnet:?xt=a"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool {
		st, ok := o.Progress("3")
		return ok && st.Status == domain.DownloadActive
	}, "job never registered")

	if !o.Stop("3") {
		t.Fatal("Stop returned false for running job")
	}
	if o.Stop("3") {
		t.Fatal("Stop returned true for already-stopped job")
	}
	if _, ok := o.Progress("3"); ok {
		t.Error("Progress should report no job after Stop")
	}
}

func TestProgressReporting(t *testing.T) {
	session := newFakeSession([]domain.FileRef{{Path: "movie.mkv", Length: 1000}})
	engine := &fakeEngine{session: session}
	repo := newFakeRepo()
	o, _ := newTestOrchestrator(t, engine, repo, &fakeTranscoder{})
	defer o.Shutdown()

	if err := o.Start(context.Background(), "8", "magnet:?xt=a"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	session.mu.Lock()
	session.completed = 500
	session.mu.Unlock()

	waitFor(t, func() bool {
		st, ok := o.Progress("8")
		return ok && st.Progress == 50 && st.Peers == 3
	}, "progress never reached 50%")

	states := o.States()
	if len(states) != 1 || states[0].ContentID != "8" {
		t.Errorf("unexpected states snapshot: %+v", states)
	}
}

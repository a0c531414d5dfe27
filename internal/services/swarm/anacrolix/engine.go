package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"hypertube/internal/domain"
	"hypertube/internal/domain/ports"
)

// addMagnetTimeout caps the time we wait for the anacrolix client to accept
// a magnet link. AddMagnet can block on an internal client mutex when the
// client is busy (e.g. resolving metadata for another torrent).
const addMagnetTimeout = 10 * time.Second

type Config struct {
	// DataDir is where the client stores downloaded torrent payloads.
	DataDir string
	// NoUpload disables seeding; the pipeline only ever needs to leech.
	NoUpload bool
}

// Engine wraps an anacrolix torrent client behind the ports.Engine contract.
// It tracks open torrents by info-hash with a handle count, so two callers
// opening the same magnet each get their own Session and the torrent is
// only dropped when the last handle goes away. Transfer speed is sampled
// from the client's cumulative byte counters.
type Engine struct {
	client *torrent.Client

	mu       sync.Mutex
	sessions map[string]*torrentRef
	speeds   map[string]speedSample
	speedMu  sync.Mutex
}

type torrentRef struct {
	t    *torrent.Torrent
	refs int
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	clientConfig.NoUpload = cfg.NoUpload

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *torrent.Client) *Engine {
	return &Engine{
		client:   client,
		sessions: make(map[string]*torrentRef),
		speeds:   make(map[string]speedSample),
	}
}

// ErrSwarm marks failures acquiring content over the swarm.
var ErrSwarm = errors.New("swarm failure")

func (e *Engine) Open(ctx context.Context, magnetLink string) (ports.Session, error) {
	if e.client == nil {
		return nil, fmt.Errorf("%w: torrent client not configured", ErrSwarm)
	}

	// Run AddMagnet with a timeout so the caller is never blocked
	// indefinitely while the anacrolix client is busy.
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, err := e.client.AddMagnet(magnetLink)
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSwarm, res.err)
		}
		t = res.t
	case <-time.After(addMagnetTimeout):
		// AddMagnet may still complete after we give up; drop the orphan.
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, fmt.Errorf("%w: client busy, try again later", ErrSwarm)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, ctx.Err()
	}

	hash := t.InfoHash().HexString()

	e.mu.Lock()
	ref, ok := e.sessions[hash]
	if !ok {
		ref = &torrentRef{t: t}
		e.sessions[hash] = ref
	}
	ref.refs++
	e.mu.Unlock()

	return &Session{engine: e, torrent: ref.t, hash: hash}, nil
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

// release gives back one handle for hash and reports whether it was the
// last one, in which case the registry and speed state are cleared.
func (e *Engine) release(hash string) bool {
	e.mu.Lock()
	ref, ok := e.sessions[hash]
	if !ok {
		e.mu.Unlock()
		return false
	}
	ref.refs--
	if ref.refs > 0 {
		e.mu.Unlock()
		return false
	}
	delete(e.sessions, hash)
	e.mu.Unlock()

	e.speedMu.Lock()
	delete(e.speeds, hash)
	e.speedMu.Unlock()
	return true
}

type speedSample struct {
	at        time.Time
	bytesRead int64
}

// sampleSpeed derives an instantaneous download rate from the delta of the
// client's cumulative useful-data counter since the previous sample.
func (e *Engine) sampleSpeed(hash string, stats torrent.TorrentStats, now time.Time) int64 {
	currentRead := stats.BytesReadUsefulData.Int64()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[hash]
	e.speeds[hash] = speedSample{at: now, bytesRead: currentRead}

	if !ok || prev.at.IsZero() {
		return 0
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0
	}
	delta := currentRead - prev.bytesRead
	if delta < 0 {
		delta = 0
	}
	return int64(float64(delta) / dt)
}

func mapFiles(t *torrent.Torrent) []domain.FileRef {
	if !torrentInfoReady(t) {
		return nil
	}
	files := t.Files()
	mapped := make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileRef{
			Index:          i,
			Path:           f.Path(),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

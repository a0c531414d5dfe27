package anacrolix

import (
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"hypertube/internal/domain"
)

// Session is one swarm download bound to a magnet link. It implements
// ports.Session; all accessors are safe before metadata resolution and
// return zero values until GotInfo is closed.
type Session struct {
	engine  *Engine
	torrent *torrent.Torrent
	hash    string

	dropOnce sync.Once
}

func (s *Session) InfoHash() string {
	return s.hash
}

func (s *Session) GotInfo() <-chan struct{} {
	return s.torrent.GotInfo()
}

func (s *Session) Files() []domain.FileRef {
	return mapFiles(s.torrent)
}

func (s *Session) Length() int64 {
	if !torrentInfoReady(s.torrent) {
		return 0
	}
	return s.torrent.Length()
}

func (s *Session) BytesCompleted() int64 {
	if !torrentInfoReady(s.torrent) {
		return 0
	}
	return s.torrent.BytesCompleted()
}

func (s *Session) DownloadSpeed() int64 {
	if s.engine == nil {
		return 0
	}
	return s.engine.sampleSpeed(s.hash, s.torrent.Stats(), time.Now().UTC())
}

func (s *Session) Peers() int {
	return s.torrent.Stats().ActivePeers
}

func (s *Session) DownloadAll() {
	if torrentInfoReady(s.torrent) {
		s.torrent.DownloadAll()
	}
}

// Drop releases this handle. The underlying torrent is shared between all
// handles for the same info-hash and is only dropped with the last one.
// Safe to call more than once; repeat calls release nothing further.
func (s *Session) Drop() {
	s.dropOnce.Do(func() {
		last := true
		if s.engine != nil {
			last = s.engine.release(s.hash)
		}
		if last && s.torrent != nil {
			s.torrent.Drop()
		}
	})
}

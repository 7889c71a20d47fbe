// Package peers keeps metadata and traffic counters for BCP links, live
// and recently closed.
package peers

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LinkMeta describes one link. Timestamps are unix milliseconds.
type LinkMeta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Codec       string `json:"codec"`
	Inbound     bool   `json:"inbound"`
	RemoteAddr  string `json:"remote_addr,omitempty"`
	Connected   bool   `json:"connected"`
	ConnectedAt int64  `json:"connected_at_unix_ms"`
	ClosedAt    int64  `json:"closed_at_unix_ms,omitempty"`
	LastSeen    int64  `json:"last_seen_unix_ms"`
	// Handshake is empty, "hello_rx" or "rejected".
	Handshake     string `json:"handshake,omitempty"`
	RemoteVersion string `json:"remote_version,omitempty"`
	RemoteName    string `json:"remote_name,omitempty"`
	// Counters
	MsgsIn   uint64 `json:"msgs_in"`
	MsgsOut  uint64 `json:"msgs_out"`
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
}

// DefaultRetain bounds how many closed links are remembered.
const DefaultRetain = 64

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	links  map[string]*LinkMeta
	closed []string
	retain int
}

func NewStore(retain int) *Store {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Store{links: make(map[string]*LinkMeta), retain: retain}
}

// Upsert records a link coming up.
func (s *Store) Upsert(meta LinkMeta) {
	now := time.Now().UnixMilli()
	meta.Connected = true
	if meta.ConnectedAt == 0 {
		meta.ConnectedAt = now
	}
	meta.LastSeen = now
	s.mu.Lock()
	s.links[meta.ID] = &meta
	s.mu.Unlock()
	zap.L().Debug("link upsert", zap.String("link", meta.ID), zap.String("addr", meta.RemoteAddr))
}

func (s *Store) update(id string, fn func(m *LinkMeta)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.links[id]; m != nil {
		fn(m)
	}
}

// RecordIn counts a received frame.
func (s *Store) RecordIn(id string, n int) {
	now := time.Now().UnixMilli()
	s.update(id, func(m *LinkMeta) {
		m.MsgsIn++
		m.BytesIn += uint64(n)
		m.LastSeen = now
	})
}

// RecordOut counts a sent frame.
func (s *Store) RecordOut(id string, n int) {
	s.update(id, func(m *LinkMeta) {
		m.MsgsOut++
		m.BytesOut += uint64(n)
	})
}

// RecordHello stores the outcome of the peer's hello.
func (s *Store) RecordHello(id, version, name string, ok bool) {
	s.update(id, func(m *LinkMeta) {
		if !ok {
			m.Handshake = "rejected"
			return
		}
		m.Handshake = "hello_rx"
		m.RemoteVersion = version
		m.RemoteName = name
	})
}

// MarkClosed flags a link as closed and forgets the oldest closed links
// beyond the retain limit.
func (s *Store) MarkClosed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.links[id]
	if m == nil || !m.Connected {
		return
	}
	m.Connected = false
	m.ClosedAt = time.Now().UnixMilli()
	s.closed = append(s.closed, id)
	for len(s.closed) > s.retain {
		delete(s.links, s.closed[0])
		s.closed = s.closed[1:]
	}
}

// Get returns a copy of the link's metadata.
func (s *Store) Get(id string) (LinkMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.links[id]
	if m == nil {
		return LinkMeta{}, false
	}
	return *m, true
}

// List returns copies of all known links, live first, then by id.
func (s *Store) List() []LinkMeta {
	s.mu.RLock()
	out := make([]LinkMeta, 0, len(s.links))
	for _, m := range s.links {
		out = append(out, *m)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Connected != out[j].Connected {
			return out[i].Connected
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarshalJSON renders the link table.
func (s *Store) MarshalJSON() ([]byte, error) { return json.Marshal(s.List()) }

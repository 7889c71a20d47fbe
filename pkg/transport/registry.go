package transport

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"bcphub/pkg/protocol"
)

// Registry keeps the set of live peers. Membership changes and broadcasts
// may happen from any goroutine.
type Registry struct {
	mu    sync.RWMutex
	peers []Peer
	index map[string]int
}

func NewRegistry() *Registry { return &Registry{index: make(map[string]int)} }

// Register adds a peer. A peer already present by ID is left untouched and
// Register returns false.
func (r *Registry) Register(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[p.ID()]; ok {
		return false
	}
	r.index[p.ID()] = len(r.peers)
	r.peers = append(r.peers, p)
	zap.L().Debug("bcp peer registered", zap.String("peer", p.ID()), zap.String("name", p.Name()), zap.Int("peers", len(r.peers)))
	return true
}

// Deregister removes a peer by ID. It reports whether the peer was present.
func (r *Registry) Deregister(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[p.ID()]
	if !ok {
		return false
	}
	copy(r.peers[i:], r.peers[i+1:])
	r.peers[len(r.peers)-1] = nil
	r.peers = r.peers[:len(r.peers)-1]
	delete(r.index, p.ID())
	for j := i; j < len(r.peers); j++ {
		r.index[r.peers[j].ID()] = j
	}
	zap.L().Debug("bcp peer deregistered", zap.String("peer", p.ID()), zap.String("name", p.Name()), zap.Int("peers", len(r.peers)))
	return true
}

// Get returns the peer registered under id, or nil.
func (r *Registry) Get(id string) Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.index[id]; ok {
		return r.peers[i]
	}
	return nil
}

// List returns a snapshot of live peers in registration order.
func (r *Registry) List() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

// Len returns the number of live peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Broadcast sends cmd to every peer registered when the call starts. A peer
// that fails (or panics) is skipped; the remaining peers still get the
// command. It returns how many peers accepted the command and the joined
// per-peer errors.
func (r *Registry) Broadcast(cmd protocol.Command) (int, error) {
	sent := 0
	var errs []error
	for _, p := range r.List() {
		if err := safeSend(p, cmd); err != nil {
			zap.L().Warn("bcp send failed", zap.String("peer", p.ID()), zap.String("cmd", cmd.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.ID(), err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func safeSend(p Peer, cmd protocol.Command) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("send panicked: %v", rec)
		}
	}()
	return p.Send(cmd)
}

package bcp

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"bcphub/pkg/config"
	"bcphub/pkg/transport"
)

// Server listens for inbound BCP links. Each accepted stream becomes a
// Client registered like an outbound one.
type Server struct {
	spec   config.ServerSpec
	kind   transport.Kind
	ep     transport.Endpoint
	accept func(st transport.Stream)

	mu     sync.Mutex
	l      transport.Listener
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Server) ID() string { return s.spec.ID }

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// Start binds the listener and begins accepting. The accept loop runs until Stop.
func (s *Server) Start(ctx context.Context) error {
	l, err := s.kind.Listen(ctx, s.ep)
	if err != nil {
		return &ConnectionError{Name: s.spec.ID, Address: s.ep.Address(), Err: err}
	}
	actx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.l, s.cancel, s.done = l, cancel, make(chan struct{})
	done := s.done
	s.mu.Unlock()

	zap.L().Info("bcp server listening", zap.String("server", s.spec.ID), zap.String("kind", s.kind.Name()), zap.Stringer("addr", l.Addr()))
	go func() {
		defer close(done)
		for {
			st, err := l.Accept(actx)
			if err != nil {
				if actx.Err() == nil && !errors.Is(err, net.ErrClosed) {
					zap.L().Debug("bcp accept stopped", zap.String("server", s.spec.ID), zap.Error(err))
				}
				return
			}
			s.accept(st)
		}
	}()
	return nil
}

// Stop closes the listener and waits for the accept loop. Accepted clients
// are not closed.
func (s *Server) Stop() {
	s.mu.Lock()
	l, cancel, done := s.l, s.cancel, s.done
	s.l = nil
	s.mu.Unlock()
	if l == nil {
		return
	}
	cancel()
	if err := l.Close(); err != nil {
		zap.L().Debug("bcp server close", zap.String("server", s.spec.ID), zap.Error(err))
	}
	<-done
	zap.L().Info("bcp server stopped", zap.String("server", s.spec.ID))
}

//go:build windows

// Package winpipe carries BCP frames over Windows named pipes. The endpoint
// host is the pipe path, e.g. \\.\pipe\mpf-bcp.
package winpipe

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/Microsoft/go-winio"

	"bcphub/pkg/protocol/stream"
	"bcphub/pkg/transport"
)

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Name() string { return transport.KindWinPipe }

func (t *Transport) Listen(_ context.Context, ep transport.Endpoint) (transport.Listener, error) {
	l, err := winio.ListenPipe(ep.Host, nil)
	if err != nil {
		return nil, err
	}
	wl := &listener{l: l, framing: ep.Framing, newCh: make(chan transport.Stream, 8), closeCh: make(chan struct{})}
	go wl.acceptLoop()
	return wl, nil
}

func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint) (transport.Stream, error) {
	c, err := winio.DialPipeContext(ctx, ep.Host)
	if err != nil {
		return nil, err
	}
	return stream.NewNetConn(c, ep.Framing), nil
}

type listener struct {
	l       net.Listener
	framing stream.Framing
	newCh   chan transport.Stream
	closeCh chan struct{}
	once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("winpipe listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		err = l.l.Close()
	})
	return err
}

func (l *listener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		s := stream.NewNetConn(c, l.framing)
		select {
		case l.newCh <- s:
		case <-l.closeCh:
			_ = s.Close()
			return
		}
	}
}

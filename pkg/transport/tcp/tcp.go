package tcp

import (
	"context"
	"errors"
	"net"
	"sync"

	"bcphub/pkg/protocol/stream"
	"bcphub/pkg/transport"
)

// Transport implements plain TCP streams framed per the endpoint's codec.
type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Name() string { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, ep transport.Endpoint) (transport.Listener, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, err
	}
	tl := &listener{l: l, framing: ep.Framing, newCh: make(chan *stream.Conn, 8), closeCh: make(chan struct{})}
	go tl.acceptLoop()
	return tl, nil
}

func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint) (transport.Stream, error) {
	d := &net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return stream.NewNetConn(c, ep.Framing), nil
}

type listener struct {
	l       net.Listener
	framing stream.Framing
	newCh   chan *stream.Conn
	closeCh chan struct{}
	once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("tcp listener closed")
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

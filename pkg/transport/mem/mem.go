package mem

import (
	"context"
	"errors"
	"net"
	"sync"

	"bcphub/pkg/protocol/stream"
	"bcphub/pkg/transport"
)

// Transport is an in-process transport using net.Pipe. Listeners are keyed
// by endpoint address; dialers and listeners must share the same Transport.
type Transport struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Name() string { return transport.KindMem }

func (t *Transport) Listen(_ context.Context, ep transport.Endpoint) (transport.Listener, error) {
	name := ep.Address()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[name]; ok {
		return nil, errors.New("mem: listener already exists: " + name)
	}
	l := &listener{name: name, framing: ep.Framing, newCh: make(chan *stream.Conn, 8), closeCh: make(chan struct{})}
	l.onClose = func() {
		t.mu.Lock()
		if t.listeners[name] == l {
			delete(t.listeners, name)
		}
		t.mu.Unlock()
	}
	t.listeners[name] = l
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint) (transport.Stream, error) {
	t.mu.Lock()
	name := ep.Address()
	l := t.listeners[name]
	t.mu.Unlock()
	if l == nil {
		return nil, errors.New("mem: no such listener: " + name)
	}
	c1, c2 := net.Pipe()
	srv := stream.New(c1, l.framing, memAddr("dialer:"+name))
	cli := stream.New(c2, ep.Framing, memAddr(name))
	select {
	case l.newCh <- srv:
		return cli, nil
	case <-l.closeCh:
	case <-ctx.Done():
	}
	_ = srv.Close()
	_ = cli.Close()
	return nil, errors.New("mem: listener unavailable: " + name)
}

type listener struct {
	name    string
	framing stream.Framing
	newCh   chan *stream.Conn
	closeCh chan struct{}
	once    sync.Once
	onClose func()
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("mem listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	l.once.Do(func() {
		close(l.closeCh)
		l.onClose()
	})
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

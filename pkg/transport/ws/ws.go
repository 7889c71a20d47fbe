// Package ws carries BCP frames as WebSocket messages, one command per
// message. Browser dashboards connect with this kind.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bcphub/pkg/protocol/stream"
	"bcphub/pkg/transport"
)

// DefaultPath is served and dialed when the endpoint has no "path" option.
const DefaultPath = "/bcp"

// Transport implements WebSocket streams. Line-framed codecs use text
// messages, binary codecs use binary messages.
type Transport struct {
	dialer   *websocket.Dialer
	upgrader *websocket.Upgrader
}

func New() *Transport {
	return &Transport{
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (t *Transport) Name() string { return transport.KindWebSocket }

func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint) (transport.Stream, error) {
	u := url.URL{Scheme: ep.Option("scheme", "ws"), Host: ep.Address(), Path: ep.Option("path", DefaultPath)}
	c, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newStream(c, ep.Framing), nil
}

func (t *Transport) Listen(ctx context.Context, ep transport.Endpoint) (transport.Listener, error) {
	var lc net.ListenConfig
	nl, err := lc.Listen(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, err
	}
	l := &listener{l: nl, newCh: make(chan transport.Stream, 8), closeCh: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc(ep.Option("path", DefaultPath), func(w http.ResponseWriter, r *http.Request) {
		c, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			zap.L().Debug("websocket upgrade failed", zap.String("raddr", r.RemoteAddr), zap.Error(err))
			return
		}
		s := newStream(c, ep.Framing)
		select {
		case l.newCh <- s:
		case <-l.closeCh:
			_ = s.Close()
		}
	})
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = l.srv.Serve(nl) }()
	return l, nil
}

type listener struct {
	l       net.Listener
	srv     *http.Server
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
		return nil, errors.New("websocket listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

// Close stops the HTTP server; upgraded connections are hijacked and stay open.
func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		err = l.srv.Close()
	})
	return err
}

type wsStream struct {
	mu      sync.Mutex
	c       *websocket.Conn
	msgType int
}

func newStream(c *websocket.Conn, f stream.Framing) *wsStream {
	c.SetReadLimit(stream.MaxFrame)
	mt := websocket.TextMessage
	if f == stream.LengthPrefixed {
		mt = websocket.BinaryMessage
	}
	return &wsStream{c: c, msgType: mt}
}

func (s *wsStream) SendBytes(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.WriteMessage(s.msgType, b)
}

func (s *wsStream) RecvBytes() ([]byte, error) {
	_, b, err := s.c.ReadMessage()
	return b, err
}

func (s *wsStream) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

func (s *wsStream) Close() error {
	s.mu.Lock()
	_ = s.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.mu.Unlock()
	return s.c.Close()
}

package bcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"bcphub/pkg/handshake"
	"bcphub/pkg/peers"
	"bcphub/pkg/protocol"
	"bcphub/pkg/protocol/codec"
	"bcphub/pkg/transport"
)

const goodbyeTimeout = 500 * time.Millisecond

// Handler processes commands received by a client.
type Handler interface {
	HandleCommand(c *Client, cmd protocol.Command)
}

// Client is one BCP link, dialed outbound or accepted by a Server. It joins
// the transport registry once its stream is up and leaves it when the
// stream closes.
type Client struct {
	id      string
	name    string
	inbound bool

	kind    transport.Kind
	codec   codec.Codec
	ep      transport.Endpoint
	reg     *transport.Registry
	links   *peers.Store
	handler Handler
	hello   *handshake.Hello
	timeout time.Duration
	onClose func(c *Client, remote bool, cause error)

	out    chan protocol.Command
	closed chan struct{}
	once   sync.Once

	mu          sync.Mutex
	st          transport.Stream
	exitOnClose bool
	remoteHello *handshake.Hello
}

type clientConfig struct {
	id, name string
	inbound  bool
	kind     transport.Kind
	codec    codec.Codec
	ep       transport.Endpoint
	reg      *transport.Registry
	links    *peers.Store
	handler  Handler
	hello    *handshake.Hello
	timeout  time.Duration
	queue    int
	onClose  func(c *Client, remote bool, cause error)
}

func newClient(cc clientConfig) *Client {
	if cc.queue <= 0 {
		cc.queue = 64
	}
	return &Client{
		id:      cc.id,
		name:    cc.name,
		inbound: cc.inbound,
		kind:    cc.kind,
		codec:   cc.codec,
		ep:      cc.ep,
		reg:     cc.reg,
		links:   cc.links,
		handler: cc.handler,
		hello:   cc.hello,
		timeout: cc.timeout,
		onClose: cc.onClose,
		out:     make(chan protocol.Command, cc.queue),
		closed:  make(chan struct{}),
	}
}

func (c *Client) ID() string         { return c.id }
func (c *Client) Name() string       { return c.name }
func (c *Client) Inbound() bool      { return c.inbound }
func (c *Client) Codec() codec.Codec { return c.codec }

// RemoteAddr returns the peer address once connected.
func (c *Client) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == nil {
		return nil
	}
	return c.st.RemoteAddr()
}

// SetExitOnClose marks the link as one the controller cannot run without.
func (c *Client) SetExitOnClose(v bool) {
	c.mu.Lock()
	c.exitOnClose = v
	c.mu.Unlock()
}

func (c *Client) ExitOnClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitOnClose
}

// RemoteHello returns the hello the peer announced, if any.
func (c *Client) RemoteHello() (handshake.Hello, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteHello == nil {
		return handshake.Hello{}, false
	}
	return *c.remoteHello, true
}

func (c *Client) setRemoteHello(h handshake.Hello) {
	c.mu.Lock()
	c.remoteHello = &h
	c.mu.Unlock()
	if c.links != nil {
		c.links.RecordHello(c.id, h.Version, h.ControllerName, true)
	}
}

// Done is closed once the client has shut down.
func (c *Client) Done() <-chan struct{} { return c.closed }

// Connect dials the endpoint. On success the client starts its loops,
// announces hello if configured and registers itself.
func (c *Client) Connect(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	st, err := c.kind.Dial(ctx, c.ep)
	if err == nil && ctx.Err() != nil {
		_ = st.Close()
		err = ctx.Err()
	}
	if err != nil {
		return &ConnectionError{Name: c.name, Address: c.ep.Address(), Err: err}
	}
	if c.hello != nil {
		c.out <- c.hello.Command()
	}
	c.start(st)
	zap.L().Info("bcp connected", zap.String("name", c.name), zap.String("kind", c.kind.Name()),
		zap.String("codec", c.codec.Name()), zap.Stringer("raddr", st.RemoteAddr()))
	return nil
}

// start takes ownership of st. Used for dialed and accepted streams.
func (c *Client) start(st transport.Stream) {
	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
	if c.links != nil {
		c.links.Upsert(peers.LinkMeta{
			ID:         c.id,
			Name:       c.name,
			Kind:       c.kind.Name(),
			Codec:      c.codec.Name(),
			Inbound:    c.inbound,
			RemoteAddr: addrString(st.RemoteAddr()),
		})
	}
	if c.reg != nil {
		c.reg.Register(c)
		select {
		case <-c.closed:
			// shutdown ran before Register; its Deregister missed us.
			c.reg.Deregister(c)
		default:
		}
	}
	go c.writeLoop(st)
	go c.readLoop(st)
}

// Send queues cmd for the writer goroutine.
func (c *Client) Send(cmd protocol.Command) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.out <- cmd:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close says goodbye and shuts the link down. It does not count as the
// peer going away, so exit_on_close does not fire.
func (c *Client) Close() error {
	c.shutdown(false, nil)
	return nil
}

func (c *Client) writeLoop(st transport.Stream) {
	for {
		select {
		case <-c.closed:
			return
		case cmd := <-c.out:
			b, err := c.codec.Encode(cmd)
			if err != nil {
				zap.L().Warn("bcp encode failed", zap.String("client", c.id), zap.String("cmd", cmd.Name), zap.Error(err))
				continue
			}
			if err := st.SendBytes(b); err != nil {
				c.shutdown(true, err)
				return
			}
			if c.links != nil {
				c.links.RecordOut(c.id, len(b))
			}
		}
	}
}

func (c *Client) readLoop(st transport.Stream) {
	for {
		b, err := st.RecvBytes()
		if err != nil {
			c.shutdown(true, err)
			return
		}
		if len(b) == 0 {
			continue
		}
		if c.links != nil {
			c.links.RecordIn(c.id, len(b))
		}
		cmd, err := c.codec.Decode(b)
		if err != nil {
			zap.L().Warn("bcp decode failed", zap.String("client", c.id), zap.Error(err))
			continue
		}
		zap.L().Debug("bcp recv", zap.String("client", c.id), zap.String("cmd", cmd.Name))
		if c.handler != nil {
			c.handler.HandleCommand(c, cmd)
		}
	}
}

// shutdown runs once. remote is true when the peer or the link ended the
// session rather than a local Close.
func (c *Client) shutdown(remote bool, cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		st := c.st
		c.mu.Unlock()
		if st != nil && !remote {
			c.sayGoodbye(st)
		}
		close(c.closed)
		if st != nil {
			_ = st.Close()
		}
		if c.reg != nil {
			c.reg.Deregister(c)
		}
		if c.links != nil {
			c.links.MarkClosed(c.id)
		}
		if cause != nil && !isClosedErr(cause) {
			zap.L().Info("bcp link lost", zap.String("client", c.id), zap.Error(cause))
		} else {
			zap.L().Debug("bcp link closed", zap.String("client", c.id), zap.Bool("remote", remote))
		}
		if c.onClose != nil {
			c.onClose(c, remote, cause)
		}
	})
}

func (c *Client) sayGoodbye(st transport.Stream) {
	b, err := c.codec.Encode(protocol.NewCommand(protocol.CmdGoodbye, nil))
	if err != nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_ = st.SendBytes(b)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(goodbyeTimeout):
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

package transport

import (
	"context"
	"net"
	"strconv"

	"bcphub/pkg/protocol"
	"bcphub/pkg/protocol/stream"
)

// Built-in kind names. Lookups are case-insensitive; see pkg/transports for aliases.
const (
	KindTCP       = "tcp"
	KindWebSocket = "ws"
	KindQUIC      = "quic"
	KindMem       = "mem"
	KindWinPipe   = "winpipe"
)

// Endpoint addresses one side of a link.
type Endpoint struct {
	Host string
	Port int
	// Framing is chosen by the codec; message-oriented kinds may ignore it.
	Framing stream.Framing
	// Options carries kind-specific settings from the config's extra keys.
	Options map[string]any
}

// Address joins host and port. The winpipe kind uses Host alone.
func (e Endpoint) Address() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }

// Option returns a string option or def.
func (e Endpoint) Option(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Stream is a bidirectional frame stream.
// Exactly one reader goroutine is expected; SendBytes may be called concurrently.
type Stream interface {
	// SendBytes sends one frame.
	SendBytes([]byte) error
	// RecvBytes receives the next frame.
	RecvBytes() ([]byte, error)
	RemoteAddr() net.Addr
	Close() error
}

// Listener accepts inbound streams.
type Listener interface {
	// Accept blocks until an inbound stream is available or ctx is done.
	Accept(ctx context.Context) (Stream, error)
	// Addr returns the local listening address.
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Kind provides dialing/listening for one link type.
type Kind interface {
	Name() string
	// Dial creates an outbound stream.
	Dial(ctx context.Context, ep Endpoint) (Stream, error)
	// Listen binds ep and starts accepting inbound streams.
	Listen(ctx context.Context, ep Endpoint) (Listener, error)
}

// Peer is a registered BCP endpoint that commands can be broadcast to.
type Peer interface {
	// ID is unique per live peer.
	ID() string
	// Name is the configured connection name or the accepting server id.
	Name() string
	// Send queues a command for asynchronous delivery.
	Send(protocol.Command) error
}

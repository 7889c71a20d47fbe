// Package stream frames BCP messages over byte streams.
package stream

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
)

// Framing selects how messages are delimited on a byte stream.
type Framing int

const (
	// Line frames are newline terminated (BCP text format).
	Line Framing = iota
	// LengthPrefixed frames carry a u32 LE length header (binary codecs).
	LengthPrefixed
)

func (f Framing) String() string {
	switch f {
	case Line:
		return "line"
	case LengthPrefixed:
		return "length-prefixed"
	default:
		return "unknown"
	}
}

// MaxFrame bounds a single frame in either framing.
const MaxFrame = 1 << 24

// ErrFrameTooLarge is returned when a peer announces or sends an oversized frame.
var ErrFrameTooLarge = errors.New("stream: frame too large")

// Conn wraps an io.ReadWriteCloser to send/receive frames.
// Exactly one reader goroutine is expected; writes are serialized.
type Conn struct {
	mu      sync.Mutex
	rwc     io.ReadWriteCloser
	br      *bufio.Reader
	bw      *bufio.Writer
	framing Framing
	remote  net.Addr
}

// New wraps rwc; remote may be nil.
func New(rwc io.ReadWriteCloser, f Framing, remote net.Addr) *Conn {
	return &Conn{rwc: rwc, br: bufio.NewReader(rwc), bw: bufio.NewWriter(rwc), framing: f, remote: remote}
}

// NewNetConn wraps a net.Conn and records its remote address.
func NewNetConn(c net.Conn, f Framing) *Conn { return New(c, f, c.RemoteAddr()) }

func (c *Conn) Framing() Framing      { return c.framing }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }
func (c *Conn) Close() error         { return c.rwc.Close() }

// SendBytes writes one frame.
func (c *Conn) SendBytes(b []byte) error {
	if len(b) > MaxFrame {
		return ErrFrameTooLarge
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.framing {
	case LengthPrefixed:
		var lenbuf [4]byte
		binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
		if _, err := c.bw.Write(lenbuf[:]); err != nil {
			return err
		}
		if _, err := c.bw.Write(b); err != nil {
			return err
		}
	default:
		if bytes.IndexByte(b, '\n') >= 0 {
			return errors.New("stream: line frame contains newline")
		}
		if _, err := c.bw.Write(b); err != nil {
			return err
		}
		if err := c.bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return c.bw.Flush()
}

// RecvBytes reads the next frame. Line frames are returned without the
// trailing CR/LF; blank lines come back as empty frames.
func (c *Conn) RecvBytes() ([]byte, error) {
	if c.framing == LengthPrefixed {
		var lenbuf [4]byte
		if _, err := io.ReadFull(c.br, lenbuf[:]); err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(lenbuf[:])
		if n > MaxFrame {
			return nil, ErrFrameTooLarge
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.br, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}

	var line []byte
	for {
		chunk, err := c.br.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxFrame {
			return nil, ErrFrameTooLarge
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			// final unterminated line
			break
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

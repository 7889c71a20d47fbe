package stream

import (
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T, f Framing) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca, cb := NewNetConn(a, f), NewNetConn(b, f)
	t.Cleanup(func() { _ = ca.Close(); _ = cb.Close() })
	return ca, cb
}

func TestLineFraming(t *testing.T) {
	a, b := pipe(t, Line)
	go func() {
		_ = a.SendBytes([]byte("hello?version=1.1"))
		_ = a.SendBytes([]byte(""))
		_ = a.SendBytes([]byte("ping"))
	}()
	for _, want := range []string{"hello?version=1.1", "", "ping"} {
		got, err := b.RecvBytes()
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
	require.Error(t, a.SendBytes([]byte("a\nb")))
}

func TestLengthPrefixedFraming(t *testing.T) {
	a, b := pipe(t, LengthPrefixed)
	payload := []byte{0x00, '\n', 0xff, 0x10}
	go func() { _ = a.SendBytes(payload) }()
	got, err := b.RecvBytes()
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, LengthPrefixed, b.Framing())
}

type rwc struct {
	io.Reader
	io.Writer
}

func (rwc) Close() error { return nil }

func TestLineFramingCRLFAndUnterminated(t *testing.T) {
	c := New(rwc{Reader: strings.NewReader("ping\r\nmonitor_start"), Writer: io.Discard}, Line, nil)
	got, err := c.RecvBytes()
	require.NoError(t, err)
	require.Equal(t, "ping", string(got))
	got, err = c.RecvBytes()
	require.NoError(t, err)
	require.Equal(t, "monitor_start", string(got))
	_, err = c.RecvBytes()
	require.ErrorIs(t, err, io.EOF)
	require.Nil(t, c.RemoteAddr())
}

package quic

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bcphub/pkg/protocol/stream"
	"bcphub/pkg/transport"
)

func TestQUICRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tr := New()
	l, err := tr.Listen(ctx, transport.Endpoint{Host: "127.0.0.1", Framing: stream.LengthPrefixed})
	require.NoError(t, err)
	defer l.Close()

	port := l.Addr().(*net.UDPAddr).Port
	cli, err := tr.Dial(ctx, transport.Endpoint{Host: "127.0.0.1", Port: port, Framing: stream.LengthPrefixed})
	require.NoError(t, err)
	defer cli.Close()

	// the preamble makes the stream visible before any frame is sent
	srv, err := l.Accept(ctx)
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, srv.SendBytes([]byte("hello?version=1.1")))
	got, err := cli.RecvBytes()
	require.NoError(t, err)
	require.Equal(t, "hello?version=1.1", string(got))
}

package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bcphub/pkg/protocol/stream"
	"bcphub/pkg/transport"
)

func TestDialAcceptLoopback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr := New()
	l, err := tr.Listen(ctx, transport.Endpoint{Host: "127.0.0.1", Framing: stream.Line})
	require.NoError(t, err)
	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port
	cli, err := tr.Dial(ctx, transport.Endpoint{Host: "127.0.0.1", Port: port, Framing: stream.Line})
	require.NoError(t, err)
	defer cli.Close()

	srv, err := l.Accept(ctx)
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, cli.SendBytes([]byte("hello?version=1.1")))
	got, err := srv.RecvBytes()
	require.NoError(t, err)
	require.Equal(t, "hello?version=1.1", string(got))

	require.NoError(t, srv.SendBytes([]byte("pong")))
	got, err = cli.RecvBytes()
	require.NoError(t, err)
	require.Equal(t, "pong", string(got))
}

func TestListenerCloseUnblocksAccept(t *testing.T) {
	l, err := New().Listen(context.Background(), transport.Endpoint{Host: "127.0.0.1"})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background())
		done <- err
	}()
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not return after close")
	}
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = New().Dial(ctx, transport.Endpoint{Host: "127.0.0.1", Port: port})
	require.Error(t, err)
}

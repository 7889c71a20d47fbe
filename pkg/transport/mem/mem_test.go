package mem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bcphub/pkg/protocol/stream"
	"bcphub/pkg/transport"
)

func TestMemRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr := New()
	l, err := tr.Listen(ctx, transport.Endpoint{Host: "display", Framing: stream.LengthPrefixed})
	require.NoError(t, err)
	require.Equal(t, "display:0", l.Addr().String())

	_, err = tr.Listen(ctx, transport.Endpoint{Host: "display"})
	require.Error(t, err)

	cli, err := tr.Dial(ctx, transport.Endpoint{Host: "display", Framing: stream.LengthPrefixed})
	require.NoError(t, err)
	srv, err := l.Accept(ctx)
	require.NoError(t, err)

	go func() { _ = cli.SendBytes([]byte("ball_start")) }()
	got, err := srv.RecvBytes()
	require.NoError(t, err)
	require.Equal(t, "ball_start", string(got))
	require.Equal(t, "display:0", cli.RemoteAddr().String())

	require.NoError(t, l.Close())
	_, err = tr.Dial(ctx, transport.Endpoint{Host: "display"})
	require.Error(t, err)

	l2, err := tr.Listen(ctx, transport.Endpoint{Host: "display"})
	require.NoError(t, err)
	require.NoError(t, l2.Close())
}

func TestMemDialUnknown(t *testing.T) {
	_, err := New().Dial(context.Background(), transport.Endpoint{Host: "nobody"})
	require.ErrorContains(t, err, "no such listener")
}

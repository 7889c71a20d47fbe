package bcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bcphub/pkg/config"
	"bcphub/pkg/events"
	"bcphub/pkg/phase"
	"bcphub/pkg/protocol"
	"bcphub/pkg/protocol/codec"
	"bcphub/pkg/protocol/stream"
	"bcphub/pkg/transport"
	"bcphub/pkg/transport/mem"
	"bcphub/pkg/transport/tcp"
	"bcphub/pkg/transports"
)

// blockingKind holds every dial and listen until release is closed, then fails.
type blockingKind struct {
	release chan struct{}
	mu      sync.Mutex
	ctxErrs []error
}

func (k *blockingKind) Name() string { return "slow" }

func (k *blockingKind) Dial(ctx context.Context, _ transport.Endpoint) (transport.Stream, error) {
	select {
	case <-k.release:
		return nil, errors.New("refused")
	case <-ctx.Done():
		k.mu.Lock()
		k.ctxErrs = append(k.ctxErrs, ctx.Err())
		k.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (k *blockingKind) Listen(ctx context.Context, _ transport.Endpoint) (transport.Listener, error) {
	select {
	case <-k.release:
		return nil, errors.New("bind failed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type recorder struct {
	mu        sync.Mutex
	evs       []events.Event
	connected chan struct{}
	once      sync.Once
}

func (r *recorder) names(name string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.evs {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	b     *BCP
	mem   *mem.Transport
	slow  *blockingKind
	rec   *recorder
	fatal chan string
}

func newFixture(t *testing.T, cfg config.BCPConfig) *fixture {
	t.Helper()
	f := &fixture{
		mem:   mem.New(),
		slow:  &blockingKind{release: make(chan struct{})},
		rec:   &recorder{connected: make(chan struct{})},
		fatal: make(chan string, 4),
	}
	kinds := transports.NewRegistry()
	kinds.Register(f.mem, "inproc")
	kinds.Register(tcp.New(), "tcpclient")
	kinds.Register(f.slow)

	bus := events.NewBus()
	bus.AddHandler("*", func(e events.Event) {
		f.rec.mu.Lock()
		f.rec.evs = append(f.rec.evs, e)
		f.rec.mu.Unlock()
		if e.Name == events.ClientsConnected {
			f.rec.once.Do(func() { close(f.rec.connected) })
		}
	})

	b, err := New(cfg, WithKinds(kinds), WithEvents(bus), WithFatalClose(func(name string) { f.fatal <- name }))
	require.NoError(t, err)
	f.b = b
	t.Cleanup(func() {
		b.StopServers()
		b.Close()
	})
	return f
}

func waitDone(t *testing.T, q *phase.Queue) {
	t.Helper()
	select {
	case <-q.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("phase did not complete")
	}
}

func recvLine(t *testing.T, st transport.Stream) string {
	t.Helper()
	b, err := st.RecvBytes()
	require.NoError(t, err)
	return string(b)
}

func TestNewRejectsUnresolvableSpecs(t *testing.T) {
	kinds := transports.NewRegistry()
	kinds.Register(mem.New())

	_, err := New(config.BCPConfig{Enabled: true, Connections: map[string]config.ConnectionSpec{
		"media": {Host: "localhost", Port: 5050, Type: "carrier_pigeon"},
	}}, WithKinds(kinds))
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "connections", cerr.Section)
	require.Equal(t, "media", cerr.Name)
	require.Equal(t, "type", cerr.Field)
	var uk transports.ErrUnknownKind
	require.ErrorAs(t, err, &uk)

	_, err = New(config.BCPConfig{Servers: map[string]config.ServerSpec{
		"display": {IP: "x", Port: 1, Type: "mem", Extra: map[string]any{"codec": "morse"}},
	}}, WithKinds(kinds))
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "codec", cerr.Field)

	// outbound specs are not resolved while the subsystem is disabled
	_, err = New(config.BCPConfig{Enabled: false, Connections: map[string]config.ConnectionSpec{
		"media": {Host: "localhost", Port: 5050, Type: "carrier_pigeon"},
	}}, WithKinds(kinds))
	require.NoError(t, err)
}

func TestSetupConnectionsWithoutSpecsTakesNoTicket(t *testing.T) {
	for name, cfg := range map[string]config.BCPConfig{
		"empty":    {Enabled: true},
		"disabled": {Enabled: false, Connections: map[string]config.ConnectionSpec{"media": {Host: "display", Type: "mem"}}},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, cfg)
			q := phase.NewQueue()
			require.NoError(t, f.b.SetupConnections(context.Background(), q))
			require.Equal(t, 0, q.Pending())
			require.Empty(t, f.rec.names(events.ConnectionAttempt))
			require.Empty(t, f.rec.names(events.ClientsConnected))
		})
	}
}

func TestSetupConnectionsWaitsForEveryAttempt(t *testing.T) {
	f := newFixture(t, config.BCPConfig{Enabled: true, Hello: config.HelloConfig{Disabled: true}, Connections: map[string]config.ConnectionSpec{
		"good":   {Host: "display", Port: 5051, Type: "inproc"},
		"slow":   {Host: "10.0.0.9", Port: 5050, Type: "slow"},
		"nobody": {Host: "ghost", Port: 1, Type: "mem"},
	}})
	l, err := f.mem.Listen(context.Background(), transport.Endpoint{Host: "display", Port: 5051})
	require.NoError(t, err)
	defer l.Close()

	q := phase.NewQueue()
	require.NoError(t, f.b.SetupConnections(context.Background(), q))
	require.Equal(t, 1, q.Pending())

	attempts := f.rec.names(events.ConnectionAttempt)
	require.Len(t, attempts, 3)
	require.Equal(t, map[string]any{"name": "good", "host": "display", "port": 5051}, attempts[0].Data)

	require.Eventually(t, func() bool { return f.b.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	select {
	case <-q.Done():
		t.Fatal("phase completed while an attempt was pending")
	case <-f.rec.connected:
		t.Fatal("clients_connected posted early")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.slow.release)
	waitDone(t, q)
	<-f.rec.connected
	require.Len(t, f.rec.names(events.ClientsConnected), 1)
	require.NotNil(t, f.b.Registry().Get("good"))
	require.Nil(t, f.b.Registry().Get("slow"))
	require.Nil(t, f.b.Registry().Get("nobody"))
}

func TestSetupServersKeepsOnlyStarted(t *testing.T) {
	f := newFixture(t, config.BCPConfig{Servers: map[string]config.ServerSpec{
		"display": {IP: "hub", Port: 1, Type: "mem"},
		"taken":   {IP: "hub", Port: 2, Type: "mem"},
		"slow":    {IP: "hub", Port: 3, Type: "slow"},
	}})
	l, err := f.mem.Listen(context.Background(), transport.Endpoint{Host: "hub", Port: 2})
	require.NoError(t, err)
	defer l.Close()

	q := phase.NewQueue()
	require.NoError(t, f.b.SetupServers(context.Background(), q))
	require.Equal(t, 1, q.Pending())
	close(f.slow.release)
	waitDone(t, q)

	servers := f.b.Servers()
	require.Len(t, servers, 1)
	require.Equal(t, "display", servers[0].ID())
	require.Equal(t, "hub:1", servers[0].Addr().String())
}

func TestSetupServersWithoutSpecsTakesNoTicket(t *testing.T) {
	f := newFixture(t, config.BCPConfig{Enabled: true})
	q := phase.NewQueue()
	require.NoError(t, f.b.SetupServers(context.Background(), q))
	require.Equal(t, 0, q.Pending())
	require.Empty(t, f.b.Servers())
}

func startServer(t *testing.T, f *fixture) transport.Stream {
	t.Helper()
	q := phase.NewQueue()
	require.NoError(t, f.b.SetupServers(context.Background(), q))
	waitDone(t, q)
	require.Len(t, f.b.Servers(), 1)

	st, err := f.mem.Dial(context.Background(), transport.Endpoint{Host: "hub", Port: 5051, Framing: stream.Line})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.Eventually(t, func() bool { return f.b.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	return st
}

func TestSendReachesAcceptedClients(t *testing.T) {
	f := newFixture(t, config.BCPConfig{Servers: map[string]config.ServerSpec{"display": {IP: "hub", Port: 5051, Type: "mem"}}})
	st := startServer(t, f)

	peer := f.b.Registry().List()[0]
	require.Equal(t, "display", peer.Name())
	require.Regexp(t, `^display/[0-9a-f-]{36}$`, peer.ID())

	f.b.Send("Ball_Start", map[string]any{"player": 1})
	require.Equal(t, "ball_start?player=int%3A1", recvLine(t, st))
}

func TestInterfaceAnswersProtocolCommands(t *testing.T) {
	f := newFixture(t, config.BCPConfig{
		Hello:   config.HelloConfig{ControllerName: "bcphub"},
		Servers: map[string]config.ServerSpec{"display": {IP: "hub", Port: 5051, Type: "mem"}},
	})
	got := make(chan protocol.Command, 1)
	f.b.Interface().RegisterCommand("Trigger", func(_ *Client, cmd protocol.Command) { got <- cmd })
	st := startServer(t, f)

	require.NoError(t, st.SendBytes([]byte("hello?version=1.1&controller_name=mc")))
	require.Equal(t, "hello?controller_name=bcphub&version=1.1", recvLine(t, st))
	c := f.b.Registry().List()[0].(*Client)
	h, ok := c.RemoteHello()
	require.True(t, ok)
	require.Equal(t, "mc", h.ControllerName)
	link, ok := f.b.Peers().Get(c.ID())
	require.True(t, ok)
	require.Equal(t, "hello_rx", link.Handshake)
	require.True(t, link.Inbound)
	require.Equal(t, uint64(1), link.MsgsIn)

	require.NoError(t, st.SendBytes([]byte("ping?id=7")))
	require.Equal(t, "pong?id=7", recvLine(t, st))

	require.NoError(t, st.SendBytes([]byte("frobnicate")))
	require.Equal(t, "error?command=frobnicate&message=unknown+command", recvLine(t, st))

	require.NoError(t, st.SendBytes([]byte("trigger?name=slam_tilt")))
	cmd := <-got
	require.Equal(t, "slam_tilt", cmd.GetString("name", ""))

	require.NoError(t, st.SendBytes([]byte("hello?version=2.0")))
	require.Contains(t, recvLine(t, st), "error?command=hello&message=bcp+version+mismatch")

	require.NoError(t, st.SendBytes([]byte("goodbye")))
	require.Eventually(t, func() bool { return len(f.rec.names(events.ClientDisconnected)) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 0, f.b.Registry().Len())
	link, _ = f.b.Peers().Get(c.ID())
	require.False(t, link.Connected)
}

func TestOutboundHelloAndExitOnClose(t *testing.T) {
	f := newFixture(t, config.BCPConfig{Enabled: true, Connections: map[string]config.ConnectionSpec{
		"media": {Host: "mc", Port: 5050, Type: "mem", ExitOnClose: true},
	}})
	l, err := f.mem.Listen(context.Background(), transport.Endpoint{Host: "mc", Port: 5050})
	require.NoError(t, err)
	defer l.Close()

	q := phase.NewQueue()
	require.NoError(t, f.b.SetupConnections(context.Background(), q))
	st, err := l.Accept(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hello?version=1.1", recvLine(t, st))
	waitDone(t, q)
	require.Equal(t, 1, f.b.Registry().Len())

	require.NoError(t, st.Close())
	select {
	case name := <-f.fatal:
		require.Equal(t, "media", name)
	case <-time.After(2 * time.Second):
		t.Fatal("exit_on_close hook not called")
	}
	require.Eventually(t, func() bool { return f.b.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "media", f.rec.names(events.ClientDisconnected)[0].Data["name"])
}

func TestCloseCancelsInFlightAttempts(t *testing.T) {
	f := newFixture(t, config.BCPConfig{Enabled: true, Connections: map[string]config.ConnectionSpec{
		"slow": {Host: "10.0.0.9", Port: 5050, Type: "slow"},
	}})
	q := phase.NewQueue()
	require.NoError(t, f.b.SetupConnections(context.Background(), q))
	require.Equal(t, 1, q.Pending())

	f.b.Close()
	waitDone(t, q)
	f.slow.mu.Lock()
	require.Len(t, f.slow.ctxErrs, 1)
	f.slow.mu.Unlock()
	require.ErrorIs(t, f.b.SetupConnections(context.Background(), phase.NewQueue()), ErrClosed)
}

func TestStopServersKeepsAcceptedClients(t *testing.T) {
	f := newFixture(t, config.BCPConfig{Servers: map[string]config.ServerSpec{"display": {IP: "hub", Port: 5051, Type: "mem"}}})
	st := startServer(t, f)

	f.b.StopServers()
	require.Empty(t, f.b.Servers())
	_, err := f.mem.Dial(context.Background(), transport.Endpoint{Host: "hub", Port: 5051})
	require.Error(t, err)

	f.b.Send("mode_start", map[string]any{"name": "attract"})
	require.Equal(t, "mode_start?name=attract", recvLine(t, st))

	go f.b.Close()
	require.Equal(t, "goodbye", recvLine(t, st))
	require.Eventually(t, func() bool { return f.b.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestCloseStopsLiveServers(t *testing.T) {
	f := newFixture(t, config.BCPConfig{Servers: map[string]config.ServerSpec{"display": {IP: "hub", Port: 5051, Type: "mem"}}})
	st := startServer(t, f)

	go f.b.Close()
	require.Equal(t, "goodbye", recvLine(t, st))
	require.Eventually(t, func() bool { return len(f.b.Servers()) == 0 }, 2*time.Second, 5*time.Millisecond)
	_, err := f.mem.Dial(context.Background(), transport.Endpoint{Host: "hub", Port: 5051})
	require.Error(t, err)
	require.Eventually(t, func() bool { return f.b.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

// deadStream fails every read and write at once.
type deadStream struct{}

func (deadStream) SendBytes([]byte) error     { return net.ErrClosed }
func (deadStream) RecvBytes() ([]byte, error) { return nil, net.ErrClosed }
func (deadStream) RemoteAddr() net.Addr       { return nil }
func (deadStream) Close() error               { return nil }

func TestClientOnDeadStreamLeavesRegistry(t *testing.T) {
	reg := transport.NewRegistry()
	for i := 0; i < 500; i++ {
		c := newClient(clientConfig{
			id:    "display",
			name:  "display",
			kind:  mem.New(),
			codec: codec.Line(),
			reg:   reg,
		})
		c.start(deadStream{})
		select {
		case <-c.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("client did not close")
		}
		require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond, "iteration %d", i)
	}
}

func TestAttachRunsWithinBootPhases(t *testing.T) {
	f := newFixture(t, config.BCPConfig{
		Enabled:     false,
		Connections: map[string]config.ConnectionSpec{"media": {Host: "mc", Port: 5050, Type: "mem"}},
		Servers:     map[string]config.ServerSpec{"display": {IP: "hub", Port: 5051, Type: "mem"}},
	})
	seq := phase.NewSequencer()
	f.b.Attach(seq)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, seq.Run(ctx))
	require.Empty(t, f.rec.names(events.ConnectionAttempt))
	require.Len(t, f.b.Servers(), 1)

	require.NoError(t, seq.Shutdown(ctx))
	require.Empty(t, f.b.Servers())
}

func TestLoopbackTCPBetweenTwoHubs(t *testing.T) {
	srv := newFixture(t, config.BCPConfig{Servers: map[string]config.ServerSpec{"hub": {IP: "127.0.0.1", Port: 0, Type: "tcp"}}})
	q := phase.NewQueue()
	require.NoError(t, srv.b.SetupServers(context.Background(), q))
	waitDone(t, q)
	port := srv.b.Servers()[0].Addr().(*net.TCPAddr).Port

	cli := newFixture(t, config.BCPConfig{Enabled: true, Connections: map[string]config.ConnectionSpec{
		"hub": {Host: "127.0.0.1", Port: port, Type: "TcpClient"},
	}})
	got := make(chan protocol.Command, 1)
	cli.b.Interface().RegisterCommand("player_added", func(_ *Client, cmd protocol.Command) { got <- cmd })

	q = phase.NewQueue()
	require.NoError(t, cli.b.SetupConnections(context.Background(), q))
	waitDone(t, q)
	require.Equal(t, 1, cli.b.Registry().Len())

	// the server answers the client's hello once it is accepted
	require.Eventually(t, func() bool {
		c, ok := cli.b.Registry().Get("hub").(*Client)
		if !ok {
			return false
		}
		_, ok = c.RemoteHello()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	srv.b.Send("player_added", map[string]any{"player_num": 2})
	select {
	case cmd := <-got:
		require.Equal(t, 2, cmd.Params["player_num"])
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}
}

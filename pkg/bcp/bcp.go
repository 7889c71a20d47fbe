// Package bcp connects the controller to its BCP companions. BCP sets up
// the configured outbound connections and inbound servers inside the boot
// phases, keeps live links in a transport registry and broadcasts commands
// to them.
package bcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bcphub/pkg/config"
	"bcphub/pkg/events"
	"bcphub/pkg/handshake"
	"bcphub/pkg/peers"
	"bcphub/pkg/phase"
	"bcphub/pkg/protocol"
	"bcphub/pkg/protocol/codec"
	"bcphub/pkg/transport"
	"bcphub/pkg/transports"
)

type connPlan struct {
	spec  config.ConnectionSpec
	kind  transport.Kind
	codec codec.Codec
}

type serverPlan struct {
	spec  config.ServerSpec
	kind  transport.Kind
	codec codec.Codec
}

// BCP orchestrates connection and server setup and owns the registry.
type BCP struct {
	cfg    config.BCPConfig
	opts   options
	hello  handshake.Hello
	iface  *Interface
	reg    *transport.Registry
	events *events.Bus

	conns   []connPlan
	servers []serverPlan

	mu       sync.Mutex
	live     []*Server
	inflight map[int]context.CancelFunc
	nextID   int
	closed   bool
	wg       sync.WaitGroup
}

// New resolves every declared transport type and codec. Nothing is dialed
// or bound yet; an unresolvable spec yields a *ConfigurationError.
func New(cfg config.BCPConfig, opts ...Option) (*BCP, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.kinds == nil {
		o.kinds = transports.Default()
	}
	if o.codecs == nil {
		o.codecs = codec.NewRegistry()
	}
	if o.events == nil {
		o.events = events.NewBus()
	}
	if o.registry == nil {
		o.registry = transport.NewRegistry()
	}
	if o.links == nil {
		o.links = peers.NewStore(peers.DefaultRetain)
	}

	cfg = copyConfig(cfg)
	if err := cfg.Normalize(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	hello := handshake.FromConfig(cfg.Hello)
	b := &BCP{
		cfg:      cfg,
		opts:     o,
		hello:    hello,
		iface:    NewInterface(hello),
		reg:      o.registry,
		events:   o.events,
		inflight: make(map[int]context.CancelFunc),
	}

	if cfg.Enabled {
		for _, s := range cfg.SortedConnections() {
			k, c, err := b.resolve("connections", s.Name, s.Type, s.Option("codec", ""))
			if err != nil {
				return nil, err
			}
			b.conns = append(b.conns, connPlan{spec: s, kind: k, codec: c})
		}
	}
	for _, s := range cfg.SortedServers() {
		k, c, err := b.resolve("servers", s.ID, s.Type, s.Option("codec", ""))
		if err != nil {
			return nil, err
		}
		b.servers = append(b.servers, serverPlan{spec: s, kind: k, codec: c})
	}
	return b, nil
}

func (b *BCP) resolve(section, name, typ, codecName string) (transport.Kind, codec.Codec, error) {
	k, err := b.opts.kinds.Resolve(typ)
	if err != nil {
		return nil, nil, &ConfigurationError{Section: section, Name: name, Field: "type", Err: err}
	}
	c, err := b.opts.codecs.Lookup(codecName)
	if err != nil {
		return nil, nil, &ConfigurationError{Section: section, Name: name, Field: "codec", Err: err}
	}
	return k, c, nil
}

func copyConfig(c config.BCPConfig) config.BCPConfig {
	out := c
	out.Connections = make(map[string]config.ConnectionSpec, len(c.Connections))
	for k, v := range c.Connections {
		out.Connections[k] = v
	}
	out.Servers = make(map[string]config.ServerSpec, len(c.Servers))
	for k, v := range c.Servers {
		out.Servers[k] = v
	}
	return out
}

// Registry returns the live transport registry.
func (b *BCP) Registry() *transport.Registry { return b.reg }

// Peers returns the link table.
func (b *BCP) Peers() *peers.Store { return b.opts.links }

// Interface returns the shared command handler.
func (b *BCP) Interface() *Interface { return b.iface }

// Events returns the notification bus.
func (b *BCP) Events() *events.Bus { return b.events }

// Servers returns the servers that started successfully.
func (b *BCP) Servers() []*Server {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Server(nil), b.live...)
}

// Attach hooks setup and teardown into the boot sequence.
func (b *BCP) Attach(seq *phase.Sequencer) {
	if b.cfg.Enabled {
		seq.On(phase.InitPhase2, "bcp_connections", b.SetupConnections)
	}
	seq.On(phase.InitPhase4, "bcp_servers", b.SetupServers)
	seq.On(phase.Shutdown, "bcp", func(context.Context, phase.Gate) error {
		b.StopServers()
		b.Close()
		return nil
	})
}

// SetupConnections starts one connect attempt per configured connection
// and holds a single ticket on gate until all of them have resolved. It
// returns without waiting. Nothing is taken from gate when the subsystem is
// disabled or no connections are configured.
func (b *BCP) SetupConnections(ctx context.Context, gate phase.Gate) error {
	if !b.cfg.Enabled || len(b.conns) == 0 {
		return nil
	}
	wctx, done, ok := b.track(ctx)
	if !ok {
		return ErrClosed
	}
	ticket := gate.Wait()

	var g errgroup.Group
	for _, p := range b.conns {
		p := p
		b.events.Post(events.ConnectionAttempt, map[string]any{"name": p.spec.Name, "host": p.spec.Host, "port": p.spec.Port})
		c := newClient(clientConfig{
			id:      p.spec.Name,
			name:    p.spec.Name,
			kind:    p.kind,
			codec:   p.codec,
			ep:      endpoint(p.spec.Host, p.spec.Port, p.codec, p.spec.Extra),
			reg:     b.reg,
			links:   b.opts.links,
			handler: b.iface,
			hello:   b.helloFor(),
			timeout: time.Duration(b.opts.net.ConnectTimeoutMS) * time.Millisecond,
			queue:   b.opts.net.SendQueue,
			onClose: b.clientClosed,
		})
		c.SetExitOnClose(p.spec.ExitOnClose)
		g.Go(func() error {
			if err := c.Connect(wctx); err != nil {
				zap.L().Error("bcp connect failed", zap.String("name", p.spec.Name), zap.Error(err))
			}
			return nil
		})
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		_ = g.Wait()
		done()
		ticket.Release()
		zap.L().Info("bcp connections resolved", zap.Int("attempted", len(b.conns)), zap.Int("live", b.reg.Len()))
		b.events.Post(events.ClientsConnected, nil)
	}()
	return nil
}

// SetupServers starts every configured server and holds a single ticket
// on gate until all starts have resolved. Only servers that started are
// kept. Runs regardless of Enabled.
func (b *BCP) SetupServers(ctx context.Context, gate phase.Gate) error {
	if len(b.servers) == 0 {
		return nil
	}
	wctx, done, ok := b.track(ctx)
	if !ok {
		return ErrClosed
	}
	ticket := gate.Wait()

	var g errgroup.Group
	for _, p := range b.servers {
		p := p
		s := &Server{
			spec: p.spec,
			kind: p.kind,
			ep:   endpoint(p.spec.IP, p.spec.Port, p.codec, p.spec.Extra),
		}
		s.accept = func(st transport.Stream) { b.acceptClient(p, st) }
		g.Go(func() error {
			if err := s.Start(wctx); err != nil {
				zap.L().Error("bcp server failed to start", zap.String("server", p.spec.ID), zap.Error(err))
				return nil
			}
			b.addServer(s)
			return nil
		})
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		_ = g.Wait()
		done()
		ticket.Release()
	}()
	return nil
}

func (b *BCP) acceptClient(p serverPlan, st transport.Stream) {
	c := newClient(clientConfig{
		id:      p.spec.ID + "/" + uuid.NewString(),
		name:    p.spec.ID,
		inbound: true,
		kind:    p.kind,
		codec:   p.codec,
		ep:      endpoint(p.spec.IP, p.spec.Port, p.codec, p.spec.Extra),
		reg:     b.reg,
		links:   b.opts.links,
		handler: b.iface,
		queue:   b.opts.net.SendQueue,
		onClose: b.clientClosed,
	})
	c.start(st)
	zap.L().Info("bcp client accepted", zap.String("client", c.ID()), zap.Stringer("raddr", st.RemoteAddr()))
}

func (b *BCP) addServer(s *Server) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.Stop()
		return
	}
	b.live = append(b.live, s)
	b.mu.Unlock()
}

func (b *BCP) helloFor() *handshake.Hello {
	if b.cfg.Hello.Disabled {
		return nil
	}
	h := b.hello
	return &h
}

// track derives a cancellable context for in-flight setup work. Close
// cancels it; done releases the handle.
func (b *BCP) track(ctx context.Context) (context.Context, func(), bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, false
	}
	wctx, cancel := context.WithCancel(ctx)
	id := b.nextID
	b.nextID++
	b.inflight[id] = cancel
	return wctx, func() {
		cancel()
		b.mu.Lock()
		delete(b.inflight, id)
		b.mu.Unlock()
	}, true
}

func (b *BCP) clientClosed(c *Client, remote bool, _ error) {
	b.events.Post(events.ClientDisconnected, map[string]any{"name": c.Name()})
	if remote && c.ExitOnClose() {
		zap.L().Error("bcp connection with exit_on_close lost", zap.String("name", c.Name()))
		if b.opts.fatalClose != nil {
			b.opts.fatalClose(c.Name())
		}
	}
}

// Send broadcasts a command to every link registered at the time of the
// call. Failing links are logged and skipped.
func (b *BCP) Send(cmd string, params map[string]any) {
	c := protocol.NewCommand(cmd, params)
	n, err := b.reg.Broadcast(c)
	if err != nil {
		zap.L().Debug("bcp send partial", zap.String("cmd", c.Name), zap.Int("sent", n), zap.Error(err))
	}
}

// StopServers stops every live server and forgets them. Accepted clients
// stay connected until Close.
func (b *BCP) StopServers() {
	b.mu.Lock()
	live := b.live
	b.live = nil
	b.mu.Unlock()
	for _, s := range live {
		s.Stop()
	}
}

// Close cancels in-flight setup, stops live servers and closes every
// registered link once pending setup goroutines return. Servers started
// afterwards are stopped on arrival.
func (b *BCP) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, cancel := range b.inflight {
		cancel()
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.StopServers()
	var wg sync.WaitGroup
	for _, p := range b.reg.List() {
		if c, ok := p.(*Client); ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = c.Close()
			}()
		}
	}
	wg.Wait()
}

func endpoint(host string, port int, c codec.Codec, extra map[string]any) transport.Endpoint {
	return transport.Endpoint{Host: host, Port: port, Framing: c.Framing(), Options: extra}
}

package bcp

import (
	"bcphub/pkg/config"
	"bcphub/pkg/events"
	"bcphub/pkg/peers"
	"bcphub/pkg/protocol/codec"
	"bcphub/pkg/transport"
	"bcphub/pkg/transports"
)

type options struct {
	kinds      *transports.Registry
	codecs     *codec.Registry
	events     *events.Bus
	registry   *transport.Registry
	links      *peers.Store
	net        config.NetConfig
	fatalClose func(name string)
}

// Option configures a BCP.
type Option func(*options)

// WithKinds sets the transport type registry. Defaults to transports.Default().
func WithKinds(r *transports.Registry) Option { return func(o *options) { o.kinds = r } }

// WithCodecs sets the codec registry.
func WithCodecs(r *codec.Registry) Option { return func(o *options) { o.codecs = r } }

// WithEvents sets the bus BCP notifications are posted to.
func WithEvents(b *events.Bus) Option { return func(o *options) { o.events = b } }

// WithRegistry shares a transport registry with other components.
func WithRegistry(r *transport.Registry) Option { return func(o *options) { o.registry = r } }

// WithPeers records link metadata and counters in s.
func WithPeers(s *peers.Store) Option { return func(o *options) { o.links = s } }

// WithNet applies connect timeout and send queue settings.
func WithNet(n config.NetConfig) Option { return func(o *options) { o.net = n } }

// WithFatalClose is called with the connection name when an exit_on_close
// link is lost.
func WithFatalClose(fn func(name string)) Option { return func(o *options) { o.fatalClose = fn } }

// Package transports maps configuration type names to transport kinds.
package transports

import (
	"sort"
	"strings"
	"sync"

	"bcphub/pkg/transport"
	"bcphub/pkg/transport/mem"
	tquic "bcphub/pkg/transport/quic"
	ttcp "bcphub/pkg/transport/tcp"
	"bcphub/pkg/transport/ws"
)

// ErrUnknownKind is returned when a type name matches no registered kind.
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }

// Factory builds a kind on first use. Kinds that need platform support
// report their absence through the error.
type Factory func() (transport.Kind, error)

type entry struct {
	factory Factory
	kind    transport.Kind
	err     error
	built   bool
}

// Registry resolves type names (and their aliases) to kinds. Lookups are
// case-insensitive; a dotted name such as "mpf.core.bcp.bcp_socket_client.BCPClientSocket"
// resolves by its last segment.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	aliases map[string]string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry), aliases: make(map[string]string)}
}

// Register adds a ready kind under its own name plus aliases.
func (r *Registry) Register(k transport.Kind, aliases ...string) {
	r.add(k.Name(), &entry{kind: k, built: true}, aliases)
}

// RegisterFactory adds a lazily built kind.
func (r *Registry) RegisterFactory(name string, f Factory, aliases ...string) {
	r.add(name, &entry{factory: f}, aliases)
}

func (r *Registry) add(name string, e *entry, aliases []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = normalize(name)
	r.entries[name] = e
	r.aliases[name] = name
	for _, a := range aliases {
		r.aliases[normalize(a)] = name
	}
}

// Resolve returns the kind registered for name. It does no I/O.
func (r *Registry) Resolve(name string) (transport.Kind, error) {
	key := normalize(name)
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		if _, ok := r.lookupAlias(key); !ok {
			key = key[i+1:]
		}
	}
	canon, ok := r.lookupAlias(key)
	if !ok {
		return nil, ErrUnknownKind(name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[canon]
	if !e.built {
		e.kind, e.err = e.factory()
		e.built = true
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.kind, nil
}

func (r *Registry) lookupAlias(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.aliases[key]
	return c, ok
}

// Names lists canonical kind names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for n := range r.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

var sharedMem = mem.New()

// SharedMem is the process-wide in-memory kind used by Default.
func SharedMem() *mem.Transport { return sharedMem }

// Default returns a registry with every built-in kind. All registries from
// Default share one in-memory kind so listeners and dialers in the same
// process can meet.
func Default() *Registry {
	r := NewRegistry()
	r.RegisterFactory(transport.KindTCP, func() (transport.Kind, error) { return ttcp.New(), nil }, "tcpclient", "socket", "bcpclientsocket")
	r.RegisterFactory(transport.KindWebSocket, func() (transport.Kind, error) { return ws.New(), nil }, "websocket")
	r.RegisterFactory(transport.KindQUIC, func() (transport.Kind, error) { return tquic.New(), nil })
	r.Register(sharedMem, "inproc", "shared")
	r.RegisterFactory(transport.KindWinPipe, newWinPipeTransport, "pipe")
	return r
}

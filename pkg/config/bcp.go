package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// DefaultBCPVersion is the protocol version announced in hello commands.
const DefaultBCPVersion = "1.1"

// BCPConfig describes the BCP subsystem.
// Example YAML:
// bcp:
//   enabled: true
//   connections:
//     media:
//       host: 127.0.0.1
//       port: 5050
//       type: tcp
//       exit_on_close: true
//   servers:
//     local_display:
//       ip: 127.0.0.1
//       port: 5051
//       type: tcp
//       codec: bcp
//
// Either collection may be absent, empty or the scalar None.
type BCPConfig struct {
	// Enabled gates outbound connection setup. Servers start regardless.
	Enabled bool `mapstructure:"enabled"`

	// Connections maps a connection name to its outbound target
	Connections map[string]ConnectionSpec `mapstructure:"connections"`

	// Servers maps a server id to its listen address
	Servers map[string]ServerSpec `mapstructure:"servers"`

	// Hello is announced to companions after a connection is established
	Hello HelloConfig `mapstructure:"hello"`
}

// ConnectionSpec describes one outbound connection. Keys not listed here end
// up in Extra and are passed through to the transport (e.g. codec, path).
type ConnectionSpec struct {
	Name        string         `mapstructure:"-"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Type        string         `mapstructure:"type"`
	ExitOnClose bool           `mapstructure:"exit_on_close"`
	Extra       map[string]any `mapstructure:",remain"`
}

// ServerSpec describes one inbound listener.
type ServerSpec struct {
	ID    string         `mapstructure:"-"`
	IP    string         `mapstructure:"ip"`
	Port  int            `mapstructure:"port"`
	Type  string         `mapstructure:"type"`
	Extra map[string]any `mapstructure:",remain"`
}

// HelloConfig controls the hello command sent on connect.
type HelloConfig struct {
	// Disabled suppresses the hello command on outbound connections
	Disabled          bool   `mapstructure:"disabled"`
	Version           string `mapstructure:"version"`
	ControllerName    string `mapstructure:"controller_name"`
	ControllerVersion string `mapstructure:"controller_version"`
}

// NetConfig contains connection tuning options.
type NetConfig struct {
	// ConnectTimeoutMS bounds each outbound connect attempt (0 = no timeout)
	ConnectTimeoutMS int `mapstructure:"connect_timeout_ms"`
	// SendQueue is the per-transport outbound command buffer
	SendQueue int `mapstructure:"send_queue"`
}

// Address joins host and port.
func (c ConnectionSpec) Address() string { return joinAddr(c.Host, c.Port) }

// Option returns a string from Extra, or def.
func (c ConnectionSpec) Option(key, def string) string { return extraString(c.Extra, key, def) }

// Address joins bind address and port.
func (s ServerSpec) Address() string { return joinAddr(s.IP, s.Port) }

// Option returns a string from Extra, or def.
func (s ServerSpec) Option(key, def string) string { return extraString(s.Extra, key, def) }

// SortedConnections returns connection specs ordered by name.
func (c BCPConfig) SortedConnections() []ConnectionSpec {
	out := make([]ConnectionSpec, 0, len(c.Connections))
	for _, s := range c.Connections {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SortedServers returns server specs ordered by id.
func (c BCPConfig) SortedServers() []ServerSpec {
	out := make([]ServerSpec, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsNone reports whether a raw config value is the "None" sentinel that
// disables a collection.
func IsNone(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		return s == "" || s == "none" || s == "null"
	case bool:
		return !x
	default:
		return false
	}
}

// Normalize fills derived fields (names, ids, default type and bind
// address) and checks ports. Load calls it; programmatic configs should too.
func (c *BCPConfig) Normalize() error { return c.validate() }

func (c *BCPConfig) validate() error {
	for name, s := range c.Connections {
		s.Name = name
		s.Type = strings.TrimSpace(s.Type)
		if s.Type == "" {
			s.Type = "tcp"
		}
		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("bcp.connections.%s.port: out of range: %d", name, s.Port)
		}
		c.Connections[name] = s
	}
	for id, s := range c.Servers {
		s.ID = id
		s.Type = strings.TrimSpace(s.Type)
		if s.Type == "" {
			s.Type = "tcp"
		}
		if strings.TrimSpace(s.IP) == "" {
			s.IP = "127.0.0.1"
		}
		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("bcp.servers.%s.port: out of range: %d", id, s.Port)
		}
		c.Servers[id] = s
	}
	if strings.TrimSpace(c.Hello.Version) == "" {
		c.Hello.Version = DefaultBCPVersion
	}
	return nil
}

func joinAddr(host string, port int) string { return net.JoinHostPort(host, strconv.Itoa(port)) }

func extraString(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

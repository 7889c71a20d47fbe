package bcp

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"bcphub/pkg/handshake"
	"bcphub/pkg/protocol"
)

// CommandFunc handles one received command.
type CommandFunc func(c *Client, cmd protocol.Command)

// Interface is the command handler shared by every client. It answers the
// protocol-level commands itself and dispatches the rest to registered
// callbacks.
type Interface struct {
	local handshake.Hello

	mu   sync.RWMutex
	cmds map[string]CommandFunc
}

func NewInterface(local handshake.Hello) *Interface {
	return &Interface{local: local, cmds: make(map[string]CommandFunc)}
}

// RegisterCommand installs fn for name, replacing any previous callback.
func (i *Interface) RegisterCommand(name string, fn CommandFunc) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cmds[strings.ToLower(name)] = fn
}

// Commands lists the names with registered callbacks.
func (i *Interface) Commands() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.cmds))
	for n := range i.cmds {
		out = append(out, n)
	}
	return out
}

func (i *Interface) HandleCommand(c *Client, cmd protocol.Command) {
	switch cmd.Name {
	case protocol.CmdHello:
		i.hello(c, cmd)
	case protocol.CmdPing:
		params := map[string]any{}
		if v, ok := cmd.Get("id"); ok {
			params["id"] = v
		}
		reply(c, protocol.NewCommand(protocol.CmdPong, params))
	case protocol.CmdPong:
	case protocol.CmdGoodbye:
		c.shutdown(true, nil)
	case protocol.CmdError:
		zap.L().Warn("bcp peer reported error", zap.String("client", c.ID()), zap.String("message", cmd.GetString("message", "")), zap.String("command", cmd.GetString("command", "")))
	default:
		i.mu.RLock()
		fn := i.cmds[cmd.Name]
		i.mu.RUnlock()
		if fn == nil {
			zap.L().Warn("bcp unknown command", zap.String("client", c.ID()), zap.String("cmd", cmd.Name))
			reply(c, protocol.NewCommand(protocol.CmdError, map[string]any{"message": "unknown command", "command": cmd.Name}))
			return
		}
		fn(c, cmd)
	}
}

func (i *Interface) hello(c *Client, cmd protocol.Command) {
	remote, err := handshake.Parse(cmd)
	if err == nil {
		err = handshake.Check(i.local, remote)
	}
	if err != nil {
		zap.L().Warn("bcp hello rejected", zap.String("client", c.ID()), zap.Error(err))
		if c.links != nil {
			c.links.RecordHello(c.ID(), remote.Version, remote.ControllerName, false)
		}
		reply(c, protocol.NewCommand(protocol.CmdError, map[string]any{"message": err.Error(), "command": protocol.CmdHello}))
		return
	}
	c.setRemoteHello(remote)
	zap.L().Info("bcp hello", zap.String("client", c.ID()), zap.String("version", remote.Version),
		zap.String("controller", remote.ControllerName))
	// outbound links announced themselves on connect
	if c.Inbound() {
		reply(c, i.local.Command())
	}
}

func reply(c *Client, cmd protocol.Command) {
	if err := c.Send(cmd); err != nil {
		zap.L().Debug("bcp reply dropped", zap.String("client", c.ID()), zap.String("cmd", cmd.Name), zap.Error(err))
	}
}

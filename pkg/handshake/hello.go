// Package handshake builds and checks the BCP hello exchanged when a link
// comes up.
package handshake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bcphub/pkg/config"
	"bcphub/pkg/protocol"
)

// Hello is the identity a side announces on a new link.
type Hello struct {
	Version           string
	ControllerName    string
	ControllerVersion string
}

// ErrVersionMismatch is returned when the peer speaks an incompatible BCP version.
var ErrVersionMismatch = errors.New("bcp version mismatch")

// FromConfig fills unset fields with defaults.
func FromConfig(c config.HelloConfig) Hello {
	h := Hello{Version: c.Version, ControllerName: c.ControllerName, ControllerVersion: c.ControllerVersion}
	if h.Version == "" {
		h.Version = config.DefaultBCPVersion
	}
	return h
}

// Command renders h as a hello command.
func (h Hello) Command() protocol.Command {
	params := map[string]any{"version": h.Version}
	if h.ControllerName != "" {
		params["controller_name"] = h.ControllerName
	}
	if h.ControllerVersion != "" {
		params["controller_version"] = h.ControllerVersion
	}
	return protocol.NewCommand(protocol.CmdHello, params)
}

// Parse extracts a Hello from a received hello command.
func Parse(cmd protocol.Command) (Hello, error) {
	if cmd.Name != protocol.CmdHello {
		return Hello{}, fmt.Errorf("expected hello, got %q", cmd.Name)
	}
	h := Hello{
		Version:           cmd.GetString("version", ""),
		ControllerName:    cmd.GetString("controller_name", ""),
		ControllerVersion: cmd.GetString("controller_version", ""),
	}
	if h.Version == "" {
		return Hello{}, errors.New("hello without version")
	}
	return h, nil
}

// Check reports whether remote is compatible with local. Versions are
// compatible when their major numbers match and the remote minor is not
// newer than ours.
func Check(local, remote Hello) error {
	lmaj, lmin, err := split(local.Version)
	if err != nil {
		return err
	}
	rmaj, rmin, err := split(remote.Version)
	if err != nil {
		return err
	}
	if lmaj != rmaj || rmin > lmin {
		return fmt.Errorf("%w: local %s, remote %s", ErrVersionMismatch, local.Version, remote.Version)
	}
	return nil
}

func split(v string) (int, int, error) {
	maj, min, _ := strings.Cut(strings.TrimSpace(v), ".")
	a, err := strconv.Atoi(maj)
	if err != nil {
		return 0, 0, fmt.Errorf("bad bcp version %q", v)
	}
	if min == "" {
		return a, 0, nil
	}
	b, err := strconv.Atoi(min)
	if err != nil {
		return 0, 0, fmt.Errorf("bad bcp version %q", v)
	}
	return a, b, nil
}

package bcp

import (
	"errors"
	"fmt"
)

var (
	// ErrSendQueueFull is returned by Client.Send when the outbound queue is full.
	ErrSendQueueFull = errors.New("bcp: send queue full")
	// ErrClosed is returned when using a closed client.
	ErrClosed = errors.New("bcp: client closed")
)

// ConfigurationError reports a spec that cannot be set up at all, such as an
// unknown transport type or codec. It is fatal to the subsystem.
type ConfigurationError struct {
	Section string // "connections" or "servers"
	Name    string
	Field   string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("bcp config: %v", e.Err)
	}
	return fmt.Sprintf("bcp.%s.%s.%s: %v", e.Section, e.Name, e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionError reports a failed connect or listener start. It only
// affects the one spec.
type ConnectionError struct {
	Name    string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("bcp %s (%s): %v", e.Name, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

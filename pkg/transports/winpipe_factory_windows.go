//go:build windows

package transports

import (
	"bcphub/pkg/transport"
	"bcphub/pkg/transport/winpipe"
)

func newWinPipeTransport() (transport.Kind, error) { return winpipe.New(), nil }

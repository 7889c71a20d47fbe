//go:build !windows

package transports

import (
	"fmt"

	"bcphub/pkg/transport"
)

func newWinPipeTransport() (transport.Kind, error) {
	return nil, fmt.Errorf("winpipe transport is not supported on this platform")
}

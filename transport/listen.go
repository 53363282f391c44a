// Package transport accepts host connections and serves one framed
// request per connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/mdlayher/vsock"
)

// Supported networks.
const (
	NetworkVsock = "vsock"
	NetworkTCP   = "tcp"
	NetworkUnix  = "unix"
)

// DefaultPort is the well-known guest port the host connects to.
const DefaultPort = 5050

// ValidNetwork reports whether network is supported.
func ValidNetwork(network string) bool {
	switch network {
	case NetworkVsock, NetworkTCP, NetworkUnix:
		return true
	}
	return false
}

// Listen binds the agent's endpoint.
//
// For vsock, address is ignored and the listener accepts on port from any
// context id. For tcp, address is the host part. For unix, address is the
// socket path; a stale socket file from a previous run is removed.
func Listen(network, address string, port uint32) (net.Listener, error) {
	switch network {
	case NetworkVsock:
		l, err := vsock.Listen(port, nil)
		if err != nil {
			return nil, fmt.Errorf("vsock listen on port %d: %w", port, err)
		}
		return l, nil
	case NetworkTCP:
		addr := net.JoinHostPort(address, strconv.FormatUint(uint64(port), 10))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tcp listen on %s: %w", addr, err)
		}
		return l, nil
	case NetworkUnix:
		if address == "" {
			return nil, errors.New("unix listen: empty socket path")
		}
		if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", address, err)
		}
		l, err := net.Listen("unix", address)
		if err != nil {
			return nil, fmt.Errorf("unix listen on %s: %w", address, err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
}

// Dialer opens connections to an agent. Used by the debug client.
type Dialer struct {
	Network string
	// Address is the tcp host or unix socket path.
	Address string
	// ContextID is the guest CID for vsock.
	ContextID uint32
	Port      uint32
	// Timeout bounds connection establishment. Zero means no standalone
	// timeout; only the context deadline applies.
	Timeout time.Duration
}

// Dial connects to the agent.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	switch d.Network {
	case NetworkVsock:
		conn, err := vsock.Dial(d.ContextID, d.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("vsock dial %d:%d: %w", d.ContextID, d.Port, err)
		}
		return conn, nil
	case NetworkTCP, NetworkUnix:
		addr := d.Address
		if d.Network == NetworkTCP {
			addr = net.JoinHostPort(d.Address, strconv.FormatUint(uint64(d.Port), 10))
		}
		dialer := &net.Dialer{Timeout: d.Timeout}
		conn, err := dialer.DialContext(ctx, d.Network, addr)
		if err != nil {
			return nil, fmt.Errorf("%s dial %s: %w", d.Network, addr, err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported network %q", d.Network)
	}
}

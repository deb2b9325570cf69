package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPDialer performs a bare TCP reachability probe, used as a cheap
// preflight before handing a repository to the rsync child process
// (rsync's default port is 873).
type TCPDialer struct {
	// Address is the TCP address to connect to (host:port).
	Address string

	// Timeout is the connection timeout (default: 5 seconds).
	Timeout time.Duration
}

// NewTCPDialer creates a new TCP dial primitive.
func NewTCPDialer(address string) *TCPDialer {
	return &TCPDialer{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Dial attempts a TCP connection and reports whether it succeeded.
func (t *TCPDialer) Dial(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Protocol reports this dialer's transport.
func (t *TCPDialer) Protocol() Protocol {
	return ProtocolRsync
}

// WithTimeout sets the connection timeout.
func (t *TCPDialer) WithTimeout(timeout time.Duration) *TCPDialer {
	t.Timeout = timeout
	return t
}

package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
)

// TCPProber treats a host as reachable when any of its ports completes a TCP
// handshake or actively refuses the connection.
type TCPProber struct {
	// Ports are dialled in parallel when the address carries no port.
	Ports  []int
	dialer net.Dialer
}

// NewTCPProber returns a prober dialling the given fallback ports.
func NewTCPProber(ports []int) *TCPProber {
	if len(ports) == 0 {
		ports = []int{80, 443, 22}
	}
	return &TCPProber{Ports: ports}
}

// Probe dials the address and returns nil on the first answering port.
func (p *TCPProber) Probe(ctx context.Context, address string) error {
	addrs := p.candidates(address)
	if len(addrs) == 0 {
		return errors.New("empty address")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(addrs))
	for _, addr := range addrs {
		go func(addr string) {
			errs <- p.dial(ctx, addr)
		}(addr)
	}

	var last error
	for range addrs {
		err := <-errs
		if err == nil {
			return nil
		}
		last = err
	}
	return last
}

func (p *TCPProber) dial(ctx context.Context, addr string) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil
		}
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	_ = conn.Close()
	return nil
}

func (p *TCPProber) candidates(address string) []string {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	if host, port, err := net.SplitHostPort(address); err == nil && host != "" && port != "" {
		return []string{address}
	}

	host := strings.Trim(address, "[]")
	out := make([]string, 0, len(p.Ports))
	for _, port := range p.Ports {
		out = append(out, net.JoinHostPort(host, strconv.Itoa(port)))
	}
	return out
}

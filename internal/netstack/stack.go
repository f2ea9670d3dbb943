// Package netstack wraps the node's single network stack instance: the pump
// that drives it, and the readiness gate other tasks wait on.
package netstack

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// QueryType selects the DNS record type for a lookup
type QueryType uint8

const (
	QueryA QueryType = iota + 1
	QueryAAAA
)

func (q QueryType) String() string {
	switch q {
	case QueryA:
		return "A"
	case QueryAAAA:
		return "AAAA"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(q))
	}
}

// Config is the IPv4 configuration obtained by the stack (e.g. via DHCP)
type Config struct {
	Address    netip.Prefix
	Gateway    netip.Addr
	DNSServers []netip.Addr
}

// Stack is the shared network stack. Run is the pump and must only be called
// by the Driver; every other method is a status read or creates an
// independent socket.
type Stack interface {
	Run(ctx context.Context) error
	IsLinkUp() bool
	IsConfigUp() bool
	ConfigV4() (Config, bool)
	DNSQuery(ctx context.Context, host string, qtype QueryType) ([]netip.Addr, error)
	Dial(ctx context.Context, addr netip.AddrPort) (net.Conn, error)
}

// Readiness is the network usability derived from the stack's status
type Readiness uint8

const (
	LinkDown Readiness = iota
	NoAddress
	Ready
)

func (r Readiness) String() string {
	switch r {
	case LinkDown:
		return "link_down"
	case NoAddress:
		return "no_address"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// Status recomputes readiness from the stack. The result is never cached.
func Status(s Stack) (Readiness, Config) {
	if !s.IsLinkUp() {
		return LinkDown, Config{}
	}
	if !s.IsConfigUp() {
		return NoAddress, Config{}
	}
	cfg, ok := s.ConfigV4()
	if !ok {
		return NoAddress, Config{}
	}
	return Ready, cfg
}

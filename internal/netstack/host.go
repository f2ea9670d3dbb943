package netstack

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync/atomic"

	"github.com/vishvananda/netlink"
)

// ErrNoRecords is returned when a lookup succeeds without any address
var ErrNoRecords = errors.New("dns query returned no records")

// HostConfig selects the host interface backing the stack
type HostConfig struct {
	Interface  string // e.g. "wlan0"
	ResolvConf string // resolver configuration, default /etc/resolv.conf
}

// DefaultHostConfig returns default host stack configuration
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Interface:  "wlan0",
		ResolvConf: "/etc/resolv.conf",
	}
}

// linkTable is the slice of the kernel routing socket the host stack reads
type linkTable interface {
	LinkByName(name string) (netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	RouteList(link netlink.Link, family int) ([]netlink.Route, error)
}

type kernelTable struct{}

func (kernelTable) LinkByName(name string) (netlink.Link, error) { return netlink.LinkByName(name) }

func (kernelTable) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}

func (kernelTable) RouteList(link netlink.Link, family int) ([]netlink.Route, error) {
	return netlink.RouteList(link, family)
}

// HostStack exposes a host network interface through the Stack interface.
// Packet processing is done by the host kernel, so the pump only marks the
// stack as live; status reads report down while it is not running.
type HostStack struct {
	config  HostConfig
	running atomic.Bool
	dialer  net.Dialer
	links   linkTable
}

// NewHostStack creates a stack over the named host interface
func NewHostStack(config HostConfig) *HostStack {
	def := DefaultHostConfig()
	if config.Interface == "" {
		config.Interface = def.Interface
	}
	if config.ResolvConf == "" {
		config.ResolvConf = def.ResolvConf
	}

	return &HostStack{
		config: config,
		links:  kernelTable{},
	}
}

// Run implements Stack
func (h *HostStack) Run(ctx context.Context) error {
	h.running.Store(true)
	defer h.running.Store(false)

	<-ctx.Done()
	return ctx.Err()
}

// IsLinkUp implements Stack
func (h *HostStack) IsLinkUp() bool {
	if !h.running.Load() {
		return false
	}
	_, ok := h.link()
	return ok
}

// link returns the interface when it is administratively up and the
// driver reports carrier.
func (h *HostStack) link() (netlink.Link, bool) {
	link, err := h.links.LinkByName(h.config.Interface)
	if err != nil {
		return nil, false
	}
	attrs := link.Attrs()
	if attrs.Flags&net.FlagUp == 0 || attrs.OperState != netlink.OperUp {
		return nil, false
	}
	return link, true
}

// IsConfigUp implements Stack
func (h *HostStack) IsConfigUp() bool {
	_, ok := h.address()
	return ok
}

// ConfigV4 implements Stack
func (h *HostStack) ConfigV4() (Config, bool) {
	prefix, ok := h.address()
	if !ok {
		return Config{}, false
	}

	cfg := Config{Address: prefix}
	if gw, ok := h.defaultGateway(); ok {
		cfg.Gateway = gw
	}
	if servers, err := readNameservers(h.config.ResolvConf); err == nil {
		cfg.DNSServers = servers
	}
	return cfg, true
}

// DNSQuery implements Stack. Queries go to the configured name servers.
func (h *HostStack) DNSQuery(ctx context.Context, host string, qtype QueryType) ([]netip.Addr, error) {
	network := "ip4"
	if qtype == QueryAAAA {
		network = "ip6"
	}

	resolver := net.DefaultResolver
	if servers, err := readNameservers(h.config.ResolvConf); err == nil && len(servers) > 0 {
		server := netip.AddrPortFrom(servers[0], 53).String()
		resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				return h.dialer.DialContext(ctx, network, server)
			},
		}
	}

	addrs, err := resolver.LookupNetIP(ctx, network, host)
	if err != nil {
		return nil, fmt.Errorf("dns query %s %s: %w", qtype, host, err)
	}
	addrs = filterFamily(addrs, qtype)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("dns query %s %s: %w", qtype, host, ErrNoRecords)
	}
	return addrs, nil
}

// filterFamily unmaps IPv4-mapped results and keeps only the family the
// query asked for.
func filterFamily(addrs []netip.Addr, qtype QueryType) []netip.Addr {
	out := addrs[:0]
	for _, a := range addrs {
		a = a.Unmap()
		if (qtype == QueryA) != a.Is4() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Dial implements Stack
func (h *HostStack) Dial(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
	return h.dialer.DialContext(ctx, "tcp", addr.String())
}

func (h *HostStack) address() (netip.Prefix, bool) {
	if !h.running.Load() {
		return netip.Prefix{}, false
	}
	link, ok := h.link()
	if !ok {
		return netip.Prefix{}, false
	}
	addrs, err := h.links.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return netip.Prefix{}, false
	}

	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.IP.To4())
		if !ok || ip.IsLinkLocalUnicast() {
			continue
		}
		ones, _ := a.Mask.Size()
		return netip.PrefixFrom(ip, ones), true
	}
	return netip.Prefix{}, false
}

// defaultGateway finds the IPv4 default route through the interface
func (h *HostStack) defaultGateway() (netip.Addr, bool) {
	link, ok := h.link()
	if !ok {
		return netip.Addr{}, false
	}
	routes, err := h.links.RouteList(link, netlink.FAMILY_V4)
	if err != nil {
		return netip.Addr{}, false
	}

	for _, r := range routes {
		if r.Dst != nil {
			if ones, _ := r.Dst.Mask.Size(); ones != 0 {
				continue
			}
		}
		gw, ok := netip.AddrFromSlice(r.Gw.To4())
		if !ok || !gw.IsValid() || gw.IsUnspecified() {
			continue
		}
		return gw, true
	}
	return netip.Addr{}, false
}

// readNameservers parses nameserver lines from a resolv.conf file
func readNameservers(path string) ([]netip.Addr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var servers []netip.Addr
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "nameserver" {
			continue
		}
		addr, err := netip.ParseAddr(fields[1])
		if err != nil {
			continue
		}
		servers = append(servers, addr)
	}
	return servers, scanner.Err()
}

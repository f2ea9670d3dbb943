package netstack

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

// fakeTable serves one interface with fixed addresses and routes
type fakeTable struct {
	link   *netlink.Device
	addrs  []netlink.Addr
	routes []netlink.Route
}

func newFakeTable(name string, state netlink.LinkOperState, cidrs ...string) *fakeTable {
	t := &fakeTable{link: &netlink.Device{LinkAttrs: netlink.LinkAttrs{
		Name:      name,
		Index:     3,
		Flags:     net.FlagUp | net.FlagRunning,
		OperState: state,
	}}}
	for _, c := range cidrs {
		addr, err := netlink.ParseAddr(c)
		if err != nil {
			panic(err)
		}
		t.addrs = append(t.addrs, *addr)
	}
	return t
}

func (f *fakeTable) LinkByName(name string) (netlink.Link, error) {
	if name != f.link.Name {
		return nil, errors.New("link not found")
	}
	return f.link, nil
}

func (f *fakeTable) AddrList(netlink.Link, int) ([]netlink.Addr, error) { return f.addrs, nil }

func (f *fakeTable) RouteList(netlink.Link, int) ([]netlink.Route, error) { return f.routes, nil }

func runningHostStack(t *testing.T, links linkTable) *HostStack {
	t.Helper()
	hs := NewHostStack(HostConfig{Interface: "wlan0", ResolvConf: filepath.Join(t.TempDir(), "resolv.conf")})
	hs.links = links
	hs.running.Store(true)
	return hs
}

func TestHostStackLinkState(t *testing.T) {
	tests := []struct {
		name  string
		state netlink.LinkOperState
		flags net.Flags
		want  bool
	}{
		{"associated", netlink.OperUp, net.FlagUp | net.FlagRunning, true},
		{"no carrier", netlink.OperDown, net.FlagUp, false},
		{"dormant", netlink.OperDormant, net.FlagUp, false},
		{"admin down", netlink.OperUp, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := newFakeTable("wlan0", tt.state, "192.168.4.20/24")
			table.link.Flags = tt.flags
			hs := runningHostStack(t, table)

			assert.Equal(t, tt.want, hs.IsLinkUp())
			assert.Equal(t, tt.want, hs.IsConfigUp())
		})
	}
}

func TestHostStackDownWhileNotPumped(t *testing.T) {
	hs := runningHostStack(t, newFakeTable("wlan0", netlink.OperUp, "192.168.4.20/24"))
	hs.running.Store(false)

	assert.False(t, hs.IsLinkUp())
	assert.False(t, hs.IsConfigUp())
}

func TestHostStackMissingInterface(t *testing.T) {
	hs := runningHostStack(t, newFakeTable("eth0", netlink.OperUp, "192.168.4.20/24"))
	assert.False(t, hs.IsLinkUp())
	_, ok := hs.ConfigV4()
	assert.False(t, ok)
}

func TestHostStackConfigV4(t *testing.T) {
	table := newFakeTable("wlan0", netlink.OperUp, "169.254.10.2/16", "192.168.4.20/24")
	_, defaultDst, _ := net.ParseCIDR("0.0.0.0/0")
	_, lanDst, _ := net.ParseCIDR("192.168.4.0/24")
	table.routes = []netlink.Route{
		{LinkIndex: 3, Dst: lanDst},
		{LinkIndex: 3, Dst: defaultDst, Gw: net.IPv4(192, 168, 4, 1)},
	}
	hs := runningHostStack(t, table)
	require.NoError(t, os.WriteFile(hs.config.ResolvConf, []byte("nameserver 192.168.4.1\n"), 0o644))

	cfg, ok := hs.ConfigV4()
	require.True(t, ok)
	assert.Equal(t, "192.168.4.20/24", cfg.Address.String(), "link-local addresses skipped")
	assert.Equal(t, "192.168.4.1", cfg.Gateway.String())
	require.Len(t, cfg.DNSServers, 1)
	assert.Equal(t, "192.168.4.1", cfg.DNSServers[0].String())
}

func TestHostStackGatewayFromNilDestination(t *testing.T) {
	table := newFakeTable("wlan0", netlink.OperUp, "10.0.0.7/24")
	table.routes = []netlink.Route{{LinkIndex: 3, Gw: net.IPv4(10, 0, 0, 1)}}
	hs := runningHostStack(t, table)

	cfg, ok := hs.ConfigV4()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", cfg.Gateway.String())
}

func TestHostStackWithoutAddress(t *testing.T) {
	hs := runningHostStack(t, newFakeTable("wlan0", netlink.OperUp, "169.254.10.2/16"))
	assert.True(t, hs.IsLinkUp())
	assert.False(t, hs.IsConfigUp())
}

func TestReadNameservers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	content := "# generated\nsearch lan\nnameserver 192.168.4.1\nnameserver 1.1.1.1\nnameserver bogus\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	servers, err := readNameservers(path)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "192.168.4.1", servers[0].String())
	assert.Equal(t, "1.1.1.1", servers[1].String())
}

func TestFilterFamily(t *testing.T) {
	mixed := func() []netip.Addr {
		return []netip.Addr{
			netip.MustParseAddr("::ffff:93.184.216.34"),
			netip.MustParseAddr("2606:2800:220:1::1"),
			netip.MustParseAddr("10.1.2.3"),
		}
	}

	v4 := filterFamily(mixed(), QueryA)
	require.Len(t, v4, 2)
	for _, a := range v4 {
		assert.True(t, a.Is4(), "%s is not a 4-byte address", a)
	}
	assert.Equal(t, "93.184.216.34", v4[0].String())

	v6 := filterFamily(mixed(), QueryAAAA)
	require.Len(t, v6, 1)
	assert.Equal(t, "2606:2800:220:1::1", v6[0].String())
}

func TestDNSQueryReturnsPlainIPv4(t *testing.T) {
	hs := runningHostStack(t, newFakeTable("wlan0", netlink.OperUp, "10.0.0.7/24"))

	addrs, err := hs.DNSQuery(context.Background(), "localhost", QueryA)
	if errors.Is(err, ErrNoRecords) {
		t.Skip("host resolver has no IPv4 localhost entry")
	}
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
	for _, a := range addrs {
		assert.True(t, a.Is4(), "%s is not a 4-byte address", a)
	}
	assert.Contains(t, addrs, netip.MustParseAddr("127.0.0.1"))
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rtnetlink

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

func linkUpdate(msgType uint16, arphrd uint16, link netlink.Link) netlink.LinkUpdate {
	u := netlink.LinkUpdate{Link: link}
	u.Header.Type = msgType
	u.IfInfomsg = nl.IfInfomsg{IfInfomsg: unix.IfInfomsg{Type: arphrd}}
	return u
}

func TestDecodeLinkUpdateEthernet(t *testing.T) {
	mac, _ := net.ParseMAC("52:54:00:12:34:56")
	dev := &netlink.Device{LinkAttrs: netlink.LinkAttrs{
		Index:        2,
		Name:         "eth0",
		HardwareAddr: mac,
		MTU:          1500,
		RawFlags:     unix.IFF_UP | unix.IFF_RUNNING,
	}}

	ev, ok := DecodeLinkUpdate(linkUpdate(unix.RTM_NEWLINK, unix.ARPHRD_ETHER, dev))
	require.True(t, ok)

	assert.Equal(t, KindNewLink, ev.Kind)
	assert.Equal(t, uint32(2), ev.Link.Idx)
	assert.Equal(t, "eth0", ev.Link.Name)
	assert.Equal(t, uint16(unix.ARPHRD_ETHER), ev.Link.Type)
	assert.Equal(t, mac.String(), ev.Link.MAC.String())
	assert.Equal(t, uint32(1500), ev.Link.MTU)
	assert.Empty(t, ev.Link.Kind, "physical device must carry no kind")
}

func TestDecodeLinkUpdateDelete(t *testing.T) {
	dev := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Index: 2, Name: "eth0"}}
	ev, ok := DecodeLinkUpdate(linkUpdate(unix.RTM_DELLINK, unix.ARPHRD_ETHER, dev))
	require.True(t, ok)
	assert.Equal(t, KindDelLink, ev.Kind)
}

func TestDecodeLinkUpdateVlan(t *testing.T) {
	vlan := &netlink.Vlan{
		LinkAttrs: netlink.LinkAttrs{Index: 10, Name: "eth0.100", ParentIndex: 2},
		VlanId:    100,
	}
	ev, ok := DecodeLinkUpdate(linkUpdate(unix.RTM_NEWLINK, unix.ARPHRD_ETHER, vlan))
	require.True(t, ok)

	assert.Equal(t, "vlan", ev.Link.Kind)
	assert.Equal(t, uint32(2), ev.Link.ParentIdx)
	assert.Equal(t, uint16(100), ev.Link.VLANID)
}

func TestDecodeLinkDumpUsesEncapType(t *testing.T) {
	dev := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Index: 1, Name: "lo", EncapType: "loopback"}}
	ev := DecodeLink(dev, false)
	assert.Equal(t, uint16(unix.ARPHRD_LOOPBACK), ev.Link.Type)

	eth := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Index: 2, Name: "eth0", EncapType: "ether"}}
	ev = DecodeLink(eth, false)
	assert.Equal(t, uint16(unix.ARPHRD_ETHER), ev.Link.Type)
}

func TestDecodeAddrUpdate(t *testing.T) {
	u := netlink.AddrUpdate{
		LinkAddress: net.IPNet{IP: net.ParseIP("192.168.1.5"), Mask: net.CIDRMask(24, 32)},
		LinkIndex:   2,
		NewAddr:     true,
		Flags:       unix.IFA_F_PERMANENT,
		Scope:       unix.RT_SCOPE_UNIVERSE,
	}
	ev, ok := DecodeAddrUpdate(u)
	require.True(t, ok)

	assert.Equal(t, KindNewAddr, ev.Kind)
	assert.Equal(t, uint32(2), ev.Addr.Ifidx)
	assert.Equal(t, netip.MustParsePrefix("192.168.1.5/24"), ev.Addr.Addr)
	assert.Equal(t, uint32(unix.IFA_F_PERMANENT), ev.Addr.Flags)

	u.NewAddr = false
	ev, ok = DecodeAddrUpdate(u)
	require.True(t, ok)
	assert.Equal(t, KindDelAddr, ev.Kind)
}

func TestDecodeAddrUpdateV6(t *testing.T) {
	u := netlink.AddrUpdate{
		LinkAddress: net.IPNet{IP: net.ParseIP("fd00::5"), Mask: net.CIDRMask(64, 128)},
		LinkIndex:   2,
		NewAddr:     true,
	}
	ev, ok := DecodeAddrUpdate(u)
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("fd00::5/64"), ev.Addr.Addr)
}

func TestDecodeRouteOnlyDefaultRoutes(t *testing.T) {
	// A non-default route is silently dropped.
	_, ok := DecodeRoute(netlink.Route{
		LinkIndex: 2,
		Dst:       &net.IPNet{IP: net.ParseIP("10.0.0.0"), Mask: net.CIDRMask(8, 32)},
		Gw:        net.ParseIP("192.168.1.1"),
	}, false)
	assert.False(t, ok)

	// A gateway-less route is dropped too.
	_, ok = DecodeRoute(netlink.Route{LinkIndex: 2}, false)
	assert.False(t, ok)

	// Nil destination means prefix length zero.
	ev, ok := DecodeRoute(netlink.Route{LinkIndex: 2, Gw: net.ParseIP("192.168.1.1")}, false)
	require.True(t, ok)
	assert.Equal(t, KindNewGateway, ev.Kind)
	assert.Equal(t, uint32(2), ev.Gw.Ifidx)
	assert.Equal(t, netip.MustParseAddr("192.168.1.1"), ev.Gw.Addr)

	// Explicit /0 destination as well.
	ev, ok = DecodeRoute(netlink.Route{
		LinkIndex: 2,
		Dst:       &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)},
		Gw:        net.ParseIP("192.168.1.1"),
	}, false)
	require.True(t, ok)
	assert.Equal(t, KindNewGateway, ev.Kind)
}

func TestDecodeRouteUpdateDelete(t *testing.T) {
	u := netlink.RouteUpdate{
		Type:  unix.RTM_DELROUTE,
		Route: netlink.Route{LinkIndex: 2, Gw: net.ParseIP("fd00::1")},
	}
	ev, ok := DecodeRouteUpdate(u)
	require.True(t, ok)
	assert.Equal(t, KindDelGateway, ev.Kind)
	assert.Equal(t, netip.MustParseAddr("fd00::1"), ev.Gw.Addr)
}

func TestDecodeNeighUpdate(t *testing.T) {
	mac, _ := net.ParseMAC("52:54:00:aa:bb:cc")
	u := netlink.NeighUpdate{
		Type: unix.RTM_NEWNEIGH,
		Neigh: netlink.Neigh{
			LinkIndex:    2,
			IP:           net.ParseIP("192.168.1.9"),
			HardwareAddr: mac,
			State:        netlink.NUD_PERMANENT,
		},
	}
	ev, ok := DecodeNeighUpdate(u)
	require.True(t, ok)

	assert.Equal(t, KindNewNeigh, ev.Kind)
	assert.Equal(t, uint32(2), ev.Neigh.Ifidx)
	assert.Equal(t, netip.MustParseAddr("192.168.1.9"), ev.Neigh.Addr)
	assert.Equal(t, uint16(netlink.NUD_PERMANENT), ev.Neigh.State)
}

func TestDecodeNeighWithoutAddress(t *testing.T) {
	// The registry filters these; the decoder just reports the zero Addr.
	ev, ok := DecodeNeigh(netlink.Neigh{LinkIndex: 2, State: netlink.NUD_PERMANENT}, false)
	require.True(t, ok)
	assert.False(t, ev.Neigh.Addr.IsValid())
}

func TestDecodeNeighInvalidLink(t *testing.T) {
	_, ok := DecodeNeigh(netlink.Neigh{LinkIndex: 0}, false)
	assert.False(t, ok)
}

func TestEventIfidx(t *testing.T) {
	cases := []struct {
		ev   Event
		want uint32
	}{
		{Event{Kind: KindNewLink, Link: InterfaceInfo{Idx: 1}}, 1},
		{Event{Kind: KindDelAddr, Addr: AddressInfo{Ifidx: 2}}, 2},
		{Event{Kind: KindNewNeigh, Neigh: NeighborInfo{Ifidx: 3}}, 3},
		{Event{Kind: KindDelGateway, Gw: DefaultGateway{Ifidx: 4}}, 4},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.ev.Ifidx())
	}
}

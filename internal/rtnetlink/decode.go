// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rtnetlink

import (
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// arphrdFromEncap maps the encapsulation name reported on dumped links
// back to the ARP hardware type. Subscription updates carry the numeric
// type directly; dumps only expose the name.
func arphrdFromEncap(encap string) uint16 {
	switch encap {
	case "ether":
		return unix.ARPHRD_ETHER
	case "loopback":
		return unix.ARPHRD_LOOPBACK
	case "sit":
		return unix.ARPHRD_SIT
	case "tunnel":
		return unix.ARPHRD_TUNNEL
	case "tunnel6":
		return unix.ARPHRD_TUNNEL6
	case "can":
		return unix.ARPHRD_CAN
	case "ppp":
		return unix.ARPHRD_PPP
	case "ieee802.11":
		return unix.ARPHRD_IEEE80211
	case "infiniband":
		return unix.ARPHRD_INFINIBAND
	}
	return unix.ARPHRD_VOID
}

func infoFromLink(link netlink.Link, arphrd uint16) InterfaceInfo {
	attrs := link.Attrs()
	info := InterfaceInfo{
		Idx:   uint32(attrs.Index),
		Name:  attrs.Name,
		Type:  arphrd,
		MAC:   attrs.HardwareAddr,
		Flags: attrs.RawFlags,
	}
	if attrs.MTU > 0 {
		info.MTU = uint32(attrs.MTU)
	}
	// "device" is the library's placeholder for links without
	// IFLA_LINKINFO; the registry treats those as physical.
	if kind := link.Type(); kind != "device" {
		info.Kind = kind
	}
	if attrs.ParentIndex > 0 {
		info.ParentIdx = uint32(attrs.ParentIndex)
	}
	if vlan, ok := link.(*netlink.Vlan); ok {
		info.VLANID = uint16(vlan.VlanId)
	}
	return info
}

// DecodeLink translates a dumped link into an event.
func DecodeLink(link netlink.Link, del bool) Event {
	kind := KindNewLink
	if del {
		kind = KindDelLink
	}
	return Event{Kind: kind, Link: infoFromLink(link, arphrdFromEncap(link.Attrs().EncapType))}
}

// DecodeLinkUpdate translates a link subscription update.
func DecodeLinkUpdate(u netlink.LinkUpdate) (Event, bool) {
	if u.Link == nil {
		return Event{}, false
	}
	kind := KindNewLink
	if u.Header.Type == unix.RTM_DELLINK {
		kind = KindDelLink
	}
	return Event{Kind: kind, Link: infoFromLink(u.Link, u.IfInfomsg.Type)}, true
}

// DecodeAddr translates a dumped address into an event.
func DecodeAddr(a netlink.Addr, del bool) (Event, bool) {
	pfx, ok := prefixFromIPNet(a.IPNet)
	if !ok {
		return Event{}, false
	}
	kind := KindNewAddr
	if del {
		kind = KindDelAddr
	}
	return Event{Kind: kind, Addr: AddressInfo{
		Ifidx: uint32(a.LinkIndex),
		Addr:  pfx,
		Scope: uint8(a.Scope),
		Flags: uint32(a.Flags),
	}}, true
}

// DecodeAddrUpdate translates an address subscription update.
func DecodeAddrUpdate(u netlink.AddrUpdate) (Event, bool) {
	pfx, ok := prefixFromIPNet(&u.LinkAddress)
	if !ok {
		return Event{}, false
	}
	kind := KindNewAddr
	if !u.NewAddr {
		kind = KindDelAddr
	}
	return Event{Kind: kind, Addr: AddressInfo{
		Ifidx: uint32(u.LinkIndex),
		Addr:  pfx,
		Scope: uint8(u.Scope),
		Flags: uint32(u.Flags),
	}}, true
}

// DecodeRoute translates a route into an event. Only default routes
// (zero-length destination with a gateway) produce one; everything else
// is dropped.
func DecodeRoute(r netlink.Route, del bool) (Event, bool) {
	if r.Dst != nil {
		if ones, _ := r.Dst.Mask.Size(); ones != 0 {
			return Event{}, false
		}
	}
	gw, ok := addrFromIP(r.Gw)
	if !ok {
		return Event{}, false
	}
	kind := KindNewGateway
	if del {
		kind = KindDelGateway
	}
	return Event{Kind: kind, Gw: DefaultGateway{Ifidx: uint32(r.LinkIndex), Addr: gw}}, true
}

// DecodeRouteUpdate translates a route subscription update.
func DecodeRouteUpdate(u netlink.RouteUpdate) (Event, bool) {
	return DecodeRoute(u.Route, u.Type == unix.RTM_DELROUTE)
}

// DecodeNeigh translates a neighbor entry into an event.
func DecodeNeigh(n netlink.Neigh, del bool) (Event, bool) {
	if n.LinkIndex <= 0 {
		return Event{}, false
	}
	addr, _ := addrFromIP(n.IP)
	kind := KindNewNeigh
	if del {
		kind = KindDelNeigh
	}
	return Event{Kind: kind, Neigh: NeighborInfo{
		Ifidx: uint32(n.LinkIndex),
		Addr:  addr,
		MAC:   n.HardwareAddr,
		State: uint16(n.State),
	}}, true
}

// DecodeNeighUpdate translates a neighbor subscription update.
func DecodeNeighUpdate(u netlink.NeighUpdate) (Event, bool) {
	return DecodeNeigh(u.Neigh, u.Type == unix.RTM_DELNEIGH)
}

func prefixFromIPNet(n *net.IPNet) (netip.Prefix, bool) {
	if n == nil {
		return netip.Prefix{}, false
	}
	addr, ok := addrFromIP(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, _ := n.Mask.Size()
	return netip.PrefixFrom(addr, ones), true
}

func addrFromIP(ip net.IP) (netip.Addr, bool) {
	if len(ip) == 0 {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"grimm.is/bmcnetd/internal/netconf"
	"grimm.is/bmcnetd/internal/rtnetlink"
)

// EthernetInterface is the managed object for one Ethernet link. It is
// created and destroyed exclusively by the Manager and mirrors the
// runtime state the registry tracks for its index, plus the persisted
// intent loaded from the supervisor's configuration file.
type EthernetInterface struct {
	m *Manager

	info       rtnetlink.InterfaceInfo
	managed    bool
	objectPath string

	addrs        map[netip.Prefix]rtnetlink.AddressInfo
	staticNeighs map[netip.Addr]rtnetlink.NeighborInfo

	defaultGateway  string
	defaultGateway6 string

	// Persisted intent from the configuration file.
	dhcp      string
	linkLocal string
	dns       []string
	ntp       []string
	emitLLDP  bool
	macAddr   string
	mtuBytes  uint64
}

func newEthernetInterface(m *Manager, all *AllIntfInfo, conf *netconf.Parsed, managed bool) *EthernetInterface {
	e := &EthernetInterface{
		m:            m,
		info:         all.Intf,
		managed:      managed,
		objectPath:   m.objectPathFor(all.Intf.Name),
		addrs:        make(map[netip.Prefix]rtnetlink.AddressInfo, len(all.Addrs)),
		staticNeighs: make(map[netip.Addr]rtnetlink.NeighborInfo, len(all.StaticNeighs)),
		dhcp:         conf.DHCP,
		linkLocal:    conf.LinkLocal,
		emitLLDP:     conf.EmitLLDP,
		macAddr:      conf.MACAddr,
		mtuBytes:     conf.MTU,
	}
	for k, v := range all.Addrs {
		e.addrs[k] = v
	}
	for k, v := range all.StaticNeighs {
		e.staticNeighs[k] = v
	}
	if all.DefGW4.IsValid() {
		e.defaultGateway = all.DefGW4.String()
	}
	if all.DefGW6.IsValid() {
		e.defaultGateway6 = all.DefGW6.String()
	}
	e.loadNameServers(conf)
	e.loadNTPServers(conf)
	return e
}

func (e *EthernetInterface) loadNameServers(conf *netconf.Parsed) {
	e.dns = append([]string(nil), conf.DNS...)
}

func (e *EthernetInterface) loadNTPServers(conf *netconf.Parsed) {
	e.ntp = append([]string(nil), conf.NTP...)
}

// Name returns the interface name the object is keyed under.
func (e *EthernetInterface) Name() string {
	return e.info.Name
}

// Index returns the kernel link index.
func (e *EthernetInterface) Index() uint32 {
	return e.info.Idx
}

// ObjectPath returns the management bus path of the object.
func (e *EthernetInterface) ObjectPath() string {
	return e.objectPath
}

// Managed reports whether the supervisor manages the link.
func (e *EthernetInterface) Managed() bool {
	return e.managed
}

// EmitLLDP reports whether LLDP transmission is enabled for the link.
func (e *EthernetInterface) EmitLLDP() bool {
	return e.emitLLDP
}

// DefaultGateway returns the IPv4 default gateway property.
func (e *EthernetInterface) DefaultGateway() string {
	return e.defaultGateway
}

// DefaultGateway6 returns the IPv6 default gateway property.
func (e *EthernetInterface) DefaultGateway6() string {
	return e.defaultGateway6
}

// Addrs returns the addresses currently tracked on the object.
func (e *EthernetInterface) Addrs() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(e.addrs))
	for k := range e.addrs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// StaticNeighbors returns the tracked permanent neighbor addresses.
func (e *EthernetInterface) StaticNeighbors() []netip.Addr {
	out := make([]netip.Addr, 0, len(e.staticNeighs))
	for k := range e.staticNeighs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// updateInfo refreshes the runtime link attributes in place.
func (e *EthernetInterface) updateInfo(info rtnetlink.InterfaceInfo) {
	if info.Name == "" {
		info.Name = e.info.Name
	}
	e.info = info
}

func (e *EthernetInterface) addAddr(info rtnetlink.AddressInfo) {
	e.addrs[info.Addr] = info
}

func (e *EthernetInterface) delAddr(addr netip.Prefix) {
	delete(e.addrs, addr)
}

func (e *EthernetInterface) addStaticNeigh(info rtnetlink.NeighborInfo) {
	e.staticNeighs[info.Addr] = info
}

func (e *EthernetInterface) delStaticNeigh(addr netip.Addr) {
	delete(e.staticNeighs, addr)
}

func (e *EthernetInterface) setDefaultGateway(addr netip.Addr) {
	if addr.Is4() {
		e.defaultGateway = addr.String()
	} else {
		e.defaultGateway6 = addr.String()
	}
}

// clearDefaultGateway resets the gateway property only while it still
// equals addr; a newer value that already replaced it is kept.
func (e *EthernetInterface) clearDefaultGateway(addr netip.Addr) {
	if addr.Is4() {
		if e.defaultGateway == addr.String() {
			e.defaultGateway = ""
		}
	} else {
		if e.defaultGateway6 == addr.String() {
			e.defaultGateway6 = ""
		}
	}
}

// WriteConfigurationFile materialises the interface's network file in
// the configuration directory.
func (e *EthernetInterface) WriteConfigurationFile() error {
	f := e.networkFile()
	if err := f.WriteTo(e.m.confDir); err != nil {
		return fmt.Errorf("write network file for %s: %w", e.Name(), err)
	}
	return nil
}

func (e *EthernetInterface) networkFile() *netconf.NetworkFile {
	f := &netconf.NetworkFile{
		MatchName: e.Name(),
		DHCP:      e.dhcp,
		LinkLocal: e.linkLocal,
		DNS:       append([]string(nil), e.dns...),
		NTP:       append([]string(nil), e.ntp...),
		EmitLLDP:  e.emitLLDP,
		MACAddr:   e.macAddr,
		MTU:       e.mtuBytes,
	}
	for pfx, info := range e.addrs {
		// Only globally scoped assignments are persisted intent;
		// link-local and host scopes are kernel furniture.
		if info.Scope == unix.RT_SCOPE_UNIVERSE {
			f.Addresses = append(f.Addresses, pfx)
		}
	}
	if e.defaultGateway != "" {
		if gw, err := netip.ParseAddr(e.defaultGateway); err == nil {
			f.Gateways = append(f.Gateways, gw)
		}
	}
	if e.defaultGateway6 != "" {
		if gw, err := netip.ParseAddr(e.defaultGateway6); err == nil {
			f.Gateways = append(f.Gateways, gw)
		}
	}
	return f
}

// createVLAN materialises the netdev and network files for a tagged
// child device and schedules a supervisor reload. The kernel link the
// reload creates flows back through the event pipeline and is
// registered like any other interface.
func (e *EthernetInterface) createVLAN(id uint16) (string, error) {
	name := fmt.Sprintf("%s.%d", e.Name(), id)

	netdev := &netconf.NetdevFile{Name: name, VLANID: id}
	if err := netdev.WriteTo(e.m.confDir); err != nil {
		return "", fmt.Errorf("write netdev file for %s: %w", name, err)
	}
	network := &netconf.NetworkFile{MatchName: name, DHCP: "no", LinkLocal: "yes"}
	if err := network.WriteTo(e.m.confDir); err != nil {
		return "", fmt.Errorf("write network file for %s: %w", name, err)
	}

	e.m.scheduleReload()
	return e.m.objectPathFor(name), nil
}

// objectPathFor maps an interface name onto a bus path element.
func (m *Manager) objectPathFor(name string) string {
	return m.objectPath + "/" + strings.ReplaceAll(name, ".", "_")
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package registry owns the authoritative model of every Ethernet-class
// interface: kernel-reported link, address, neighbor, and gateway state,
// the supervisor's per-link administrative state, and the managed
// per-interface objects derived from both.
//
// All mutations run on a single goroutine (Run); there is no locking.
package registry

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"grimm.is/bmcnetd/internal/errors"
	"grimm.is/bmcnetd/internal/logging"
	"grimm.is/bmcnetd/internal/metrics"
	"grimm.is/bmcnetd/internal/netconf"
	"grimm.is/bmcnetd/internal/networkd"
	"grimm.is/bmcnetd/internal/reload"
	"grimm.is/bmcnetd/internal/rtnetlink"
)

// AllIntfInfo aggregates everything the kernel has reported about one
// link index.
type AllIntfInfo struct {
	Intf         rtnetlink.InterfaceInfo
	DefGW4       netip.Addr
	DefGW6       netip.Addr
	Addrs        map[netip.Prefix]rtnetlink.AddressInfo
	StaticNeighs map[netip.Addr]rtnetlink.NeighborInfo
}

func newAllIntfInfo(intf rtnetlink.InterfaceInfo) *AllIntfInfo {
	return &AllIntfInfo{
		Intf:         intf,
		Addrs:        make(map[netip.Prefix]rtnetlink.AddressInfo),
		StaticNeighs: make(map[netip.Addr]rtnetlink.NeighborInfo),
	}
}

// ObjectEmitter is the sink for managed-object lifecycle events on the
// management bus. The registry is the sole creator and destroyer of the
// objects it announces.
type ObjectEmitter interface {
	InterfaceAdded(e *EthernetInterface)
	InterfaceRemoved(objectPath string)
}

// NopEmitter discards object lifecycle events.
type NopEmitter struct{}

func (NopEmitter) InterfaceAdded(*EthernetInterface) {}
func (NopEmitter) InterfaceRemoved(string)           {}

// ServiceRestarter restarts a system unit (lldpd).
type ServiceRestarter interface {
	RestartUnit(unit string) error
}

// LLDPOptions controls lldpd configuration emission.
type LLDPOptions struct {
	ConfigPath string
	Service    string
}

// Options configures a Manager.
type Options struct {
	Log        *logging.Logger
	ConfDir    string
	ObjectPath string

	// IgnoredNames lists interface names never to manage.
	IgnoredNames map[string]struct{}

	Reload   *reload.Coordinator
	Reloader reload.Reloader

	Emitter   ObjectEmitter
	LLDP      *LLDPOptions
	Restarter ServiceRestarter
}

// Manager is the interface registry.
type Manager struct {
	log        *logging.Logger
	confDir    string
	objectPath string

	reload   *reload.Coordinator
	reloader reload.Reloader

	emitter   ObjectEmitter
	lldp      *LLDPOptions
	restarter ServiceRestarter

	intfInfo        map[uint32]*AllIntfInfo
	interfaces      map[string]*EthernetInterface
	interfacesByIdx map[uint32]*EthernetInterface
	ignoredIntf     map[uint32]struct{}
	supervisorState map[uint32]bool

	ignoredNames map[string]struct{}
	loggedIgnore map[string]struct{}

	// fatal terminates the process on registry corruption. Tests
	// substitute it to observe the abort.
	fatal func(msg string)
}

// New creates a Manager and ensures the configuration directory exists.
func New(opts Options) *Manager {
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}
	m := &Manager{
		log:             log.WithComponent("registry"),
		confDir:         opts.ConfDir,
		objectPath:      opts.ObjectPath,
		reload:          opts.Reload,
		reloader:        opts.Reloader,
		emitter:         opts.Emitter,
		lldp:            opts.LLDP,
		restarter:       opts.Restarter,
		intfInfo:        make(map[uint32]*AllIntfInfo),
		interfaces:      make(map[string]*EthernetInterface),
		interfacesByIdx: make(map[uint32]*EthernetInterface),
		ignoredIntf:     make(map[uint32]struct{}),
		supervisorState: make(map[uint32]bool),
		ignoredNames:    opts.IgnoredNames,
		loggedIgnore:    make(map[string]struct{}),
	}
	if m.emitter == nil {
		m.emitter = NopEmitter{}
	}
	if m.ignoredNames == nil {
		m.ignoredNames = make(map[string]struct{})
	}
	m.fatal = func(msg string) {
		m.log.Error(msg)
		os.Exit(1)
	}
	if m.confDir != "" {
		if err := os.MkdirAll(m.confDir, 0o755); err != nil {
			m.log.WithError(err).Error("Failed to create configuration directory", "dir", m.confDir)
		}
	}
	return m
}

// Run is the single event loop that owns all registry mutations. It
// consumes kernel events, supervisor state updates, and reload timer
// firings until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, events <-chan rtnetlink.Event, admin <-chan networkd.AdminState) error {
	var fired <-chan struct{}
	if m.reload != nil {
		fired = m.reload.Fired()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.Apply(ev)
			// Drain whatever else arrived in this batch before
			// blocking again, so event storms cannot starve the
			// pipeline behind timer traffic.
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						events = nil
					} else {
						m.Apply(ev)
						continue
					}
				default:
				}
				break
			}
		case st, ok := <-admin:
			if !ok {
				admin = nil
				continue
			}
			m.HandleAdminState(st.State, st.Ifidx)
		case <-fired:
			m.reload.Fire(m.reloader)
		}
	}
}

// Apply routes one decoded kernel event to the matching mutation.
// Failures are logged unless the interface is ignored; they never
// escape the loop.
func (m *Manager) Apply(ev rtnetlink.Event) {
	var err error
	switch ev.Kind {
	case rtnetlink.KindNewLink:
		m.AddInterface(ev.Link)
	case rtnetlink.KindDelLink:
		m.RemoveInterface(ev.Link)
	case rtnetlink.KindNewAddr:
		err = m.AddAddress(ev.Addr)
	case rtnetlink.KindDelAddr:
		m.RemoveAddress(ev.Addr)
	case rtnetlink.KindNewNeigh:
		err = m.AddNeighbor(ev.Neigh)
	case rtnetlink.KindDelNeigh:
		m.RemoveNeighbor(ev.Neigh)
	case rtnetlink.KindNewGateway:
		m.AddDefGw(ev.Gw.Ifidx, ev.Gw.Addr)
	case rtnetlink.KindDelGateway:
		m.RemoveDefGw(ev.Gw.Ifidx, ev.Gw.Addr)
	}
	if err != nil {
		if _, ignored := m.ignoredIntf[ev.Ifidx()]; ignored {
			return
		}
		metrics.EventErrors.Inc()
		m.log.WithError(err).Error("Failed handling netlink event", "kind", ev.Kind.String())
	}
}

// AddInterface records a kernel link. Non-Ethernet links and links on
// the ignore list are permanently ignored.
func (m *Manager) AddInterface(info rtnetlink.InterfaceInfo) {
	if info.Type != unix.ARPHRD_ETHER {
		m.ignoredIntf[info.Idx] = struct{}{}
		return
	}
	if info.Name != "" {
		if _, ok := m.ignoredNames[info.Name]; ok {
			if _, logged := m.loggedIgnore[info.Name]; !logged {
				m.loggedIgnore[info.Name] = struct{}{}
				m.log.Info("Ignoring interface", "interface", info.Name)
			}
			m.ignoredIntf[info.Idx] = struct{}{}
			return
		}
	}

	all, ok := m.intfInfo[info.Idx]
	if ok {
		all.Intf = info
	} else {
		all = newAllIntfInfo(info)
		m.intfInfo[info.Idx] = all
	}

	if managed, ok := m.supervisorState[info.Idx]; ok {
		m.createInterface(all, managed)
	}
}

// createInterface creates or updates the managed object for a link
// whose supervisor state is known.
func (m *Manager) createInterface(all *AllIntfInfo, managed bool) {
	if _, ok := m.ignoredIntf[all.Intf.Idx]; ok {
		return
	}
	if obj, ok := m.interfacesByIdx[all.Intf.Idx]; ok {
		if all.Intf.Name != "" && all.Intf.Name != obj.Name() {
			// Renamed: drop the old bindings (idx view first, the
			// name map owns the object) and re-create below.
			delete(m.interfacesByIdx, all.Intf.Idx)
			delete(m.interfaces, obj.Name())
			m.emitter.InterfaceRemoved(obj.ObjectPath())
		} else {
			obj.updateInfo(all.Intf)
			return
		}
	} else if all.Intf.Name != "" {
		if obj, ok := m.interfaces[all.Intf.Name]; ok {
			// A different idx claimed this name; reuse the object.
			obj.updateInfo(all.Intf)
			return
		}
	}
	if all.Intf.Name == "" {
		m.log.Error("Can't create interface without name", "ifidx", all.Intf.Idx)
		return
	}

	conf, err := netconf.Load(m.confDir, all.Intf.Name)
	if err != nil {
		m.log.WithError(err).Warn("Failed to load persisted config, starting empty", "interface", all.Intf.Name)
		conf = &netconf.Parsed{}
	}
	obj := newEthernetInterface(m, all, conf, managed)
	m.interfaces[all.Intf.Name] = obj
	m.interfacesByIdx[all.Intf.Idx] = obj
	m.emitter.InterfaceAdded(obj)
	metrics.ManagedInterfaces.Set(float64(len(m.interfaces)))
	m.log.Info("Managing interface", "interface", all.Intf.Name, "ifidx", all.Intf.Idx, "managed", managed)
}

// RemoveInterface drops a kernel link and its managed object. A
// divergence between the by-name and by-index bindings is registry
// corruption and terminates the process.
func (m *Manager) RemoveInterface(info rtnetlink.InterfaceInfo) {
	byIdx, haveIdx := m.interfacesByIdx[info.Idx]
	var name string
	var byName *EthernetInterface
	if info.Name != "" {
		if obj, ok := m.interfaces[info.Name]; ok {
			byName, name = obj, info.Name
			if haveIdx && byName != byIdx {
				m.fatal("Removed interface desync detected")
				return
			}
		}
	} else if haveIdx {
		for n, obj := range m.interfaces {
			if obj == byIdx {
				byName, name = obj, n
				break
			}
		}
	}

	if haveIdx {
		delete(m.interfacesByIdx, info.Idx)
	} else {
		delete(m.ignoredIntf, info.Idx)
	}
	if byName != nil {
		delete(m.interfaces, name)
		m.emitter.InterfaceRemoved(byName.ObjectPath())
	}
	delete(m.intfInfo, info.Idx)
	metrics.ManagedInterfaces.Set(float64(len(m.interfaces)))
}

// AddAddress records an address assignment. Deprecated addresses are
// dropped; an assignment on an unknown, non-ignored link is an error.
func (m *Manager) AddAddress(info rtnetlink.AddressInfo) error {
	if info.Flags&unix.IFA_F_DEPRECATED != 0 {
		return nil
	}
	all, ok := m.intfInfo[info.Ifidx]
	if !ok {
		if _, ignored := m.ignoredIntf[info.Ifidx]; ignored {
			return nil
		}
		return errors.Errorf(errors.KindNotFound, "interface %d not found for addr", info.Ifidx)
	}
	all.Addrs[info.Addr] = info
	if obj, ok := m.interfacesByIdx[info.Ifidx]; ok {
		obj.addAddr(info)
	}
	return nil
}

// RemoveAddress drops an address assignment; absence is tolerated.
func (m *Manager) RemoveAddress(info rtnetlink.AddressInfo) {
	if all, ok := m.intfInfo[info.Ifidx]; ok {
		delete(all.Addrs, info.Addr)
	}
	if obj, ok := m.interfacesByIdx[info.Ifidx]; ok {
		obj.delAddr(info.Addr)
	}
}

// AddNeighbor records a permanent neighbor entry. Entries without a
// permanent state or an address are dropped; an entry on an unknown,
// non-ignored link is an error.
func (m *Manager) AddNeighbor(info rtnetlink.NeighborInfo) error {
	if info.State&unix.NUD_PERMANENT == 0 || !info.Addr.IsValid() {
		return nil
	}
	all, ok := m.intfInfo[info.Ifidx]
	if !ok {
		if _, ignored := m.ignoredIntf[info.Ifidx]; ignored {
			return nil
		}
		return errors.Errorf(errors.KindNotFound, "interface %d not found for neigh", info.Ifidx)
	}
	all.StaticNeighs[info.Addr] = info
	if obj, ok := m.interfacesByIdx[info.Ifidx]; ok {
		obj.addStaticNeigh(info)
	}
	return nil
}

// RemoveNeighbor drops a neighbor entry; absence is tolerated.
func (m *Manager) RemoveNeighbor(info rtnetlink.NeighborInfo) {
	if !info.Addr.IsValid() {
		return
	}
	if all, ok := m.intfInfo[info.Ifidx]; ok {
		delete(all.StaticNeighs, info.Addr)
	}
	if obj, ok := m.interfacesByIdx[info.Ifidx]; ok {
		obj.delStaticNeigh(info.Addr)
	}
}

// AddDefGw records the default gateway for the address family of addr,
// replacing any previous value.
func (m *Manager) AddDefGw(ifidx uint32, addr netip.Addr) {
	all, ok := m.intfInfo[ifidx]
	if !ok {
		if _, ignored := m.ignoredIntf[ifidx]; !ignored {
			m.log.Error("Interface not found for gw", "ifidx", ifidx)
		}
		return
	}
	if addr.Is4() {
		all.DefGW4 = addr
	} else {
		all.DefGW6 = addr
	}
	if obj, ok := m.interfacesByIdx[ifidx]; ok {
		obj.setDefaultGateway(addr)
	}
}

// RemoveDefGw clears the default gateway for addr's family, but only
// while it still equals addr; a newer gateway that already replaced it
// is kept.
func (m *Manager) RemoveDefGw(ifidx uint32, addr netip.Addr) {
	all, ok := m.intfInfo[ifidx]
	if !ok {
		return
	}
	if addr.Is4() {
		if all.DefGW4 == addr {
			all.DefGW4 = netip.Addr{}
		}
	} else {
		if all.DefGW6 == addr {
			all.DefGW6 = netip.Addr{}
		}
	}
	if obj, ok := m.interfacesByIdx[ifidx]; ok {
		obj.clearDefaultGateway(addr)
	}
}

// HandleAdminState applies one supervisor administrative-state report.
// "initialized" and "linger" unlearn the state; "unmanaged" records
// false; every other string records true. A known state for a known
// link materialises the managed object.
func (m *Manager) HandleAdminState(state string, ifidx uint32) {
	if state == "initialized" || state == "linger" {
		delete(m.supervisorState, ifidx)
		return
	}
	managed := state != "unmanaged"
	m.supervisorState[ifidx] = managed
	if all, ok := m.intfInfo[ifidx]; ok {
		m.createInterface(all, managed)
	}
}

// VLAN creates a tagged child device on the named parent interface and
// returns the new object's path.
func (m *Manager) VLAN(interfaceName string, id uint32) (string, error) {
	if id == 0 || id >= 4095 {
		m.log.Error("VLAN ID is not valid", "vlan", id)
		return "", errors.Errorf(errors.KindValidation, "VLAN ID %d is not valid", id)
	}
	obj, ok := m.interfaces[interfaceName]
	if !ok {
		return "", errors.Errorf(errors.KindNotFound, "interface %s not found", interfaceName)
	}
	return obj.createVLAN(uint16(id))
}

// Reset deletes every file in the configuration directory. In-memory
// objects stay; the next reload re-materialises their configuration.
func (m *Manager) Reset() {
	entries, err := os.ReadDir(m.confDir)
	if err != nil {
		m.log.WithError(err).Error("Failed to enumerate configuration directory", "dir", m.confDir)
		return
	}
	for _, ent := range entries {
		// Per-file failures are ignored, the purge is best effort.
		os.Remove(filepath.Join(m.confDir, ent.Name()))
	}
	m.log.Info("Network data purged")
}

// WriteToConfigurationFile emits every managed interface's network
// file.
func (m *Manager) WriteToConfigurationFile() {
	for _, obj := range m.interfaces {
		if err := obj.WriteConfigurationFile(); err != nil {
			m.log.WithError(err).Error("Failed writing configuration", "interface", obj.Name())
		}
	}
}

func (m *Manager) scheduleReload() {
	if m.reload != nil {
		m.reload.Schedule()
	}
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netconf reads and writes the link supervisor's per-interface
// configuration files (systemd.network / systemd.netdev format).
package netconf

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

// Path returns the network file path for an interface name.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".network")
}

// NetdevPath returns the netdev file path for a virtual device name.
func NetdevPath(dir, name string) string {
	return filepath.Join(dir, name+".netdev")
}

// Parsed holds the subset of a persisted network file the daemon acts on.
type Parsed struct {
	DHCP      string // "", "yes", "no", "ipv4", "ipv6"
	LinkLocal string
	DNS       []string
	NTP       []string
	Addresses []netip.Prefix
	Gateways  []netip.Addr
	EmitLLDP  bool
	MACAddr   string
	MTU       uint64
}

var loadOpts = ini.LoadOptions{
	AllowShadows:             true,
	AllowNonUniqueSections:   true,
	SpaceBeforeInlineComment: true,
}

// Load parses the persisted file for name under dir. A missing file is
// not an error and yields an empty Parsed.
func Load(dir, name string) (*Parsed, error) {
	p := &Parsed{}
	path := Path(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return p, nil
	}
	f, err := ini.LoadSources(loadOpts, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	for _, sec := range f.Sections() {
		switch sec.Name() {
		case "Network":
			if k, err := sec.GetKey("DHCP"); err == nil {
				p.DHCP = k.String()
			}
			if k, err := sec.GetKey("LinkLocalAddressing"); err == nil {
				p.LinkLocal = k.String()
			}
			if k, err := sec.GetKey("DNS"); err == nil {
				p.DNS = append(p.DNS, k.ValueWithShadows()...)
			}
			if k, err := sec.GetKey("NTP"); err == nil {
				p.NTP = append(p.NTP, k.ValueWithShadows()...)
			}
			if k, err := sec.GetKey("EmitLLDP"); err == nil {
				p.EmitLLDP = parseBool(k.String())
			}
			if k, err := sec.GetKey("Address"); err == nil {
				for _, v := range k.ValueWithShadows() {
					if pfx, err := netip.ParsePrefix(v); err == nil {
						p.Addresses = append(p.Addresses, pfx)
					}
				}
			}
			if k, err := sec.GetKey("Gateway"); err == nil {
				for _, v := range k.ValueWithShadows() {
					if gw, err := netip.ParseAddr(v); err == nil {
						p.Gateways = append(p.Gateways, gw)
					}
				}
			}
		case "Address":
			if k, err := sec.GetKey("Address"); err == nil {
				if pfx, err := netip.ParsePrefix(k.String()); err == nil {
					p.Addresses = append(p.Addresses, pfx)
				}
			}
		case "Route":
			if k, err := sec.GetKey("Gateway"); err == nil {
				if gw, err := netip.ParseAddr(k.String()); err == nil {
					p.Gateways = append(p.Gateways, gw)
				}
			}
		case "Link":
			if k, err := sec.GetKey("MACAddress"); err == nil {
				p.MACAddr = k.String()
			}
			if k, err := sec.GetKey("MTUBytes"); err == nil {
				p.MTU, _ = k.Uint64()
			}
		}
	}
	return p, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "true", "on", "1":
		return true
	}
	return false
}

// NetworkFile describes the network file emitted for one interface.
// Rendering is deterministic so repeated writes of equal state produce
// byte-identical files.
type NetworkFile struct {
	MatchName string
	DHCP      string
	LinkLocal string
	DNS       []string
	NTP       []string
	Addresses []netip.Prefix
	Gateways  []netip.Addr
	EmitLLDP  bool
	MACAddr   string
	MTU       uint64
}

// Render serialises the file in supervisor key=value format.
func (f *NetworkFile) Render() []byte {
	var b strings.Builder
	b.WriteString("[Match]\n")
	fmt.Fprintf(&b, "Name=%s\n", f.MatchName)

	if f.MACAddr != "" || f.MTU != 0 {
		b.WriteString("\n[Link]\n")
		if f.MACAddr != "" {
			fmt.Fprintf(&b, "MACAddress=%s\n", f.MACAddr)
		}
		if f.MTU != 0 {
			fmt.Fprintf(&b, "MTUBytes=%d\n", f.MTU)
		}
	}

	b.WriteString("\n[Network]\n")
	if f.LinkLocal != "" {
		fmt.Fprintf(&b, "LinkLocalAddressing=%s\n", f.LinkLocal)
	}
	dhcp := f.DHCP
	if dhcp == "" {
		dhcp = "no"
	}
	fmt.Fprintf(&b, "DHCP=%s\n", dhcp)
	if f.EmitLLDP {
		b.WriteString("EmitLLDP=yes\n")
	}
	for _, d := range f.DNS {
		fmt.Fprintf(&b, "DNS=%s\n", d)
	}
	for _, n := range f.NTP {
		fmt.Fprintf(&b, "NTP=%s\n", n)
	}

	addrs := append([]netip.Prefix(nil), f.Addresses...)
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })
	for _, a := range addrs {
		fmt.Fprintf(&b, "\n[Address]\nAddress=%s\n", a)
	}

	gws := append([]netip.Addr(nil), f.Gateways...)
	sort.Slice(gws, func(i, j int) bool { return gws[i].String() < gws[j].String() })
	for _, gw := range gws {
		fmt.Fprintf(&b, "\n[Route]\nGateway=%s\nGatewayOnLink=yes\n", gw)
	}

	return []byte(b.String())
}

// WriteTo materialises the file under dir, replacing any previous
// version atomically.
func (f *NetworkFile) WriteTo(dir string) error {
	return writeAtomic(Path(dir, f.MatchName), f.Render())
}

// NetdevFile describes the netdev file for a VLAN device.
type NetdevFile struct {
	Name   string
	VLANID uint16
}

// Render serialises the netdev file.
func (f *NetdevFile) Render() []byte {
	var b strings.Builder
	b.WriteString("[NetDev]\n")
	fmt.Fprintf(&b, "Name=%s\nKind=vlan\n", f.Name)
	fmt.Fprintf(&b, "\n[VLAN]\nId=%d\n", f.VLANID)
	return []byte(b.String())
}

// WriteTo materialises the netdev file under dir.
func (f *NetdevFile) WriteTo(dir string) error {
	return writeAtomic(NetdevPath(dir, f.Name), f.Render())
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

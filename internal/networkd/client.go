// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package networkd speaks to the link supervisor (systemd-networkd) over
// the system bus: per-link administrative state, link enumeration, and
// the configuration reload RPC.
package networkd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName      = "org.freedesktop.network1"
	managerPath  = "/org/freedesktop/network1"
	managerIface = "org.freedesktop.network1.Manager"
	linkIface    = "org.freedesktop.network1.Link"
	propsIface   = "org.freedesktop.DBus.Properties"

	// Link object paths end in the bus-escaped decimal ifindex. The
	// leading digit is escaped to "_3<digit>", the rest stay literal.
	linkPathNamespace = "/org/freedesktop/network1/link"
)

// Link is one entry of the supervisor's ListLinks reply.
type Link struct {
	Index int32
	Name  string
	Path  dbus.ObjectPath
}

// Client is a thin supervisor RPC wrapper. All methods are safe to call
// with the supervisor absent; callers decide whether that is fatal.
type Client struct {
	conn *dbus.Conn
}

// NewClient wraps an established bus connection.
func NewClient(conn *dbus.Conn) *Client {
	return &Client{conn: conn}
}

// ListLinks enumerates the links the supervisor currently tracks.
func (c *Client) ListLinks() ([]Link, error) {
	var links []Link
	obj := c.conn.Object(busName, managerPath)
	if err := obj.Call(managerIface+".ListLinks", 0).Store(&links); err != nil {
		return nil, fmt.Errorf("ListLinks: %w", err)
	}
	return links, nil
}

// AdministrativeState queries one link object's administrative state.
func (c *Client) AdministrativeState(path dbus.ObjectPath) (string, error) {
	obj := c.conn.Object(busName, path)
	v, err := obj.GetProperty(linkIface + ".AdministrativeState")
	if err != nil {
		return "", fmt.Errorf("get AdministrativeState of %s: %w", path, err)
	}
	state, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("AdministrativeState of %s is not a string", path)
	}
	return state, nil
}

// Reload asks the supervisor to re-read its configuration directory and
// reconfigure links.
func (c *Client) Reload() error {
	obj := c.conn.Object(busName, managerPath)
	if call := obj.Call(managerIface+".Reload", 0); call.Err != nil {
		return fmt.Errorf("Reload: %w", call.Err)
	}
	return nil
}

// ifidxFromLinkPath extracts the kernel ifindex from a supervisor link
// object path of the form .../link/_3<decimal>.
func ifidxFromLinkPath(path dbus.ObjectPath) (uint32, error) {
	s := string(path)
	sep := strings.LastIndexByte(s, '/')
	if sep < 0 || len(s) < sep+4 {
		return 0, fmt.Errorf("invalid link object path %q", s)
	}
	elem := s[sep+1:]
	if !strings.HasPrefix(elem, "_3") {
		return 0, fmt.Errorf("invalid link object path %q", s)
	}
	idx, err := strconv.ParseUint(elem[2:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ifindex in link object path %q: %w", s, err)
	}
	return uint32(idx), nil
}

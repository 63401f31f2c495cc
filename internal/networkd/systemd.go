// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package networkd

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	systemdBusName = "org.freedesktop.systemd1"
	systemdPath    = "/org/freedesktop/systemd1"
	systemdIface   = "org.freedesktop.systemd1.Manager"
)

// ServiceManager restarts system units, used to bounce lldpd after its
// configuration is rewritten.
type ServiceManager struct {
	conn *dbus.Conn
}

// NewServiceManager wraps an established bus connection.
func NewServiceManager(conn *dbus.Conn) *ServiceManager {
	return &ServiceManager{conn: conn}
}

// RestartUnit restarts unit with the replace job mode.
func (s *ServiceManager) RestartUnit(unit string) error {
	obj := s.conn.Object(systemdBusName, systemdPath)
	if call := obj.Call(systemdIface+".RestartUnit", 0, unit, "replace"); call.Err != nil {
		return fmt.Errorf("RestartUnit %s: %w", unit, call.Err)
	}
	return nil
}

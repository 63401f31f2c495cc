// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import "os"

// SystemConfiguration is the system-wide configuration object exported
// under the object root's "config" child.
type SystemConfiguration struct {
	objectPath string
}

// SystemConfiguration returns the manager's system-wide config object.
func (m *Manager) SystemConfiguration() *SystemConfiguration {
	return &SystemConfiguration{objectPath: m.objectPath + "/config"}
}

// ObjectPath returns the bus path of the object.
func (s *SystemConfiguration) ObjectPath() string {
	return s.objectPath
}

// HostName reports the current system hostname.
func (s *SystemConfiguration) HostName() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

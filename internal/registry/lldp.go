// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// WriteLLDPConfigurationFile emits the lldpd configuration covering
// every managed interface. It is a no-op when LLDP emission is not
// configured.
func (m *Manager) WriteLLDPConfigurationFile() error {
	if m.lldp == nil {
		return nil
	}
	var b strings.Builder
	b.WriteString("configure system description BMC\n")
	b.WriteString("configure system ip management pattern eth*\n")

	names := make([]string, 0, len(m.interfaces))
	for name := range m.interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		status := "disabled"
		if m.interfaces[name].EmitLLDP() {
			status = "tx-only"
		}
		fmt.Fprintf(&b, "configure ports %s lldp status %s\n", name, status)
	}

	if err := os.WriteFile(m.lldp.ConfigPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", m.lldp.ConfigPath, err)
	}
	return nil
}

// ReloadLLDPService restarts lldpd so it picks up the rewritten
// configuration. Failure is logged, never fatal.
func (m *Manager) ReloadLLDPService() {
	if m.lldp == nil || m.restarter == nil {
		return
	}
	if err := m.restarter.RestartUnit(m.lldp.Service); err != nil {
		m.log.WithError(err).Error("Failed to restart service", "service", m.lldp.Service)
	}
}

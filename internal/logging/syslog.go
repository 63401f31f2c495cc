// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"net"
	"time"
)

// SyslogConfig describes optional forwarding of log records to a remote
// syslog collector.
type SyslogConfig struct {
	Enabled  bool   `hcl:"enabled,optional"`
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	Protocol string `hcl:"protocol,optional"` // udp or tcp
	Tag      string `hcl:"tag,optional"`
	Facility int    `hcl:"facility,optional"`
}

// DefaultSyslogConfig returns the disabled default forwarding config.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "bmcnetd",
		Facility: 1,
	}
}

// SyslogWriter sends each Write call as one RFC 3164 style message over
// the configured protocol (udp or tcp).
type SyslogWriter struct {
	conn     net.Conn
	tag      string
	facility int
}

// NewSyslogWriter connects to the collector described by cfg.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host not configured")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "bmcnetd"
	}
	conn, err := net.DialTimeout(cfg.Protocol, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("syslog dial: %w", err)
	}
	return &SyslogWriter{conn: conn, tag: cfg.Tag, facility: cfg.Facility}, nil
}

// Write implements io.Writer. Each call is framed as one syslog message
// at severity informational.
func (w *SyslogWriter) Write(p []byte) (int, error) {
	pri := w.facility*8 + 6
	msg := fmt.Sprintf("<%d>%s %s: %s", pri, time.Now().Format(time.Stamp), w.tag, p)
	if _, err := w.conn.Write([]byte(msg)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the collector connection.
func (w *SyslogWriter) Close() error {
	return w.conn.Close()
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command bmcnetd is the BMC network configuration daemon. It tracks
// kernel link state over rtnetlink, reconciles it with the link
// supervisor's administrative state, exports managed interface objects,
// and materialises the supervisor's network files with a debounced
// reload.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"grimm.is/bmcnetd/internal/config"
	"grimm.is/bmcnetd/internal/logging"
	"grimm.is/bmcnetd/internal/metrics"
	"grimm.is/bmcnetd/internal/networkd"
	"grimm.is/bmcnetd/internal/registry"
	"grimm.is/bmcnetd/internal/reload"
	"grimm.is/bmcnetd/internal/rtnetlink"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("BMCNETD_CONFIG"))
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if cfg.Syslog != nil && cfg.Syslog.Enabled {
		if sw, err := logging.NewSyslogWriter(*cfg.Syslog); err == nil {
			out = io.MultiWriter(os.Stderr, sw)
			defer sw.Close()
		} else {
			fmt.Fprintf(os.Stderr, "syslog forwarding disabled: %v\n", err)
		}
	}
	logging.SetDefault(logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: out,
		JSON:   cfg.LogJSON,
	}))
	log := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	coordinator := reload.New(logging.Default(), cfg.QuietPeriod())
	client := networkd.NewClient(conn)

	var lldp *registry.LLDPOptions
	if cfg.LLDP != nil && cfg.LLDP.Enabled {
		lldp = &registry.LLDPOptions{ConfigPath: cfg.LLDP.ConfigPath, Service: cfg.LLDP.Service}
	}

	mgr := registry.New(registry.Options{
		Log:          logging.Default(),
		ConfDir:      cfg.ConfDir,
		ObjectPath:   cfg.ObjectPath,
		IgnoredNames: cfg.IgnoredNames(),
		Reload:       coordinator,
		Reloader:     client,
		LLDP:         lldp,
		Restarter:    networkd.NewServiceManager(conn),
	})

	watcher := networkd.NewWatcher(conn, logging.Default())
	source := rtnetlink.NewSource(logging.Default())

	if cfg.BusName != "" {
		reply, err := conn.RequestName(cfg.BusName, dbus.NameFlagDoNotQueue)
		if err != nil || reply != dbus.RequestNameReplyPrimaryOwner {
			log.Warn("Could not claim bus name", "name", cfg.BusName, "error", err)
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.WithError(err).Warn("Metrics endpoint stopped")
			}
		}()
	}

	// The netlink source and the supervisor watcher feed the single
	// registry loop; a source failure at startup is fatal, the
	// watcher tolerates an absent supervisor.
	errCh := make(chan error, 2)
	go func() { errCh <- source.Run(ctx) }()
	go func() { errCh <- watcher.Run(ctx) }()

	if lldp != nil {
		if err := mgr.WriteLLDPConfigurationFile(); err != nil {
			log.WithError(err).Warn("Initial lldpd config emission failed")
		} else {
			mgr.ReloadLLDPService()
		}
	}

	log.Info("bmcnetd starting", "config_dir", cfg.ConfDir, "object_path", cfg.ObjectPath)

	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(ctx, source.Events(), watcher.Updates()) }()

	select {
	case <-ctx.Done():
		log.Info("Received request to terminate, exiting")
		return nil
	case err := <-errCh:
		if err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	case err := <-runErr:
		return err
	}
}

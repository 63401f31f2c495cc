// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NetlinkEvents counts kernel events by decoded kind.
	NetlinkEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bmcnetd",
		Name:      "netlink_events_total",
		Help:      "Kernel rtnetlink events processed, by kind.",
	}, []string{"kind"})

	// EventErrors counts registry-level event handling failures.
	EventErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bmcnetd",
		Name:      "event_errors_total",
		Help:      "Kernel events that could not be applied to the registry.",
	})

	// ManagedInterfaces tracks the size of the managed object pool.
	ManagedInterfaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bmcnetd",
		Name:      "managed_interfaces",
		Help:      "Interfaces currently exported as managed objects.",
	})

	// ReloadsScheduled counts debounce (re)arms.
	ReloadsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bmcnetd",
		Name:      "reloads_scheduled_total",
		Help:      "Supervisor reload schedule requests (pre-debounce).",
	})

	// Reloads counts reload firings by outcome.
	Reloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bmcnetd",
		Name:      "reloads_total",
		Help:      "Supervisor reload attempts, by outcome.",
	}, []string{"outcome"})
)

// Serve exposes /metrics on addr. It blocks, so callers run it in its
// own goroutine; errors are returned for logging only.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package networkd

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"grimm.is/bmcnetd/internal/logging"
)

// AdminState is one per-link administrative state report.
type AdminState struct {
	Ifidx uint32
	State string
}

// Watcher subscribes to the supervisor's per-link PropertiesChanged
// signals and delivers AdministrativeState updates. At startup it
// enumerates existing links through the same sink; a supervisor that is
// not running yet is tolerated, the multicast fills the gap later.
type Watcher struct {
	conn    *dbus.Conn
	client  *Client
	log     *logging.Logger
	updates chan AdminState
}

// NewWatcher creates an unstarted watcher on conn.
func NewWatcher(conn *dbus.Conn, log *logging.Logger) *Watcher {
	return &Watcher{
		conn:    conn,
		client:  NewClient(conn),
		log:     log.WithComponent("networkd"),
		updates: make(chan AdminState, 64),
	}
}

// Updates returns the state update channel. It is closed when Run
// returns.
func (w *Watcher) Updates() <-chan AdminState {
	return w.updates
}

// Run subscribes, enumerates, and forwards updates until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.updates)

	if err := w.conn.AddMatchSignal(
		dbus.WithMatchSender(busName),
		dbus.WithMatchPathNamespace(linkPathNamespace),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, linkIface),
	); err != nil {
		return fmt.Errorf("subscribe to supervisor link signals: %w", err)
	}

	signals := make(chan *dbus.Signal, 64)
	w.conn.Signal(signals)
	defer w.conn.RemoveSignal(signals)

	w.enumerate(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("bus connection closed")
			}
			if state, ifidx, ok := decodeSignal(sig); ok {
				if !w.deliver(ctx, AdminState{Ifidx: ifidx, State: state}) {
					return nil
				}
			} else if sig.Name == propsIface+".PropertiesChanged" {
				// Malformed paths are logged, never thrown out of
				// the callback.
				w.log.Warn("Ignoring unparseable AdministrativeState signal", "path", sig.Path)
			}
		}
	}
}

// enumerate seeds the sink with the state of every link the supervisor
// already tracks.
func (w *Watcher) enumerate(ctx context.Context) {
	links, err := w.client.ListLinks()
	if err != nil {
		// Any failure here is the supervisor not being ready.
		w.log.Debug("Supervisor not reachable at startup, relying on signals", "error", err)
		return
	}
	for _, link := range links {
		state, err := w.client.AdministrativeState(link.Path)
		if err != nil {
			w.log.WithError(err).Warn("Failed to query link state", "link", link.Name)
			continue
		}
		ifidx, err := ifidxFromLinkPath(link.Path)
		if err != nil {
			w.log.WithError(err).Warn("Skipping link with unexpected object path", "link", link.Name)
			continue
		}
		if !w.deliver(ctx, AdminState{Ifidx: ifidx, State: state}) {
			return
		}
	}
}

func (w *Watcher) deliver(ctx context.Context, st AdminState) bool {
	select {
	case w.updates <- st:
		return true
	case <-ctx.Done():
		return false
	}
}

// decodeSignal extracts (state, ifidx) from a PropertiesChanged signal.
// Signals without an AdministrativeState entry report ok=false.
func decodeSignal(sig *dbus.Signal) (string, uint32, bool) {
	if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return "", 0, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != linkIface {
		return "", 0, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", 0, false
	}
	v, ok := changed["AdministrativeState"]
	if !ok {
		return "", 0, false
	}
	state, ok := v.Value().(string)
	if !ok {
		return "", 0, false
	}
	ifidx, err := ifidxFromLinkPath(sig.Path)
	if err != nil {
		return "", 0, false
	}
	return state, ifidx, true
}

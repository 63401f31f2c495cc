// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rtnetlink

import (
	"context"
	"fmt"

	"github.com/vishvananda/netlink"

	"grimm.is/bmcnetd/internal/logging"
	"grimm.is/bmcnetd/internal/metrics"
)

const eventBuffer = 1024

// Source subscribes to the kernel's routing multicast groups (link,
// IPv4/IPv6 address, IPv4/IPv6 route, neighbor), performs the initial
// dumps, and fans everything into a single ordered event channel.
//
// On a socket overrun the affected subsystem is resubscribed and
// re-dumped, so the registry converges even after message loss.
type Source struct {
	log    *logging.Logger
	events chan Event
}

// NewSource creates an unstarted source.
func NewSource(log *logging.Logger) *Source {
	return &Source{
		log:    log.WithComponent("rtnetlink"),
		events: make(chan Event, eventBuffer),
	}
}

// Events returns the fan-in channel. It is closed when Run returns.
func (s *Source) Events() <-chan Event {
	return s.events
}

// Run subscribes, dumps, and forwards updates until ctx is cancelled.
// Subscription failures at startup are fatal; later failures trigger
// resubscription.
func (s *Source) Run(ctx context.Context) error {
	defer close(s.events)

	done := make(chan struct{})
	defer close(done)

	linkCh := make(chan netlink.LinkUpdate, eventBuffer)
	addrCh := make(chan netlink.AddrUpdate, eventBuffer)
	routeCh := make(chan netlink.RouteUpdate, eventBuffer)
	neighCh := make(chan netlink.NeighUpdate, eventBuffer)

	// Overrun notifications per subsystem, coalesced to one pending
	// re-dump each.
	overrun := make(chan string, 8)
	errCb := func(subsys string) func(error) {
		return func(err error) {
			s.log.WithError(err).Warn("Netlink subscription error, scheduling re-dump", "subsys", subsys)
			select {
			case overrun <- subsys:
			default:
			}
		}
	}

	if err := netlink.LinkSubscribeWithOptions(linkCh, done, netlink.LinkSubscribeOptions{
		ErrorCallback: errCb("link"),
	}); err != nil {
		return fmt.Errorf("link subscribe: %w", err)
	}
	if err := netlink.AddrSubscribeWithOptions(addrCh, done, netlink.AddrSubscribeOptions{
		ErrorCallback: errCb("addr"),
	}); err != nil {
		return fmt.Errorf("addr subscribe: %w", err)
	}
	if err := netlink.RouteSubscribeWithOptions(routeCh, done, netlink.RouteSubscribeOptions{
		ErrorCallback: errCb("route"),
	}); err != nil {
		return fmt.Errorf("route subscribe: %w", err)
	}
	if err := netlink.NeighSubscribeWithOptions(neighCh, done, netlink.NeighSubscribeOptions{
		ErrorCallback: errCb("neigh"),
	}); err != nil {
		return fmt.Errorf("neigh subscribe: %w", err)
	}

	// Initial state: dump links, then addresses, then routes, then
	// neighbors. Updates racing the dump sit buffered in the
	// subscription channels; replays are idempotent at the registry.
	for _, subsys := range []string{"link", "addr", "route", "neigh"} {
		if err := s.dump(ctx, subsys); err != nil {
			return fmt.Errorf("initial %s dump: %w", subsys, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-linkCh:
			if ev, ok := DecodeLinkUpdate(u); ok {
				if !s.emit(ctx, ev) {
					return nil
				}
			}
		case u := <-addrCh:
			if ev, ok := DecodeAddrUpdate(u); ok {
				if !s.emit(ctx, ev) {
					return nil
				}
			}
		case u := <-routeCh:
			if ev, ok := DecodeRouteUpdate(u); ok {
				if !s.emit(ctx, ev) {
					return nil
				}
			}
		case u := <-neighCh:
			if ev, ok := DecodeNeighUpdate(u); ok {
				if !s.emit(ctx, ev) {
					return nil
				}
			}
		case subsys := <-overrun:
			if err := s.dump(ctx, subsys); err != nil {
				s.log.WithError(err).Error("Re-dump after overrun failed", "subsys", subsys)
			}
		}
	}
}

// dump replays the current kernel state of one subsystem through the
// event channel.
func (s *Source) dump(ctx context.Context, subsys string) error {
	switch subsys {
	case "link":
		links, err := netlink.LinkList()
		if err != nil {
			return err
		}
		for _, link := range links {
			if !s.emit(ctx, DecodeLink(link, false)) {
				return ctx.Err()
			}
		}
	case "addr":
		addrs, err := netlink.AddrList(nil, netlink.FAMILY_ALL)
		if err != nil {
			return err
		}
		for _, a := range addrs {
			if ev, ok := DecodeAddr(a, false); ok {
				if !s.emit(ctx, ev) {
					return ctx.Err()
				}
			}
		}
	case "route":
		routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
		if err != nil {
			return err
		}
		for _, r := range routes {
			if ev, ok := DecodeRoute(r, false); ok {
				if !s.emit(ctx, ev) {
					return ctx.Err()
				}
			}
		}
	case "neigh":
		neighs, err := netlink.NeighList(0, netlink.FAMILY_ALL)
		if err != nil {
			return err
		}
		for _, n := range neighs {
			if ev, ok := DecodeNeigh(n, false); ok {
				if !s.emit(ctx, ev) {
					return ctx.Err()
				}
			}
		}
	}
	return nil
}

func (s *Source) emit(ctx context.Context, ev Event) bool {
	metrics.NetlinkEvents.WithLabelValues(ev.Kind.String()).Inc()
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

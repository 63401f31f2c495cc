// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package reload debounces link supervisor reloads. Mutations that touch
// persisted configuration register hooks and call Schedule; one reload
// fires per quiet period no matter how many mutations arrived.
package reload

import (
	"sync"
	"time"

	"grimm.is/bmcnetd/internal/logging"
	"grimm.is/bmcnetd/internal/metrics"
)

// DefaultQuietPeriod is the debounce window between the last Schedule
// call and the reload firing.
const DefaultQuietPeriod = 3 * time.Second

// Hook runs around a reload firing. Hooks are one-shot: a hook
// registered now runs on the next firing only.
type Hook func() error

// Reloader issues the supervisor reload RPC.
type Reloader interface {
	Reload() error
}

// Coordinator owns the debounce timer and the pre/post hook lists.
// Firings are delivered through Fired so the owning event loop runs
// Fire without interleaving registry mutations.
type Coordinator struct {
	log   *logging.Logger
	quiet time.Duration

	mu    sync.Mutex
	pre   []Hook
	post  []Hook
	timer *time.Timer

	fired chan struct{}
}

// New creates a coordinator with the given quiet period; zero selects
// DefaultQuietPeriod.
func New(log *logging.Logger, quiet time.Duration) *Coordinator {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Coordinator{
		log:   log.WithComponent("reload"),
		quiet: quiet,
		fired: make(chan struct{}, 1),
	}
}

// AddPreHook appends a hook run before the supervisor reload.
func (c *Coordinator) AddPreHook(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pre = append(c.pre, h)
}

// AddPostHook appends a hook run after a successful supervisor reload.
func (c *Coordinator) AddPostHook(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.post = append(c.post, h)
}

// Schedule (re)arms the timer to fire once, a quiet period from now.
// Calls within the quiet period collapse into one firing.
func (c *Coordinator) Schedule() {
	metrics.ReloadsScheduled.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		c.timer = time.AfterFunc(c.quiet, func() {
			select {
			case c.fired <- struct{}{}:
			default:
			}
		})
		return
	}
	c.timer.Reset(c.quiet)
}

// Fired signals that the quiet period elapsed. The owner must respond
// by calling Fire.
func (c *Coordinator) Fired() <-chan struct{} {
	return c.fired
}

// Fire runs the hook/reload sequence once. Hook lists are snapshotted
// and cleared up front, so hooks registered while firing wait for the
// next firing. Pre-hook failures are logged and do not abort; a reload
// failure discards the post-hooks.
func (c *Coordinator) Fire(r Reloader) {
	c.mu.Lock()
	pre, post := c.pre, c.post
	c.pre, c.post = nil, nil
	c.mu.Unlock()

	for _, h := range pre {
		if err := h(); err != nil {
			c.log.WithError(err).Error("Failed executing reload pre-hook, ignoring")
		}
	}
	if err := r.Reload(); err != nil {
		c.log.WithError(err).Error("Failed to reload supervisor configuration")
		metrics.Reloads.WithLabelValues("failure").Inc()
		return
	}
	c.log.Info("Reloaded supervisor network configuration")
	metrics.Reloads.WithLabelValues("success").Inc()
	for _, h := range post {
		if err := h(); err != nil {
			c.log.WithError(err).Error("Failed executing reload post-hook, ignoring")
		}
	}
}

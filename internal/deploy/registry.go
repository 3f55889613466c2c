// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EventKind classifies a device lifecycle notification.
type EventKind int

const (
	DeviceConnected EventKind = iota
	DeviceDisconnected
	DeviceChanged
)

func (k EventKind) String() string {
	switch k {
	case DeviceConnected:
		return "connected"
	case DeviceDisconnected:
		return "disconnected"
	case DeviceChanged:
		return "changed"
	}
	return "unknown"
}

// DeviceEvent is one registry notification. Device is the snapshot taken
// when the event was observed; consumers needing fresher state re-query
// the registry by serial.
type DeviceEvent struct {
	Kind   EventKind
	Device Device
}

// Registry tracks the devices the bridge currently reports and publishes
// connect, disconnect and state-change events to subscribers. One registry
// serves the whole process; each run subscribes its own watcher.
type Registry struct {
	env    Env
	bridge DeviceBridge

	mu      sync.Mutex
	devices map[string]Device
	subs    map[int]chan DeviceEvent
	nextSub int

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

const defaultPollInterval = 500 * time.Millisecond

func NewRegistry(env Env, bridge DeviceBridge) *Registry {
	return &Registry{
		env:      env,
		bridge:   bridge,
		devices:  make(map[string]Device),
		subs:     make(map[int]chan DeviceEvent),
		interval: defaultPollInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling the bridge until Stop is called. Safe to call once.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		r.poll(ctx)
		for {
			select {
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.poll(ctx)
			}
		}
	}()
}

// Stop terminates the poll loop and closes all subscriber channels.
func (r *Registry) Stop() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	select {
	case <-r.stop:
		return
	default:
		close(r.stop)
	}
	if started {
		<-r.done
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}

func (r *Registry) poll(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		logEvent(r.env, "device poll failed", "error", err.Error())
	}
}

// Refresh performs one poll cycle: snapshot the bridge, diff against the
// previous view, publish events. Exposed so callers without a running poll
// loop (tests, one-shot CLI commands) can drive the registry directly.
func (r *Registry) Refresh(ctx context.Context) error {
	current, err := r.bridge.Devices(ctx)
	if err != nil {
		return fmt.Errorf("device poll: %w", err)
	}

	seen := make(map[string]bool, len(current))
	var events []DeviceEvent

	r.mu.Lock()
	for _, d := range current {
		seen[d.Serial] = true
		prev, known := r.devices[d.Serial]
		r.devices[d.Serial] = d
		switch {
		case !known:
			events = append(events, DeviceEvent{Kind: DeviceConnected, Device: d})
		case prev.State != d.State || prev.AvdName != d.AvdName:
			events = append(events, DeviceEvent{Kind: DeviceChanged, Device: d})
		}
	}
	for serial, d := range r.devices {
		if !seen[serial] {
			delete(r.devices, serial)
			events = append(events, DeviceEvent{Kind: DeviceDisconnected, Device: d})
		}
	}
	subs := make([]chan DeviceEvent, 0, len(r.subs))
	for _, ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ev := range events {
		for _, ch := range subs {
			select {
			case ch <- ev:
			default:
				// Slow subscriber: drop rather than stall the poll loop.
				// The watcher re-evaluates from the registry anyway.
			}
		}
	}
	return nil
}

// Snapshot returns the current device set in unspecified order.
func (r *Registry) Snapshot() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Get returns the freshest snapshot of one device.
func (r *Registry) Get(serial string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[serial]
	return d, ok
}

// Subscribe registers an event channel. The returned func unsubscribes;
// the channel is closed on unsubscribe or registry stop.
func (r *Registry) Subscribe() (<-chan DeviceEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan DeviceEvent, 64)
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			close(c)
			delete(r.subs, id)
		}
	}
}

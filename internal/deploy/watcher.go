// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"context"
	"sync"
	"time"
)

// debounceWindow coalesces the burst of change events a device emits while
// it boots. One deployment fires per quiet second, not one per event.
const debounceWindow = time.Second

// Watcher completes a pending run when a matching device comes online. It
// subscribes to registry events, reports connect and disconnect on the
// console, and hands the device to the sequencer exactly once.
type Watcher struct {
	env       Env
	registry  *Registry
	sequencer *Sequencer
	sink      OutputSink
	debounce  time.Duration

	events      <-chan DeviceEvent
	unsubscribe func()
	done        chan struct{}

	mu        sync.Mutex
	installed map[string]bool
	timers    map[string]*time.Timer
	disposed  bool
}

func NewWatcher(env Env, registry *Registry, sequencer *Sequencer, sink OutputSink) *Watcher {
	return &Watcher{
		env:       env,
		registry:  registry,
		sequencer: sequencer,
		sink:      sink,
		debounce:  debounceWindow,
		installed: make(map[string]bool),
		timers:    make(map[string]*time.Timer),
	}
}

// Start begins consuming registry events until Dispose or run stop.
func (w *Watcher) Start(ctx context.Context) {
	w.events, w.unsubscribe = w.registry.Subscribe()
	w.done = make(chan struct{})
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case <-w.sequencer.State().StopChan():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev DeviceEvent) {
	if !w.matches(ev.Device) {
		return
	}
	switch ev.Kind {
	case DeviceConnected:
		sinkf(w.sink, Stdout, "Device connected: %s", ev.Device.Serial)
		if ev.Device.Online() {
			w.schedule(ctx, ev.Device.Serial)
		}
	case DeviceDisconnected:
		sinkf(w.sink, Stdout, "Device disconnected: %s", ev.Device.Serial)
	case DeviceChanged:
		w.schedule(ctx, ev.Device.Serial)
	}
}

func (w *Watcher) matches(d Device) bool {
	return w.sequencer.State().HasTarget(d.Serial) || w.sequencerMatches(d)
}

func (w *Watcher) sequencerMatches(d Device) bool {
	if w.sequencer.State().TargetCount() > 0 {
		return false
	}
	return w.sequencer.matches(d)
}

// schedule arms (or re-arms) the per-serial debounce timer.
func (w *Watcher) schedule(ctx context.Context, serial string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed || w.installed[serial] {
		return
	}
	if t, ok := w.timers[serial]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[serial] = time.AfterFunc(w.debounce, func() {
		w.fire(ctx, serial)
	})
}

// fire runs after the debounce window. It re-reads the registry so the
// decision uses current state, not the event that armed the timer. Each
// device is sequenced at most once per watcher; a claimed pending run
// stops matching other serials, so a pending run deploys exactly once.
func (w *Watcher) fire(ctx context.Context, serial string) {
	w.mu.Lock()
	delete(w.timers, serial)
	if w.disposed || w.installed[serial] || w.sequencer.State().Stopped() {
		w.mu.Unlock()
		return
	}
	d, ok := w.registry.Get(serial)
	if !ok || !d.Online() || !w.matches(d) {
		w.mu.Unlock()
		return
	}
	w.installed[serial] = true
	w.mu.Unlock()

	sinkf(w.sink, Stdout, "Device is online: %s", d.DisplayName())
	logEvent(w.env, "device online, completing pending run", "serial", d.Serial)
	w.sequencer.State().ClaimTarget(d)
	go func() {
		if !w.sequencer.RunOnDevice(ctx, d) && !w.sequencer.State().Stopped() {
			w.sequencer.State().Stop()
		}
	}()
}

// Dispose tears down the subscription and any armed timers. Safe to call
// more than once.
func (w *Watcher) Dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	for serial, t := range w.timers {
		t.Stop()
		delete(w.timers, serial)
	}
	w.mu.Unlock()

	if w.unsubscribe != nil {
		w.unsubscribe()
	}
	if w.done != nil {
		<-w.done
	}
}

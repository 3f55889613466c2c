package deploy

import (
	"context"
	"testing"
	"time"
)

// watcherHarness wires a watcher to a registry whose bridge transitions a
// device from absent to online across polls.
type watcherHarness struct {
	registry *Registry
	seq      *Sequencer
	state    *RunState
	sink     *memorySink
	watcher  *Watcher
	launcher *stubLauncher
}

func newWatcherHarness(t *testing.T, bridge *fakeBridge, matches func(Device) bool) *watcherHarness {
	t.Helper()
	registry := NewRegistry(Env{}, bridge)
	state := NewRunState()
	sink := &memorySink{}
	inst := NewInstaller(Env{Context: context.Background()}, bridge, state, sink)
	inst.retryWait = time.Millisecond
	launcher := &stubLauncher{result: LaunchSuccess}
	seq := NewSequencer(Env{Context: context.Background()}, bridge, testMetadata(), launcher, inst, state, sink, LaunchOptions{})
	if err := seq.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	seq.SetMatcher(matches)

	w := NewWatcher(Env{}, registry, seq, sink)
	w.debounce = 5 * time.Millisecond
	return &watcherHarness{registry: registry, seq: seq, state: state, sink: sink, watcher: w, launcher: launcher}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatcherCompletesPendingRunOnce(t *testing.T) {
	online := Device{Serial: "emulator-5554", Kind: KindEmulator, State: StateOnline, AvdName: "pixel"}
	bridge := scriptedBridge(
		[]Device{{Serial: "emulator-5554", Kind: KindEmulator, State: StateOffline}},
		[]Device{online},
		[]Device{online},
	)
	h := newWatcherHarness(t, bridge, func(d Device) bool { return d.Emulator() })

	ctx := context.Background()
	h.watcher.Start(ctx)
	defer h.watcher.Dispose()

	_ = h.registry.Refresh(ctx) // connected, offline
	_ = h.registry.Refresh(ctx) // changed, online: arms the debounce

	waitFor(t, "launch", func() bool { return len(h.launcher.serials()) > 0 })

	if !h.state.HasTarget("emulator-5554") {
		t.Fatal("watcher should claim the device as the run target")
	}
	if !h.sink.contains("Device is online: emulator-5554 (pixel)") {
		t.Fatalf("online announcement missing; sink:\n%s", h.sink.all())
	}

	// The watcher-driven sequence ends the run like a directly resolved
	// one: the state finishes and the phase goes terminal.
	waitFor(t, "run completion", h.state.Finished)
	if h.seq.Phase() != PhaseTerminated {
		t.Fatalf("phase = %v", h.seq.Phase())
	}

	// Further change events must not trigger a second deployment.
	_ = h.registry.Refresh(ctx)
	time.Sleep(20 * time.Millisecond)
	if launches := len(h.launcher.serials()); launches != 1 {
		t.Fatalf("expected exactly one deployment, got %d", launches)
	}
}

func TestWatcherCompletesEachNamedOfflineTarget(t *testing.T) {
	a := Device{Serial: "a", State: StateOnline}
	b := Device{Serial: "b", State: StateOnline}
	bridge := scriptedBridge(
		[]Device{a},
		[]Device{a, b},
		[]Device{a, b},
	)
	h := newWatcherHarness(t, bridge, func(Device) bool { return false })
	h.state.SetTargets([]Device{{Serial: "a"}, {Serial: "b"}})

	ctx := context.Background()
	h.watcher.Start(ctx)
	defer h.watcher.Dispose()

	_ = h.registry.Refresh(ctx)
	waitFor(t, "first device", func() bool { return len(h.launcher.serials()) == 1 })
	if h.state.Finished() {
		t.Fatal("run must stay open while the second target is offline")
	}

	_ = h.registry.Refresh(ctx)
	waitFor(t, "second device", func() bool { return len(h.launcher.serials()) == 2 })
	waitFor(t, "run completion", h.state.Finished)
	if h.seq.Phase() != PhaseTerminated {
		t.Fatalf("phase = %v", h.seq.Phase())
	}
}

func TestWatcherFailureStopsRun(t *testing.T) {
	d := Device{Serial: "s", State: StateOnline}
	bridge := scriptedBridge([]Device{d})
	h := newWatcherHarness(t, bridge, func(Device) bool { return true })
	h.launcher.result = LaunchStop

	ctx := context.Background()
	h.watcher.Start(ctx)
	defer h.watcher.Dispose()

	_ = h.registry.Refresh(ctx)
	waitFor(t, "failed run stop", h.state.Stopped)
}

func TestWatcherDebounceCoalescesBootEvents(t *testing.T) {
	d := Device{Serial: "s", State: StateOnline}
	bridge := scriptedBridge([]Device{d})
	h := newWatcherHarness(t, bridge, func(Device) bool { return true })
	h.watcher.debounce = 50 * time.Millisecond

	ctx := context.Background()
	h.watcher.Start(ctx)
	defer h.watcher.Dispose()

	_ = h.registry.Refresh(ctx)
	for i := 0; i < 5; i++ {
		h.watcher.schedule(ctx, "s")
		time.Sleep(5 * time.Millisecond)
	}
	if early := len(h.launcher.serials()); early != 0 {
		t.Fatal("deployment fired inside the debounce window")
	}

	waitFor(t, "debounced launch", func() bool { return len(h.launcher.serials()) == 1 })
}

func TestWatcherIgnoresNonMatchingDevices(t *testing.T) {
	bridge := scriptedBridge([]Device{{Serial: "usb-1", State: StateOnline}})
	h := newWatcherHarness(t, bridge, func(d Device) bool { return d.Emulator() })

	ctx := context.Background()
	h.watcher.Start(ctx)
	defer h.watcher.Dispose()

	_ = h.registry.Refresh(ctx)
	time.Sleep(30 * time.Millisecond)

	if len(h.launcher.serials()) != 0 {
		t.Fatal("non-matching device must not trigger a run")
	}
	if h.sink.contains("Device connected") {
		t.Fatal("non-matching device must not be announced")
	}
}

func TestWatcherReportsDisconnects(t *testing.T) {
	d := Device{Serial: "s", State: StateOffline}
	bridge := scriptedBridge([]Device{d}, nil)
	h := newWatcherHarness(t, bridge, func(Device) bool { return true })

	ctx := context.Background()
	h.watcher.Start(ctx)
	defer h.watcher.Dispose()

	_ = h.registry.Refresh(ctx)
	waitFor(t, "connect report", func() bool { return h.sink.contains("Device connected: s") })
	_ = h.registry.Refresh(ctx)
	waitFor(t, "disconnect report", func() bool { return h.sink.contains("Device disconnected: s") })
}

func TestWatcherDisposeStopsPendingTimers(t *testing.T) {
	d := Device{Serial: "s", State: StateOnline}
	bridge := scriptedBridge([]Device{d})
	h := newWatcherHarness(t, bridge, func(Device) bool { return true })
	h.watcher.debounce = 50 * time.Millisecond

	ctx := context.Background()
	h.watcher.Start(ctx)
	_ = h.registry.Refresh(ctx)
	h.watcher.Dispose()

	time.Sleep(80 * time.Millisecond)
	if len(h.launcher.serials()) != 0 {
		t.Fatal("disposed watcher must not deploy")
	}
}

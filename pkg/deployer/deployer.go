// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

// Package deployer provides a Go library for deploying application
// packages to Android devices and emulators, with target resolution,
// retrying installation and launch sequencing.
package deployer

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/droidops/deployctl/internal/deploy"
)

// Orchestrator owns the device registry and runs deployments against it.
type Orchestrator struct {
	env      deploy.Env
	bridge   deploy.DeviceBridge
	registry *deploy.Registry
}

// New creates an Orchestrator with auto-detected environment.
func New() *Orchestrator {
	return newWithEnv(deploy.Detect())
}

// NewWithCorrelationID creates an Orchestrator whose structured logs are
// tagged with a correlation ID.
func NewWithCorrelationID(correlationID string) *Orchestrator {
	return NewWithContextAndCorrelationID(context.Background(), correlationID)
}

// NewWithContext creates an Orchestrator with a custom context for
// tracing.
func NewWithContext(ctx context.Context) *Orchestrator {
	return NewWithContextAndCorrelationID(ctx, "")
}

// NewWithContextAndCorrelationID creates an Orchestrator with a custom
// context and correlation ID.
func NewWithContextAndCorrelationID(ctx context.Context, correlationID string) *Orchestrator {
	env := deploy.Detect()
	if ctx == nil {
		ctx = context.Background()
	}
	env.Context = ctx
	env.CorrelationID = correlationID
	return newWithEnv(env)
}

// NewWithEnv creates an Orchestrator with custom environment
// configuration.
func NewWithEnv(env Environment) *Orchestrator {
	ctx := env.Context
	if ctx == nil {
		ctx = context.Background()
	}
	e := deploy.Detect()
	if env.ADBBin != "" {
		e.ADB = env.ADBBin
	}
	if env.EmulatorBin != "" {
		e.Emulator = env.EmulatorBin
	}
	if env.AvdManagerBin != "" {
		e.AvdMgr = env.AvdManagerBin
	}
	if env.AVDHome != "" {
		e.AVDHome = env.AVDHome
	}
	if env.StateDir != "" {
		e.StateDir = env.StateDir
	}
	e.CorrelationID = env.CorrelationID
	e.Context = ctx
	return newWithEnv(e)
}

func newWithEnv(env deploy.Env) *Orchestrator {
	bridge := deploy.NewADBBridge(env)
	return &Orchestrator{
		env:      env,
		bridge:   bridge,
		registry: deploy.NewRegistry(env, bridge),
	}
}

// Environment holds configuration for device tools and paths.
type Environment struct {
	ADBBin        string          // Path to adb binary (default: "adb")
	EmulatorBin   string          // Path to emulator binary (default: "emulator")
	AvdManagerBin string          // Path to avdmanager binary (default: "avdmanager")
	AVDHome       string          // ANDROID_AVD_HOME (default ~/.android/avd)
	StateDir      string          // Directory for persisted state (last selection)
	CorrelationID string          // Correlation ID for log enrichment
	Context       context.Context // Context for tracing
}

// RunOptions describes one deployment run.
type RunOptions struct {
	Project ProjectSpec   // Project modules and artifacts (required)
	Target  TargetChooser // Target chooser (required)

	Deploy    bool // Install packages before launching
	Debug     bool // Attach a debugger after launch
	Test      bool // Run instrumentation tests instead of the main activity
	ClearLogs bool // Clear the device log before the run
	Multi     bool // Allow several simultaneous target devices

	Activity string // Activity override for regular launches
	Runner   string // Instrumentation runner override for test runs

	Platform     Platform     // Build target platform, for compatibility checks
	Requirements Requirements // Sdk requirements override; defaults to the manifest's

	Chooser        InteractiveChooser   // Interactive device picker (nil disables it)
	VirtualDevices VirtualDeviceManager // Emulator profile manager (nil disables launch-on-demand)
	DebugLauncher  DebugLauncher        // Debugger attachment (required when Debug is set)

	Output    io.Writer // Progress stream (default os.Stdout)
	ErrOutput io.Writer // Error stream (default os.Stderr)
}

// Resolution mirrors the target resolution outcome.
type Resolution = deploy.Resolution

const (
	Resolved  = deploy.Resolved
	Pending   = deploy.Pending
	Cancelled = deploy.Cancelled
)

// Run is a handle on an in-flight deployment.
type Run struct {
	state      *deploy.RunState
	sequencer  *deploy.Sequencer
	watcher    *deploy.Watcher
	resolution Resolution
	devices    []Device
	done       chan struct{}
}

// Resolution reports how target resolution ended.
func (r *Run) Resolution() Resolution { return r.resolution }

// Devices returns the resolved target devices. Empty while a run is
// pending on a device-online event; explicitly named devices that are
// not connected yet appear as serial-only placeholders.
func (r *Run) Devices() []Device { return r.devices }

// Phase reports the sequencer's current lifecycle position.
func (r *Run) Phase() Phase { return r.sequencer.Phase() }

// Succeeded reports whether the run deployed its packages.
func (r *Run) Succeeded() bool { return r.state.Deployed() }

// Done is closed when the run has finished on all resolved devices,
// including devices the event watcher deploys to when they come online.
// It is also closed when the run is stopped or its context ends.
func (r *Run) Done() <-chan struct{} { return r.done }

// awaitEnd closes done when the run completes, stops or loses its
// context, whichever comes first.
func (r *Run) awaitEnd(ctx context.Context) {
	defer close(r.done)
	select {
	case <-r.state.FinishChan():
	case <-r.state.StopChan():
	case <-ctx.Done():
	}
}

// Wait blocks until the run finishes or the context ends.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the run. Idempotent.
func (r *Run) Stop() {
	r.state.Stop()
	if r.watcher != nil {
		r.watcher.Dispose()
	}
}

// Devices refreshes the registry and returns the current device set.
func (o *Orchestrator) Devices(ctx context.Context) ([]Device, error) {
	if err := o.registry.Refresh(ctx); err != nil {
		return nil, err
	}
	return o.registry.Snapshot(), nil
}

// Registry exposes the shared device registry for callers that want to
// subscribe to device events directly.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Bridge exposes the device transport.
func (o *Orchestrator) Bridge() DeviceBridge { return o.bridge }

// Start begins background device polling. Deploy does this on demand;
// call it directly for long-lived hosts that want events early.
func (o *Orchestrator) Start(ctx context.Context) { o.registry.Start(ctx) }

// Close stops background polling.
func (o *Orchestrator) Close() { o.registry.Stop() }

// Deploy resolves targets and runs the install and launch sequence on
// each of them. The returned Run reports progress; a Pending run is
// completed in the background when its device comes online.
func (o *Orchestrator) Deploy(ctx context.Context, opts RunOptions) (*Run, error) {
	if opts.Target == nil {
		return nil, errors.New("deployer: no target chooser")
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	errOut := opts.ErrOutput
	if errOut == nil {
		errOut = os.Stderr
	}
	sink := deploy.MultiSink{
		&deploy.ConsoleSink{Out: out, Err: errOut},
		&deploy.LogSink{Env: o.env},
	}

	metadata, err := deploy.NewProjectMetadata(o.env, opts.Project)
	if err != nil {
		return nil, err
	}

	state := deploy.NewRunState()
	installer := deploy.NewInstaller(o.env, o.bridge, state, sink)

	var launcher deploy.ApplicationLauncher
	if opts.Test {
		launcher = &deploy.InstrumentationLauncher{Runner: opts.Runner, Timeout: 20 * time.Minute}
	} else {
		launcher = &deploy.ActivityLauncher{Activity: opts.Activity}
	}

	sequencer := deploy.NewSequencer(o.env, o.bridge, metadata, launcher, installer, state, sink, deploy.LaunchOptions{
		Deploy:    opts.Deploy,
		Debug:     opts.Debug,
		ClearLogs: opts.ClearLogs,
		Test:      opts.Test,
	})
	if opts.DebugLauncher != nil {
		sequencer.SetDebugLauncher(opts.DebugLauncher)
	}
	if err := sequencer.Prepare(ctx); err != nil {
		return nil, err
	}

	// The manifest's sdk constraints bind resolution unless the caller
	// supplied their own.
	if opts.Requirements == (Requirements{}) {
		if main := sequencer.Main(); main != nil {
			opts.Requirements = main.Requirements
		}
	}

	o.registry.Start(ctx)
	if err := o.registry.Refresh(ctx); err != nil {
		return nil, err
	}

	resolver := deploy.NewResolver(o.env, o.registry, opts.Chooser, opts.VirtualDevices,
		opts.Platform, opts.Requirements, sink, opts.Multi, opts.Target)
	sequencer.SetMatcher(resolver.Matches)

	run := &Run{state: state, sequencer: sequencer, done: make(chan struct{})}

	devices, resolution, err := resolver.Resolve(ctx)
	if err != nil {
		state.Stop()
		close(run.done)
		return nil, err
	}
	run.resolution = resolution

	switch resolution {
	case deploy.Cancelled:
		sink.Append("Canceled", deploy.Stderr)
		state.Stop()
		close(run.done)
		return run, nil

	case deploy.Pending:
		watcher := deploy.NewWatcher(o.env, o.registry, sequencer, sink)
		watcher.Start(ctx)
		run.watcher = watcher
		go run.awaitEnd(ctx)
		return run, nil

	default:
		run.devices = devices
		state.SetTargets(devices)
		// A watcher still runs: explicitly named devices may be offline
		// now and connect later. The run stays open until the watcher
		// has deployed to each of them.
		if anyOffline(devices) {
			watcher := deploy.NewWatcher(o.env, o.registry, sequencer, sink)
			watcher.Start(ctx)
			run.watcher = watcher
		}
		go sequencer.RunOnTargets(ctx)
		go run.awaitEnd(ctx)
		return run, nil
	}
}

func anyOffline(devices []Device) bool {
	for _, d := range devices {
		if !d.Online() {
			return true
		}
	}
	return false
}

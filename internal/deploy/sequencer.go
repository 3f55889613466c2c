// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// LaunchResult is the application launcher's verdict.
type LaunchResult int

const (
	LaunchStop LaunchResult = iota
	LaunchSuccess
	LaunchContinue
)

// ApplicationLauncher performs the application-specific start step on a
// device once its packages are installed.
type ApplicationLauncher interface {
	Launch(ctx context.Context, seq *Sequencer, d Device) (LaunchResult, error)
	// IsReadyForDebugging reports whether a client can accept a debugger.
	IsReadyForDebugging(c Client) bool
}

// DebugLauncher attaches a debugger to a client on a device.
type DebugLauncher interface {
	LaunchDebug(d Device, c Client) error
}

// Phase is the sequencer's lifecycle position. Transitions are monotonic
// except that Cancelled is reachable from any non-terminal phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDeploying
	PhaseLaunching
	PhaseRunning
	PhaseDebugWait
	PhaseTerminated
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseDeploying:
		return "deploying"
	case PhaseLaunching:
		return "launching"
	case PhaseRunning:
		return "running"
	case PhaseDebugWait:
		return "debug-wait"
	case PhaseTerminated:
		return "terminated"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// LaunchOptions fixes the per-run flags before sequencing starts.
type LaunchOptions struct {
	Deploy    bool
	Debug     bool
	ClearLogs bool
	Test      bool
}

// Sequencer drives install, launch and debugger attachment for one run.
// It is exercised once per resolved device by the orchestrator, and again
// by the device-event watcher when a pending target comes online.
type Sequencer struct {
	env       Env
	bridge    DeviceBridge
	metadata  PackageMetadataSource
	launcher  ApplicationLauncher
	installer *Installer
	state     *RunState
	sink      OutputSink
	opts      LaunchOptions

	// matches answers "could this device be my target" for devices the
	// run has not claimed yet.
	matches func(Device) bool

	mu       sync.Mutex
	phase    Phase
	main     *ModuleInfo
	deps     []*ModuleInfo
	prepared bool

	// The debug handle has its own lock: its producer (client-change
	// notifications) and consumer (the launch path) run on different
	// goroutines, independent of the run lock.
	debugMu       sync.Mutex
	debugLauncher DebugLauncher
	targetPackage string
}

func NewSequencer(
	env Env,
	bridge DeviceBridge,
	metadata PackageMetadataSource,
	launcher ApplicationLauncher,
	installer *Installer,
	state *RunState,
	sink OutputSink,
	opts LaunchOptions,
) *Sequencer {
	return &Sequencer{
		env:       env,
		bridge:    bridge,
		metadata:  metadata,
		launcher:  launcher,
		installer: installer,
		state:     state,
		sink:      sink,
		opts:      opts,
		matches:   func(Device) bool { return false },
	}
}

// SetMatcher installs the target-compatibility predicate used for devices
// the run has not claimed yet.
func (s *Sequencer) SetMatcher(matches func(Device) bool) {
	if matches != nil {
		s.matches = matches
	}
}

// SetDebugLauncher arms debugger attachment for this run.
func (s *Sequencer) SetDebugLauncher(dl DebugLauncher) {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	s.debugLauncher = dl
}

// TargetPackage is the package a debugger attaches to. It is normally the
// main application package; instrumented test runs retarget it.
func (s *Sequencer) TargetPackage() string {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	return s.targetPackage
}

// SetTargetPackage retargets debugger attachment.
func (s *Sequencer) SetTargetPackage(pkg string) {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	s.targetPackage = pkg
}

// Phase returns the current lifecycle phase.
func (s *Sequencer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Sequencer) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseTerminated || s.phase == PhaseCancelled {
		return
	}
	s.phase = p
}

// Main returns the prepared main module.
func (s *Sequencer) Main() *ModuleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.main
}

// Options returns the run flags.
func (s *Sequencer) Options() LaunchOptions { return s.opts }

// State exposes the run state for launchers needing the stop signal.
func (s *Sequencer) State() *RunState { return s.state }

// Bridge exposes the device transport for launchers.
func (s *Sequencer) Bridge() DeviceBridge { return s.bridge }

// Sink exposes the output sink for launchers.
func (s *Sequencer) Sink() OutputSink { return s.sink }

// Prepare resolves the main module and its transitive non-library
// dependencies from the metadata source. Must be called before any device
// sequencing; errors surface on the sink and abort the run.
func (s *Sequencer) Prepare(ctx context.Context) error {
	_, span := startSpan(s.env, "deploy.Prepare")
	defer span.End()

	main, err := s.metadata.Module(s.metadata.MainModule())
	if err != nil {
		recordSpanError(span, err)
		sinkf(s.sink, Stderr, "%s", err)
		return err
	}

	seen := map[string]bool{main.Name: true}
	var deps []*ModuleInfo
	if err := s.expandDeps(main, seen, &deps); err != nil {
		recordSpanError(span, err)
		sinkf(s.sink, Stderr, "%s", err)
		return err
	}

	s.mu.Lock()
	s.main = main
	s.deps = deps
	s.prepared = true
	s.mu.Unlock()

	target := main.PackageName
	if s.opts.Test {
		target = main.TestPackageName
	}
	s.SetTargetPackage(target)

	span.SetAttributes(
		attribute.String("package", main.PackageName),
		attribute.Int("dependent_modules", len(deps)),
	)
	return nil
}

// expandDeps walks the module graph depth-first, skipping modules already
// collected and library-only modules (libraries ship inside their
// consumers and are never installed separately).
func (s *Sequencer) expandDeps(m *ModuleInfo, seen map[string]bool, out *[]*ModuleInfo) error {
	for _, name := range m.Deps {
		if seen[name] {
			continue
		}
		seen[name] = true
		dep, err := s.metadata.Module(name)
		if err != nil {
			return err
		}
		if dep.Library {
			continue
		}
		*out = append(*out, dep)
		if err := s.expandDeps(dep, seen, out); err != nil {
			return err
		}
	}
	return nil
}

// CheckPackageNames verifies that no two modules resolved to the same
// package identifier. A collision aborts deployment before any upload.
func (s *Sequencer) CheckPackageNames() error {
	s.mu.Lock()
	main, deps := s.main, s.deps
	s.mu.Unlock()
	if main == nil {
		return errors.New("sequencer not prepared")
	}

	byPackage := map[string][]string{main.PackageName: {main.Name}}
	order := []string{main.PackageName}
	for _, dep := range deps {
		if _, ok := byPackage[dep.PackageName]; !ok {
			order = append(order, dep.PackageName)
		}
		byPackage[dep.PackageName] = append(byPackage[dep.PackageName], dep.Name)
	}

	for _, pkg := range order {
		if modules := byPackage[pkg]; len(modules) > 1 {
			err := &PackageCollisionError{PackageName: pkg, Modules: modules}
			sinkf(s.sink, Stderr, "Applications have the same package name %s:\n    %s",
				pkg, joinModules(modules))
			return err
		}
	}
	return nil
}

func joinModules(modules []string) string {
	out := ""
	for i, m := range modules {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}

// RunOnTargets sequences every online resolved target. Returns false when
// any device failed; the run is stopped and listeners are notified before
// returning in that case. Offline targets are left for the device-event
// watcher, and the run stays open until the watcher has sequenced them.
func (s *Sequencer) RunOnTargets(ctx context.Context) bool {
	for _, d := range s.state.Targets() {
		if !d.Online() {
			continue
		}
		if !s.RunOnDevice(ctx, d) {
			if !s.state.Stopped() {
				s.state.Stop()
			}
			return false
		}
	}
	return true
}

// RunOnDevice performs the install-launch-attach sequence on one device,
// notifying listeners on failure. Safe to call from the watcher goroutine.
// The last target to finish moves the run to its terminal phase and marks
// the run state finished.
func (s *Sequencer) RunOnDevice(ctx context.Context, d Device) bool {
	if !s.runOne(ctx, d) {
		if s.state.Stopped() {
			s.setPhase(PhaseCancelled)
		} else {
			s.setPhase(PhaseTerminated)
		}
		s.state.fireExecutionFailed()
		return false
	}
	s.state.MarkCompleted(d.Serial)
	if s.state.AllTargetsCompleted() {
		if !s.opts.Debug && !s.state.Stopped() {
			s.setPhase(PhaseTerminated)
		}
		s.state.Finish()
	}
	return true
}

func (s *Sequencer) runOne(ctx context.Context, d Device) bool {
	_, span := startSpan(s.env, "deploy.RunOnDevice", attribute.String("serial", d.Serial))
	defer span.End()

	s.mu.Lock()
	main := s.main
	deps := s.deps
	prepared := s.prepared
	s.mu.Unlock()
	if !prepared {
		sinkf(s.sink, Stderr, "Error: run was not prepared")
		return false
	}

	if s.opts.Debug && !main.Debuggable && !d.Emulator() {
		sinkf(s.sink, Stderr,
			"Cannot debug the application %s on device '%s',\n"+
				"because 'debuggable' attribute is set to 'false' in AndroidManifest.xml.",
			main.PackageName, d.DisplayName())
		return false
	}

	if s.opts.ClearLogs {
		if err := s.bridge.ClearLogs(ctx, d.Serial); err != nil {
			logEvent(s.env, "clear logs failed", "serial", d.Serial, "error", err.Error())
		}
	}

	sinkf(s.sink, Stdout, "Target device: %s", d.DisplayName())

	if s.opts.Deploy {
		s.setPhase(PhaseDeploying)
		if err := s.CheckPackageNames(); err != nil {
			recordSpanError(span, err)
			return false
		}
		if err := s.installer.InstallPackage(ctx, d, main.PackageName, main.ArtifactPath); err != nil {
			s.reportInstallError(err)
			recordSpanError(span, err)
			return false
		}
		if s.opts.Test && main.TestArtifact != "" {
			if err := s.installer.InstallPackage(ctx, d, main.TestPackageName, main.TestArtifact); err != nil {
				s.reportInstallError(err)
				recordSpanError(span, err)
				return false
			}
		}
		for _, dep := range deps {
			if err := s.installer.InstallPackage(ctx, d, dep.PackageName, dep.ArtifactPath); err != nil {
				s.reportInstallError(err)
				recordSpanError(span, err)
				return false
			}
		}
		s.state.MarkDeployed()
	}

	s.setPhase(PhaseLaunching)
	result, err := s.launcher.Launch(ctx, s, d)
	if err != nil {
		sinkf(s.sink, Stderr, "Error: %s", err)
		recordSpanError(span, err)
		return false
	}
	switch result {
	case LaunchStop:
		return false
	case LaunchSuccess:
		// The transport must still be healthy before handing the run
		// over; a broken bridge is a hard stop.
		if err := s.bridge.Verify(ctx); err != nil {
			sinkf(s.sink, Stderr, "Error: %s", err)
			recordSpanError(span, err)
			return false
		}
	}

	s.attachDebuggerIfRequested(ctx, d)
	if s.Phase() != PhaseDebugWait {
		s.setPhase(PhaseRunning)
	}
	return true
}

func (s *Sequencer) reportInstallError(err error) {
	switch {
	case errors.Is(err, ErrUserCancelled):
		// Cancellation is not an error; the stop path already reported.
	case errors.Is(err, ErrConnectionTimeout):
		sinkf(s.sink, Stderr, "Error: Connection to ADB failed with a timeout")
	case errors.Is(err, ErrCommandRejected):
		sinkf(s.sink, Stderr, "Error: Adb refused a command")
	default:
		sinkf(s.sink, Stderr, "Error: %s", err)
	}
}

// attachDebuggerIfRequested tries to attach immediately after launch; when
// the client is not up yet it parks the sequence in DebugWait and lets
// client-change notifications finish the job.
func (s *Sequencer) attachDebuggerIfRequested(ctx context.Context, d Device) {
	s.debugMu.Lock()
	if s.debugLauncher == nil {
		s.debugMu.Unlock()
		return
	}
	pkg := s.targetPackage
	s.debugMu.Unlock()

	client, err := s.bridge.Client(ctx, d.Serial, pkg)
	if err == nil && client != nil && s.launcher.IsReadyForDebugging(*client) {
		s.debugMu.Lock()
		s.launchDebugLocked(d, *client)
		s.debugMu.Unlock()
		return
	}
	sinkf(s.sink, Stdout, "Waiting for process: %s", pkg)
	s.setPhase(PhaseDebugWait)
	go s.pollClient(d)
}

// pollClient feeds client snapshots into ClientChanged until the debugger
// attaches or the run stops. It stands in for a push-based client-state
// subscription when the transport only supports polling.
func (s *Sequencer) pollClient(d Device) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.state.StopChan():
			return
		case <-ticker.C:
		}
		if !s.debugPending() {
			return
		}
		ctx, cancel := context.WithTimeout(spanContext(s.env), 5*time.Second)
		client, err := s.bridge.Client(ctx, d.Serial, s.TargetPackage())
		cancel()
		if err == nil && client != nil {
			s.ClientChanged(d, *client)
		}
	}
}

func (s *Sequencer) debugPending() bool {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	return s.debugLauncher != nil
}

// ClientChanged processes a client (process) state notification. It is
// idempotent: the debug launcher is consumed by the first successful
// attach and later notifications return immediately.
func (s *Sequencer) ClientChanged(d Device, c Client) {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	if s.debugLauncher == nil {
		return
	}
	if s.opts.Deploy && !s.state.Deployed() {
		return
	}
	if !s.isMyDevice(d) || !d.Online() {
		return
	}
	s.state.ClaimTarget(d)
	if s.isToLaunchDebugLocked(c) {
		s.launchDebugLocked(d, c)
	}
}

func (s *Sequencer) isToLaunchDebugLocked(c Client) bool {
	if c.Status == DebuggerWaiting {
		return true
	}
	if c.Package == "" {
		return false
	}
	return c.Package == s.targetPackage && s.launcher.IsReadyForDebugging(c)
}

func (s *Sequencer) launchDebugLocked(d Device, c Client) {
	dl := s.debugLauncher
	s.debugLauncher = nil
	if err := dl.LaunchDebug(d, c); err != nil {
		sinkf(s.sink, Stderr, "Error: %s", err)
		return
	}
	s.setPhase(PhaseRunning)
}

// isMyDevice reports whether a device belongs to this run: it is either a
// claimed target, or no targets are claimed yet and it passes the
// compatibility matcher.
func (s *Sequencer) isMyDevice(d Device) bool {
	if s.state.TargetCount() > 0 {
		return s.state.HasTarget(d.Serial)
	}
	return s.matches(d)
}

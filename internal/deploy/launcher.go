// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const launchTimeout = 30 * time.Second

// DefaultInstrumentationRunner is used when the project does not name one.
const DefaultInstrumentationRunner = "androidx.test.runner.AndroidJUnitRunner"

// ActivityLauncher starts the application's main activity with the
// activity manager.
type ActivityLauncher struct {
	// Activity overrides the activity from the package manifest.
	Activity string
}

func (l *ActivityLauncher) Launch(ctx context.Context, seq *Sequencer, d Device) (LaunchResult, error) {
	activity := l.Activity
	if activity == "" {
		if m := seq.Main(); m != nil {
			activity = m.MainActivity
		}
	}
	if activity == "" {
		sinkf(seq.Sink(), Stdout, "Main activity not found. Nothing to launch.")
		return LaunchSuccess, nil
	}

	pkg := seq.TargetPackage()
	sinkf(seq.Sink(), Stdout, "Launching application: %s/%s.", pkg, activity)

	debugFlag := ""
	if seq.Options().Debug {
		debugFlag = "-D "
	}
	command := fmt.Sprintf(`am start %s-n "%s/%s"`, debugFlag, pkg, activity)
	sinkf(seq.Sink(), Stdout, "DEVICE SHELL COMMAND: %s", command)

	recv := newShellErrorReceiver(seq.State(), seq.Sink())
	cctx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()
	if err := seq.Bridge().Shell(cctx, d.Serial, command, recv); err != nil {
		return LaunchStop, err
	}
	if recv.failed() {
		return LaunchStop, fmt.Errorf("activity manager: %s", recv.failure())
	}
	return LaunchSuccess, nil
}

// IsReadyForDebugging waits for the activity manager's -D stop: the
// process parks itself until a debugger attaches.
func (l *ActivityLauncher) IsReadyForDebugging(c Client) bool {
	return c.Status == DebuggerWaiting
}

// InstrumentationLauncher runs the project's instrumentation tests. The
// shell command blocks until the run finishes, so a successful return
// means the tests have completed.
type InstrumentationLauncher struct {
	// Runner is the instrumentation class; empty means
	// DefaultInstrumentationRunner.
	Runner string
	// Class restricts the run to one test class when set.
	Class string
	// Timeout bounds the whole test run. Zero means no bound beyond the
	// caller's context.
	Timeout time.Duration
}

func (l *InstrumentationLauncher) Launch(ctx context.Context, seq *Sequencer, d Device) (LaunchResult, error) {
	runner := l.Runner
	if runner == "" {
		runner = DefaultInstrumentationRunner
	}

	var sb strings.Builder
	sb.WriteString("am instrument -w -r")
	if seq.Options().Debug {
		sb.WriteString(" -e debug true")
	}
	if l.Class != "" {
		fmt.Fprintf(&sb, " -e class %s", l.Class)
	}
	fmt.Fprintf(&sb, ` "%s/%s"`, seq.TargetPackage(), runner)
	command := sb.String()

	sinkf(seq.Sink(), Stdout, "Running tests.")
	sinkf(seq.Sink(), Stdout, "DEVICE SHELL COMMAND: %s", command)

	cctx := ctx
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	recv := newShellErrorReceiver(seq.State(), seq.Sink())
	if err := seq.Bridge().Shell(cctx, d.Serial, command, recv); err != nil {
		return LaunchStop, err
	}
	if recv.failed() {
		return LaunchStop, fmt.Errorf("instrumentation: %s", recv.failure())
	}
	return LaunchSuccess, nil
}

// IsReadyForDebugging: with "-e debug true" the instrumentation process
// parks like an activity started with -D.
func (l *InstrumentationLauncher) IsReadyForDebugging(c Client) bool {
	return c.Status == DebuggerWaiting
}

// shellErrorReceiver echoes command output to the sink and remembers the
// first line the activity manager flags as an error.
type shellErrorReceiver struct {
	state *RunState
	sink  OutputSink
	first string
}

func newShellErrorReceiver(state *RunState, sink OutputSink) *shellErrorReceiver {
	return &shellErrorReceiver{state: state, sink: sink}
}

func (r *shellErrorReceiver) ProcessLine(line string) {
	if r.sink != nil {
		r.sink.Append(line, Stdout)
	}
	trimmed := strings.TrimSpace(line)
	if r.first == "" && (strings.HasPrefix(trimmed, "Error") || strings.HasPrefix(trimmed, "Exception")) {
		r.first = trimmed
	}
}

func (r *shellErrorReceiver) Cancelled() bool { return r.state.Stopped() }

func (r *shellErrorReceiver) failed() bool { return r.first != "" }

func (r *shellErrorReceiver) failure() string { return r.first }

// PortForwardDebugLauncher exposes a process's JDWP channel on a local
// TCP port so a JVM debugger can dial it.
type PortForwardDebugLauncher struct {
	Env Env
	// LocalPort is the host port to bind. Zero picks 8600 plus the
	// process id modulo 100, which keeps concurrent sessions apart.
	LocalPort int
	Sink      OutputSink
}

func (l *PortForwardDebugLauncher) LaunchDebug(d Device, c Client) error {
	port := l.LocalPort
	if port == 0 {
		port = 8600 + c.PID%100
	}
	ctx, cancel := context.WithTimeout(l.Env.Context, 10*time.Second)
	defer cancel()

	args := []string{"-s", d.Serial, "forward", fmt.Sprintf("tcp:%d", port), fmt.Sprintf("jdwp:%d", c.PID)}
	cmd := exec.CommandContext(ctx, l.Env.ADB, args...)
	cmd.Stderr = newCommandLogWriter(l.Env, l.Env.ADB, args)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("jdwp forward for pid %d: %w", c.PID, err)
	}
	logEvent(l.Env, "debugger port forwarded", "serial", d.Serial, "pid", c.PID, "port", port)
	sinkf(l.Sink, Stdout, "Debugger listening on port %d for %s (pid %d).", port, c.Package, c.PID)
	return nil
}

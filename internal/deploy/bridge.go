// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// LineReceiver consumes the line-oriented output of a device shell command.
type LineReceiver interface {
	ProcessLine(line string)
	// Cancelled lets the receiver abort a long-running command early.
	Cancelled() bool
}

// DebuggerStatus is the attach state of a debuggable process on a device.
type DebuggerStatus int

const (
	DebuggerDefault DebuggerStatus = iota
	DebuggerWaiting
	DebuggerAttached
	DebuggerError
)

// Client is a running, debugger-addressable process on a device.
type Client struct {
	PID      int
	Package  string
	Status   DebuggerStatus
	JdwpPort int
}

// DeviceBridge is the transport to devices. The shipped implementation
// wraps the adb command-line tool; tests substitute fakes.
type DeviceBridge interface {
	// Devices returns a snapshot of every device the transport knows,
	// including offline and unauthorized ones.
	Devices(ctx context.Context) ([]Device, error)

	// Push uploads a local file to a path on the device. Failures are
	// reported as ErrConnectionTimeout, ErrCommandRejected or *SyncError.
	Push(ctx context.Context, serial, localPath, remotePath string) error

	// Shell runs a command on the device, feeding each output line to the
	// receiver. A command that exceeds the context deadline without
	// completing returns ErrShellUnresponsive.
	Shell(ctx context.Context, serial, command string, recv LineReceiver) error

	// Client looks up the running process for a package, or nil when the
	// package has no process yet.
	Client(ctx context.Context, serial, pkg string) (*Client, error)

	// ClearLogs empties the device's log buffer.
	ClearLogs(ctx context.Context, serial string) error

	// Verify checks that the transport itself is healthy. A failure here
	// is a hard stop for any launch in progress.
	Verify(ctx context.Context) error
}

type adbBridge struct {
	env Env
}

// NewADBBridge returns a DeviceBridge backed by the adb binary named in env.
func NewADBBridge(env Env) DeviceBridge {
	return &adbBridge{env: env}
}

func (b *adbBridge) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, b.env.ADB, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = newCommandLogWriter(b.env, b.env.ADB, args)
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("%w: adb %s", ErrConnectionTimeout, strings.Join(args, " "))
	}
	return out.String(), err
}

func (b *adbBridge) Devices(ctx context.Context) ([]Device, error) {
	_, span := startSpan(b.env, "bridge.Devices")
	defer span.End()

	out, err := b.run(ctx, "devices", "-l")
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("adb devices: %w", err)
	}

	var devices []Device
	lines := strings.Split(out, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := Device{Serial: fields[0]}
		if strings.HasPrefix(d.Serial, "emulator-") {
			d.Kind = KindEmulator
		}
		switch fields[1] {
		case "device":
			d.State = StateOnline
		case "unauthorized":
			d.State = StateUnauthorized
		default:
			d.State = StateOffline
		}
		for _, part := range fields[2:] {
			if v, ok := strings.CutPrefix(part, "model:"); ok {
				d.Model = v
			}
		}
		if d.Online() {
			b.enrich(ctx, &d)
		}
		devices = append(devices, d)
	}
	span.SetAttributes(attribute.Int("count", len(devices)))
	return devices, nil
}

// enrich fills the slow per-device properties for an online device.
func (b *adbBridge) enrich(ctx context.Context, d *Device) {
	if v := b.getprop(ctx, d.Serial, "ro.build.version.sdk"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.APILevel = n
		}
	}
	if v := b.getprop(ctx, d.Serial, "ro.build.version.codename"); v != "" && v != "REL" {
		d.Codename = v
	}
	if v := b.getprop(ctx, d.Serial, "ro.product.cpu.abilist"); v != "" {
		d.ABIs = strings.Split(v, ",")
	}
	if d.Model == "" {
		d.Model = b.getprop(ctx, d.Serial, "ro.product.model")
	}
	if d.Emulator() {
		d.AvdName = b.avdName(ctx, d.Serial)
	}
}

func (b *adbBridge) getprop(ctx context.Context, serial, prop string) string {
	out, err := b.run(ctx, "-s", serial, "shell", "getprop", prop)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// avdName asks the emulator console for the profile name behind a serial.
func (b *adbBridge) avdName(ctx context.Context, serial string) string {
	out, err := b.run(ctx, "-s", serial, "emu", "avd", "name")
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 {
		return ""
	}
	if strings.TrimSpace(lines[len(lines)-1]) == "OK" && len(lines) > 1 {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(lines[0])
}

func (b *adbBridge) Push(ctx context.Context, serial, localPath, remotePath string) error {
	_, span := startSpan(b.env, "bridge.Push",
		attribute.String("serial", serial),
		attribute.String("remote_path", remotePath),
	)
	defer span.End()

	out, err := b.run(ctx, "-s", serial, "push", localPath, remotePath)
	if err == nil {
		return nil
	}
	recordSpanError(span, err)
	if errors.Is(err, ErrConnectionTimeout) {
		return err
	}
	low := strings.ToLower(out)
	switch {
	case strings.Contains(low, "device offline"), strings.Contains(low, "device unauthorized"),
		strings.Contains(low, "error: closed"), strings.Contains(low, "no devices"):
		return fmt.Errorf("%w: %s", ErrCommandRejected, strings.TrimSpace(out))
	default:
		return &SyncError{Reason: "file transfer failed", Detail: strings.TrimSpace(out)}
	}
}

func (b *adbBridge) Shell(ctx context.Context, serial, command string, recv LineReceiver) error {
	_, span := startSpan(b.env, "bridge.Shell",
		attribute.String("serial", serial),
		attribute.String("command", command),
	)
	defer span.End()

	cmd := exec.CommandContext(ctx, b.env.ADB, "-s", serial, "shell", command)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%w: %v", ErrCommandRejected, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if recv.Cancelled() {
			_ = cmd.Process.Kill()
			break
		}
		recv.ProcessLine(scanner.Text())
	}
	err = cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		recordSpanError(span, ctx.Err())
		return fmt.Errorf("%w: %s", ErrShellUnresponsive, command)
	}
	if recv.Cancelled() {
		return nil
	}
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%w: %v", ErrCommandRejected, err)
	}
	return nil
}

func (b *adbBridge) Client(ctx context.Context, serial, pkg string) (*Client, error) {
	out, err := b.run(ctx, "-s", serial, "shell", "pidof", pkg)
	if err != nil {
		// pidof exits non-zero when no process matches.
		return nil, nil
	}
	pidText := strings.TrimSpace(out)
	if pidText == "" {
		return nil, nil
	}
	pid, err := strconv.Atoi(strings.Fields(pidText)[0])
	if err != nil {
		return nil, nil
	}
	// JDWP addresses a client by pid; the debug launcher forwards to it.
	return &Client{PID: pid, Package: pkg, Status: DebuggerDefault, JdwpPort: pid}, nil
}

func (b *adbBridge) ClearLogs(ctx context.Context, serial string) error {
	_, err := b.run(ctx, "-s", serial, "logcat", "-c")
	return err
}

func (b *adbBridge) Verify(ctx context.Context) error {
	if _, err := b.run(ctx, "version"); err != nil {
		return fmt.Errorf("adb is not functional: %w", err)
	}
	return nil
}

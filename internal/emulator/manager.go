// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

// Package emulator manages Android virtual device profiles and running
// emulator instances, on the host or in a container.
package emulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/droidops/deployctl/internal/deploy"
)

// Env is the shared tool environment.
type Env = deploy.Env

// Profile is a virtual device definition on disk.
type Profile struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Instance is a running emulator process.
type Instance struct {
	Serial string `json:"serial"`
	Name   string `json:"name"`
	Port   int    `json:"port"`
	PID    int    `json:"pid"`
	Booted bool   `json:"booted"`
}

// The console port pair must be even; adb derives the serial from it.
const (
	portRangeStart = 5554
	portRangeEnd   = 5800
)

const serialWaitTimeout = 60 * time.Second

// Manager owns profile creation and emulator process lifecycle. It
// satisfies the orchestrator's virtual-device contract.
type Manager struct {
	env Env

	// SystemImage is the sdk package used when a profile has to be
	// created, e.g. "system-images;android-34;google_apis;x86_64".
	SystemImage string
	// HardwareProfile is the avdmanager device definition for created
	// profiles.
	HardwareProfile string
	// Headless strips the window and audio from launched emulators.
	Headless bool
}

func NewManager(env Env) *Manager {
	return &Manager{env: env, HardwareProfile: "pixel_7", Headless: true}
}

func runTool(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v failed: %v\n%s", bin, args, err, buf.String())
	}
	return nil
}

// ListProfiles scans the AVD home for profile directories.
func (m *Manager) ListProfiles() ([]Profile, error) {
	_, span := startSpan(m.env, "emulator.ListProfiles")
	defer span.End()
	entries, err := os.ReadDir(m.env.AVDHome)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		recordSpanError(span, err)
		return nil, err
	}
	var out []Profile
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".avd") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".avd")
		dir := filepath.Join(m.env.AVDHome, e.Name())
		var size int64
		for _, img := range []string{"userdata-qemu.img.qcow2", "userdata-qemu.img", "userdata.img"} {
			if st, err := os.Stat(filepath.Join(dir, img)); err == nil {
				size = st.Size()
				break
			}
		}
		out = append(out, Profile{Name: name, Path: dir, SizeBytes: size})
	}
	return out, nil
}

// Profiles returns profile names for target resolution.
func (m *Manager) Profiles(ctx context.Context) ([]string, error) {
	profiles, err := m.ListProfiles()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	return names, nil
}

// CreateProfile creates a profile from the configured system image and
// returns its name. Without a system image there is nothing sensible to
// create and the caller falls back to its cancel path.
func (m *Manager) CreateProfile(ctx context.Context) (string, error) {
	if m.SystemImage == "" {
		return "", fmt.Errorf("no emulator profile exists and no system image is configured: %w", deploy.ErrUserCancelled)
	}
	name := profileNameFor(m.SystemImage)
	if err := m.createProfile(ctx, name, m.SystemImage); err != nil {
		return "", err
	}
	return name, nil
}

// profileNameFor derives a stable profile name from a system image
// package, e.g. "deployctl-android-34-google_apis".
func profileNameFor(sysImage string) string {
	parts := strings.Split(sysImage, ";")
	tail := parts
	if len(parts) > 1 {
		tail = parts[1:]
	}
	suffix := strings.Join(tail, "-")
	suffix = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, suffix)
	return "deployctl-" + suffix
}

func (m *Manager) createProfile(ctx context.Context, name, sysImage string) error {
	_, span := startSpan(m.env, "emulator.CreateProfile",
		attribute.String("name", name),
		attribute.String("system_image", sysImage))
	defer span.End()

	if err := os.MkdirAll(m.env.AVDHome, 0o755); err != nil {
		recordSpanError(span, err)
		return err
	}
	cmd := exec.CommandContext(ctx, m.env.AvdMgr, "create", "avd",
		"-n", name, "-k", sysImage, "-d", m.HardwareProfile, "--force")
	// avdmanager prompts for a custom hardware profile; decline it.
	cmd.Stdin = strings.NewReader("no\n")
	out, err := cmd.CombinedOutput()
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("avdmanager create: %v\n%s", err, out)
	}
	logEvent(m.env, "profile created", "name", name, "system_image", sysImage)
	return nil
}

// Launch starts the named profile and returns once adb can see its
// serial. Boot completion is observed by the device registry, not here.
func (m *Manager) Launch(ctx context.Context, profile string) error {
	_, err := m.Start(ctx, profile)
	return err
}

// Start launches a profile on the first free console port pair and
// returns the serial adb will report for it.
func (m *Manager) Start(ctx context.Context, profile string, extraArgs ...string) (string, error) {
	_, span := startSpan(m.env, "emulator.Start", attribute.String("profile", profile))
	defer span.End()

	m.ensureServer(ctx)
	port, err := freeEvenPort(portRangeStart, portRangeEnd)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}

	logPath := filepath.Join(os.TempDir(), fmt.Sprintf("deployctl-emulator-%s-%d.log", profile, port))
	logFile, err := os.Create(logPath)
	if err != nil {
		recordSpanError(span, err)
		return "", fmt.Errorf("open emulator log: %w", err)
	}
	logWriter := newLineLogWriter(m.env, "emulator output",
		"profile", profile, "port", port, "log_path", logPath)

	args := []string{
		"-avd", profile,
		"-port", strconv.Itoa(port),
		"-no-snapshot",
		"-no-metrics",
	}
	if m.Headless {
		args = append(args,
			"-no-window",
			"-no-boot-anim",
			"-no-audio",
			"-gpu", "swiftshader_indirect",
		)
	}
	args = append(args, extraArgs...)

	cmd := exec.Command(m.env.Emulator, args...)
	cmd.Stdout = io.MultiWriter(logFile, logWriter)
	cmd.Stderr = io.MultiWriter(logFile, logWriter)
	cmd.Env = append(os.Environ(), "QEMU_FILE_LOCKING=off")
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		recordSpanError(span, err)
		return "", fmt.Errorf("emulator start: %w", err)
	}
	serial := fmt.Sprintf("emulator-%d", port)
	span.SetAttributes(
		attribute.String("serial", serial),
		attribute.Int("pid", cmd.Process.Pid),
	)
	logEvent(m.env, "emulator started",
		"profile", profile, "serial", serial, "pid", cmd.Process.Pid, "log_path", logPath)

	if err := m.waitForSerial(ctx, serial, serialWaitTimeout); err != nil {
		recordSpanError(span, err)
		return "", fmt.Errorf("%w\nemulator log: %s", err, logPath)
	}
	return serial, nil
}

// Stop shuts an instance down, cleanly via the emulator console first,
// then by signalling the process.
func (m *Manager) Stop(ctx context.Context, serial string) error {
	if !strings.HasPrefix(serial, "emulator-") {
		return fmt.Errorf("invalid serial %q (expected emulator-<port>)", serial)
	}
	port, _ := strconv.Atoi(strings.TrimPrefix(serial, "emulator-"))

	_, span := startSpan(m.env, "emulator.Stop",
		attribute.String("serial", serial), attribute.Int("port", port))
	defer span.End()

	_ = runTool(ctx, m.env.ADB, "-s", serial, "emu", "kill")
	time.Sleep(time.Second)

	pid := emulatorPID(port)
	if pid == 0 {
		logEvent(m.env, "emulator stopped", "serial", serial)
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Signal(os.Interrupt); err == nil {
		time.Sleep(2 * time.Second)
		if emulatorPID(port) > 0 {
			_ = proc.Kill()
		}
		logEvent(m.env, "emulator stopped", "serial", serial, "pid", pid)
		return nil
	}
	err = fmt.Errorf("could not stop %s (pid %d)", serial, pid)
	recordSpanError(span, err)
	return err
}

// Running lists emulator instances, including ones that have not
// registered with adb yet.
func (m *Manager) Running(ctx context.Context) ([]Instance, error) {
	_, span := startSpan(m.env, "emulator.Running")
	defer span.End()
	m.ensureServer(ctx)

	var instances []Instance
	seen := make(map[int]bool)

	out, _ := m.adbOutput(ctx, "devices")
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) < 2 || !strings.HasPrefix(f[0], "emulator-") {
			continue
		}
		serial := f[0]
		port, err := strconv.Atoi(strings.TrimPrefix(serial, "emulator-"))
		if err != nil {
			continue
		}
		seen[port] = true
		instances = append(instances, m.describe(ctx, serial, port))
	}

	// A freshly started qemu may not be registered with adb yet; scan
	// process command lines for the rest of the port range.
	for port := portRangeStart; port <= portRangeEnd; port += 2 {
		if seen[port] {
			continue
		}
		if pid := emulatorPID(port); pid > 0 {
			inst := m.describe(ctx, fmt.Sprintf("emulator-%d", port), port)
			inst.PID = pid
			if inst.Name == "" {
				inst.Name = avdNameFromPID(pid)
			}
			instances = append(instances, inst)
		}
	}
	return instances, nil
}

func (m *Manager) describe(ctx context.Context, serial string, port int) Instance {
	inst := Instance{Serial: serial, Port: port, PID: emulatorPID(port)}
	inst.Name, _ = m.AVDName(ctx, serial)
	if inst.Name == "" && inst.PID > 0 {
		inst.Name = avdNameFromPID(inst.PID)
	}
	out, _ := m.adbOutput(ctx, "-s", serial, "shell", "getprop", "sys.boot_completed")
	inst.Booted = strings.TrimSpace(out) == "1"
	return inst
}

// AVDName asks the emulator console which profile a serial is running.
func (m *Manager) AVDName(ctx context.Context, serial string) (string, error) {
	out, err := m.adbOutput(ctx, "-s", serial, "emu", "avd", "name")
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 {
		return "", nil
	}
	if strings.TrimSpace(lines[len(lines)-1]) == "OK" && len(lines) > 1 {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(lines[0]), nil
}

func (m *Manager) adbOutput(ctx context.Context, args ...string) (string, error) {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, m.env.ADB, args...)
	cmd.Stdout = &buf
	err := cmd.Run()
	return buf.String(), err
}

// ensureServer starts the adb server. Idempotent.
func (m *Manager) ensureServer(ctx context.Context) {
	_ = exec.CommandContext(ctx, m.env.ADB, "start-server").Run()
}

// waitForSerial polls adb until the serial appears, in any state. The
// device registry takes over from there.
func (m *Manager) waitForSerial(ctx context.Context, serial string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, _ := m.adbOutput(ctx, "devices")
		for _, line := range strings.Split(out, "\n") {
			f := strings.Fields(line)
			if len(f) >= 2 && f[0] == serial {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("device %s not seen within %s", serial, timeout)
}

// freeEvenPort returns the first even port p in [start, end) with both p
// and p+1 free.
func freeEvenPort(start, end int) (int, error) {
	if start%2 != 0 {
		start++
	}
	for p := start; p < end; p += 2 {
		l1, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			continue
		}
		l2, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p+1))
		if err != nil {
			_ = l1.Close()
			continue
		}
		_ = l1.Close()
		_ = l2.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free even port in %d..%d", start, end)
}

// emulatorPID finds the qemu process serving a console port by scanning
// /proc command lines. Linux only, best effort elsewhere.
func emulatorPID(port int) int {
	entries, _ := filepath.Glob("/proc/[0-9]*/cmdline")
	needle := []byte(fmt.Sprintf("-port%c%d", 0, port))
	for _, p := range entries {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if !bytes.Contains(b, needle) {
			continue
		}
		if !bytes.Contains(b, []byte("qemu-system")) && !bytes.Contains(b, []byte("emulator")) {
			continue
		}
		base := filepath.Base(filepath.Dir(p))
		n, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join("/proc", base, "stat")); err == nil {
			return n
		}
	}
	return 0
}

// avdNameFromPID reads the profile name out of a null-separated process
// command line.
func avdNameFromPID(pid int) string {
	if pid == 0 {
		return ""
	}
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return ""
	}
	parts := bytes.Split(b, []byte{0})
	for i, part := range parts {
		if string(part) == "-avd" && i+1 < len(parts) {
			return string(parts[i+1])
		}
	}
	return ""
}

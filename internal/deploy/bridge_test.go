package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// lineFunc adapts a func to LineReceiver for shell tests.
type lineFunc func(string)

func (f lineFunc) ProcessLine(line string) { f(line) }
func (f lineFunc) Cancelled() bool         { return false }

// stubADB writes an executable shell script standing in for adb.
func stubADB(t *testing.T, script string) Env {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adb")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return Env{ADB: path, Context: context.Background()}
}

func TestBridgeDevicesParsesListing(t *testing.T) {
	env := stubADB(t, `
case "$1 $2" in
"devices -l")
  echo "List of devices attached"
  echo "emulator-5554          device product:sdk_gphone64 model:sdk_gphone64_x86_64 device:emu64x"
  echo "R5CT10ABCDE            unauthorized usb:1-4"
  echo "0123456789ABCDEF       offline"
  exit 0
  ;;
esac
# Per-device enrichment calls: adb -s SERIAL shell getprop ... / emu avd name
case "$*" in
*"getprop ro.build.version.sdk") echo 34 ;;
*"getprop ro.build.version.codename") echo REL ;;
*"getprop ro.product.cpu.abilist") echo "x86_64,arm64-v8a" ;;
*"emu avd name") printf "pixel_7\nOK\n" ;;
*) ;;
esac
exit 0
`)
	devices, err := NewADBBridge(env).Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %#v", devices)
	}

	emu := devices[0]
	if !emu.Emulator() || !emu.Online() {
		t.Fatalf("emulator device %#v", emu)
	}
	if emu.APILevel != 34 || emu.AvdName != "pixel_7" || emu.Model != "sdk_gphone64_x86_64" {
		t.Fatalf("enrichment missed: %#v", emu)
	}
	if emu.Codename != "" {
		t.Fatalf("REL must not set a codename: %#v", emu)
	}
	if len(emu.ABIs) != 2 || emu.ABIs[0] != "x86_64" {
		t.Fatalf("abis = %#v", emu.ABIs)
	}

	if devices[1].State != StateUnauthorized {
		t.Fatalf("unauthorized device %#v", devices[1])
	}
	if devices[2].State != StateOffline || devices[2].APILevel != 0 {
		t.Fatalf("offline devices are not enriched: %#v", devices[2])
	}
}

func TestBridgeShellStreamsLines(t *testing.T) {
	env := stubADB(t, `
echo "line one"
echo "line two"
`)
	var got []string
	recv := lineFunc(func(line string) { got = append(got, line) })
	if err := NewADBBridge(env).Shell(context.Background(), "s", "echo", recv); err != nil {
		t.Fatalf("Shell: %v", err)
	}
	if len(got) != 2 || got[0] != "line one" {
		t.Fatalf("received %#v", got)
	}
}

func TestBridgeShellNonZeroExitIsRejected(t *testing.T) {
	env := stubADB(t, "exit 5\n")
	recv := lineFunc(func(string) {})
	err := NewADBBridge(env).Shell(context.Background(), "s", "true", recv)
	if !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("expected ErrCommandRejected, got %v", err)
	}
}

func TestBridgePushClassifiesFailures(t *testing.T) {
	env := stubADB(t, `echo "adb: error: failed to get feature set: device offline"; exit 1`)
	err := NewADBBridge(env).Push(context.Background(), "s", "/tmp/a", "/data/local/tmp/a")
	if !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("expected ErrCommandRejected, got %v", err)
	}

	env = stubADB(t, `echo "adb: error: couldn't create file: No space left on device"; exit 1`)
	err = NewADBBridge(env).Push(context.Background(), "s", "/tmp/a", "/data/local/tmp/a")
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected *SyncError, got %v", err)
	}
}

func TestBridgeClientLooksUpPID(t *testing.T) {
	env := stubADB(t, `echo "4711"`)
	c, err := NewADBBridge(env).Client(context.Background(), "s", "com.example.app")
	if err != nil || c == nil {
		t.Fatalf("Client = %#v, %v", c, err)
	}
	if c.PID != 4711 || c.Package != "com.example.app" {
		t.Fatalf("client %#v", c)
	}

	// pidof exits non-zero when the package has no process.
	env = stubADB(t, "exit 1\n")
	c, err = NewADBBridge(env).Client(context.Background(), "s", "com.example.app")
	if err != nil || c != nil {
		t.Fatalf("no process should mean a nil client, got %#v, %v", c, err)
	}
}

func TestBridgeVerify(t *testing.T) {
	env := stubADB(t, `echo "Android Debug Bridge version 1.0.41"`)
	if err := NewADBBridge(env).Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	env = stubADB(t, "exit 1\n")
	if err := NewADBBridge(env).Verify(context.Background()); err == nil {
		t.Fatal("a broken adb should fail verification")
	}
}

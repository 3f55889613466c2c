package deploy

import (
	"context"
	"strings"
	"testing"
)

func TestActivityLauncherStartsMainActivity(t *testing.T) {
	var command string
	bridge := &fakeBridge{
		shellFn: func(ctx context.Context, serial, cmd string, recv LineReceiver) error {
			command = cmd
			recv.ProcessLine("Starting: Intent { cmp=com.example.app/.MainActivity }")
			return nil
		},
	}
	md := testMetadata()
	md.modules["app"].MainActivity = "com.example.app.MainActivity"
	state := NewRunState()
	sink := &memorySink{}
	seq := NewSequencer(Env{Context: context.Background()}, bridge, md, &ActivityLauncher{}, nil, state, sink, LaunchOptions{})
	if err := seq.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	l := &ActivityLauncher{}
	result, err := l.Launch(context.Background(), seq, Device{Serial: "s", State: StateOnline})
	if err != nil || result != LaunchSuccess {
		t.Fatalf("Launch = %v, %v", result, err)
	}
	want := `am start -n "com.example.app/com.example.app.MainActivity"`
	if command != want {
		t.Fatalf("command = %q, want %q", command, want)
	}
	if !sink.contains("Launching application: com.example.app/com.example.app.MainActivity.") {
		t.Fatalf("launch announcement missing; sink:\n%s", sink.all())
	}
}

func TestActivityLauncherAddsDebugFlag(t *testing.T) {
	var command string
	bridge := &fakeBridge{
		shellFn: func(ctx context.Context, serial, cmd string, recv LineReceiver) error {
			command = cmd
			return nil
		},
	}
	md := testMetadata()
	md.modules["app"].MainActivity = ".Main"
	seq := NewSequencer(Env{Context: context.Background()}, bridge, md, &ActivityLauncher{}, nil, NewRunState(), &memorySink{}, LaunchOptions{Debug: true})
	if err := seq.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	l := &ActivityLauncher{}
	if _, err := l.Launch(context.Background(), seq, Device{Serial: "s"}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !strings.Contains(command, "am start -D ") {
		t.Fatalf("debug flag missing from %q", command)
	}
}

func TestActivityLauncherNothingToLaunch(t *testing.T) {
	seq := NewSequencer(Env{Context: context.Background()}, &fakeBridge{}, testMetadata(), &ActivityLauncher{}, nil, NewRunState(), &memorySink{}, LaunchOptions{})
	if err := seq.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	l := &ActivityLauncher{}
	result, err := l.Launch(context.Background(), seq, Device{Serial: "s"})
	if err != nil || result != LaunchSuccess {
		t.Fatalf("a missing main activity is not a launch failure: %v, %v", result, err)
	}
	if !seq.Sink().(*memorySink).contains("Main activity not found. Nothing to launch.") {
		t.Fatal("missing-activity notice absent")
	}
}

func TestActivityLauncherSurfacesShellErrors(t *testing.T) {
	bridge := &fakeBridge{
		shellFn: func(ctx context.Context, serial, cmd string, recv LineReceiver) error {
			recv.ProcessLine("Error type 3")
			recv.ProcessLine("Error: Activity class does not exist.")
			return nil
		},
	}
	md := testMetadata()
	md.modules["app"].MainActivity = ".Main"
	seq := NewSequencer(Env{Context: context.Background()}, bridge, md, &ActivityLauncher{}, nil, NewRunState(), &memorySink{}, LaunchOptions{})
	if err := seq.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	l := &ActivityLauncher{}
	result, err := l.Launch(context.Background(), seq, Device{Serial: "s"})
	if result != LaunchStop || err == nil {
		t.Fatalf("Launch = %v, %v", result, err)
	}
	if !strings.Contains(err.Error(), "Error type 3") {
		t.Fatalf("first error line should win, got %v", err)
	}
}

func TestInstrumentationLauncherCommand(t *testing.T) {
	var command string
	bridge := &fakeBridge{
		shellFn: func(ctx context.Context, serial, cmd string, recv LineReceiver) error {
			command = cmd
			recv.ProcessLine("OK (12 tests)")
			return nil
		},
	}
	seq := NewSequencer(Env{Context: context.Background()}, bridge, testMetadata(), &InstrumentationLauncher{}, nil, NewRunState(), &memorySink{}, LaunchOptions{Test: true})
	if err := seq.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	l := &InstrumentationLauncher{}
	result, err := l.Launch(context.Background(), seq, Device{Serial: "s"})
	if err != nil || result != LaunchSuccess {
		t.Fatalf("Launch = %v, %v", result, err)
	}
	want := `am instrument -w -r "com.example.app.test/` + DefaultInstrumentationRunner + `"`
	if command != want {
		t.Fatalf("command = %q, want %q", command, want)
	}
}

func TestInstrumentationLauncherClassAndDebugFlags(t *testing.T) {
	var command string
	bridge := &fakeBridge{
		shellFn: func(ctx context.Context, serial, cmd string, recv LineReceiver) error {
			command = cmd
			return nil
		},
	}
	seq := NewSequencer(Env{Context: context.Background()}, bridge, testMetadata(), &InstrumentationLauncher{}, nil, NewRunState(), &memorySink{}, LaunchOptions{Test: true, Debug: true})
	if err := seq.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	l := &InstrumentationLauncher{Runner: "com.example.Runner", Class: "com.example.FooTest"}
	if _, err := l.Launch(context.Background(), seq, Device{Serial: "s"}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	want := `am instrument -w -r -e debug true -e class com.example.FooTest "com.example.app.test/com.example.Runner"`
	if command != want {
		t.Fatalf("command = %q, want %q", command, want)
	}
}

func TestShellErrorReceiverEchoesAndRecordsFirstError(t *testing.T) {
	sink := &memorySink{}
	r := newShellErrorReceiver(NewRunState(), sink)
	r.ProcessLine("Starting intent")
	r.ProcessLine("Exception occurred while executing")
	r.ProcessLine("Error: second problem")

	if !r.failed() {
		t.Fatal("receiver should record the failure")
	}
	if r.failure() != "Exception occurred while executing" {
		t.Fatalf("first flagged line should win, got %q", r.failure())
	}
	if !sink.contains("Starting intent") {
		t.Fatal("all lines should be echoed")
	}
}

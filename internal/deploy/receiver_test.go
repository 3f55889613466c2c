package deploy

import "testing"

func feedLines(r *installReceiver, lines ...string) {
	for _, l := range lines {
		r.ProcessLine(l)
	}
}

func TestInstallReceiverSuccess(t *testing.T) {
	r := newInstallReceiver(nil)
	feedLines(r, "\tpkg: /data/local/tmp/com.example.app", "Success")

	if !r.success() {
		t.Fatal("expected success")
	}
	if r.notReady() {
		t.Fatal("success output must not read as not-ready")
	}
	if r.errorType != noError {
		t.Fatalf("expected errorType %d, got %d", noError, r.errorType)
	}
}

func TestInstallReceiverFailureLine(t *testing.T) {
	r := newInstallReceiver(nil)
	feedLines(r, "Failure [INSTALL_FAILED_OLDER_SDK]")

	if r.success() {
		t.Fatal("expected failure")
	}
	if r.failureMessage != "INSTALL_FAILED_OLDER_SDK" {
		t.Fatalf("unexpected failure message %q", r.failureMessage)
	}
	if r.notReady() {
		t.Fatal("a typed failure is terminal, not a retry condition")
	}
}

func TestInstallReceiverErrorTypes(t *testing.T) {
	cases := []struct {
		name     string
		line     string
		wantType int
		notReady bool
	}{
		{"typed error 1", "Error type 1", 1, true},
		{"typed error 3", "Error type 3", 3, false},
		{"typed error lowercase", "Error Type 2 -- something", 2, false},
		{"bare error", "Error: device not found", untypedError, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newInstallReceiver(nil)
			r.ProcessLine(tc.line)
			if r.errorType != tc.wantType {
				t.Fatalf("errorType = %d, want %d", r.errorType, tc.wantType)
			}
			if r.notReady() != tc.notReady {
				t.Fatalf("notReady = %v, want %v", r.notReady(), tc.notReady)
			}
		})
	}
}

func TestInstallReceiverKeepsFullOutput(t *testing.T) {
	r := newInstallReceiver(nil)
	feedLines(r, "one", "two")
	if got := r.output.String(); got != "one\ntwo\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestInstallReceiverCancelledTracksRunState(t *testing.T) {
	state := NewRunState()
	r := newInstallReceiver(state)
	if r.Cancelled() {
		t.Fatal("should not be cancelled before stop")
	}
	state.Stop()
	if !r.Cancelled() {
		t.Fatal("should be cancelled after stop")
	}
}

package deploy

import (
	"testing"
	"time"
)

func TestRunStateStopIsIdempotentAndWakesWaiters(t *testing.T) {
	s := NewRunState()
	if s.Stopped() {
		t.Fatal("fresh state should not be stopped")
	}

	s.Stop()
	s.Stop()
	if !s.Stopped() {
		t.Fatal("state should be stopped")
	}

	start := time.Now()
	if !s.WaitRetry(time.Minute) {
		t.Fatal("WaitRetry on a stopped state must report stopped")
	}
	if time.Since(start) > time.Second {
		t.Fatal("WaitRetry on a stopped state must return immediately")
	}

	select {
	case <-s.StopChan():
	default:
		t.Fatal("stop channel should be closed")
	}
}

func TestRunStateWaitRetryElapses(t *testing.T) {
	s := NewRunState()
	if s.WaitRetry(time.Millisecond) {
		t.Fatal("a running state should wait out the timer")
	}
}

func TestRunStateClaimTarget(t *testing.T) {
	s := NewRunState()
	d := Device{Serial: "emulator-5554"}

	if !s.ClaimTarget(d) {
		t.Fatal("claiming on an empty target set must succeed")
	}
	if !s.HasTarget("emulator-5554") || s.TargetCount() != 1 {
		t.Fatal("claimed device should be the target")
	}
	if !s.ClaimTarget(d) {
		t.Fatal("re-claiming the same device must succeed")
	}
	if s.ClaimTarget(Device{Serial: "other"}) {
		t.Fatal("a second device must not displace the target")
	}
	if s.TargetCount() != 1 {
		t.Fatalf("target count changed to %d", s.TargetCount())
	}
}

func TestRunStateSetTargetsCopies(t *testing.T) {
	s := NewRunState()
	in := []Device{{Serial: "a"}, {Serial: "b"}}
	s.SetTargets(in)
	in[0].Serial = "mutated"

	got := s.Targets()
	if len(got) != 2 || got[0].Serial != "a" {
		t.Fatalf("targets not isolated from caller slice: %#v", got)
	}
}

func TestRunStateListeners(t *testing.T) {
	s := NewRunState()
	fired := 0
	s.AddListener(ListenerFunc(func() { fired++ }))
	s.fireExecutionFailed()
	s.fireExecutionFailed()
	if fired != 2 {
		t.Fatalf("listener fired %d times, want 2", fired)
	}
}

func TestRunStateDeployedIsMonotonic(t *testing.T) {
	s := NewRunState()
	if s.Deployed() {
		t.Fatal("fresh state should not be deployed")
	}
	s.MarkDeployed()
	if !s.Deployed() {
		t.Fatal("deployed flag should stick")
	}
}

func TestRunStateFinishIsIdempotent(t *testing.T) {
	s := NewRunState()
	if s.Finished() {
		t.Fatal("fresh state should not be finished")
	}
	s.Finish()
	s.Finish()
	if !s.Finished() {
		t.Fatal("finish flag should stick")
	}
	select {
	case <-s.FinishChan():
	default:
		t.Fatal("FinishChan should be closed after Finish")
	}
}

func TestRunStateAllTargetsCompleted(t *testing.T) {
	s := NewRunState()
	if s.AllTargetsCompleted() {
		t.Fatal("a run with no targets has nothing completed yet")
	}

	s.SetTargets([]Device{{Serial: "a"}, {Serial: "b"}})
	s.MarkCompleted("a")
	if s.AllTargetsCompleted() {
		t.Fatal("one of two targets is still outstanding")
	}
	s.MarkCompleted("b")
	if !s.AllTargetsCompleted() {
		t.Fatal("every target has been sequenced")
	}
}

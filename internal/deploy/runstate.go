// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"sync"
	"time"
)

// Listener observes run-level outcomes.
type Listener interface {
	// ExecutionFailed fires once per failed deployment or launch attempt.
	ExecutionFailed()
}

// ListenerFunc adapts a func to the Listener interface.
type ListenerFunc func()

func (f ListenerFunc) ExecutionFailed() { f() }

// RunState is the mutable state of one run. It is owned by the run's
// orchestrator and shared with the device-event watcher and the debug
// attachment path; every field below mu is guarded by it.
//
// stopped is terminal and deployed is monotonic: once set, neither ever
// clears, and no install or launch starts after stopped is set.
type RunState struct {
	mu        sync.Mutex
	stopped   bool
	finished  bool
	deployed  bool
	targets   []Device
	completed map[string]bool
	stopCh    chan struct{}
	finishCh  chan struct{}

	listenerMu sync.Mutex
	listeners  []Listener
}

func NewRunState() *RunState {
	return &RunState{
		completed: make(map[string]bool),
		stopCh:    make(chan struct{}),
		finishCh:  make(chan struct{}),
	}
}

// Stop marks the run stopped and wakes every blocked wait. Idempotent.
func (s *RunState) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

func (s *RunState) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// StopChan exposes the stop signal for select-based waits.
func (s *RunState) StopChan() <-chan struct{} { return s.stopCh }

// Finish marks the run complete: every resolved target has been
// sequenced. Idempotent. Distinct from Stop, which is cancellation.
func (s *RunState) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	close(s.finishCh)
}

func (s *RunState) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// FinishChan exposes the completion signal for select-based waits.
func (s *RunState) FinishChan() <-chan struct{} { return s.finishCh }

// WaitRetry blocks for d or until the run is stopped, whichever comes
// first, and reports whether the run is stopped.
func (s *RunState) WaitRetry(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stopCh:
		return true
	case <-t.C:
		return s.Stopped()
	}
}

// MarkDeployed records that the application package reached a device.
func (s *RunState) MarkDeployed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployed = true
}

func (s *RunState) Deployed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deployed
}

// Targets returns a copy of the resolved target set.
func (s *RunState) Targets() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, len(s.targets))
	copy(out, s.targets)
	return out
}

// SetTargets replaces the resolved target set.
func (s *RunState) SetTargets(devices []Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets[:0], devices...)
}

// ClaimTarget records d as the run's target if none is set yet. Returns
// true when d is (now) among the targets.
func (s *RunState) ClaimTarget(d Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.targets) == 0 {
		s.targets = []Device{d}
		return true
	}
	for _, t := range s.targets {
		if t.Serial == d.Serial {
			return true
		}
	}
	return false
}

// MarkCompleted records that the sequence finished on one target.
func (s *RunState) MarkCompleted(serial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[serial] = true
}

// AllTargetsCompleted reports whether every resolved target has been
// sequenced. Offline targets awaiting the event watcher keep it false.
func (s *RunState) AllTargetsCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.targets) == 0 {
		return false
	}
	for _, t := range s.targets {
		if !s.completed[t.Serial] {
			return false
		}
	}
	return true
}

// HasTarget reports whether serial is in the resolved target set.
func (s *RunState) HasTarget(serial string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.targets {
		if t.Serial == serial {
			return true
		}
	}
	return false
}

// TargetCount returns the size of the resolved target set.
func (s *RunState) TargetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

// AddListener registers a run outcome listener.
func (s *RunState) AddListener(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *RunState) fireExecutionFailed() {
	s.listenerMu.Lock()
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.listenerMu.Unlock()
	for _, l := range ls {
		l.ExecutionFailed()
	}
}

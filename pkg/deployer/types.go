// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deployer

import "github.com/droidops/deployctl/internal/deploy"

// The orchestration types live in the internal deploy package; the
// aliases below re-export everything a consumer needs to describe a
// project, name a target and observe a run.

// Device is one entry in the registry snapshot.
type Device = deploy.Device

// DeviceKind tells emulators and physical devices apart.
type DeviceKind = deploy.DeviceKind

const (
	KindPhysical = deploy.KindPhysical
	KindEmulator = deploy.KindEmulator
)

// DeviceState is the transport-reported device state.
type DeviceState = deploy.DeviceState

const (
	StateOffline      = deploy.StateOffline
	StateOnline       = deploy.StateOnline
	StateUnauthorized = deploy.StateUnauthorized
)

// Registry tracks connected devices and publishes lifecycle events.
type Registry = deploy.Registry

// DeviceEvent is one registry notification.
type DeviceEvent = deploy.DeviceEvent

// EventKind classifies a device lifecycle notification.
type EventKind = deploy.EventKind

const (
	DeviceConnected    = deploy.DeviceConnected
	DeviceDisconnected = deploy.DeviceDisconnected
	DeviceChanged      = deploy.DeviceChanged
)

// ProjectSpec describes the project's modules and artifacts.
type ProjectSpec = deploy.ProjectSpec

// ModuleSpec describes one module before manifest data is merged in.
type ModuleSpec = deploy.ModuleSpec

// TargetChooser names the kind of device a run wants.
type TargetChooser = deploy.TargetChooser

// ExplicitTarget selects devices by serial.
type ExplicitTarget = deploy.ExplicitTarget

// EmulatorTarget selects (or boots) a virtual-device profile.
type EmulatorTarget = deploy.EmulatorTarget

// USBTarget selects any USB-attached physical device.
type USBTarget = deploy.USBTarget

// Platform describes the project's build target.
type Platform = deploy.Platform

// Requirements carries the manifest's SDK constraints.
type Requirements = deploy.Requirements

// Phase is the sequencer's lifecycle position.
type Phase = deploy.Phase

const (
	PhaseIdle       = deploy.PhaseIdle
	PhaseDeploying  = deploy.PhaseDeploying
	PhaseLaunching  = deploy.PhaseLaunching
	PhaseRunning    = deploy.PhaseRunning
	PhaseDebugWait  = deploy.PhaseDebugWait
	PhaseTerminated = deploy.PhaseTerminated
	PhaseCancelled  = deploy.PhaseCancelled
)

// InteractiveChooser presents a device choice to the user.
type InteractiveChooser = deploy.InteractiveChooser

// VirtualDeviceManager manages emulator profiles and instances.
type VirtualDeviceManager = deploy.VirtualDeviceManager

// DebugLauncher attaches a debugger to a launched process.
type DebugLauncher = deploy.DebugLauncher

// DeviceBridge is the transport to devices.
type DeviceBridge = deploy.DeviceBridge

// Sentinel errors surfaced by Deploy and the run it returns.
var (
	ErrUserCancelled     = deploy.ErrUserCancelled
	ErrConnectionTimeout = deploy.ErrConnectionTimeout
	ErrCommandRejected   = deploy.ErrCommandRejected
	ErrNoUSBDevice       = deploy.ErrNoUSBDevice
)

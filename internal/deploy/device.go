// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import "fmt"

// DeviceKind distinguishes emulator instances from physical hardware.
type DeviceKind int

const (
	KindPhysical DeviceKind = iota
	KindEmulator
)

// DeviceState is the transport-level connection state of a device.
type DeviceState int

const (
	StateOffline DeviceState = iota
	StateOnline
	StateUnauthorized
)

func (s DeviceState) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateUnauthorized:
		return "unauthorized"
	default:
		return "offline"
	}
}

// Device is one execution target known to the registry. Instances are value
// snapshots; the registry owns the canonical view and replaces entries as
// the transport reports changes.
type Device struct {
	Serial   string
	Kind     DeviceKind
	State    DeviceState
	AvdName  string // emulator profile name, empty for physical devices
	APILevel int
	Codename string // dev-preview codename, empty on release builds
	ABIs     []string
	Model    string

	// Vendor and PlatformName identify an installed platform add-on, when
	// the device reports one. Empty for plain platform images.
	Vendor       string
	PlatformName string
}

// Emulator reports whether the device is an emulator instance.
func (d Device) Emulator() bool { return d.Kind == KindEmulator }

// Online reports whether the device can accept commands.
func (d Device) Online() bool { return d.State == StateOnline }

// DisplayName renders the device the way progress messages refer to it:
// the serial, followed by the AVD profile name when there is one.
func (d Device) DisplayName() string {
	if d.AvdName != "" {
		return fmt.Sprintf("%s (%s)", d.Serial, d.AvdName)
	}
	return d.Serial
}

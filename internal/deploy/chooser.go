// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"fmt"
	"strings"
)

// TargetChooser is the policy for picking execution targets. Exactly one
// of the three implementations applies to a run, fixed once the run
// begins; only an emulator profile name may be filled in lazily.
type TargetChooser interface {
	// Matches reports whether a device can satisfy this chooser at all,
	// before platform compatibility is considered.
	Matches(d Device) bool
	String() string
}

// ExplicitTarget names concrete devices by serial.
type ExplicitTarget struct {
	Serials []string
}

func (t ExplicitTarget) Matches(d Device) bool {
	for _, s := range t.Serials {
		if s == d.Serial {
			return true
		}
	}
	return false
}

func (t ExplicitTarget) String() string { return "serials " + FormatSerials(t.Serials) }

// EmulatorTarget names a virtual-device profile. An empty Profile means
// "any compatible emulator"; the resolver fills it in before launching.
type EmulatorTarget struct {
	Profile string
}

func (t EmulatorTarget) Matches(d Device) bool {
	if !d.Emulator() {
		return false
	}
	if t.Profile == "" {
		return true
	}
	return d.AvdName == t.Profile
}

func (t EmulatorTarget) String() string {
	if t.Profile == "" {
		return "emulator"
	}
	return "emulator " + t.Profile
}

// USBTarget selects any USB-attached physical device.
type USBTarget struct{}

func (USBTarget) Matches(d Device) bool { return !d.Emulator() }
func (USBTarget) String() string        { return "usb" }

// FormatSerials renders a serial list in its persisted string form.
func FormatSerials(serials []string) string {
	return strings.Join(serials, " ")
}

// ParseSerials is the inverse of FormatSerials.
func ParseSerials(s string) []string {
	return strings.Fields(s)
}

// ParseChooser parses the string form produced by TargetChooser.String.
func ParseChooser(s string) (TargetChooser, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "usb":
		return USBTarget{}, nil
	case s == "emulator":
		return EmulatorTarget{}, nil
	case strings.HasPrefix(s, "emulator "):
		return EmulatorTarget{Profile: strings.TrimSpace(strings.TrimPrefix(s, "emulator "))}, nil
	case strings.HasPrefix(s, "serials "):
		serials := ParseSerials(strings.TrimPrefix(s, "serials "))
		if len(serials) == 0 {
			return nil, fmt.Errorf("empty serial list in %q", s)
		}
		return ExplicitTarget{Serials: serials}, nil
	default:
		return nil, fmt.Errorf("unrecognized target %q", s)
	}
}

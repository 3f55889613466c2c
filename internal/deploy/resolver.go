// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
)

// Resolution is the outcome of a target resolution attempt.
type Resolution int

const (
	// Resolved: concrete devices were selected.
	Resolved Resolution = iota
	// Pending: a virtual device is coming up; the event watcher completes
	// the run when it reports online.
	Pending
	// Cancelled: the user dismissed an interactive choice.
	Cancelled
)

// InteractiveChooser presents a device choice to the user. Implementations
// run on whatever interactive surface the host has (the CLI ships a
// terminal picker); they block the calling goroutine until an answer.
type InteractiveChooser interface {
	// ChooseDevices returns the selected subset of candidates, or
	// ErrUserCancelled. preselected carries serials from the previous run.
	ChooseDevices(candidates []Device, preselected []string, multi bool) ([]Device, error)
}

// VirtualDeviceManager manages emulator profiles and instances.
type VirtualDeviceManager interface {
	Profiles(ctx context.Context) ([]string, error)
	// CreateProfile interactively creates a profile and returns its name,
	// or ErrUserCancelled.
	CreateProfile(ctx context.Context) (string, error)
	Launch(ctx context.Context, profile string) error
}

// Resolver turns a TargetChooser into a concrete device set, launching a
// virtual device and deferring to the event watcher when nothing suitable
// is online yet.
type Resolver struct {
	env      Env
	registry *Registry
	ui       InteractiveChooser
	avds     VirtualDeviceManager
	platform Platform
	req      Requirements
	sink     OutputSink
	multi    bool

	chooser TargetChooser
}

func NewResolver(
	env Env,
	registry *Registry,
	ui InteractiveChooser,
	avds VirtualDeviceManager,
	platform Platform,
	req Requirements,
	sink OutputSink,
	multi bool,
	chooser TargetChooser,
) *Resolver {
	return &Resolver{
		env:      env,
		registry: registry,
		ui:       ui,
		avds:     avds,
		platform: platform,
		req:      req,
		sink:     sink,
		multi:    multi,
		chooser:  chooser,
	}
}

// Chooser returns the (possibly refined) chooser; an emulator chooser has
// its profile filled in after resolution picked or created one.
func (r *Resolver) Chooser() TargetChooser { return r.chooser }

// Matches is the full target predicate: the chooser accepts the device
// and the device is platform-compatible. Explicitly named devices skip
// the compatibility check.
func (r *Resolver) Matches(d Device) bool {
	if !r.chooser.Matches(d) {
		return false
	}
	if _, explicit := r.chooser.(ExplicitTarget); explicit {
		return true
	}
	if t, ok := r.chooser.(EmulatorTarget); ok && t.Profile != "" {
		// A pinned profile is authoritative; the AVD was validated when
		// it was chosen.
		return true
	}
	return Compatible(r.platform, r.req, d)
}

// Resolve produces the target device set, or reports that resolution is
// pending on a device-online event, or that the user cancelled.
func (r *Resolver) Resolve(ctx context.Context) ([]Device, Resolution, error) {
	_, span := startSpan(r.env, "deploy.Resolve", attribute.String("chooser", r.chooser.String()))
	defer span.End()

	if t, ok := r.chooser.(ExplicitTarget); ok {
		devices := make([]Device, 0, len(t.Serials))
		for _, serial := range t.Serials {
			if d, ok := r.registry.Get(serial); ok {
				devices = append(devices, d)
			} else {
				// Not connected yet; the watcher picks it up when the
				// transport reports it.
				devices = append(devices, Device{Serial: serial})
			}
		}
		span.SetAttributes(attribute.Int("devices", len(devices)))
		return devices, Resolved, nil
	}

	var candidates []Device
	for _, d := range r.registry.Snapshot() {
		if d.Online() && r.Matches(d) {
			candidates = append(candidates, d)
		}
	}

	switch {
	case len(candidates) == 1:
		span.SetAttributes(attribute.String("auto_selected", candidates[0].Serial))
		return candidates[:1], Resolved, nil

	case len(candidates) > 1:
		devices, err := r.chooseInteractively(candidates)
		if err != nil {
			if errors.Is(err, ErrUserCancelled) {
				return nil, Cancelled, nil
			}
			recordSpanError(span, err)
			return nil, Cancelled, err
		}
		return devices, Resolved, nil

	default:
		devices, res, err := r.resolveOffline(ctx)
		if err != nil {
			recordSpanError(span, err)
		}
		return devices, res, err
	}
}

func (r *Resolver) chooseInteractively(candidates []Device) ([]Device, error) {
	if r.ui == nil {
		return nil, errors.New("multiple compatible devices and no interactive chooser")
	}
	devices, err := r.ui.ChooseDevices(candidates, r.loadLastSelection(), r.multi)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrUserCancelled
	}
	serials := make([]string, len(devices))
	for i, d := range devices {
		serials[i] = d.Serial
	}
	r.saveLastSelection(serials)
	return devices, nil
}

// resolveOffline handles the empty candidate set: launch a virtual device
// for emulator targets, fail for USB targets.
func (r *Resolver) resolveOffline(ctx context.Context) ([]Device, Resolution, error) {
	switch t := r.chooser.(type) {
	case EmulatorTarget:
		profile := t.Profile
		if profile == "" {
			var err error
			profile, err = r.pickProfile(ctx)
			if err != nil {
				if errors.Is(err, ErrUserCancelled) {
					return nil, Cancelled, nil
				}
				return nil, Cancelled, err
			}
		}
		r.chooser = EmulatorTarget{Profile: profile}
		if err := r.avds.Launch(ctx, profile); err != nil {
			return nil, Cancelled, err
		}
		logEvent(r.env, "virtual device launch requested", "profile", profile)
		sinkf(r.sink, Stdout, "Waiting for device.")
		return nil, Pending, nil

	case USBTarget:
		return nil, Cancelled, ErrNoUSBDevice

	default:
		return nil, Cancelled, errors.New("no compatible device online")
	}
}

// pickProfile selects the first existing profile, or creates one
// interactively when none exist.
func (r *Resolver) pickProfile(ctx context.Context) (string, error) {
	if r.avds == nil {
		return "", errors.New("no virtual-device manager configured")
	}
	profiles, err := r.avds.Profiles(ctx)
	if err != nil {
		return "", err
	}
	if len(profiles) > 0 {
		return profiles[0], nil
	}
	return r.avds.CreateProfile(ctx)
}

const lastSelectionFile = "target_devices"

func (r *Resolver) loadLastSelection() []string {
	if r.env.StateDir == "" {
		return nil
	}
	b, err := os.ReadFile(filepath.Join(r.env.StateDir, lastSelectionFile))
	if err != nil {
		return nil
	}
	return ParseSerials(string(b))
}

func (r *Resolver) saveLastSelection(serials []string) {
	if r.env.StateDir == "" {
		return
	}
	if err := os.MkdirAll(r.env.StateDir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(r.env.StateDir, lastSelectionFile), []byte(FormatSerials(serials)), 0o644)
}

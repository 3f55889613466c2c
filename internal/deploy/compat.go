// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

// Platform describes the project's build target.
type Platform struct {
	APILevel int
	Codename string // set only for dev-preview targets
	// Add-on platforms (vendor SDK extensions) require the exact same
	// add-on installed on the device.
	IsAddOn bool
	Vendor  string
	Name    string
}

// Requirements carries the manifest's SDK constraints. Zero means unset.
type Requirements struct {
	MinSdk int
	MaxSdk int
}

// EffectiveMinSdk is the minimum device API level: the manifest's minSdk
// when declared, otherwise the platform's own API level.
func (r Requirements) EffectiveMinSdk(p Platform) int {
	if r.MinSdk > 0 {
		return r.MinSdk
	}
	return p.APILevel
}

// Compatible reports whether a device can run an application built against
// platform p with the given manifest requirements.
func Compatible(p Platform, req Requirements, d Device) bool {
	if d.APILevel < req.EffectiveMinSdk(p) {
		return false
	}
	if req.MaxSdk > 0 && d.APILevel > req.MaxSdk {
		return false
	}
	if p.IsAddOn && (d.Vendor != p.Vendor || d.PlatformName != p.Name) {
		return false
	}
	if p.Codename != "" && d.Codename != p.Codename {
		return false
	}
	return true
}

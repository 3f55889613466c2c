// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deployer_test

import (
	"context"
	"io"
	"testing"

	"github.com/droidops/deployctl/pkg/deployer"
)

// The library surface must be usable from an external module without
// reaching into internal packages: every type a RunOptions needs is
// constructed here through the deployer package alone.

func TestRunOptionsBuildFromPublicTypes(t *testing.T) {
	choosers := []deployer.TargetChooser{
		deployer.USBTarget{},
		deployer.EmulatorTarget{Profile: "pixel_7"},
		deployer.ExplicitTarget{Serials: []string{"emulator-5554"}},
	}

	for _, chooser := range choosers {
		opts := deployer.RunOptions{
			Project: deployer.ProjectSpec{
				Main: "app",
				Modules: map[string]deployer.ModuleSpec{
					"app": {Package: "com.example.app", MinSdk: 26},
				},
			},
			Target:       chooser,
			Platform:     deployer.Platform{APILevel: 34},
			Requirements: deployer.Requirements{MinSdk: 26, MaxSdk: 35},
			Output:       io.Discard,
			ErrOutput:    io.Discard,
		}
		if opts.Target.String() == "" {
			t.Fatalf("chooser %T has no description", chooser)
		}
	}
}

func TestDeviceTypesAreUsableExternally(t *testing.T) {
	d := deployer.Device{
		Serial:   "emulator-5554",
		Kind:     deployer.KindEmulator,
		State:    deployer.StateOnline,
		APILevel: 34,
	}
	if !d.Online() || !d.Emulator() {
		t.Fatalf("device %+v should be an online emulator", d)
	}
	if !(deployer.ExplicitTarget{Serials: []string{"emulator-5554"}}).Matches(d) {
		t.Fatal("explicit target should match its own serial")
	}

	ev := deployer.DeviceEvent{Kind: deployer.DeviceConnected, Device: d}
	if ev.Kind.String() != "connected" {
		t.Fatalf("event kind = %q", ev.Kind.String())
	}
}

func TestDeployFailsEarlyOnUndeclaredMainModule(t *testing.T) {
	orch := deployer.New()
	defer orch.Close()

	_, err := orch.Deploy(context.Background(), deployer.RunOptions{
		Project: deployer.ProjectSpec{Main: "ghost"},
		Target:  deployer.USBTarget{},
	})
	if err == nil {
		t.Fatal("an undeclared main module should fail before any device work")
	}
}

// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

/*
Package deployer provides a Go library for deploying application packages
to Android devices and emulators.

# Overview

This library drives the full deploy-and-launch cycle: it watches the set
of connected devices, resolves which of them a run should target, uploads
and installs application packages with retry on transient device states,
launches the main activity or an instrumentation run, and optionally
parks the process for a debugger.

# Quick Start

	import "github.com/droidops/deployctl/pkg/deployer"

	func main() {
		orch := deployer.New()
		defer orch.Close()

		run, err := orch.Deploy(context.Background(), deployer.RunOptions{
			Project: deployer.ProjectSpec{
				Main: "app",
				Modules: map[string]deployer.ModuleSpec{
					"app": {Artifact: "app-debug.apk"},
				},
			},
			Target: deployer.USBTarget{},
			Deploy: true,
		})
		if err != nil {
			log.Fatal(err)
		}
		run.Wait(context.Background())
	}

# Key Concepts

**Target chooser**: the policy for picking devices: a fixed serial list,
any compatible USB device, or an emulator profile.

**Resolution**: turning a chooser into concrete devices. When no device
is online, an emulator target launches its profile and the run goes
Pending until the device registry reports it online.

**Run**: a handle on one deployment. A run is stopped at most once;
every blocking step observes the stop and unwinds.

# Device Events

The orchestrator polls the transport and publishes connect, disconnect
and change events. A pending run subscribes to them and completes itself,
debounced, when its device finishes booting.

# Environment Configuration

By default the orchestrator auto-detects paths from environment
variables:
  - DEPLOYCTL_ADB
  - DEPLOYCTL_EMULATOR
  - DEPLOYCTL_AVDMANAGER
  - ANDROID_AVD_HOME
  - DEPLOYCTL_STATE_DIR

Use NewWithEnv() to override with custom paths.

# Thread Safety

An Orchestrator is safe for concurrent Deploy calls; each run gets its
own state. A Run handle may be stopped from any goroutine.

# Requirements

  - Android platform tools (adb), plus emulator and avdmanager when
    virtual device targets are used

# License

AGPL-3.0-only. Copyright (C) 2026 Droidops B.V.
*/
package deployer

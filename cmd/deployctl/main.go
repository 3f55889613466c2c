// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/droidops/deployctl/internal/config"
	"github.com/droidops/deployctl/internal/deploy"
	"github.com/droidops/deployctl/internal/emulator"
	"github.com/droidops/deployctl/internal/logcat"
	"github.com/droidops/deployctl/internal/picker"
	"github.com/droidops/deployctl/pkg/deployer"
)

func main() {
	ctx := context.Background()

	shutdown, err := setupTelemetry(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "telemetry disabled:", err)
		shutdown = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdown(ctx) }()

	env := deploy.Detect()
	env.Context = ctx

	root := &cobra.Command{
		Use:   "deployctl",
		Short: "Deploy and launch Android application packages on devices and emulators",
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "project", "", "project config file (default: ./deployctl.yaml)")

	// devices
	var devJSON bool
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List connected devices with state, API level and AVD name",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch := deployer.NewWithContext(ctx)
			defer orch.Close()
			devices, err := orch.Devices(ctx)
			if err != nil {
				return err
			}
			if devJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			if len(devices) == 0 {
				fmt.Println("(no devices)")
				return nil
			}
			for _, d := range devices {
				kind := "usb"
				if d.Emulator() {
					kind = "avd"
				}
				fmt.Printf("%-22s %-4s %-12s api=%-3d %s\n", d.Serial, kind, d.State, d.APILevel, d.Model)
			}
			return nil
		},
	}
	devicesCmd.Flags().BoolVar(&devJSON, "json", false, "output JSON")
	root.AddCommand(devicesCmd)

	// deploy
	var (
		dpAPK, dpPackage, dpActivity, dpRunner string
		dpSerials                              []string
		dpAVD                                  string
		dpUSB                                  bool
		dpTest, dpDebug, dpNoDeploy, dpClear   bool
		dpMulti, dpNoPick                      bool
	)
	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Resolve a target, install the project's packages and launch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			spec, err := projectSpec(cfg, dpAPK, dpPackage)
			if err != nil {
				return err
			}
			target, err := pickTarget(cfg, dpSerials, dpAVD, dpUSB, cmd.Flags().Changed("avd"))
			if err != nil {
				return err
			}
			avds, err := virtualDevices(env, cfg)
			if err != nil {
				return err
			}

			opts := deployer.RunOptions{
				Project:        spec,
				Target:         target,
				Deploy:         !dpNoDeploy,
				Debug:          dpDebug,
				Test:           dpTest,
				ClearLogs:      dpClear || cfg.Launch.ClearLogs,
				Multi:          dpMulti || cfg.Target.Multi,
				Activity:       firstNonEmpty(dpActivity, cfg.Launch.Activity),
				Runner:         firstNonEmpty(dpRunner, cfg.Launch.Runner),
				VirtualDevices: avds,
			}
			if !dpNoPick {
				opts.Chooser = picker.TerminalChooser{}
			}
			if dpDebug {
				opts.DebugLauncher = &deploy.PortForwardDebugLauncher{
					Env:  env,
					Sink: &deploy.ConsoleSink{Out: os.Stdout, Err: os.Stderr},
				}
			}

			orch := deployer.NewWithContext(ctx)
			defer orch.Close()
			run, err := orch.Deploy(ctx, opts)
			if err != nil {
				return err
			}
			defer run.Stop()

			switch run.Resolution() {
			case deployer.Cancelled:
				return nil
			case deployer.Pending:
				fmt.Println("Run continues when the device is online. Press Ctrl-C to cancel.")
			}
			if err := run.Wait(ctx); err != nil {
				return err
			}
			if run.Phase() == deploy.PhaseCancelled {
				return errors.New("run cancelled")
			}
			return nil
		},
	}
	deployCmd.Flags().StringVar(&dpAPK, "apk", "", "application package file (overrides the project config)")
	deployCmd.Flags().StringVar(&dpPackage, "package", "", "package name override")
	deployCmd.Flags().StringSliceVar(&dpSerials, "serial", nil, "target device serial (repeatable)")
	deployCmd.Flags().StringVar(&dpAVD, "avd", "", "target an emulator profile (empty value picks one)")
	deployCmd.Flags().BoolVar(&dpUSB, "usb", false, "target a physical device")
	deployCmd.Flags().BoolVar(&dpTest, "test", false, "run instrumentation tests")
	deployCmd.Flags().BoolVar(&dpDebug, "debug", false, "park the process and forward its debug port")
	deployCmd.Flags().BoolVar(&dpNoDeploy, "no-deploy", false, "launch without installing")
	deployCmd.Flags().BoolVar(&dpClear, "clear-logs", false, "clear the device log first")
	deployCmd.Flags().BoolVar(&dpMulti, "multi", false, "allow several target devices")
	deployCmd.Flags().BoolVar(&dpNoPick, "no-pick", false, "fail instead of prompting when several devices match")
	deployCmd.Flags().StringVar(&dpActivity, "activity", "", "activity to launch (default: manifest launcher)")
	deployCmd.Flags().StringVar(&dpRunner, "runner", "", "instrumentation runner for --test")
	root.AddCommand(deployCmd)

	// install
	var inSerial, inAPK, inPackage string
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Upload and install one package file on one device",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inSerial == "" || inAPK == "" {
				return errors.New("--serial and --apk are required")
			}
			pkg := inPackage
			if pkg == "" {
				name, err := deploy.PackageNameOf(inAPK)
				if err != nil {
					return err
				}
				pkg = name
			}
			bridge := deploy.NewADBBridge(env)
			registry := deploy.NewRegistry(env, bridge)
			if err := registry.Refresh(ctx); err != nil {
				return err
			}
			d, ok := registry.Get(inSerial)
			if !ok {
				return fmt.Errorf("device %s is not connected", inSerial)
			}
			state := deploy.NewRunState()
			sink := &deploy.ConsoleSink{Out: os.Stdout, Err: os.Stderr}
			installer := deploy.NewInstaller(env, bridge, state, sink)
			return installer.InstallPackage(ctx, d, pkg, inAPK)
		},
	}
	installCmd.Flags().StringVar(&inSerial, "serial", "", "device serial")
	installCmd.Flags().StringVar(&inAPK, "apk", "", "package file to install")
	installCmd.Flags().StringVar(&inPackage, "package", "", "package name (default: read from the artifact)")
	root.AddCommand(installCmd)

	// resolve
	var (
		rsSerials []string
		rsAVD     string
		rsUSB     bool
		rsMulti   bool
	)
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Dry-run target resolution and print the chosen devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			target, err := pickTarget(cfg, rsSerials, rsAVD, rsUSB, cmd.Flags().Changed("avd"))
			if err != nil {
				return err
			}
			bridge := deploy.NewADBBridge(env)
			registry := deploy.NewRegistry(env, bridge)
			if err := registry.Refresh(ctx); err != nil {
				return err
			}
			sink := &deploy.ConsoleSink{Out: os.Stdout, Err: os.Stderr}
			resolver := deploy.NewResolver(env, registry, picker.TerminalChooser{}, nil,
				deploy.Platform{}, deploy.Requirements{}, sink, rsMulti, target)
			devices, resolution, err := resolver.Resolve(ctx)
			if err != nil {
				return err
			}
			switch resolution {
			case deploy.Cancelled:
				fmt.Println("Canceled")
			case deploy.Pending:
				fmt.Println("No device online; a run would wait for one.")
			default:
				for _, d := range devices {
					fmt.Println(d.DisplayName())
				}
			}
			return nil
		},
	}
	resolveCmd.Flags().StringSliceVar(&rsSerials, "serial", nil, "target device serial (repeatable)")
	resolveCmd.Flags().StringVar(&rsAVD, "avd", "", "target an emulator profile")
	resolveCmd.Flags().BoolVar(&rsUSB, "usb", false, "target a physical device")
	resolveCmd.Flags().BoolVar(&rsMulti, "multi", false, "allow several target devices")
	root.AddCommand(resolveCmd)

	// emulator
	emulatorCmd := &cobra.Command{
		Use:   "emulator",
		Short: "Manage virtual device profiles and instances",
	}

	var emListJSON bool
	emListCmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles and running instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := emulator.NewManager(env)
			profiles, err := mgr.ListProfiles()
			if err != nil {
				return err
			}
			running, err := mgr.Running(ctx)
			if err != nil {
				return err
			}
			if emListJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Profiles []emulator.Profile  `json:"profiles"`
					Running  []emulator.Instance `json:"running"`
				}{profiles, running})
			}
			for _, p := range profiles {
				fmt.Printf("%-24s %s\n", p.Name, p.Path)
			}
			for _, r := range running {
				state := "booting"
				if r.Booted {
					state = "ready"
				}
				fmt.Printf("%-24s %-14s port=%-5d pid=%-7d %s\n", r.Name, r.Serial, r.Port, r.PID, state)
			}
			return nil
		},
	}
	emListCmd.Flags().BoolVar(&emListJSON, "json", false, "output JSON")
	emulatorCmd.AddCommand(emListCmd)

	var emContainer bool
	var emImage, emMemory string
	emStartCmd := &cobra.Command{
		Use:   "start PROFILE",
		Short: "Start an emulator for a profile, on the host or in a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if emContainer {
				if emImage == "" {
					return errors.New("--image is required with --container")
				}
				launcher, err := emulator.NewContainerLauncher(env, emImage)
				if err != nil {
					return err
				}
				defer launcher.Close()
				launcher.Memory = emMemory
				id, err := launcher.Start(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Started container %s for %s\n", id, args[0])
				return nil
			}
			mgr := emulator.NewManager(env)
			serial, err := mgr.Start(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Started %s on %s\n", args[0], serial)
			return nil
		},
	}
	emStartCmd.Flags().BoolVar(&emContainer, "container", false, "run inside a container")
	emStartCmd.Flags().StringVar(&emImage, "image", "", "emulator container image")
	emStartCmd.Flags().StringVar(&emMemory, "memory", "", "container memory limit, e.g. 4g")
	emulatorCmd.AddCommand(emStartCmd)

	emStopCmd := &cobra.Command{
		Use:   "stop SERIAL",
		Short: "Stop a running emulator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := emulator.NewManager(env)
			if err := mgr.Stop(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Stopped %s\n", args[0])
			return nil
		},
	}
	emulatorCmd.AddCommand(emStopCmd)
	root.AddCommand(emulatorCmd)

	// logs
	var lgSerial, lgMin string
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail the device log, parsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lgSerial == "" {
				return errors.New("--serial is required")
			}
			min, err := parsePriority(lgMin)
			if err != nil {
				return err
			}
			bridge := deploy.NewADBBridge(env)
			return logcat.Stream(ctx, bridge, lgSerial, func(m logcat.Message) {
				if m.Priority < min {
					return
				}
				fmt.Printf("%s %6d %-7s %s: %s\n",
					m.Timestamp.Format("01-02 15:04:05.000"), m.PID, m.Priority, m.Tag, m.Text)
			}, nil)
		},
	}
	logsCmd.Flags().StringVar(&lgSerial, "serial", "", "device serial")
	logsCmd.Flags().StringVar(&lgMin, "min-priority", "verbose", "lowest priority to show (verbose..assert)")
	root.AddCommand(logsCmd)

	// config
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Project configuration helpers",
	}
	var ciPath string
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented project config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SaveTemplate(ciPath); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", ciPath)
			return nil
		},
	}
	configInitCmd.Flags().StringVar(&ciPath, "path", "deployctl.yaml", "where to write the template")
	configCmd.AddCommand(configInitCmd)
	root.AddCommand(configCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// projectSpec builds the module set from config, or from a bare --apk.
func projectSpec(cfg *config.Config, apk, pkg string) (deploy.ProjectSpec, error) {
	if apk != "" {
		return deploy.ProjectSpec{
			Main: "app",
			Modules: map[string]deploy.ModuleSpec{
				"app": {Artifact: apk, Package: pkg},
			},
		}, nil
	}
	spec := cfg.ProjectSpec()
	if spec.Main == "" {
		return deploy.ProjectSpec{}, errors.New("no project config found; pass --apk or run `deployctl config init`")
	}
	return spec, nil
}

// pickTarget merges target flags with the config's target section. Flags
// win over config.
func pickTarget(cfg *config.Config, serials []string, avd string, usb, avdSet bool) (deploy.TargetChooser, error) {
	switch {
	case len(serials) > 0:
		return deploy.ExplicitTarget{Serials: serials}, nil
	case avdSet:
		return deploy.EmulatorTarget{Profile: avd}, nil
	case usb:
		return deploy.USBTarget{}, nil
	default:
		return cfg.Chooser()
	}
}

// virtualDevices builds the emulator backend the config asks for.
func virtualDevices(env deploy.Env, cfg *config.Config) (deploy.VirtualDeviceManager, error) {
	if cfg.Emulator.Container {
		if cfg.Emulator.ContainerImage == "" {
			return nil, errors.New("emulator.container is set but emulator.container_image is empty")
		}
		launcher, err := emulator.NewContainerLauncher(env, cfg.Emulator.ContainerImage)
		if err != nil {
			return nil, err
		}
		launcher.Memory = cfg.Emulator.Memory
		return launcher, nil
	}
	mgr := emulator.NewManager(env)
	mgr.SystemImage = cfg.Emulator.SystemImage
	if cfg.Emulator.HardwareProfile != "" {
		mgr.HardwareProfile = cfg.Emulator.HardwareProfile
	}
	return mgr, nil
}

func parsePriority(s string) (logcat.Priority, error) {
	switch s {
	case "", "verbose":
		return logcat.Verbose, nil
	case "debug":
		return logcat.Debug, nil
	case "info":
		return logcat.Info, nil
	case "warn":
		return logcat.Warn, nil
	case "error":
		return logcat.Error, nil
	case "assert":
		return logcat.Assert, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

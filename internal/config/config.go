// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

// Package config loads the project description file that tells the tool
// which artifacts to deploy and where.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/droidops/deployctl/internal/deploy"
)

// Config is the full on-disk project configuration.
type Config struct {
	Project  ProjectSection           `mapstructure:"project"`
	Modules  map[string]ModuleSection `mapstructure:"modules"`
	Target   TargetSection            `mapstructure:"target"`
	Launch   LaunchSection            `mapstructure:"launch"`
	Emulator EmulatorSection          `mapstructure:"emulator"`
}

type ProjectSection struct {
	Name string `mapstructure:"name"`
	Main string `mapstructure:"main"`
}

type ModuleSection struct {
	Artifact      string   `mapstructure:"artifact"`
	TestArtifact  string   `mapstructure:"test_artifact"`
	Library       bool     `mapstructure:"library"`
	Deps          []string `mapstructure:"deps"`
	Package       string   `mapstructure:"package"`
	PackageSuffix string   `mapstructure:"package_suffix"`
	TestPackage   string   `mapstructure:"test_package"`
	Debuggable    *bool    `mapstructure:"debuggable"`
	MinSdk        int      `mapstructure:"min_sdk"`
	MaxSdk        int      `mapstructure:"max_sdk"`
}

type TargetSection struct {
	// Mode is "usb", "emulator" or "serials".
	Mode    string   `mapstructure:"mode"`
	Profile string   `mapstructure:"profile"`
	Serials []string `mapstructure:"serials"`
	Multi   bool     `mapstructure:"multi"`
}

type LaunchSection struct {
	Activity  string `mapstructure:"activity"`
	Runner    string `mapstructure:"runner"`
	ClearLogs bool   `mapstructure:"clear_logs"`
}

type EmulatorSection struct {
	SystemImage     string `mapstructure:"system_image"`
	HardwareProfile string `mapstructure:"hardware_profile"`
	Container       bool   `mapstructure:"container"`
	ContainerImage  string `mapstructure:"container_image"`
	Memory          string `mapstructure:"memory"`
}

var defaultConfig = Config{
	Target: TargetSection{
		Mode:  "usb",
		Multi: false,
	},
	Emulator: EmulatorSection{
		HardwareProfile: "pixel_7",
	},
}

// Load reads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	viper.SetDefault("target.mode", defaultConfig.Target.Mode)
	viper.SetDefault("target.multi", defaultConfig.Target.Multi)
	viper.SetDefault("emulator.hardware_profile", defaultConfig.Emulator.HardwareProfile)

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("deployctl")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "deployctl"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine; flags and env carry the rest.
	}

	viper.SetEnvPrefix("DEPLOYCTL")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// ProjectSpec converts the module sections into the deployment layer's
// project description.
func (c *Config) ProjectSpec() deploy.ProjectSpec {
	modules := make(map[string]deploy.ModuleSpec, len(c.Modules))
	for name, m := range c.Modules {
		modules[name] = deploy.ModuleSpec{
			Artifact:      m.Artifact,
			TestArtifact:  m.TestArtifact,
			Library:       m.Library,
			Deps:          m.Deps,
			Package:       m.Package,
			PackageSuffix: m.PackageSuffix,
			TestPackage:   m.TestPackage,
			Debuggable:    m.Debuggable,
			MinSdk:        m.MinSdk,
			MaxSdk:        m.MaxSdk,
		}
	}
	return deploy.ProjectSpec{Main: c.Project.Main, Modules: modules}
}

// Chooser builds the target chooser the config describes.
func (c *Config) Chooser() (deploy.TargetChooser, error) {
	switch c.Target.Mode {
	case "", "usb":
		return deploy.USBTarget{}, nil
	case "emulator":
		return deploy.EmulatorTarget{Profile: c.Target.Profile}, nil
	case "serials":
		if len(c.Target.Serials) == 0 {
			return nil, fmt.Errorf("target.mode is %q but target.serials is empty", c.Target.Mode)
		}
		return deploy.ExplicitTarget{Serials: c.Target.Serials}, nil
	default:
		return nil, fmt.Errorf("unknown target.mode %q (want usb, emulator or serials)", c.Target.Mode)
	}
}

// SaveTemplate writes a commented starter configuration.
func SaveTemplate(path string) error {
	templateContent := `# deployctl project configuration

project:
  # Display name, used in logs only
  name: "My App"

  # The module whose artifact is deployed and launched
  main: app

modules:
  app:
    # Application package file to install
    artifact: build/outputs/apk/debug/app-debug.apk

    # Instrumentation test package, if any
    test_artifact: build/outputs/apk/androidTest/debug/app-debug-androidTest.apk

    # Modules whose artifacts must be installed first
    deps: []

    # Package name override; defaults to the artifact's manifest package
    package: ""

    # Appended to the effective package name (build-type suffix)
    package_suffix: ""

    # Sdk constraint overrides; default to the artifact's manifest values
    min_sdk: 0
    max_sdk: 0

target:
  # How to pick devices: usb, emulator or serials
  mode: usb

  # Emulator profile to boot when mode is emulator; empty picks one
  profile: ""

  # Fixed serial list when mode is serials
  serials: []

  # Allow deploying to several devices at once
  multi: false

launch:
  # Activity override; defaults to the manifest launcher activity
  activity: ""

  # Instrumentation runner for test runs
  runner: ""

  # Clear the device log before each run
  clear_logs: false

emulator:
  # Sdk package used when a profile has to be created
  system_image: ""

  # avdmanager device definition for created profiles
  hardware_profile: "pixel_7"

  # Boot emulators in containers instead of host processes
  container: false
  container_image: ""

  # Container memory limit, e.g. "4g"
  memory: ""
`
	return os.WriteFile(path, []byte(templateContent), 0o644)
}

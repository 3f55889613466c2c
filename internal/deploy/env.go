// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
)

type Env struct {
	ADB      string // adb
	Emulator string // emulator
	AvdMgr   string // avdmanager
	AVDHome  string // ANDROID_AVD_HOME (default ~/.android/avd)
	StateDir string // DEPLOYCTL_STATE_DIR (default ~/.config/deployctl)
	// CorrelationID is used to tie logs to a specific run.
	CorrelationID string
	// Context is used to parent OpenTelemetry spans.
	Context context.Context
}

func Detect() Env {
	usr, _ := user.Current()
	home := ""
	if usr != nil {
		home = usr.HomeDir
	} else if h := os.Getenv("HOME"); h != "" {
		home = h
	}

	avd := getenv("ANDROID_AVD_HOME", filepath.Join(home, ".android", "avd"))
	state := getenv("DEPLOYCTL_STATE_DIR", filepath.Join(home, ".config", "deployctl"))
	correlationID := getenv("DEPLOYCTL_CORRELATION_ID", "")

	return Env{
		ADB:           getenv("DEPLOYCTL_ADB", "adb"),
		Emulator:      getenv("DEPLOYCTL_EMULATOR", "emulator"),
		AvdMgr:        getenv("DEPLOYCTL_AVDMANAGER", "avdmanager"),
		AVDHome:       avd,
		StateDir:      state,
		CorrelationID: correlationID,
		Context:       context.Background(),
	}
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

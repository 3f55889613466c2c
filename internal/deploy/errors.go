// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUserCancelled is returned when the user dismisses an interactive
	// choice or the run is stopped before an operation starts.
	ErrUserCancelled = errors.New("canceled")

	// ErrConnectionTimeout reports that a device transport call timed out.
	ErrConnectionTimeout = errors.New("connection to ADB failed with a timeout")

	// ErrCommandRejected reports that the device transport refused a command.
	ErrCommandRejected = errors.New("adb refused the command")

	// ErrShellUnresponsive reports a shell command that produced no result
	// in time. It is transient: the installer waits and retries.
	ErrShellUnresponsive = errors.New("device shell command unresponsive")

	// ErrNoUSBDevice is returned when a USB target is requested but no
	// physical device is attached.
	ErrNoUSBDevice = errors.New("USB device not found")
)

// SyncError is a file-transfer protocol failure during upload.
type SyncError struct {
	Reason string // short category text
	Detail string // underlying message, may equal Reason
}

func (e *SyncError) Error() string {
	if e.Detail == "" || e.Detail == e.Reason {
		return e.Reason
	}
	return e.Reason + "\n" + e.Detail
}

// Typed error codes extracted from package-manager output.
// noError and untypedError mirror the sentinel values the receiver uses.
const (
	noError      = -2
	untypedError = -1
)

// InstallError is a terminal package-manager failure. Code is the numeric
// error type parsed from device output, or untypedError when the output
// carried a bare "Error" line with no type.
type InstallError struct {
	Code    int
	Failure string // contents of a "Failure [...]" line, if any
	Output  string // full receiver output
}

func (e *InstallError) Error() string {
	if e.Failure != "" {
		return fmt.Sprintf("install failed: %s", e.Failure)
	}
	if e.Code == untypedError {
		return "install failed"
	}
	return fmt.Sprintf("install failed: error type %d", e.Code)
}

// Typed reports whether the failure carried a numeric error type.
func (e *InstallError) Typed() bool { return e.Code >= 0 }

// ManifestError reports a missing or unusable application manifest.
type ManifestError struct {
	Module  string
	Path    string
	Missing bool
	Reason  string
}

func (e *ManifestError) Error() string {
	if e.Missing {
		return fmt.Sprintf("cannot find AndroidManifest.xml for module %s", e.Module)
	}
	return fmt.Sprintf("[%s] %s is not a valid manifest: %s", e.Module, e.Path, e.Reason)
}

// PackageCollisionError reports two or more modules resolving to the same
// application package identifier. Deployment never starts on collision.
type PackageCollisionError struct {
	PackageName string
	Modules     []string
}

func (e *PackageCollisionError) Error() string {
	return fmt.Sprintf("applications have the same package name %s:\n    %s",
		e.PackageName, strings.Join(e.Modules, ", "))
}

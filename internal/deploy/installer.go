// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Fixed wait between install retries while a device is not ready.
const installRetryWait = 20 * time.Second

// Upper bound for a single install command before it counts as
// unresponsive (and is retried like any other not-ready condition).
const installAttemptTimeout = 2 * time.Minute

const remoteStagingDir = "/data/local/tmp/"

// Installer uploads an application package to a device and drives the
// device's package manager until a terminal outcome. Not-ready devices are
// retried indefinitely; only run cancellation bounds the loop.
type Installer struct {
	env    Env
	bridge DeviceBridge
	state  *RunState
	sink   OutputSink

	// retryWait is installRetryWait in production; tests shorten it.
	retryWait      time.Duration
	attemptTimeout time.Duration
}

func NewInstaller(env Env, bridge DeviceBridge, state *RunState, sink OutputSink) *Installer {
	return &Installer{
		env:            env,
		bridge:         bridge,
		state:          state,
		sink:           sink,
		retryWait:      installRetryWait,
		attemptTimeout: installAttemptTimeout,
	}
}

// InstallPackage uploads localPath to the device's staging area and
// installs it, streaming progress into the sink. The remote staging path
// is derived from the package identifier.
func (i *Installer) InstallPackage(ctx context.Context, d Device, packageName, localPath string) error {
	_, span := startSpan(i.env, "deploy.InstallPackage",
		attribute.String("serial", d.Serial),
		attribute.String("package", packageName),
	)
	defer span.End()

	remotePath := remoteStagingDir + packageName
	if err := i.upload(ctx, d, localPath, remotePath); err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := i.install(ctx, d, remotePath, packageName); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (i *Installer) upload(ctx context.Context, d Device, localPath, remotePath string) error {
	if i.state.Stopped() {
		return ErrUserCancelled
	}
	sinkf(i.sink, Stdout, "Uploading file\n\tlocal path: %s\n\tremote path: %s", localPath, remotePath)

	err := i.bridge.Push(ctx, d.Serial, localPath, remotePath)
	if err == nil {
		return nil
	}

	var syncErr *SyncError
	switch {
	case errors.Is(err, ErrConnectionTimeout):
		sinkf(i.sink, Stderr, "Connection timeout")
	case errors.Is(err, ErrCommandRejected):
		sinkf(i.sink, Stderr, "ADB refused the command")
	case errors.As(err, &syncErr):
		sinkf(i.sink, Stderr, "%s", syncErr.Error())
	default:
		sinkf(i.sink, Stderr, "Can't upload file: %s", err)
	}
	return err
}

func (i *Installer) install(ctx context.Context, d Device, remotePath, packageName string) error {
	sinkf(i.sink, Stdout, "Installing %s", packageName)

	for {
		if i.state.Stopped() {
			return ErrUserCancelled
		}
		recv := newInstallReceiver(i.state)
		notReady, err := i.attempt(ctx, d, remotePath, recv)
		if err != nil {
			return err
		}
		if !notReady && !recv.notReady() {
			if recv.success() {
				i.sink.Append(recv.output.String(), Stdout)
				return nil
			}
			i.sink.Append(recv.output.String(), Stderr)
			return &InstallError{
				Code:    recv.errorType,
				Failure: recv.failureMessage,
				Output:  recv.output.String(),
			}
		}
		sinkf(i.sink, Stdout, "Device is not ready. Waiting for %d sec.", int(i.retryWait.Seconds()))
		if i.state.WaitRetry(i.retryWait) {
			return ErrUserCancelled
		}
	}
}

// attempt runs one pm install invocation. A true result means the device
// shell went unresponsive and the caller should wait and retry.
func (i *Installer) attempt(ctx context.Context, d Device, remotePath string, recv *installReceiver) (bool, error) {
	command := fmt.Sprintf("pm install -r \"%s\"", remotePath)
	sinkf(i.sink, Stdout, "DEVICE SHELL COMMAND: %s", command)

	attemptCtx, cancel := context.WithTimeout(ctx, i.attemptTimeout)
	defer cancel()

	err := i.bridge.Shell(attemptCtx, d.Serial, command, recv)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrShellUnresponsive):
		logEvent(i.env, "install attempt unresponsive", "serial", d.Serial)
		return true, nil
	default:
		return false, err
	}
}

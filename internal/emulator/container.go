// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package emulator

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	units "github.com/docker/go-units"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
	"go.opentelemetry.io/otel/attribute"

	"github.com/droidops/deployctl/internal/deploy"
)

// ContainerLauncher runs emulators inside containers instead of host
// qemu processes. With host networking the console ports land in the
// same range a host emulator would use, so the device registry and adb
// see the instance without extra plumbing.
type ContainerLauncher struct {
	env Env
	cli *client.Client

	// Image is the emulator container image reference.
	Image string
	// Memory is the container memory limit in go-units notation ("4g").
	// Empty means no limit.
	Memory string
	// KVMDevice is passed through to the container. Emulators without
	// hardware acceleration are too slow to deploy against.
	KVMDevice string
	// ProfileNames lists the device profiles the image can boot.
	ProfileNames []string
}

func NewContainerLauncher(env Env, imageRef string) (*ContainerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("container engine: %w", err)
	}
	return &ContainerLauncher{
		env:       env,
		cli:       cli,
		Image:     imageRef,
		KVMDevice: "/dev/kvm",
	}, nil
}

// Close releases the engine connection.
func (l *ContainerLauncher) Close() error { return l.cli.Close() }

// Profiles returns the profiles the configured image supports.
func (l *ContainerLauncher) Profiles(ctx context.Context) ([]string, error) {
	return l.ProfileNames, nil
}

// CreateProfile is not supported for container images; the profile set
// is baked into the image.
func (l *ContainerLauncher) CreateProfile(ctx context.Context) (string, error) {
	return "", fmt.Errorf("container image %s has a fixed profile set: %w", l.Image, deploy.ErrUserCancelled)
}

// Launch starts a container booting the named profile.
func (l *ContainerLauncher) Launch(ctx context.Context, profile string) error {
	_, err := l.Start(ctx, profile)
	return err
}

// Start creates and starts the emulator container, pulling the image on
// first use. Returns the container id.
func (l *ContainerLauncher) Start(ctx context.Context, profile string) (string, error) {
	_, span := startSpan(l.env, "emulator.ContainerStart",
		attribute.String("image", l.Image),
		attribute.String("profile", profile))
	defer span.End()

	hostConfig := &container.HostConfig{
		// Host networking puts the console ports where adb looks.
		NetworkMode: "host",
		AutoRemove:  true,
	}
	if l.Memory != "" {
		limit, err := units.RAMInBytes(l.Memory)
		if err != nil {
			recordSpanError(span, err)
			return "", fmt.Errorf("memory limit %q: %w", l.Memory, err)
		}
		hostConfig.Resources.Memory = limit
	}
	if l.KVMDevice != "" {
		hostConfig.Devices = []container.DeviceMapping{{
			PathOnHost:        l.KVMDevice,
			PathInContainer:   l.KVMDevice,
			CgroupPermissions: "rwm",
		}}
	}
	config := &container.Config{
		Image: l.Image,
		Env: []string{
			"EMULATOR_DEVICE=" + profile,
			"EMULATOR_HEADLESS=true",
		},
	}

	name := "deployctl-emulator-" + profile
	createOpts := client.ContainerCreateOptions{
		Config:     config,
		HostConfig: hostConfig,
		Name:       name,
	}
	created, err := l.cli.ContainerCreate(ctx, createOpts)
	if errdefs.IsNotFound(err) {
		if pullErr := l.pull(ctx); pullErr != nil {
			recordSpanError(span, pullErr)
			return "", pullErr
		}
		created, err = l.cli.ContainerCreate(ctx, createOpts)
	}
	if err != nil {
		recordSpanError(span, err)
		return "", fmt.Errorf("create emulator container: %w", err)
	}

	if _, err := l.cli.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		recordSpanError(span, err)
		return "", fmt.Errorf("start emulator container: %w", err)
	}
	span.SetAttributes(attribute.String("container_id", created.ID))
	logEvent(l.env, "emulator container started",
		"container_id", created.ID, "image", l.Image, "profile", profile)
	return created.ID, nil
}

// Stop stops and removes the container. A container that is already
// gone is not an error.
func (l *ContainerLauncher) Stop(ctx context.Context, id string) error {
	_, span := startSpan(l.env, "emulator.ContainerStop", attribute.String("container_id", id))
	defer span.End()

	timeout := 30
	_, err := l.cli.ContainerStop(ctx, id, client.ContainerStopOptions{Timeout: &timeout})
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("stop emulator container: %w", err)
	}
	_, err = l.cli.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		recordSpanError(span, err)
		return fmt.Errorf("remove emulator container: %w", err)
	}
	logEvent(l.env, "emulator container stopped", "container_id", id)
	return nil
}

func (l *ContainerLauncher) pull(ctx context.Context) error {
	logEvent(l.env, "pulling emulator image", "image", l.Image)
	rc, err := l.cli.ImagePull(ctx, l.Image, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", l.Image, err)
	}
	defer rc.Close()
	// Drain the progress stream; it is already mirrored into the log.
	_, err = io.Copy(newLineLogWriter(l.env, "image pull progress", "image", l.Image), rc)
	return err
}

// Package launcher starts simulation containers with optional GPU
// attachment and hands back a handle for dispatching work into them.
package launcher

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/zeroth-labs/simlaunch/pkg/lerr"
	"github.com/zeroth-labs/simlaunch/pkg/simlog"
)

// DefaultStartTimeout bounds how long a container may take to reach the
// running state. Job execution itself is never deadline-bound.
const DefaultStartTimeout = 60 * time.Second

// Mount is a host bind mount exposed inside the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Options configures one container launch.
type Options struct {
	// Name is the container name; empty lets the daemon pick one.
	Name string
	// Command overrides the image entrypoint command. Leave nil to run
	// whatever the image declares (a compose-style idle service keeps
	// the container up for exec dispatch).
	Command []string
	Env     map[string]string
	WorkDir string
	Mounts  []Mount

	// GPU requests accelerator passthrough. GPUCount 0 attaches all
	// visible devices.
	GPU      bool
	GPUCount int

	StartTimeout time.Duration
}

// API is the slice of the Docker client the launcher needs.
type API interface {
	Info(ctx context.Context) (system.Info, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Handle references one running container. It stays valid until Teardown.
type Handle struct {
	api      API
	ID       string
	ImageRef string
}

// Launcher starts containers on one Docker daemon.
type Launcher struct {
	api API
	log *simlog.Logger
}

// New creates a launcher over the given Docker client.
func New(api API, log *simlog.Logger) *Launcher {
	if log == nil {
		log = simlog.NewQuiet()
	}
	return &Launcher{api: api, log: log}
}

// ProbeGPU verifies that the host exposes an nvidia container runtime.
// The driver install itself is a host precondition; this only checks it.
func (l *Launcher) ProbeGPU(ctx context.Context) error {
	info, err := l.api.Info(ctx)
	if err != nil {
		return lerr.New(lerr.CodeDeviceUnavailable, fmt.Errorf("querying daemon: %w", err))
	}
	if info.DefaultRuntime == "nvidia" {
		return nil
	}
	for name := range info.Runtimes {
		if name == "nvidia" {
			return nil
		}
	}
	return lerr.Newf(lerr.CodeDeviceUnavailable,
		"no nvidia runtime registered with the Docker daemon; is the accelerator driver functional on the host?")
}

// Launch starts one container from the resolved image and waits for it to
// reach the running state within the start deadline. At most one handle is
// returned per successful call.
func (l *Launcher) Launch(ctx context.Context, imageRef string, opts Options) (*Handle, error) {
	if opts.GPU {
		if err := l.ProbeGPU(ctx); err != nil {
			return nil, err
		}
	}

	config := &container.Config{
		Image:      imageRef,
		Cmd:        opts.Command,
		WorkingDir: opts.WorkDir,
		Env: func() []string {
			var env []string
			for k, v := range opts.Env {
				env = append(env, k+"="+v)
			}
			return env
		}(),
		Labels: map[string]string{
			"simlaunch.managed": "true",
		},
	}

	hostConfig := &container.HostConfig{}
	for _, m := range opts.Mounts {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	if opts.GPU {
		count := opts.GPUCount
		if count <= 0 {
			count = -1 // all devices
		}
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        count,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	resp, err := l.api.ContainerCreate(ctx, config, hostConfig, nil, nil, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	if err := l.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	handle := &Handle{api: l.api, ID: resp.ID, ImageRef: imageRef}

	timeout := opts.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	if err := l.waitRunning(ctx, handle, timeout); err != nil {
		handle.Teardown(context.Background())
		return nil, err
	}

	l.log.Info("container running", "id", shortID(resp.ID), "image", imageRef, "gpu", fmt.Sprint(opts.GPU))
	return handle, nil
}

// waitRunning polls the container state until it is running or the
// deadline passes.
func (l *Launcher) waitRunning(ctx context.Context, h *Handle, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		inspect, err := l.api.ContainerInspect(ctx, h.ID)
		if err != nil {
			return fmt.Errorf("inspecting container: %w", err)
		}
		if inspect.State != nil {
			if inspect.State.Running {
				return nil
			}
			if inspect.State.Dead || inspect.State.Status == "exited" {
				return lerr.Newf(lerr.CodeLaunchTimeout,
					"container exited during startup (exit code %d)", inspect.State.ExitCode)
			}
		}

		if time.Now().After(deadline) {
			return lerr.Newf(lerr.CodeLaunchTimeout, "container not running after %s", timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Running reports whether the handle still points at a live container.
func (h *Handle) Running(ctx context.Context) (bool, error) {
	inspect, err := h.api.ContainerInspect(ctx, h.ID)
	if err != nil {
		return false, err
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Teardown stops and removes the container. The handle is invalid after.
func (h *Handle) Teardown(ctx context.Context) error {
	stopTimeout := 10
	if err := h.api.ContainerStop(ctx, h.ID, container.StopOptions{Timeout: &stopTimeout}); err != nil {
		return fmt.Errorf("stopping container: %w", err)
	}
	if err := h.api.ContainerRemove(ctx, h.ID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

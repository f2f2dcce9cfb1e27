package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/types"
)

// DockerDriver implements Driver against the Docker engine. Single
// container operations use the engine API over the socket; whole-stack
// operations delegate to the compose CLI, which owns project-level
// semantics (networks, depends_on ordering, image pulls).
type DockerDriver struct {
	cli    *client.Client
	socket string
	logger zerolog.Logger

	// composeBin lets tests point at a stub binary.
	composeBin string
}

// NewDockerDriver connects to the Docker engine on the given socket.
func NewDockerDriver(socket string) (*DockerDriver, error) {
	host := socket
	if !strings.Contains(host, "://") {
		host = "unix://" + host
	}
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindRuntimeUnavailable, err,
			"failed to create docker client for %s", socket)
	}
	return &DockerDriver{
		cli:        cli,
		socket:     socket,
		logger:     log.WithComponent("runtime"),
		composeBin: "docker",
	}, nil
}

// Close releases the engine connection.
func (d *DockerDriver) Close() error {
	return d.cli.Close()
}

// Ping verifies the engine is reachable.
func (d *DockerDriver) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultInspectTimeout)
	defer cancel()
	if _, err := d.cli.Ping(ctx); err != nil {
		return wrapRuntimeErr(err, "docker engine not reachable")
	}
	return nil
}

// Up brings the whole stack up, pulling missing images.
func (d *DockerDriver) Up(ctx context.Context, inst *types.Instance) error {
	return d.compose(ctx, inst, DefaultComposeTimeout, "up", "-d", "--pull", "missing")
}

// Down stops and removes the stack's containers, leaving volumes on
// disk untouched.
func (d *DockerDriver) Down(ctx context.Context, inst *types.Instance) error {
	return d.compose(ctx, inst, DefaultComposeTimeout, "down")
}

// Start starts existing containers without recreating them.
func (d *DockerDriver) Start(ctx context.Context, inst *types.Instance) error {
	return d.compose(ctx, inst, DefaultComposeTimeout, "start")
}

// Stop stops containers without removing them.
func (d *DockerDriver) Stop(ctx context.Context, inst *types.Instance) error {
	return d.compose(ctx, inst, DefaultComposeTimeout, "stop")
}

// compose runs one docker compose subcommand for the instance project.
func (d *DockerDriver) compose(ctx context.Context, inst *types.Instance, timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := append([]string{
		"compose",
		"--project-name", types.ComposeProject(inst.ID),
		"--file", inst.Docker.ComposeFile,
		"--env-file", inst.Docker.EnvFile,
	}, args...)

	d.logger.Debug().Strs("args", full).Str("instance_id", inst.ID).Msg("running compose")

	cmd := exec.CommandContext(ctx, d.composeBin, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errdefs.Wrap(errdefs.KindRuntimeTimeout, err,
				"compose %s timed out after %s", args[0], timeout)
		}
		return errdefs.Wrap(errdefs.KindRuntimeError, err,
			"compose %s failed: %s", args[0], strings.TrimSpace(stderr.String()))
	}
	return nil
}

// RestartContainer gracefully stops then starts one container.
func (d *DockerDriver) RestartContainer(ctx context.Context, name string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout+DefaultInspectTimeout)
	defer cancel()
	secs := int(timeout.Seconds())
	if err := d.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &secs}); err != nil {
		return wrapRuntimeErr(err, fmt.Sprintf("failed to restart container %s", name))
	}
	return nil
}

// StopContainer stops one container with a graceful timeout.
func (d *DockerDriver) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout+DefaultInspectTimeout)
	defer cancel()
	secs := int(timeout.Seconds())
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs}); err != nil {
		return wrapRuntimeErr(err, fmt.Sprintf("failed to stop container %s", name))
	}
	return nil
}

// StartContainer starts one container.
func (d *DockerDriver) StartContainer(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
	defer cancel()
	if err := d.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return wrapRuntimeErr(err, fmt.Sprintf("failed to start container %s", name))
	}
	return nil
}

// List reports live state for each expected container of the instance.
func (d *DockerDriver) List(ctx context.Context, inst *types.Instance) ([]types.ContainerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultInspectTimeout)
	defer cancel()

	args := filters.NewArgs(filters.Arg("name", "supabase-"))
	listed, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, wrapRuntimeErr(err, "failed to list containers")
	}

	byName := make(map[string]container.Summary, len(listed))
	for _, c := range listed {
		for _, n := range c.Names {
			byName[strings.TrimPrefix(n, "/")] = c
		}
	}

	expected := types.ExpectedContainers(inst.ID)
	out := make([]types.ContainerInfo, 0, len(expected))
	for _, name := range expected {
		info := types.ContainerInfo{Name: name}
		if c, ok := byName[name]; ok {
			info.Exists = true
			info.Running = c.State == "running"
			info.Status = c.Status
			info.State = c.State
			info.CreatedAt = time.Unix(c.Created, 0)
		}
		out = append(out, info)
	}
	return out, nil
}

// ListManaged reports every container carrying the managed naming
// prefix, present on the host in any state.
func (d *DockerDriver) ListManaged(ctx context.Context) ([]types.ContainerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultInspectTimeout)
	defer cancel()

	args := filters.NewArgs(filters.Arg("name", "supabase-"))
	listed, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, wrapRuntimeErr(err, "failed to list managed containers")
	}

	out := make([]types.ContainerInfo, 0, len(listed))
	for _, c := range listed {
		if len(c.Names) == 0 {
			continue
		}
		name := strings.TrimPrefix(c.Names[0], "/")
		out = append(out, types.ContainerInfo{
			Name:      name,
			Exists:    true,
			Running:   c.State == "running",
			Status:    c.Status,
			State:     c.State,
			CreatedAt: time.Unix(c.Created, 0),
		})
	}
	return out, nil
}

// Logs returns the tail of one container's demultiplexed log stream.
func (d *DockerDriver) Logs(ctx context.Context, name string, tailLines int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultLogsTimeout)
	defer cancel()

	rc, err := d.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tailLines),
	})
	if err != nil {
		return "", wrapRuntimeErr(err, fmt.Sprintf("failed to fetch logs for %s", name))
	}
	defer rc.Close()

	var stdout, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderrBuf, rc); err != nil {
		// Not a multiplexed stream (tty container); fall back to raw.
		return stdout.String() + stderrBuf.String(), nil
	}
	return stdout.String() + stderrBuf.String(), nil
}

// Inspect captures an inspect-style snapshot of one container.
func (d *DockerDriver) Inspect(ctx context.Context, name string) (*InspectState, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultInspectTimeout)
	defer cancel()

	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil, wrapRuntimeErr(err, fmt.Sprintf("failed to inspect container %s", name))
	}
	state := &InspectState{ID: info.ID}
	if info.State != nil {
		state.State = info.State.Status
		state.Status = info.State.Status
	}
	if info.Config != nil {
		state.Image = info.Config.Image
		state.Env = info.Config.Env
	}
	return state, nil
}

// WaitHealthy polls List until enough containers run or the timeout
// elapses.
func (d *DockerDriver) WaitHealthy(ctx context.Context, inst *types.Instance, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastRunning, expected int
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return errdefs.Wrap(errdefs.KindRuntimeTimeout, err, "wait for healthy containers canceled")
		}
		infos, err := d.List(ctx, inst)
		if err == nil {
			running := 0
			for _, info := range infos {
				if info.Running {
					running++
				}
			}
			lastRunning, expected = running, len(infos)
			if expected > 0 && float64(running) >= healthyFraction*float64(expected) {
				return nil
			}
		}
		time.Sleep(2 * time.Second)
	}
	return errdefs.New(errdefs.KindRuntimeTimeout,
		"instance %s not healthy after %s: %d/%d containers running",
		inst.ID, timeout, lastRunning, expected)
}

// wrapRuntimeErr classifies a docker error, preserving the original
// message.
func wrapRuntimeErr(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Wrap(errdefs.KindRuntimeTimeout, err, "%s", msg)
	}
	if client.IsErrConnectionFailed(err) {
		return errdefs.Wrap(errdefs.KindRuntimeUnavailable, err, "%s", msg)
	}
	return errdefs.Wrap(errdefs.KindRuntimeError, err, "%s", msg)
}

package runtime

import (
	"context"
	"time"

	"github.com/herdctl/herd/pkg/types"
)

// Default operation timeouts, overridable per call site.
const (
	DefaultComposeTimeout = 5 * time.Minute
	DefaultStopTimeout    = 30 * time.Second
	DefaultInspectTimeout = 10 * time.Second
	DefaultLogsTimeout    = 15 * time.Second
)

// healthyFraction is the share of expected containers that must be
// running for WaitHealthy to succeed after compose bring-up.
const healthyFraction = 0.8

// InspectState is an inspect-style snapshot of one container, captured
// for backups and diagnostics.
type InspectState struct {
	ID     string   `json:"id"`
	State  string   `json:"state"`
	Status string   `json:"status"`
	Image  string   `json:"image"`
	Env    []string `json:"env,omitempty"`
}

// Driver is the narrow capability interface over the container
// runtime. One implementation delegates to the Docker engine and the
// compose CLI; tests substitute a deterministic in-memory fake.
//
// Every operation is bounded by a timeout: exceeding it surfaces as
// RuntimeTimeout, any other runtime failure as RuntimeError with the
// original message preserved.
type Driver interface {
	// Up starts all containers of an instance from its rendered
	// compose and env files, pulling missing images.
	Up(ctx context.Context, inst *types.Instance) error

	// Down stops and removes the instance's containers. On-disk
	// volumes are left untouched.
	Down(ctx context.Context, inst *types.Instance) error

	// Start starts the instance's containers without recreating them.
	Start(ctx context.Context, inst *types.Instance) error

	// Stop stops the instance's containers without removing them.
	Stop(ctx context.Context, inst *types.Instance) error

	// RestartContainer gracefully stops then starts one container.
	RestartContainer(ctx context.Context, name string, timeout time.Duration) error

	// StopContainer / StartContainer act on a single container.
	StopContainer(ctx context.Context, name string, timeout time.Duration) error
	StartContainer(ctx context.Context, name string) error

	// List reports live state for every expected container of the
	// instance, present or not.
	List(ctx context.Context, inst *types.Instance) ([]types.ContainerInfo, error)

	// ListManaged reports every container on the host carrying the
	// managed naming prefix, regardless of registry membership. Used
	// by the orphan scan.
	ListManaged(ctx context.Context) ([]types.ContainerInfo, error)

	// Logs returns the tail of one container's log stream.
	Logs(ctx context.Context, name string, tailLines int) (string, error)

	// Inspect captures an inspect-style state snapshot.
	Inspect(ctx context.Context, name string) (*InspectState, error)

	// WaitHealthy polls List until at least 80% of expected
	// containers are running, or the timeout elapses.
	WaitHealthy(ctx context.Context, inst *types.Instance, timeout time.Duration) error

	// Ping verifies the runtime itself is reachable.
	Ping(ctx context.Context) error
}

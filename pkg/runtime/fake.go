package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/types"
)

// FakeDriver is a deterministic in-memory Driver used by tests. It
// tracks per-container running state keyed by name and can be told to
// fail specific operations.
type FakeDriver struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer

	// FailOps maps operation names ("up", "down", "restart:<name>",
	// "start", "stop", "list", "ping") to errors returned verbatim.
	FailOps map[string]error

	// Calls records every operation for assertion.
	Calls []string
}

type fakeContainer struct {
	running bool
	created time.Time
	logs    string
}

// NewFakeDriver creates an empty fake runtime.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		containers: make(map[string]*fakeContainer),
		FailOps:    make(map[string]error),
	}
}

func (f *FakeDriver) record(op string) error {
	f.Calls = append(f.Calls, op)
	if err, ok := f.FailOps[op]; ok {
		return err
	}
	return nil
}

// SetRunning forces a container's state, creating it if needed.
func (f *FakeDriver) SetRunning(name string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		c = &fakeContainer{created: time.Now()}
		f.containers[name] = c
	}
	c.running = running
}

// SetLogs sets the log text returned for a container.
func (f *FakeDriver) SetLogs(name, logs string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		c = &fakeContainer{created: time.Now()}
		f.containers[name] = c
	}
	c.logs = logs
}

// Remove deletes a container entirely.
func (f *FakeDriver) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
}

func (f *FakeDriver) Up(ctx context.Context, inst *types.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("up"); err != nil {
		return err
	}
	for _, name := range types.ExpectedContainers(inst.ID) {
		f.containers[name] = &fakeContainer{running: true, created: time.Now()}
	}
	return nil
}

func (f *FakeDriver) Down(ctx context.Context, inst *types.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("down"); err != nil {
		return err
	}
	for _, name := range types.ExpectedContainers(inst.ID) {
		delete(f.containers, name)
	}
	return nil
}

func (f *FakeDriver) Start(ctx context.Context, inst *types.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("start"); err != nil {
		return err
	}
	for _, name := range types.ExpectedContainers(inst.ID) {
		if c, ok := f.containers[name]; ok {
			c.running = true
		}
	}
	return nil
}

func (f *FakeDriver) Stop(ctx context.Context, inst *types.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("stop"); err != nil {
		return err
	}
	for _, name := range types.ExpectedContainers(inst.ID) {
		if c, ok := f.containers[name]; ok {
			c.running = false
		}
	}
	return nil
}

func (f *FakeDriver) RestartContainer(ctx context.Context, name string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("restart:" + name); err != nil {
		return err
	}
	c, ok := f.containers[name]
	if !ok {
		return errdefs.New(errdefs.KindRuntimeError, "no such container %s", name)
	}
	c.running = true
	return nil
}

func (f *FakeDriver) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("stopContainer:" + name); err != nil {
		return err
	}
	if c, ok := f.containers[name]; ok {
		c.running = false
	}
	return nil
}

func (f *FakeDriver) StartContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("startContainer:" + name); err != nil {
		return err
	}
	c, ok := f.containers[name]
	if !ok {
		return errdefs.New(errdefs.KindRuntimeError, "no such container %s", name)
	}
	c.running = true
	return nil
}

func (f *FakeDriver) List(ctx context.Context, inst *types.Instance) ([]types.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list"); err != nil {
		return nil, err
	}
	expected := types.ExpectedContainers(inst.ID)
	out := make([]types.ContainerInfo, 0, len(expected))
	for _, name := range expected {
		info := types.ContainerInfo{Name: name}
		if c, ok := f.containers[name]; ok {
			info.Exists = true
			info.Running = c.running
			info.CreatedAt = c.created
			if c.running {
				info.State = "running"
				info.Status = "Up"
			} else {
				info.State = "exited"
				info.Status = "Exited (0)"
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func (f *FakeDriver) ListManaged(ctx context.Context) ([]types.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("listManaged"); err != nil {
		return nil, err
	}
	var out []types.ContainerInfo
	for name, c := range f.containers {
		info := types.ContainerInfo{
			Name:      name,
			Exists:    true,
			Running:   c.running,
			CreatedAt: c.created,
		}
		if c.running {
			info.State, info.Status = "running", "Up"
		} else {
			info.State, info.Status = "exited", "Exited (0)"
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FakeDriver) Logs(ctx context.Context, name string, tailLines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("logs:" + name); err != nil {
		return "", err
	}
	if c, ok := f.containers[name]; ok {
		return c.logs, nil
	}
	return "", errdefs.New(errdefs.KindRuntimeError, "no such container %s", name)
}

func (f *FakeDriver) Inspect(ctx context.Context, name string) (*InspectState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("inspect:" + name); err != nil {
		return nil, err
	}
	c, ok := f.containers[name]
	if !ok {
		return nil, errdefs.New(errdefs.KindRuntimeError, "no such container %s", name)
	}
	state := "exited"
	if c.running {
		state = "running"
	}
	return &InspectState{
		ID:     fmt.Sprintf("fake-%s", name),
		State:  state,
		Status: state,
		Image:  "fake/image:latest",
	}, nil
}

func (f *FakeDriver) WaitHealthy(ctx context.Context, inst *types.Instance, timeout time.Duration) error {
	infos, err := f.List(ctx, inst)
	if err != nil {
		return err
	}
	running := 0
	for _, info := range infos {
		if info.Running {
			running++
		}
	}
	if len(infos) == 0 || float64(running) < healthyFraction*float64(len(infos)) {
		return errdefs.New(errdefs.KindRuntimeTimeout,
			"instance %s not healthy: %d/%d running", inst.ID, running, len(infos))
	}
	return nil
}

func (f *FakeDriver) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("ping")
}

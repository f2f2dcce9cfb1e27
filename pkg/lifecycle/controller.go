package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/herdctl/herd/pkg/alloc"
	"github.com/herdctl/herd/pkg/config"
	"github.com/herdctl/herd/pkg/diagnose"
	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/registry"
	"github.com/herdctl/herd/pkg/render"
	"github.com/herdctl/herd/pkg/runtime"
	"github.com/herdctl/herd/pkg/types"
)

// namePattern constrains instance names to safe identifier characters.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const maxNameLength = 63

// defaultJWTExpiry is the access token lifetime seeded on create.
const defaultJWTExpiry = 3600

// CreateRequest carries the operator-supplied fields of a new instance.
type CreateRequest struct {
	Name         string              `json:"name"`
	Organization string              `json:"organization,omitempty"`
	Auth         *types.AuthSettings `json:"auth,omitempty"`
}

// LogsRequest identifies one container log tail.
type LogsRequest struct {
	InstanceID string
	Service    types.Service
	TailLines  int
}

// Orphan is a managed-looking container with no registry owner.
type Orphan struct {
	ContainerName string `json:"container_name"`
	State         string `json:"state"`
	Status        string `json:"status"`
}

// Controller owns instance lifecycle: create, start, stop, delete,
// list and log access. All mutations go through the lock table; the
// registry file stays the single source of truth for existence.
type Controller struct {
	cfg       *config.Config
	registry  *registry.Registry
	allocator *alloc.Allocator
	renderer  *render.Renderer
	runtime   runtime.Driver
	diagnose  *diagnose.Engine
	locks     *InstanceLocks
	logger    zerolog.Logger

	// hostProbe reads free host capacity. Overridable in tests.
	hostProbe func(dataRoot string) HostResources
}

// NewController wires a lifecycle controller.
func NewController(cfg *config.Config, reg *registry.Registry, allocator *alloc.Allocator,
	renderer *render.Renderer, rt runtime.Driver, diag *diagnose.Engine, locks *InstanceLocks) *Controller {
	return &Controller{
		cfg:       cfg,
		registry:  reg,
		allocator: allocator,
		renderer:  renderer,
		runtime:   rt,
		diagnose:  diag,
		locks:     locks,
		logger:    log.WithComponent("lifecycle"),
		hostProbe: probeHostResources,
	}
}

// Locks exposes the lock table to collaborating engines (repair,
// config editing, restore) so all mutations share one serialization
// point.
func (c *Controller) Locks() *InstanceLocks {
	return c.locks
}

// SetHostProbe overrides the host capacity probe. Tests use this to
// decouple admission from the machine they run on.
func (c *Controller) SetHostProbe(probe func(dataRoot string) HostResources) {
	c.hostProbe = probe
}

// CreateInstance provisions a complete stack: id, ports and
// credentials are allocated, artifacts rendered, containers brought up
// and the record persisted as running. Any failure after allocation
// tears everything down again; a failed create leaves no registry
// entry.
func (c *Controller) CreateInstance(ctx context.Context, req CreateRequest) (*types.Instance, error) {
	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	if err := c.locks.TryCreate(); err != nil {
		return nil, err
	}
	defer c.locks.ReleaseCreate()

	if _, exists := c.registry.GetByName(req.Name); exists {
		return nil, errdefs.New(errdefs.KindInvalidName,
			"an instance named %q already exists", req.Name)
	}
	if c.registry.Count() >= c.cfg.MaxInstances {
		return nil, errdefs.New(errdefs.KindMaxInstancesReached,
			"instance limit of %d reached", c.cfg.MaxInstances)
	}
	if err := c.runtime.Ping(ctx); err != nil {
		return nil, err
	}
	if err := c.admitHostResources(); err != nil {
		return nil, err
	}

	id, err := c.allocator.AllocateID()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindCreateFailed, err, "failed to allocate instance id")
	}
	ports, err := c.allocator.AllocatePorts()
	if err != nil {
		return nil, err
	}
	creds, err := alloc.GenerateCredentials()
	if err != nil {
		c.allocator.ReleasePorts(ports)
		return nil, errdefs.Wrap(errdefs.KindCreateFailed, err, "failed to generate credentials")
	}

	now := time.Now().UTC()
	inst := &types.Instance{
		ID:           id,
		Name:         req.Name,
		Organization: req.Organization,
		CreatedAt:    now,
		UpdatedAt:    now,
		Status:       types.InstanceStatusCreating,
		Ports:        ports,
		Credentials:  creds,
		Auth:         types.AuthSettings{JWTExpiry: defaultJWTExpiry},
		URLs:         deriveURLs(c.cfg.ExternalHost, ports),
	}
	if req.Auth != nil {
		inst.Auth = *req.Auth
		if inst.Auth.JWTExpiry == 0 {
			inst.Auth.JWTExpiry = defaultJWTExpiry
		}
	}

	logger := c.logger.With().Str("instance_id", id).Str("name", req.Name).Logger()
	logger.Info().
		Int("gateway_http", ports.GatewayHTTP).
		Int("database_external", ports.DatabaseExternal).
		Msg("creating instance")

	artifacts, err := c.renderer.Render(inst, render.BuildVars(inst, c.cfg.ExternalHost, c.cfg.DockerSocket))
	if err != nil {
		c.allocator.ReleasePorts(ports)
		_ = c.renderer.Cleanup(id)
		return nil, err
	}
	inst.Docker = artifacts

	createCtx, cancel := context.WithTimeout(ctx, c.cfg.CreateTimeout)
	defer cancel()

	if err := c.runtime.Up(createCtx, inst); err != nil {
		c.teardownFailedCreate(inst)
		return nil, errdefs.Wrap(errdefs.KindCreateFailed, err, "failed to start instance %s", id)
	}
	if err := c.runtime.WaitHealthy(createCtx, inst, c.cfg.CreateTimeout); err != nil {
		c.teardownFailedCreate(inst)
		return nil, errdefs.Wrap(errdefs.KindCreateFailed, err,
			"instance %s did not become healthy", id)
	}

	inst.Status = types.InstanceStatusRunning
	inst.UpdatedAt = time.Now().UTC()
	if err := c.registry.Put(inst); err != nil {
		c.teardownFailedCreate(inst)
		return nil, err
	}

	logger.Info().Msg("instance created")
	return inst, nil
}

// teardownFailedCreate removes every trace of a half-created instance.
// Best effort; the registry was never written.
func (c *Controller) teardownFailedCreate(inst *types.Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), runtime.DefaultComposeTimeout)
	defer cancel()

	if err := c.runtime.Down(ctx, inst); err != nil {
		c.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("teardown: compose down failed")
	}
	if err := c.renderer.Cleanup(inst.ID); err != nil {
		c.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("teardown: artifact cleanup failed")
	}
	c.allocator.ReleasePorts(inst.Ports)
	c.logger.Info().Str("instance_id", inst.ID).Msg("failed create torn down")
}

// StartInstance starts a stopped instance's containers.
func (c *Controller) StartInstance(ctx context.Context, id string) (*types.Instance, error) {
	inst, err := c.lockAndGet(id, "start")
	if err != nil {
		return nil, err
	}
	defer c.locks.Unlock(id)

	if err := c.runtime.Start(ctx, inst); err != nil {
		return nil, err
	}
	if err := c.runtime.WaitHealthy(ctx, inst, runtime.DefaultComposeTimeout); err != nil {
		inst.Status = types.InstanceStatusError
		inst.UpdatedAt = time.Now().UTC()
		_ = c.registry.Put(inst)
		return nil, err
	}

	inst.Status = types.InstanceStatusRunning
	inst.UpdatedAt = time.Now().UTC()
	if err := c.registry.Put(inst); err != nil {
		return nil, err
	}
	c.diagnose.Invalidate(id)
	c.logger.Info().Str("instance_id", id).Msg("instance started")
	return inst, nil
}

// StopInstance stops a running instance's containers. Volumes and
// artifacts stay on disk.
func (c *Controller) StopInstance(ctx context.Context, id string) (*types.Instance, error) {
	inst, err := c.lockAndGet(id, "stop")
	if err != nil {
		return nil, err
	}
	defer c.locks.Unlock(id)

	if err := c.runtime.Stop(ctx, inst); err != nil {
		return nil, err
	}

	inst.Status = types.InstanceStatusStopped
	inst.UpdatedAt = time.Now().UTC()
	if err := c.registry.Put(inst); err != nil {
		return nil, err
	}
	c.diagnose.Invalidate(id)
	c.logger.Info().Str("instance_id", id).Msg("instance stopped")
	return inst, nil
}

// DeleteInstance removes an instance entirely: containers, rendered
// artifacts, volumes, registry entry, ports and cached diagnostics.
func (c *Controller) DeleteInstance(ctx context.Context, id string) error {
	inst, err := c.lockAndGet(id, "delete")
	if err != nil {
		return err
	}
	defer c.locks.Unlock(id)

	if err := c.runtime.Down(ctx, inst); err != nil {
		// Containers that will not die must not strand the record.
		c.logger.Warn().Err(err).Str("instance_id", id).Msg("compose down failed during delete, continuing")
	}
	if err := c.renderer.Cleanup(id); err != nil {
		c.logger.Warn().Err(err).Str("instance_id", id).Msg("artifact cleanup failed during delete, continuing")
	}
	if err := c.registry.Delete(id); err != nil {
		return err
	}
	c.allocator.ReleasePorts(inst.Ports)
	c.diagnose.Forget(id)

	c.logger.Info().Str("instance_id", id).Str("name", inst.Name).Msg("instance deleted")
	return nil
}

// GetInstance returns one instance record.
func (c *Controller) GetInstance(id string) (*types.Instance, error) {
	inst, ok := c.registry.Get(id)
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "instance %s not found", id)
	}
	return inst, nil
}

// ListInstances returns all records plus a status count summary. The
// status of each record is recomputed from live container state, so
// containers that died or started outside the controller are reflected
// immediately.
func (c *Controller) ListInstances(ctx context.Context) ([]*types.Instance, types.InstanceStats) {
	instances := c.registry.List()
	var stats types.InstanceStats
	stats.Total = len(instances)
	for _, inst := range instances {
		c.refreshStatus(ctx, inst)
		switch inst.Status {
		case types.InstanceStatusRunning:
			stats.Running++
		case types.InstanceStatusStopped:
			stats.Stopped++
		case types.InstanceStatusCreating:
			stats.Creating++
		case types.InstanceStatusError, types.InstanceStatusRepairing:
			stats.Error++
		}
	}
	return instances, stats
}

// refreshStatus recomputes the settled statuses from live container
// state. Creating and repairing mark an operation in flight and are
// kept as stored; so is everything when the runtime is unreachable.
func (c *Controller) refreshStatus(ctx context.Context, inst *types.Instance) {
	switch inst.Status {
	case types.InstanceStatusCreating, types.InstanceStatusRepairing:
		return
	}

	infos, err := c.runtime.List(ctx, inst)
	if err != nil {
		return
	}
	running := 0
	for _, info := range infos {
		if info.Running {
			running++
		}
	}

	fresh := inst.Status
	switch {
	case len(infos) > 0 && running == len(infos):
		fresh = types.InstanceStatusRunning
	case running == 0:
		fresh = types.InstanceStatusStopped
	default:
		fresh = types.InstanceStatusError
	}
	if fresh == inst.Status {
		return
	}

	c.logger.Info().
		Str("instance_id", inst.ID).
		Str("stored", string(inst.Status)).
		Str("fresh", string(fresh)).
		Msg("instance status drifted, updating record")
	inst.Status = fresh
	inst.UpdatedAt = time.Now().UTC()
	if err := c.registry.Put(inst); err != nil {
		c.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("failed to persist refreshed status")
	}
}

// Logs returns the log tail of one service container.
func (c *Controller) Logs(ctx context.Context, req LogsRequest) (string, error) {
	inst, err := c.GetInstance(req.InstanceID)
	if err != nil {
		return "", err
	}
	if !validService(req.Service) {
		return "", errdefs.New(errdefs.KindFieldValidationFailed,
			"unknown service %q", req.Service)
	}
	tail := req.TailLines
	if tail <= 0 {
		tail = 100
	}
	return c.runtime.Logs(ctx, types.ContainerName(inst.ID, req.Service), tail)
}

// OrphanScan lists containers that follow the managed naming
// convention but whose instance id is absent from the registry.
func (c *Controller) OrphanScan(ctx context.Context) ([]Orphan, error) {
	managed, err := c.runtime.ListManaged(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	for _, inst := range c.registry.List() {
		for _, name := range types.ExpectedContainers(inst.ID) {
			known[name] = true
		}
	}

	var orphans []Orphan
	for _, info := range managed {
		if known[info.Name] {
			continue
		}
		orphans = append(orphans, Orphan{
			ContainerName: info.Name,
			State:         info.State,
			Status:        info.Status,
		})
	}
	return orphans, nil
}

// lockAndGet acquires the mutation lock, then resolves the instance.
// The lock is released again when the instance does not exist.
func (c *Controller) lockAndGet(id, operation string) (*types.Instance, error) {
	if err := c.locks.TryLock(id, operation); err != nil {
		return nil, err
	}
	inst, ok := c.registry.Get(id)
	if !ok {
		c.locks.Unlock(id)
		return nil, errdefs.New(errdefs.KindNotFound, "instance %s not found", id)
	}
	return inst, nil
}

// admitHostResources refuses creation when the host is visibly out of
// memory or disk. Unknown readings admit; this is a guard, not a
// scheduler.
func (c *Controller) admitHostResources() error {
	res := c.hostProbe(c.cfg.DataRoot)
	if res.FreeMemoryMB >= 0 && res.FreeMemoryMB < minFreeMemoryMB {
		return errdefs.New(errdefs.KindInsufficientMemory,
			"only %d MB memory available, %d MB required", res.FreeMemoryMB, minFreeMemoryMB)
	}
	if res.FreeDiskMB >= 0 && res.FreeDiskMB < minFreeDiskMB {
		return errdefs.New(errdefs.KindInsufficientDisk,
			"only %d MB disk available under %s, %d MB required",
			res.FreeDiskMB, c.cfg.DataRoot, minFreeDiskMB)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return errdefs.New(errdefs.KindInvalidName, "instance name is required")
	}
	if len(name) > maxNameLength {
		return errdefs.New(errdefs.KindInvalidName,
			"instance name exceeds %d characters", maxNameLength)
	}
	if !namePattern.MatchString(name) {
		return errdefs.New(errdefs.KindInvalidName,
			"instance name %q may only contain letters, digits, hyphens and underscores", name)
	}
	return nil
}

func validService(svc types.Service) bool {
	for _, s := range types.Services {
		if s == svc {
			return true
		}
	}
	return false
}

func deriveURLs(host string, ports types.PortSet) types.URLSet {
	base := fmt.Sprintf("http://%s:%d", host, ports.GatewayHTTP)
	return types.URLSet{
		Studio:   base,
		API:      base,
		Database: fmt.Sprintf("postgresql://postgres@%s:%d/postgres", host, ports.DatabaseExternal),
	}
}

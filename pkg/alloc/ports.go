package alloc

import (
	"fmt"
	"net"
	"sync"

	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/types"
)

// PortRole names a logical port an instance binds on the host.
type PortRole string

const (
	RoleGatewayHTTP      PortRole = "gateway_http"
	RoleGatewayHTTPS     PortRole = "gateway_https"
	RoleDatabaseExternal PortRole = "database_external"
	RoleAnalytics        PortRole = "analytics"
)

// PortRange is the closed interval a role draws candidates from.
type PortRange struct {
	Start int
	End   int
}

// Contains reports whether port lies within the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// Ranges is the fixed role → host port range table.
var Ranges = map[PortRole]PortRange{
	RoleGatewayHTTP:      {8100, 8199},
	RoleGatewayHTTPS:     {8400, 8499},
	RoleDatabaseExternal: {5500, 5599},
	RoleAnalytics:        {4100, 4199},
}

// maxPortAttempts bounds the candidate scan per role.
const maxPortAttempts = 100

// InstanceSource is the registry view the allocator needs: live
// instances for rebuilding the used-port set and collision checks.
type InstanceSource interface {
	Get(id string) (*types.Instance, bool)
	List() []*types.Instance
}

// Allocator issues unique identifiers, host ports and credential
// material. The in-memory used-port set is rebuilt from the registry
// on startup.
type Allocator struct {
	registry InstanceSource

	mu   sync.Mutex
	used map[int]bool

	// bindProbe verifies a candidate port is actually free on the
	// host. Overridable in tests.
	bindProbe func(port int) bool
}

// NewAllocator creates an allocator seeded from the registry.
func NewAllocator(registry InstanceSource) *Allocator {
	a := &Allocator{
		registry:  registry,
		used:      make(map[int]bool),
		bindProbe: portBindable,
	}
	a.Rebuild()
	return a
}

// Rebuild reloads the used-port set from the live instances.
func (a *Allocator) Rebuild() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used = make(map[int]bool)
	for _, inst := range a.registry.List() {
		for _, p := range inst.Ports.All() {
			if p != 0 {
				a.used[p] = true
			}
		}
	}
}

// AllocatePorts reserves one free port per role and returns the set.
// Reserved ports are released again via ReleasePorts if the caller's
// operation fails before the instance is persisted.
func (a *Allocator) AllocatePorts() (types.PortSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	allocated := make(map[PortRole]int, len(Ranges))
	for _, role := range []PortRole{RoleGatewayHTTP, RoleGatewayHTTPS, RoleDatabaseExternal, RoleAnalytics} {
		port, err := a.allocateLocked(role)
		if err != nil {
			for _, p := range allocated {
				delete(a.used, p)
			}
			return types.PortSet{}, err
		}
		allocated[role] = port
	}

	return types.PortSet{
		GatewayHTTP:      allocated[RoleGatewayHTTP],
		GatewayHTTPS:     allocated[RoleGatewayHTTPS],
		DatabaseExternal: allocated[RoleDatabaseExternal],
		Analytics:        allocated[RoleAnalytics],
	}, nil
}

// allocateLocked scans the role's range for a port that is neither
// reserved by a live instance nor bound by another process.
func (a *Allocator) allocateLocked(role PortRole) (int, error) {
	rng, ok := Ranges[role]
	if !ok {
		return 0, fmt.Errorf("unknown port role %q", role)
	}

	attempts := 0
	for port := rng.Start; port <= rng.End && attempts < maxPortAttempts; port++ {
		if a.used[port] {
			continue
		}
		attempts++
		if !a.bindProbe(port) {
			continue
		}
		a.used[port] = true
		return port, nil
	}
	return 0, errdefs.New(errdefs.KindPortExhausted,
		"no free port for role %s in range %d-%d", role, rng.Start, rng.End)
}

// ReleasePorts returns a port set to the free pool.
func (a *Allocator) ReleasePorts(ports types.PortSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports.All() {
		delete(a.used, p)
	}
}

// portBindable attempts a loopback listen to verify the port is free.
func portBindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/types"
)

// Registry is the durable map of instance id → instance record,
// persisted as a single JSON object at a known path. It is the single
// authoritative source for instance existence.
type Registry struct {
	path string

	mu        sync.RWMutex
	instances map[string]*types.Instance
}

// Open loads the registry from path, starting empty if the file does
// not exist yet.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:      path,
		instances: make(map[string]*types.Instance),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errdefs.Wrap(errdefs.KindRegistryIO, err, "failed to read registry %s", r.path)
	}
	instances := make(map[string]*types.Instance)
	if err := json.Unmarshal(data, &instances); err != nil {
		return errdefs.Wrap(errdefs.KindRegistryIO, err, "failed to parse registry %s", r.path)
	}
	r.instances = instances
	return nil
}

// save writes the registry atomically: marshal, write to a temp file in
// the same directory, fsync, rename over the target. Callers must hold
// the write lock.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.instances, "", "  ")
	if err != nil {
		return errdefs.Wrap(errdefs.KindRegistryIO, err, "failed to marshal registry")
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errdefs.Wrap(errdefs.KindRegistryIO, err, "failed to create data directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".instances-*.json")
	if err != nil {
		return errdefs.Wrap(errdefs.KindRegistryIO, err, "failed to create temp registry file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errdefs.Wrap(errdefs.KindRegistryIO, err, "failed to write temp registry file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errdefs.Wrap(errdefs.KindRegistryIO, err, "failed to sync registry file")
	}
	if err := tmp.Close(); err != nil {
		return errdefs.Wrap(errdefs.KindRegistryIO, err, "failed to close temp registry file")
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return errdefs.Wrap(errdefs.KindRegistryIO, err, "failed to replace registry file")
	}
	return nil
}

// Get returns the instance for id, if present.
func (r *Registry) Get(id string) (*types.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, false
	}
	cp := *inst
	return &cp, true
}

// GetByName returns the instance whose name matches, if present.
func (r *Registry) GetByName(name string) (*types.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.instances {
		if inst.Name == name {
			cp := *inst
			return &cp, true
		}
	}
	return nil, false
}

// Put inserts or replaces an instance record and persists the registry.
func (r *Registry) Put(inst *types.Instance) error {
	if inst == nil || inst.ID == "" {
		return fmt.Errorf("instance must have an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inst
	r.instances[inst.ID] = &cp
	return r.save()
}

// Delete removes an instance record and persists the registry.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
	return r.save()
}

// List returns all instance records sorted by creation time.
func (r *Registry) List() []*types.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Path returns the on-disk location of the registry file.
func (r *Registry) Path() string {
	return r.path
}

package lifecycle

import (
	"sync"

	"github.com/herdctl/herd/pkg/errdefs"
)

// InstanceLocks serializes mutations. One global create lock plus one
// lock per instance id; acquisition never blocks, a busy lock fails
// fast so API callers get an immediate conflict instead of queueing.
type InstanceLocks struct {
	mu       sync.Mutex
	creating bool
	held     map[string]string // instance id -> operation name
}

// NewInstanceLocks creates an empty lock table.
func NewInstanceLocks() *InstanceLocks {
	return &InstanceLocks{held: make(map[string]string)}
}

// TryCreate acquires the global create lock.
func (l *InstanceLocks) TryCreate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.creating {
		return errdefs.New(errdefs.KindCreateInProgress,
			"another instance is currently being created")
	}
	l.creating = true
	return nil
}

// ReleaseCreate releases the global create lock.
func (l *InstanceLocks) ReleaseCreate() {
	l.mu.Lock()
	l.creating = false
	l.mu.Unlock()
}

// TryLock acquires the mutation lock for one instance, recording the
// operation name for the conflict message.
func (l *InstanceLocks) TryLock(instanceID, operation string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if op, busy := l.held[instanceID]; busy {
		return errdefs.New(errdefs.KindOperationInProgress,
			"instance %s is busy: %s in progress", instanceID, op)
	}
	l.held[instanceID] = operation
	return nil
}

// Unlock releases the mutation lock for one instance.
func (l *InstanceLocks) Unlock(instanceID string) {
	l.mu.Lock()
	delete(l.held, instanceID)
	l.mu.Unlock()
}

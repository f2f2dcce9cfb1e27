package lifecycle

import (
	"strings"
	"testing"

	"github.com/herdctl/herd/pkg/errdefs"
)

func TestCreateLockExclusive(t *testing.T) {
	locks := NewInstanceLocks()

	if err := locks.TryCreate(); err != nil {
		t.Fatalf("first TryCreate: %v", err)
	}
	err := locks.TryCreate()
	if err == nil {
		t.Fatal("second TryCreate succeeded while held")
	}
	if !errdefs.Is(err, errdefs.KindCreateInProgress) {
		t.Errorf("kind = %q", errdefs.KindOf(err))
	}

	locks.ReleaseCreate()
	if err := locks.TryCreate(); err != nil {
		t.Errorf("TryCreate after release: %v", err)
	}
}

func TestInstanceLockFailFast(t *testing.T) {
	locks := NewInstanceLocks()

	if err := locks.TryLock("abc", "auto-repair"); err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	err := locks.TryLock("abc", "restore")
	if err == nil {
		t.Fatal("second TryLock succeeded while held")
	}
	if !errdefs.Is(err, errdefs.KindOperationInProgress) {
		t.Errorf("kind = %q", errdefs.KindOf(err))
	}
	// The refusal names the operation already running.
	if !strings.Contains(errdefs.MessageOf(err), "auto-repair") {
		t.Errorf("message = %q", errdefs.MessageOf(err))
	}

	// A different instance is unaffected.
	if err := locks.TryLock("other", "restore"); err != nil {
		t.Errorf("TryLock other instance: %v", err)
	}

	locks.Unlock("abc")
	if err := locks.TryLock("abc", "restore"); err != nil {
		t.Errorf("TryLock after Unlock: %v", err)
	}
}

func TestUnlockUnheldIsNoop(t *testing.T) {
	locks := NewInstanceLocks()
	locks.Unlock("never-locked")
}

package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/runtime"
	"github.com/herdctl/herd/pkg/types"
)

// fakeStore is an in-memory InstanceStore.
type fakeStore struct {
	instances map[string]*types.Instance
}

func newFakeStore() *fakeStore {
	return &fakeStore{instances: make(map[string]*types.Instance)}
}

func (s *fakeStore) Get(id string) (*types.Instance, bool) {
	inst, ok := s.instances[id]
	return inst, ok
}

func (s *fakeStore) Put(inst *types.Instance) error {
	s.instances[inst.ID] = inst
	return nil
}

// backupFixture lays out an instance with env file and volume tree under
// a temp root and returns a manager over a fake runtime.
func backupFixture(t *testing.T) (*Manager, *fakeStore, *runtime.FakeDriver, *types.Instance) {
	t.Helper()
	work := t.TempDir()

	inst := &types.Instance{
		ID:     "abc",
		Name:   "alpha",
		Status: types.InstanceStatusRunning,
		Ports:  types.PortSet{GatewayHTTP: 8100, DatabaseExternal: 5500},
	}
	inst.Docker.EnvFile = filepath.Join(work, "instance", ".env")
	inst.Docker.VolumesDir = filepath.Join(work, "instance", "volumes")

	if err := os.MkdirAll(filepath.Join(inst.Docker.VolumesDir, "db"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inst.Docker.EnvFile, []byte("POSTGRES_PASSWORD=pw\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(inst.Docker.VolumesDir, "db", "data"), []byte("rows"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	store.instances[inst.ID] = inst
	driver := runtime.NewFakeDriver()
	if err := driver.Up(context.Background(), inst); err != nil {
		t.Fatal(err)
	}

	m := NewManager(filepath.Join(work, "backups"), "127.0.0.1", store, driver)
	return m, store, driver, inst
}

func TestSnapshotCapturesComponents(t *testing.T) {
	m, _, _, inst := backupFixture(t)

	b, err := m.Snapshot(context.Background(), inst, "manual")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	for _, name := range []string{
		types.BackupComponentConfig,
		types.BackupComponentEnvironment,
		types.BackupComponentVolumes,
		types.BackupComponentContainers,
	} {
		comp := b.Components[name]
		if !comp.Success {
			t.Errorf("component %s failed: %s", name, comp.Error)
			continue
		}
		if _, err := os.Stat(comp.Path); err != nil {
			t.Errorf("component %s artifact missing: %v", name, err)
		}
	}
	if !b.Valid() {
		t.Error("snapshot not valid")
	}
	if _, err := os.Stat(filepath.Join(b.Dir, manifestName)); err != nil {
		t.Errorf("manifest missing: %v", err)
	}
}

func TestSnapshotInvalidWithoutEnvironment(t *testing.T) {
	m, _, _, inst := backupFixture(t)
	inst.Docker.EnvFile = filepath.Join(t.TempDir(), "missing.env")

	_, err := m.Snapshot(context.Background(), inst, "manual")
	if err == nil {
		t.Fatal("expected invalid backup error")
	}
	if !errdefs.Is(err, errdefs.KindBackupInvalid) {
		t.Errorf("kind = %q", errdefs.KindOf(err))
	}
}

func TestListNewestFirst(t *testing.T) {
	m, _, _, inst := backupFixture(t)

	first, err := m.Snapshot(context.Background(), inst, "manual")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	time.Sleep(1100 * time.Millisecond) // directory names have second resolution
	second, err := m.Snapshot(context.Background(), inst, "auto_repair")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	backups, err := m.List(inst.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("List length = %d", len(backups))
	}
	if backups[0].BackupID != second.BackupID || backups[1].BackupID != first.BackupID {
		t.Error("List not ordered newest first")
	}

	// Filtering by a different instance yields nothing.
	other, err := m.List("zzz")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("foreign list length = %d", len(other))
	}
}

func TestGetUnknownBackup(t *testing.T) {
	m, _, _, _ := backupFixture(t)
	_, err := m.Get("nope")
	if err == nil {
		t.Fatal("expected not found")
	}
	if !errdefs.Is(err, errdefs.KindNotFound) {
		t.Errorf("kind = %q", errdefs.KindOf(err))
	}
}

func TestVerify(t *testing.T) {
	m, _, _, inst := backupFixture(t)

	b, err := m.Snapshot(context.Background(), inst, "manual")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	result, err := m.Verify(b.BackupID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Valid || result.Completeness != 1 {
		t.Errorf("fresh backup verify = %+v", result)
	}

	// Deleting two of four artifacts drops completeness to 0.5.
	if err := os.Remove(b.Components[types.BackupComponentEnvironment].Path); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(b.Components[types.BackupComponentVolumes].Path); err != nil {
		t.Fatal(err)
	}
	result, err = m.Verify(b.BackupID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Valid {
		t.Errorf("degraded backup still valid: %+v", result)
	}
	if len(result.Missing) != 2 {
		t.Errorf("Missing = %v", result.Missing)
	}
}

func TestCleanupKeepsMostRecent(t *testing.T) {
	m, _, _, inst := backupFixture(t)

	var ids []string
	for i := 0; i < 3; i++ {
		b, err := m.Snapshot(context.Background(), inst, "auto_repair")
		if err != nil {
			t.Fatalf("Snapshot %d: %v", i, err)
		}
		ids = append(ids, b.BackupID)
		time.Sleep(1100 * time.Millisecond)
	}

	if err := m.Cleanup(inst.ID, 1); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	backups, err := m.List(inst.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("retained = %d, want 1", len(backups))
	}
	if backups[0].BackupID != ids[2] {
		t.Error("Cleanup removed the most recent backup")
	}
}

func TestSanitizeReason(t *testing.T) {
	if got := sanitizeReason("config edit/../x"); got != "config_edit____x" {
		t.Errorf("sanitizeReason = %q", got)
	}
}

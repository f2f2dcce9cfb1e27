package backup

import (
	"context"
	"net"
	"os"
	"testing"

	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/types"
)

// listenOn serves a TCP port so the post-restore database check passes.
func listenOn(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRestoreRoundTrip(t *testing.T) {
	m, store, driver, inst := backupFixture(t)
	inst.Ports.DatabaseExternal = listenOn(t)

	b, err := m.Snapshot(context.Background(), inst, "manual")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// Corrupt the live state after the snapshot.
	if err := os.WriteFile(inst.Docker.EnvFile, []byte("POSTGRES_PASSWORD=broken\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(inst.Docker.VolumesDir); err != nil {
		t.Fatal(err)
	}

	result, err := m.Restore(context.Background(), inst.ID, b.BackupID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	// Registry record and database dial pass; the gateway check may
	// fail, which stays above the pass threshold.
	if !result.Success {
		t.Fatalf("restore failed: %+v", result)
	}
	if !result.RestoredConfig {
		t.Error("config not restored")
	}

	env, err := os.ReadFile(inst.Docker.EnvFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(env) != "POSTGRES_PASSWORD=pw\n" {
		t.Errorf("env not rolled back: %q", env)
	}
	if _, err := os.Stat(inst.Docker.VolumesDir); err != nil {
		t.Errorf("volumes not restored: %v", err)
	}

	restored, ok := store.Get(inst.ID)
	if !ok {
		t.Fatal("registry record missing after restore")
	}
	if restored.Status != types.InstanceStatusRunning {
		t.Errorf("status = %s", restored.Status)
	}

	// The stack was cycled.
	var sawDown, sawUp bool
	for _, call := range driver.Calls {
		switch call {
		case "down":
			sawDown = true
		case "up":
			if sawDown {
				sawUp = true
			}
		}
	}
	if !sawDown || !sawUp {
		t.Errorf("expected down then up, calls = %v", driver.Calls)
	}
}

func TestRestoreRejectsForeignBackup(t *testing.T) {
	m, _, _, inst := backupFixture(t)

	b, err := m.Snapshot(context.Background(), inst, "manual")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	_, err = m.Restore(context.Background(), "other-instance", b.BackupID)
	if err == nil {
		t.Fatal("expected ownership error")
	}
	if !errdefs.Is(err, errdefs.KindFieldValidationFailed) {
		t.Errorf("kind = %q", errdefs.KindOf(err))
	}
}

func TestRestoreRejectsDegradedBackup(t *testing.T) {
	m, _, _, inst := backupFixture(t)

	b, err := m.Snapshot(context.Background(), inst, "manual")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	// Remove enough artifacts to fail verification.
	for _, name := range []string{types.BackupComponentEnvironment, types.BackupComponentVolumes} {
		if err := os.RemoveAll(b.Components[name].Path); err != nil {
			t.Fatal(err)
		}
	}

	_, err = m.Restore(context.Background(), inst.ID, b.BackupID)
	if err == nil {
		t.Fatal("expected verification failure")
	}
	if !errdefs.Is(err, errdefs.KindBackupInvalid) {
		t.Errorf("kind = %q", errdefs.KindOf(err))
	}
}

func TestRestoreMarksErrorWhenChecksFail(t *testing.T) {
	m, store, _, inst := backupFixture(t)
	// Point the database port at a closed port so the dial check fails
	// alongside the gateway check.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	inst.Ports.DatabaseExternal = l.Addr().(*net.TCPAddr).Port
	inst.Ports.GatewayHTTP = inst.Ports.DatabaseExternal
	_ = l.Close()

	b, err := m.Snapshot(context.Background(), inst, "manual")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	result, err := m.Restore(context.Background(), inst.ID, b.BackupID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.Success {
		t.Fatalf("restore succeeded with 1/3 checks: %+v", result)
	}

	record, ok := store.Get(inst.ID)
	if !ok {
		t.Fatal("registry record missing")
	}
	if record.Status != types.InstanceStatusError {
		t.Errorf("status = %s, want error", record.Status)
	}
}

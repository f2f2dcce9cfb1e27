package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/herdctl/herd/pkg/runtime"
	"github.com/herdctl/herd/pkg/types"
)

func diskInstance(volumesDir string) *types.Instance {
	inst := &types.Instance{ID: "abc"}
	inst.Docker.VolumesDir = volumesDir
	return inst
}

func TestCheckDiskHealthy(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range criticalSubdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "db", "data"), make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewChecker(runtime.NewFakeDriver(), "127.0.0.1")
	report := c.CheckDisk(context.Background(), diskInstance(dir))

	if !report.Healthy {
		t.Errorf("report unhealthy: %s", report.Error)
	}
	if !report.Exists {
		t.Error("Exists = false for present tree")
	}
	if report.SizeMB <= 0 {
		t.Errorf("SizeMB = %f, want > 0", report.SizeMB)
	}
}

func TestCheckDiskMissingTree(t *testing.T) {
	c := NewChecker(runtime.NewFakeDriver(), "127.0.0.1")
	report := c.CheckDisk(context.Background(), diskInstance(filepath.Join(t.TempDir(), "gone")))

	if report.Healthy || report.Exists {
		t.Errorf("missing tree reported healthy=%v exists=%v", report.Healthy, report.Exists)
	}
}

func TestCheckDiskMissingSubdir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "db"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewChecker(runtime.NewFakeDriver(), "127.0.0.1")
	report := c.CheckDisk(context.Background(), diskInstance(dir))

	if report.Healthy {
		t.Error("report healthy with missing subdirectories")
	}
	if len(report.MissingDirs) != 2 {
		t.Errorf("MissingDirs = %v", report.MissingDirs)
	}
}

func TestDirSizeMB(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f"), make([]byte, 1024*1024), 0o644); err != nil {
		t.Fatal(err)
	}
	if size := DirSizeMB(dir); size < 0.99 || size > 1.01 {
		t.Errorf("DirSizeMB = %f, want ~1", size)
	}
}

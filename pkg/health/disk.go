package health

import (
	"context"
	"os"
	"path/filepath"

	"github.com/herdctl/herd/pkg/types"
)

// criticalSubdirs must exist under the instance volumes directory.
var criticalSubdirs = []string{"db", "storage", "logs"}

// CheckDisk verifies the per-instance volumes tree exists with its
// critical subdirectories, and computes its size.
func (c *Checker) CheckDisk(_ context.Context, inst *types.Instance) *types.DiskReport {
	report := &types.DiskReport{VolumesDir: inst.Docker.VolumesDir}

	info, err := os.Stat(inst.Docker.VolumesDir)
	if err != nil || !info.IsDir() {
		report.Error = "volumes directory missing"
		return report
	}
	report.Exists = true

	for _, sub := range criticalSubdirs {
		if _, err := os.Stat(filepath.Join(inst.Docker.VolumesDir, sub)); err != nil {
			report.MissingDirs = append(report.MissingDirs, sub)
		}
	}

	report.SizeMB = DirSizeMB(inst.Docker.VolumesDir)
	report.Healthy = len(report.MissingDirs) == 0
	if !report.Healthy {
		report.Error = "critical subdirectories missing"
	}
	return report
}

// DirSizeMB walks a tree and sums file sizes in megabytes.
func DirSizeMB(dir string) float64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / (1024 * 1024)
}

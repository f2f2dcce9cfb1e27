package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/runtime"
	"github.com/herdctl/herd/pkg/types"
)

const manifestName = "backup-manifest.json"

// verifyThreshold is the fraction of captured component artifacts that
// must still exist on disk for a backup to verify.
const verifyThreshold = 0.8

// staleWarnAge is the manifest age past which restore warns (but does
// not refuse).
const staleWarnAge = 24 * time.Hour

// InstanceStore is the registry view the backup manager needs.
type InstanceStore interface {
	Get(id string) (*types.Instance, bool)
	Put(inst *types.Instance) error
}

// Manager creates, verifies and restores per-instance snapshots under
// the auto-repair-backups directory.
type Manager struct {
	root     string
	host     string
	registry InstanceStore
	runtime  runtime.Driver
	logger   zerolog.Logger
}

// NewManager creates a backup manager rooted at root. Post-restore
// checks dial the instance's published ports on host.
func NewManager(root, host string, registry InstanceStore, rt runtime.Driver) *Manager {
	return &Manager{
		root:     root,
		host:     host,
		registry: registry,
		runtime:  rt,
		logger:   log.WithComponent("backup"),
	}
}

// Snapshot captures a point-in-time copy of the instance: config
// record, env file, volumes tree and container states. Components are
// captured best-effort; the snapshot is valid if the config and
// environment components succeeded.
func (m *Manager) Snapshot(ctx context.Context, inst *types.Instance, reason string) (*types.Backup, error) {
	ts := time.Now().UTC()
	dir := filepath.Join(m.root, fmt.Sprintf("%s_%s_%s", inst.ID, sanitizeReason(reason), ts.Format("20060102T150405Z")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackupInvalid, err, "failed to create backup directory")
	}

	b := &types.Backup{
		BackupID:   uuid.NewString(),
		InstanceID: inst.ID,
		Reason:     reason,
		Timestamp:  ts,
		Components: make(map[string]types.ComponentResult),
		Dir:        dir,
	}

	// Instance config.
	configPath := filepath.Join(dir, "instance-config.json")
	b.Components[types.BackupComponentConfig] = captureJSON(configPath, inst)

	// Environment file.
	envPath := filepath.Join(dir, "environment.env")
	b.Components[types.BackupComponentEnvironment] = captureFile(inst.Docker.EnvFile, envPath)

	// Volumes tree.
	volumesPath := filepath.Join(dir, "volumes")
	b.Components[types.BackupComponentVolumes] = captureTree(inst.Docker.VolumesDir, volumesPath)

	// Container states.
	statesPath := filepath.Join(dir, "container-states.json")
	b.Components[types.BackupComponentContainers] = m.captureContainerStates(ctx, inst, statesPath)

	b.SizeMB = dirSizeMB(dir)

	manifest, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackupInvalid, err, "failed to marshal backup manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), manifest, 0o644); err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackupInvalid, err, "failed to write backup manifest")
	}

	if !b.Valid() {
		return b, errdefs.New(errdefs.KindBackupInvalid,
			"backup %s incomplete: config or environment capture failed", b.BackupID)
	}

	m.logger.Info().
		Str("instance_id", inst.ID).
		Str("backup_id", b.BackupID).
		Str("reason", reason).
		Float64("size_mb", b.SizeMB).
		Msg("snapshot created")
	return b, nil
}

// List returns known backups, newest first. An empty instanceID lists
// backups for all instances.
func (m *Manager) List(instanceID string) ([]*types.Backup, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.Wrap(errdefs.KindBackupInvalid, err, "failed to read backup root")
	}

	var out []*types.Backup
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		b, err := m.readManifest(filepath.Join(m.root, entry.Name()))
		if err != nil {
			continue
		}
		if instanceID != "" && b.InstanceID != instanceID {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Get finds a backup by id.
func (m *Manager) Get(backupID string) (*types.Backup, error) {
	backups, err := m.List("")
	if err != nil {
		return nil, err
	}
	for _, b := range backups {
		if b.BackupID == backupID {
			return b, nil
		}
	}
	return nil, errdefs.New(errdefs.KindNotFound, "backup %s not found", backupID)
}

// Verify checks that the manifest exists and that enough captured
// component artifacts still exist on disk.
func (m *Manager) Verify(backupID string) (*types.VerifyResult, error) {
	b, err := m.Get(backupID)
	if err != nil {
		return nil, err
	}

	result := &types.VerifyResult{
		AgeHours: time.Since(b.Timestamp).Hours(),
	}
	captured, present := 0, 0
	for name, comp := range b.Components {
		if !comp.Success {
			continue
		}
		captured++
		if _, err := os.Stat(comp.Path); err == nil {
			present++
		} else {
			result.Missing = append(result.Missing, name)
		}
	}
	if captured > 0 {
		result.Completeness = float64(present) / float64(captured)
	}
	result.Valid = result.Completeness >= verifyThreshold
	if result.AgeHours > staleWarnAge.Hours() {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("backup is %.0f hours old", result.AgeHours))
	}
	return result, nil
}

// Cleanup deletes all but the most recent keep snapshots for the
// instance, oldest first.
func (m *Manager) Cleanup(instanceID string, keep int) error {
	backups, err := m.List(instanceID)
	if err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}
	for _, b := range backups[min(keep, len(backups)):] {
		if err := os.RemoveAll(b.Dir); err != nil {
			m.logger.Warn().Err(err).Str("backup_id", b.BackupID).Msg("failed to remove old backup")
			continue
		}
		m.logger.Debug().Str("backup_id", b.BackupID).Msg("old backup removed")
	}
	return nil
}

func (m *Manager) readManifest(dir string) (*types.Backup, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var b types.Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	b.Dir = dir
	return &b, nil
}

// captureContainerStates inspects each expected container.
func (m *Manager) captureContainerStates(ctx context.Context, inst *types.Instance, dst string) types.ComponentResult {
	var states []types.ContainerSnapshot
	for _, name := range types.ExpectedContainers(inst.ID) {
		info, err := m.runtime.Inspect(ctx, name)
		if err != nil {
			states = append(states, types.ContainerSnapshot{Name: name, State: "absent"})
			continue
		}
		states = append(states, types.ContainerSnapshot{
			Name:   name,
			ID:     info.ID,
			State:  info.State,
			Status: info.Status,
			Image:  info.Image,
			Env:    info.Env,
		})
	}
	return captureJSON(dst, states)
}

func captureJSON(dst string, v interface{}) types.ComponentResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return types.ComponentResult{Error: err.Error()}
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return types.ComponentResult{Error: err.Error()}
	}
	return types.ComponentResult{Success: true, Path: dst}
}

func captureFile(src, dst string) types.ComponentResult {
	if err := copyFile(src, dst); err != nil {
		return types.ComponentResult{Error: err.Error()}
	}
	return types.ComponentResult{Success: true, Path: dst}
}

func captureTree(src, dst string) types.ComponentResult {
	if err := copyDir(src, dst); err != nil {
		return types.ComponentResult{Error: err.Error()}
	}
	return types.ComponentResult{Success: true, Path: dst}
}

// copyDir copies a tree verbatim.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func dirSizeMB(dir string) float64 {
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

// sanitizeReason keeps backup directory names filesystem-safe.
func sanitizeReason(reason string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, reason)
}

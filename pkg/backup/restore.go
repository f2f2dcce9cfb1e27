package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/types"
)

// restoreCheckThreshold is the fraction of post-restore checks that
// must pass for the restore to count as successful.
const restoreCheckThreshold = 0.6

const (
	restoreDialTimeout = 3 * time.Second
	restoreHTTPTimeout = 5 * time.Second
)

// Restore rolls an instance back to a snapshot: verify the backup,
// stop the stack, restore the config record, env file and volumes,
// bring the stack back up, then run post-restore checks. The restore
// succeeds when enough checks pass; otherwise the instance is left in
// error status for manual recovery.
func (m *Manager) Restore(ctx context.Context, instanceID, backupID string) (*types.RestoreResult, error) {
	b, err := m.Get(backupID)
	if err != nil {
		return nil, err
	}
	if b.InstanceID != instanceID {
		return nil, errdefs.New(errdefs.KindFieldValidationFailed,
			"backup %s belongs to instance %s, not %s", backupID, b.InstanceID, instanceID)
	}

	verify, err := m.Verify(backupID)
	if err != nil {
		return nil, err
	}
	if !verify.Valid {
		return nil, errdefs.New(errdefs.KindBackupInvalid,
			"backup %s failed verification (completeness %.0f%%)", backupID, verify.Completeness*100)
	}

	result := &types.RestoreResult{
		BackupID:   backupID,
		InstanceID: instanceID,
		Warnings:   verify.Warnings,
	}

	restored, err := m.readInstanceConfig(b)
	if err != nil {
		return nil, err
	}

	// The currently registered record supplies artifact paths if the
	// instance still exists; fall back to the snapshot's own.
	current, exists := m.registry.Get(instanceID)
	target := restored
	if exists {
		target = current
	}

	m.logger.Info().
		Str("instance_id", instanceID).
		Str("backup_id", backupID).
		Msg("restoring instance from backup")

	if err := m.runtime.Down(ctx, target); err != nil {
		m.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("stop before restore failed")
	}

	if err := m.restoreEnvironment(b, restored); err != nil {
		return nil, err
	}
	if err := m.restoreVolumes(b, restored); err != nil {
		m.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("volume restore failed")
		result.Warnings = append(result.Warnings, fmt.Sprintf("volumes not restored: %v", err))
	}

	restored.Status = types.InstanceStatusRunning
	restored.UpdatedAt = time.Now().UTC()
	if err := m.registry.Put(restored); err != nil {
		return nil, err
	}
	result.RestoredConfig = true

	if err := m.runtime.Up(ctx, restored); err != nil {
		restored.Status = types.InstanceStatusError
		_ = m.registry.Put(restored)
		return nil, errdefs.Wrap(errdefs.KindRuntimeError, err, "failed to start restored stack")
	}

	m.runPostChecks(ctx, restored, result)
	result.Success = result.ChecksTotal > 0 &&
		float64(result.ChecksPassed)/float64(result.ChecksTotal) >= restoreCheckThreshold

	if !result.Success {
		restored.Status = types.InstanceStatusError
		restored.UpdatedAt = time.Now().UTC()
		_ = m.registry.Put(restored)
		m.logger.Error().
			Str("instance_id", instanceID).
			Int("checks_passed", result.ChecksPassed).
			Int("checks_total", result.ChecksTotal).
			Msg("restore verification failed")
		return result, nil
	}

	m.logger.Info().
		Str("instance_id", instanceID).
		Str("backup_id", backupID).
		Msg("restore completed")
	return result, nil
}

func (m *Manager) readInstanceConfig(b *types.Backup) (*types.Instance, error) {
	comp := b.Components[types.BackupComponentConfig]
	data, err := os.ReadFile(comp.Path)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackupInvalid, err, "failed to read backed-up instance config")
	}
	var inst types.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackupInvalid, err, "failed to parse backed-up instance config")
	}
	return &inst, nil
}

func (m *Manager) restoreEnvironment(b *types.Backup, inst *types.Instance) error {
	comp := b.Components[types.BackupComponentEnvironment]
	if err := copyFile(comp.Path, inst.Docker.EnvFile); err != nil {
		return errdefs.Wrap(errdefs.KindBackupInvalid, err, "failed to restore environment file")
	}
	return nil
}

func (m *Manager) restoreVolumes(b *types.Backup, inst *types.Instance) error {
	comp := b.Components[types.BackupComponentVolumes]
	if !comp.Success {
		return fmt.Errorf("volumes component was not captured")
	}
	if err := os.RemoveAll(inst.Docker.VolumesDir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(inst.Docker.VolumesDir), 0o755); err != nil {
		return err
	}
	return copyDir(comp.Path, inst.Docker.VolumesDir)
}

// runPostChecks performs three cheap liveness checks: the registry
// record, a TCP connect to the database port, and an HTTP round-trip
// to the gateway.
func (m *Manager) runPostChecks(ctx context.Context, inst *types.Instance, result *types.RestoreResult) {
	result.ChecksTotal = 3

	if _, ok := m.registry.Get(inst.ID); ok {
		result.ChecksPassed++
	} else {
		result.FailedChecks = append(result.FailedChecks, "registry record")
	}

	addr := net.JoinHostPort(m.host, fmt.Sprintf("%d", inst.Ports.DatabaseExternal))
	if conn, err := net.DialTimeout("tcp", addr, restoreDialTimeout); err == nil {
		conn.Close()
		result.ChecksPassed++
	} else {
		result.FailedChecks = append(result.FailedChecks, "database port")
	}

	url := fmt.Sprintf("http://%s:%d/", m.host, inst.Ports.GatewayHTTP)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err == nil {
		client := &http.Client{Timeout: restoreHTTPTimeout}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			result.ChecksPassed++
		} else {
			result.FailedChecks = append(result.FailedChecks, "gateway http")
		}
	} else {
		result.FailedChecks = append(result.FailedChecks, "gateway http")
	}
}

package configedit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/herdctl/herd/pkg/backup"
	"github.com/herdctl/herd/pkg/diagnose"
	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/lifecycle"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/registry"
	"github.com/herdctl/herd/pkg/render"
	"github.com/herdctl/herd/pkg/runtime"
	"github.com/herdctl/herd/pkg/types"
)

// Editable field names accepted by Apply.
const (
	FieldName                   = "name"
	FieldOrganization           = "organization"
	FieldDashboardUsername      = "dashboard_username"
	FieldDashboardPassword      = "dashboard_password"
	FieldDisableSignup          = "disable_signup"
	FieldEnableEmailAutoconfirm = "enable_email_autoconfirm"
	FieldJWTExpiry              = "jwt_expiry"
)

const (
	minJWTExpiry = 60
	maxJWTExpiry = 86400
)

// settlePause lets restarted containers come up before the post-edit
// health check.
const settlePause = 5 * time.Second

// EditResult reports what one edit run changed.
type EditResult struct {
	InstanceID    string   `json:"instance_id"`
	Applied       []string `json:"applied"`
	BackupID      string   `json:"backup_id,omitempty"`
	Restarted     bool     `json:"restarted"`
	RolledBack    bool     `json:"rolled_back"`
	HealthyAfter  bool     `json:"healthy_after"`
	FailureReason string   `json:"failure_reason,omitempty"`
}

// Editor applies allow-listed configuration edits to live instances.
// Unknown fields are rejected outright; nothing outside the allow-list
// is ever touched.
type Editor struct {
	registry *registry.Registry
	runtime  runtime.Driver
	backups  *backup.Manager
	diagnose *diagnose.Engine
	locks    *lifecycle.InstanceLocks
	logger   zerolog.Logger

	// rewriteEnv writes the collected env updates. Tests stub it to
	// exercise the write-failure rollback path.
	rewriteEnv func(path string, updates render.Vars) error
}

// NewEditor wires a config editor.
func NewEditor(reg *registry.Registry, rt runtime.Driver, backups *backup.Manager,
	diag *diagnose.Engine, locks *lifecycle.InstanceLocks) *Editor {
	return &Editor{
		registry:   reg,
		runtime:    rt,
		backups:    backups,
		diagnose:   diag,
		locks:      locks,
		logger:     log.WithComponent("configedit"),
		rewriteEnv: render.RewriteEnv,
	}
}

// Apply validates and applies a set of edits as one unit: one snapshot
// before, one health check after, one rollback if the instance stops
// answering. Field values arrive as strings and are coerced per field.
func (e *Editor) Apply(ctx context.Context, instanceID string, edits map[string]string) (*EditResult, error) {
	if len(edits) == 0 {
		return nil, errdefs.New(errdefs.KindFieldValidationFailed, "no fields to edit")
	}

	if err := e.locks.TryLock(instanceID, "config edit"); err != nil {
		return nil, err
	}
	defer e.locks.Unlock(instanceID)

	inst, ok := e.registry.Get(instanceID)
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "instance %s not found", instanceID)
	}

	// Validate everything before touching anything.
	for field, value := range edits {
		if err := e.validateEdit(inst, field, value); err != nil {
			return nil, err
		}
	}

	result := &EditResult{InstanceID: instanceID}

	snapshot, err := e.backups.Snapshot(ctx, inst, "config_edit")
	if err != nil {
		return nil, fmt.Errorf("pre-edit snapshot failed: %w", err)
	}
	result.BackupID = snapshot.BackupID

	envUpdates := make(render.Vars)
	needsRestart := false
	for field, value := range edits {
		restart := applyEdit(inst, field, value, envUpdates)
		needsRestart = needsRestart || restart
		result.Applied = append(result.Applied, field)
	}

	if len(envUpdates) > 0 {
		if err := e.rewriteEnv(inst.Docker.EnvFile, envUpdates); err != nil {
			// The env file may be half-written; restore the snapshot.
			e.rollback(ctx, inst, snapshot, result, fmt.Sprintf("env rewrite failed: %v", err))
			return result, nil
		}
	}

	if needsRestart && inst.Status == types.InstanceStatusRunning {
		result.Restarted = true
		if err := e.restartAffected(ctx, inst, edits); err != nil {
			e.rollback(ctx, inst, snapshot, result, fmt.Sprintf("restart failed: %v", err))
			return result, nil
		}
		sleepCtx(ctx, settlePause)

		quick := e.diagnose.Quick(ctx, inst)
		result.HealthyAfter = quick.OverallHealthy
		if !quick.OverallHealthy {
			e.rollback(ctx, inst, snapshot, result, "instance unhealthy after edit")
			return result, nil
		}
	} else {
		result.HealthyAfter = true
	}

	inst.UpdatedAt = time.Now().UTC()
	if err := e.registry.Put(inst); err != nil {
		return nil, err
	}
	e.diagnose.Invalidate(instanceID)

	e.logger.Info().
		Str("instance_id", instanceID).
		Strs("fields", result.Applied).
		Bool("restarted", result.Restarted).
		Msg("config edit applied")
	return result, nil
}

// validateEdit checks one field against the allow-list and its value
// constraints.
func (e *Editor) validateEdit(inst *types.Instance, field, value string) error {
	switch field {
	case FieldName:
		if value == "" {
			return errdefs.New(errdefs.KindFieldValidationFailed, "name must not be empty")
		}
		if other, exists := e.registry.GetByName(value); exists && other.ID != inst.ID {
			return errdefs.New(errdefs.KindInvalidName,
				"an instance named %q already exists", value)
		}
	case FieldOrganization, FieldDashboardUsername:
		if value == "" {
			return errdefs.New(errdefs.KindFieldValidationFailed, "%s must not be empty", field)
		}
	case FieldDashboardPassword:
		if len(value) < 8 {
			return errdefs.New(errdefs.KindFieldValidationFailed,
				"dashboard_password must be at least 8 characters")
		}
	case FieldDisableSignup, FieldEnableEmailAutoconfirm:
		if _, err := strconv.ParseBool(value); err != nil {
			return errdefs.New(errdefs.KindFieldValidationFailed,
				"%s must be true or false, got %q", field, value)
		}
	case FieldJWTExpiry:
		n, err := strconv.Atoi(value)
		if err != nil || n < minJWTExpiry || n > maxJWTExpiry {
			return errdefs.New(errdefs.KindFieldValidationFailed,
				"jwt_expiry must be an integer between %d and %d", minJWTExpiry, maxJWTExpiry)
		}
	default:
		return errdefs.New(errdefs.KindUnknownField, "field %q is not editable", field)
	}
	return nil
}

// applyEdit mutates the record and collects env updates. Returns true
// when the edit requires restarting containers to take effect.
func applyEdit(inst *types.Instance, field, value string, env render.Vars) bool {
	switch field {
	case FieldName:
		inst.Name = value
		return false
	case FieldOrganization:
		inst.Organization = value
		return false
	case FieldDashboardUsername:
		inst.Credentials.DashboardUsername = value
		env["DASHBOARD_USERNAME"] = value
		return true
	case FieldDashboardPassword:
		inst.Credentials.DashboardPassword = value
		env["DASHBOARD_PASSWORD"] = value
		return true
	case FieldDisableSignup:
		b, _ := strconv.ParseBool(value)
		inst.Auth.DisableSignup = b
		env["DISABLE_SIGNUP"] = strconv.FormatBool(b)
		return true
	case FieldEnableEmailAutoconfirm:
		b, _ := strconv.ParseBool(value)
		inst.Auth.EnableEmailAutoconfirm = b
		env["ENABLE_EMAIL_AUTOCONFIRM"] = strconv.FormatBool(b)
		return true
	case FieldJWTExpiry:
		n, _ := strconv.Atoi(value)
		inst.Auth.JWTExpiry = n
		env["JWT_EXPIRY"] = strconv.Itoa(n)
		return true
	}
	return false
}

// restartAffected restarts only the containers reading the edited
// variables: auth for signup/expiry settings, studio and gateway for
// dashboard credentials.
func (e *Editor) restartAffected(ctx context.Context, inst *types.Instance, edits map[string]string) error {
	affected := make(map[types.Service]bool)
	for field := range edits {
		switch field {
		case FieldDisableSignup, FieldEnableEmailAutoconfirm, FieldJWTExpiry:
			affected[types.ServiceAuth] = true
		case FieldDashboardUsername, FieldDashboardPassword:
			affected[types.ServiceStudio] = true
			affected[types.ServiceKong] = true
		}
	}
	// Restart in declared service order for determinism.
	for _, svc := range types.Services {
		if !affected[svc] {
			continue
		}
		name := types.ContainerName(inst.ID, svc)
		if err := e.runtime.RestartContainer(ctx, name, 30*time.Second); err != nil {
			return err
		}
	}
	return nil
}

// rollback restores the pre-edit snapshot after a failed edit.
func (e *Editor) rollback(ctx context.Context, inst *types.Instance, snapshot *types.Backup, result *EditResult, reason string) {
	result.FailureReason = reason
	e.logger.Warn().
		Str("instance_id", inst.ID).
		Str("backup_id", snapshot.BackupID).
		Str("reason", reason).
		Msg("config edit failed, rolling back")

	if _, err := e.backups.Restore(ctx, inst.ID, snapshot.BackupID); err != nil {
		e.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("config edit rollback failed")
		return
	}
	result.RolledBack = true
	e.diagnose.Invalidate(inst.ID)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package types

import "time"

// Backup component names as stored in the manifest.
const (
	BackupComponentConfig      = "instance-config"
	BackupComponentEnvironment = "environment"
	BackupComponentVolumes     = "volumes"
	BackupComponentContainers  = "container-states"
)

// ComponentResult records the capture of one backup component.
// Components are captured best-effort; a failed component still yields
// a manifest entry with Success=false.
type ComponentResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Backup is a point-in-time on-disk copy of an instance's config, env,
// volumes and container states, used for restore and rollback.
type Backup struct {
	BackupID   string                     `json:"backup_id"`
	InstanceID string                     `json:"instance_id"`
	Reason     string                     `json:"reason"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentResult `json:"components"`
	SizeMB     float64                    `json:"size_mb"`
	Dir        string                     `json:"dir"`
}

// Valid reports whether the snapshot as a whole is usable: the
// instance-config and environment components must have succeeded.
func (b *Backup) Valid() bool {
	return b.Components[BackupComponentConfig].Success &&
		b.Components[BackupComponentEnvironment].Success
}

// ContainerSnapshot is an inspect-style capture of one container taken
// at backup time.
type ContainerSnapshot struct {
	Name   string   `json:"name"`
	ID     string   `json:"id"`
	State  string   `json:"state"`
	Status string   `json:"status"`
	Image  string   `json:"image"`
	Env    []string `json:"env,omitempty"`
}

// RestoreResult is the outcome of restoring an instance from a backup.
type RestoreResult struct {
	BackupID       string   `json:"backup_id"`
	InstanceID     string   `json:"instance_id"`
	Success        bool     `json:"success"`
	ChecksPassed   int      `json:"checks_passed"`
	ChecksTotal    int      `json:"checks_total"`
	FailedChecks   []string `json:"failed_checks,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	RestoredConfig bool     `json:"restored_config"`
}

// VerifyResult is the outcome of validating a backup on disk.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	Completeness float64  `json:"completeness"`
	Missing      []string `json:"missing,omitempty"`
	AgeHours     float64  `json:"age_hours"`
	Warnings     []string `json:"warnings,omitempty"`
}

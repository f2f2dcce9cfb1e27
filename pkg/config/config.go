package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the process-wide configuration read from the environment.
type Config struct {
	// DataRoot is the directory holding the registry, rendered
	// artifacts, per-instance volumes and backups.
	DataRoot string

	// TemplateDir holds the compose/env/volume templates consumed by
	// the renderer as opaque text.
	TemplateDir string

	// ExternalHost is the host or IP instances are reachable on.
	// Required; there is no auto-detection.
	ExternalHost string

	// DockerSocket is the container runtime socket path.
	DockerSocket string

	// ListenAddr is the HTTP API bind address.
	ListenAddr string

	MaxInstances int

	CreateTimeout       time.Duration
	RepairRetention     int
	DiagnosticCacheTTL  time.Duration
	DiagnosticRateLimit time.Duration

	LogLevel string
	LogJSON  bool
}

// Defaults, all overridable from the environment.
const (
	DefaultDataRoot            = "/var/lib/herd"
	DefaultDockerSocket        = "/var/run/docker.sock"
	DefaultListenAddr          = ":3000"
	DefaultMaxInstances        = 20
	DefaultCreateTimeout       = 15 * time.Minute
	DefaultRepairRetention     = 5
	DefaultDiagnosticCacheTTL  = 5 * time.Minute
	DefaultDiagnosticRateLimit = 2 * time.Minute
)

// FromEnv builds a Config from environment variables. A missing
// EXTERNAL_HOST is a configuration error.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DataRoot:            envStr("DATA_ROOT", DefaultDataRoot),
		ExternalHost:        os.Getenv("EXTERNAL_HOST"),
		DockerSocket:        envStr("DOCKER_SOCKET", DefaultDockerSocket),
		ListenAddr:          envStr("LISTEN_ADDR", DefaultListenAddr),
		MaxInstances:        envInt("MAX_INSTANCES", DefaultMaxInstances),
		CreateTimeout:       envSeconds("CREATE_TIMEOUT_SECONDS", DefaultCreateTimeout),
		RepairRetention:     envInt("REPAIR_BACKUP_RETENTION", DefaultRepairRetention),
		DiagnosticCacheTTL:  envSeconds("DIAGNOSTIC_CACHE_TTL_SECONDS", DefaultDiagnosticCacheTTL),
		DiagnosticRateLimit: envSeconds("DIAGNOSTIC_RATE_LIMIT_SECONDS", DefaultDiagnosticRateLimit),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		LogJSON:             os.Getenv("LOG_JSON") == "true",
	}
	cfg.TemplateDir = envStr("TEMPLATE_DIR", filepath.Join(cfg.DataRoot, "templates"))

	if cfg.ExternalHost == "" {
		return nil, fmt.Errorf("EXTERNAL_HOST must be set")
	}
	if cfg.MaxInstances <= 0 {
		return nil, fmt.Errorf("MAX_INSTANCES must be positive, got %d", cfg.MaxInstances)
	}
	return cfg, nil
}

// RegistryPath returns the path of the durable instance registry.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataRoot, "instances.json")
}

// HistoryPath returns the path of the diagnostic history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataRoot, "diagnostics.db")
}

// BackupRoot returns the directory holding repair backups.
func (c *Config) BackupRoot() string {
	return filepath.Join(c.DataRoot, "auto-repair-backups")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

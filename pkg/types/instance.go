package types

import (
	"fmt"
	"time"
)

// InstanceStatus represents the lifecycle state of an instance
type InstanceStatus string

const (
	InstanceStatusCreating  InstanceStatus = "creating"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusStopped   InstanceStatus = "stopped"
	InstanceStatusError     InstanceStatus = "error"
	InstanceStatusRepairing InstanceStatus = "repairing"
)

// PortSet holds the host ports allocated to one instance.
// Each value is unique across all live instances.
type PortSet struct {
	GatewayHTTP      int            `json:"gateway_http"`
	GatewayHTTPS     int            `json:"gateway_https"`
	DatabaseExternal int            `json:"database_external"`
	Analytics        int            `json:"analytics"`
	Extra            map[string]int `json:"extra,omitempty"`
}

// All returns every allocated port in the set.
func (p PortSet) All() []int {
	ports := []int{p.GatewayHTTP, p.GatewayHTTPS, p.DatabaseExternal, p.Analytics}
	for _, v := range p.Extra {
		ports = append(ports, v)
	}
	return ports
}

// Overlaps reports whether any port is shared with another set.
func (p PortSet) Overlaps(other PortSet) bool {
	mine := make(map[int]bool)
	for _, v := range p.All() {
		if v != 0 {
			mine[v] = true
		}
	}
	for _, v := range other.All() {
		if v != 0 && mine[v] {
			return true
		}
	}
	return false
}

// Credentials holds the secret material owned by one instance.
// Signing secrets are never shared across instances.
type Credentials struct {
	PostgresPassword  string `json:"postgres_password"`
	JWTSecret         string `json:"jwt_secret"`
	AnonKey           string `json:"anon_key"`
	ServiceRoleKey    string `json:"service_role_key"`
	DashboardUsername string `json:"dashboard_username"`
	DashboardPassword string `json:"dashboard_password"`
}

// DockerArtifacts holds the paths of the rendered per-instance files.
type DockerArtifacts struct {
	ComposeFile string `json:"compose_file"`
	EnvFile     string `json:"env_file"`
	VolumesDir  string `json:"volumes_dir"`
}

// URLSet holds the externally reachable URLs derived from the external
// host and the gateway HTTP port.
type URLSet struct {
	Studio   string `json:"studio"`
	API      string `json:"api"`
	Database string `json:"database,omitempty"`
}

// AuthSettings holds the operator-editable auth behavior of an instance.
type AuthSettings struct {
	DisableSignup          bool `json:"disable_signup"`
	EnableEmailAutoconfirm bool `json:"enable_email_autoconfirm"`
	JWTExpiry              int  `json:"jwt_expiry"`
}

// Instance is a complete, isolated seven-container Supabase stack owned
// by the orchestrator. The registry on disk is the single authoritative
// source for instance existence.
type Instance struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Organization     string          `json:"organization"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Status           InstanceStatus  `json:"status"`
	Ports            PortSet         `json:"ports"`
	Credentials      Credentials     `json:"credentials"`
	Docker           DockerArtifacts `json:"docker"`
	URLs             URLSet          `json:"urls"`
	Auth             AuthSettings    `json:"auth"`
	LastRepair       *time.Time      `json:"last_repair,omitempty"`
	LastDiagnosticAt *time.Time      `json:"last_diagnostic_at,omitempty"`
}

// Service identifies one of the seven cooperating containers of a stack.
type Service string

const (
	ServiceDB       Service = "db"
	ServiceAuth     Service = "auth"
	ServiceRest     Service = "rest"
	ServiceKong     Service = "kong"
	ServiceStorage  Service = "storage"
	ServiceRealtime Service = "realtime"
	ServiceStudio   Service = "studio"
)

// Services lists the expected services of every instance, in bring-up order.
var Services = []Service{
	ServiceDB,
	ServiceAuth,
	ServiceRest,
	ServiceKong,
	ServiceStorage,
	ServiceRealtime,
	ServiceStudio,
}

// ContainerName derives a container name from the naming convention.
// A container whose name conforms to the convention but whose id is
// absent from the registry is considered orphaned.
func ContainerName(instanceID string, svc Service) string {
	return fmt.Sprintf("supabase-%s-%s", svc, instanceID)
}

// ExpectedContainers returns the seven container names of an instance.
func ExpectedContainers(instanceID string) []string {
	names := make([]string, 0, len(Services))
	for _, svc := range Services {
		names = append(names, ContainerName(instanceID, svc))
	}
	return names
}

// ComposeProject derives the compose project name for an instance.
func ComposeProject(instanceID string) string {
	return "supabase-" + instanceID
}

// InstanceStats is the count summary returned by list operations.
type InstanceStats struct {
	Total    int `json:"total"`
	Running  int `json:"running"`
	Stopped  int `json:"stopped"`
	Creating int `json:"creating"`
	Error    int `json:"error"`
}

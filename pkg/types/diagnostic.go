package types

import "time"

// Severity classifies how urgent a diagnosed issue is
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Category groups problems and repair actions by subsystem.
// Categories carry a fixed dependency order; see the analyze package.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryDatabase       Category = "database"
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryServices       Category = "services"
	CategoryValidation     Category = "validation"
)

// Issue is one diagnosed problem, synthesized from an unhealthy probe.
type Issue struct {
	Severity       Severity `json:"severity"`
	Category       Category `json:"category"`
	Message        string   `json:"message"`
	ResolutionHint string   `json:"resolution_hint"`
}

// ContainerInfo is the per-container live state reported by the
// container probe. The runtime driver is the sole source of truth.
type ContainerInfo struct {
	Name      string    `json:"name"`
	Exists    bool      `json:"exists"`
	Running   bool      `json:"running"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	State     string    `json:"state,omitempty"`
}

// ContainerReport is the result of the container probe.
type ContainerReport struct {
	Healthy    bool            `json:"healthy"`
	Containers []ContainerInfo `json:"containers"`
	Running    int             `json:"running"`
	Expected   int             `json:"expected"`
	Error      string          `json:"error,omitempty"`
}

// EndpointResult records one HTTP service check.
type EndpointResult struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	LatencyMS  int64  `json:"latency_ms"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
}

// HTTPReport is the result of the HTTP services probe.
type HTTPReport struct {
	Healthy   bool             `json:"healthy"`
	Endpoints []EndpointResult `json:"endpoints"`
}

// DatabaseReport is the result of the database probe.
type DatabaseReport struct {
	Healthy          bool     `json:"healthy"`
	ConnectionTimeMS int64    `json:"connection_time_ms"`
	ServerVersion    string   `json:"server_version,omitempty"`
	UserCount        int64    `json:"user_count"`
	Extensions       []string `json:"extensions,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// AuthCheck is one step of the auth deep-probe.
type AuthCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details,omitempty"`
}

// AuthReport is the result of the auth deep-probe.
type AuthReport struct {
	Healthy bool        `json:"healthy"`
	Checks  []AuthCheck `json:"checks"`
}

// PassRatio returns the fraction of auth sub-checks that passed.
func (r *AuthReport) PassRatio() float64 {
	if len(r.Checks) == 0 {
		return 0
	}
	passed := 0
	for _, c := range r.Checks {
		if c.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(r.Checks))
}

// DiskReport is the result of the disk probe.
type DiskReport struct {
	Healthy     bool     `json:"healthy"`
	VolumesDir  string   `json:"volumes_dir"`
	Exists      bool     `json:"exists"`
	MissingDirs []string `json:"missing_dirs,omitempty"`
	SizeMB      float64  `json:"size_mb"`
	Error       string   `json:"error,omitempty"`
}

// PortCheck records one TCP reachability test.
type PortCheck struct {
	Role      string `json:"role"`
	Port      int    `json:"port"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// NetworkReport is the result of the network probe.
type NetworkReport struct {
	Healthy     bool        `json:"healthy"`
	Ports       []PortCheck `json:"ports"`
	DNSResolved bool        `json:"dns_resolved"`
	Error       string      `json:"error,omitempty"`
}

// DiagnosticResults holds one sub-report per probe.
type DiagnosticResults struct {
	Containers   *ContainerReport `json:"containers,omitempty"`
	HTTPServices *HTTPReport      `json:"http_services,omitempty"`
	Database     *DatabaseReport  `json:"database,omitempty"`
	AuthService  *AuthReport      `json:"auth_service,omitempty"`
	Disk         *DiskReport      `json:"disk,omitempty"`
	Network      *NetworkReport   `json:"network,omitempty"`
}

// Diagnostic is the aggregated output of all probes for one instance at
// one instant. Cached with a five minute TTL.
type Diagnostic struct {
	Timestamp      time.Time           `json:"timestamp"`
	InstanceID     string              `json:"instance_id"`
	OverallHealthy bool                `json:"overall_healthy"`
	Results        DiagnosticResults   `json:"results"`
	CriticalIssues []Issue             `json:"critical_issues"`
	RecentLogs     map[string][]string `json:"recent_logs,omitempty"`
}

// CriticalCount returns the number of critical issues in the report.
func (d *Diagnostic) CriticalCount() int {
	n := 0
	for _, i := range d.CriticalIssues {
		if i.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

package health

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/runtime"
	"github.com/herdctl/herd/pkg/types"
)

// Per-probe timeout defaults.
const (
	ContainerProbeTimeout = 10 * time.Second
	HTTPProbeTimeout      = 5 * time.Second
	DatabaseProbeTimeout  = 8 * time.Second
	NetworkProbeTimeout   = 3 * time.Second
	LogTailLines          = 50
)

// Checker runs bounded health probes against one instance. Probes fail
// soft: an error is captured in the sub-report, never returned.
type Checker struct {
	runtime runtime.Driver
	host    string
	logger  zerolog.Logger

	httpClient *http.Client
}

// NewChecker creates a checker probing instances on the given external
// host.
func NewChecker(rt runtime.Driver, host string) *Checker {
	return &Checker{
		runtime: rt,
		host:    host,
		logger:  log.WithComponent("health"),
		httpClient: &http.Client{
			Timeout: HTTPProbeTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// RunFullDiagnostic runs all probes in parallel and assembles the
// top-level report. The call itself never fails; probe errors are
// carried inside the report.
func (c *Checker) RunFullDiagnostic(ctx context.Context, inst *types.Instance) *types.Diagnostic {
	d := &types.Diagnostic{
		Timestamp:  time.Now(),
		InstanceID: inst.ID,
	}

	var g errgroup.Group
	g.Go(func() error { d.Results.Containers = c.CheckContainers(ctx, inst); return nil })
	g.Go(func() error { d.Results.HTTPServices = c.CheckHTTPServices(ctx, inst); return nil })
	g.Go(func() error { d.Results.Database = c.CheckDatabase(ctx, inst); return nil })
	g.Go(func() error { d.Results.AuthService = c.CheckAuth(ctx, inst); return nil })
	g.Go(func() error { d.Results.Disk = c.CheckDisk(ctx, inst); return nil })
	g.Go(func() error { d.Results.Network = c.CheckNetwork(ctx, inst); return nil })
	g.Go(func() error { d.RecentLogs = c.CollectLogs(ctx, inst, LogTailLines); return nil })
	_ = g.Wait()

	d.OverallHealthy = d.Results.Containers.Healthy &&
		d.Results.HTTPServices.Healthy &&
		d.Results.Database.Healthy &&
		d.Results.AuthService.Healthy &&
		d.Results.Disk.Healthy &&
		d.Results.Network.Healthy
	d.CriticalIssues = synthesizeIssues(d)

	c.logger.Debug().
		Str("instance_id", inst.ID).
		Bool("healthy", d.OverallHealthy).
		Int("issues", len(d.CriticalIssues)).
		Msg("full diagnostic complete")
	return d
}

// QuickHealthCheck runs only the container, HTTP and database probes.
// Used post-repair and after config edits.
func (c *Checker) QuickHealthCheck(ctx context.Context, inst *types.Instance) *types.Diagnostic {
	d := &types.Diagnostic{
		Timestamp:  time.Now(),
		InstanceID: inst.ID,
	}

	var g errgroup.Group
	g.Go(func() error { d.Results.Containers = c.CheckContainers(ctx, inst); return nil })
	g.Go(func() error { d.Results.HTTPServices = c.CheckHTTPServices(ctx, inst); return nil })
	g.Go(func() error { d.Results.Database = c.CheckDatabase(ctx, inst); return nil })
	_ = g.Wait()

	d.OverallHealthy = d.Results.Containers.Healthy &&
		d.Results.HTTPServices.Healthy &&
		d.Results.Database.Healthy
	d.CriticalIssues = synthesizeIssues(d)
	return d
}

// issueTemplate is the fixed probe kind → issue mapping.
type issueTemplate struct {
	severity types.Severity
	category types.Category
	message  string
	hint     string
}

var issueTemplates = map[string]issueTemplate{
	"containers": {
		severity: types.SeverityCritical,
		category: types.CategoryInfrastructure,
		message:  "one or more containers are not running",
		hint:     "restart the stopped containers or recreate the stack",
	},
	"database": {
		severity: types.SeverityCritical,
		category: types.CategoryDatabase,
		message:  "database is not answering queries",
		hint:     "restart the database container; check credentials if authentication fails",
	},
	"http_services": {
		severity: types.SeverityWarning,
		category: types.CategoryServices,
		message:  "one or more HTTP services are failing",
		hint:     "restart the rest, gateway and storage containers",
	},
	"auth_service": {
		severity: types.SeverityWarning,
		category: types.CategoryAuthentication,
		message:  "auth service deep checks are failing",
		hint:     "restart the auth container, then the gateway",
	},
	"network": {
		severity: types.SeverityWarning,
		category: types.CategoryNetwork,
		message:  "one or more host ports are unreachable",
		hint:     "check port bindings and host firewall rules",
	},
	"disk": {
		severity: types.SeverityCritical,
		category: types.CategoryInfrastructure,
		message:  "instance volume tree is missing or incomplete",
		hint:     "restore the volumes directory from the latest backup",
	},
}

// synthesizeIssues maps unhealthy probes to critical issues, attaching
// the probe's own error detail to the fixed template message.
func synthesizeIssues(d *types.Diagnostic) []types.Issue {
	var issues []types.Issue
	add := func(kind, detail string) {
		t := issueTemplates[kind]
		msg := t.message
		if detail != "" {
			msg = msg + ": " + detail
		}
		issues = append(issues, types.Issue{
			Severity:       t.severity,
			Category:       t.category,
			Message:        msg,
			ResolutionHint: t.hint,
		})
	}

	r := d.Results
	if r.Containers != nil && !r.Containers.Healthy {
		add("containers", r.Containers.Error)
	}
	if r.Database != nil && !r.Database.Healthy {
		add("database", r.Database.Error)
	}
	if r.Network != nil && !r.Network.Healthy {
		add("network", r.Network.Error)
	}
	if r.AuthService != nil && !r.AuthService.Healthy {
		add("auth_service", "")
	}
	if r.HTTPServices != nil && !r.HTTPServices.Healthy {
		add("http_services", "")
	}
	if r.Disk != nil && !r.Disk.Healthy {
		add("disk", r.Disk.Error)
	}
	return issues
}

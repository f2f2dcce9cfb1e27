package health

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/herdctl/herd/pkg/types"
)

// CheckNetwork tests TCP reachability of the instance's host ports and
// a DNS lookup of localhost.
func (c *Checker) CheckNetwork(ctx context.Context, inst *types.Instance) *types.NetworkReport {
	report := &types.NetworkReport{}

	checks := []struct {
		role string
		port int
	}{
		{"gateway_http", inst.Ports.GatewayHTTP},
		{"database_external", inst.Ports.DatabaseExternal},
		{"analytics", inst.Ports.Analytics},
	}

	var failing []string
	for _, check := range checks {
		pc := types.PortCheck{Role: check.role, Port: check.port}
		pc.Reachable, pc.Error = c.portReachable(ctx, check.port)
		if !pc.Reachable {
			failing = append(failing, fmt.Sprintf("%s:%d", check.role, check.port))
		}
		report.Ports = append(report.Ports, pc)
	}

	resolver := &net.Resolver{}
	dnsCtx, cancel := context.WithTimeout(ctx, NetworkProbeTimeout)
	defer cancel()
	if _, err := resolver.LookupHost(dnsCtx, "localhost"); err == nil {
		report.DNSResolved = true
	}

	report.Healthy = len(failing) == 0 && report.DNSResolved
	if len(failing) > 0 {
		report.Error = "unreachable: " + strings.Join(failing, ", ")
	} else if !report.DNSResolved {
		report.Error = "localhost DNS lookup failed"
	}
	return report
}

// portReachable attempts a bounded TCP connect to one host port.
func (c *Checker) portReachable(ctx context.Context, port int) (bool, string) {
	dialer := &net.Dialer{Timeout: NetworkProbeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, NetworkProbeTimeout)
	defer cancel()
	conn, err := dialer.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", c.host, port))
	if err != nil {
		return false, err.Error()
	}
	_ = conn.Close()
	return true, ""
}

package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/herdctl/herd/pkg/types"
)

// CheckContainers enumerates the seven expected containers and reports
// per-container live state. Healthy iff every expected container is
// running.
func (c *Checker) CheckContainers(ctx context.Context, inst *types.Instance) *types.ContainerReport {
	ctx, cancel := context.WithTimeout(ctx, ContainerProbeTimeout)
	defer cancel()

	report := &types.ContainerReport{
		Expected: len(types.Services),
	}

	infos, err := c.runtime.List(ctx, inst)
	if err != nil {
		report.Error = err.Error()
		return report
	}

	var stopped []string
	for _, info := range infos {
		report.Containers = append(report.Containers, info)
		if info.Running {
			report.Running++
		} else {
			stopped = append(stopped, info.Name)
		}
	}
	report.Healthy = report.Running == report.Expected
	if !report.Healthy {
		report.Error = fmt.Sprintf("not running: %s", strings.Join(stopped, ", "))
	}
	return report
}

// CollectLogs aggregates recent warning and error lines per container.
func (c *Checker) CollectLogs(ctx context.Context, inst *types.Instance, tail int) map[string][]string {
	out := make(map[string][]string)
	for _, name := range types.ExpectedContainers(inst.ID) {
		text, err := c.runtime.Logs(ctx, name, tail)
		if err != nil {
			continue
		}
		var interesting []string
		for _, line := range strings.Split(text, "\n") {
			lower := strings.ToLower(line)
			if strings.Contains(lower, "error") || strings.Contains(lower, "warn") ||
				strings.Contains(lower, "fatal") || strings.Contains(lower, "panic") {
				interesting = append(interesting, strings.TrimSpace(line))
			}
		}
		if len(interesting) > 0 {
			if len(interesting) > 10 {
				interesting = interesting[len(interesting)-10:]
			}
			out[name] = interesting
		}
	}
	return out
}

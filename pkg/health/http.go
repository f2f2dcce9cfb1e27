package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/herdctl/herd/pkg/types"
)

// CheckHTTPServices performs parallel GETs against the gateway-fronted
// services. Healthy iff every endpoint answers with a status below 500.
func (c *Checker) CheckHTTPServices(ctx context.Context, inst *types.Instance) *types.HTTPReport {
	base := fmt.Sprintf("http://%s:%d", c.host, inst.Ports.GatewayHTTP)

	endpoints := []struct {
		name    string
		url     string
		headers map[string]string
	}{
		{name: "gateway", url: base + "/"},
		{name: "auth", url: base + "/auth/v1/health"},
		{name: "rest", url: base + "/rest/v1/", headers: map[string]string{"apikey": inst.Credentials.AnonKey}},
		{name: "studio", url: base + "/"},
	}

	report := &types.HTTPReport{
		Endpoints: make([]types.EndpointResult, len(endpoints)),
	}

	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, name, url string, headers map[string]string) {
			defer wg.Done()
			report.Endpoints[i] = c.probeEndpoint(ctx, name, url, headers)
		}(i, ep.name, ep.url, ep.headers)
	}
	wg.Wait()

	report.Healthy = true
	for _, ep := range report.Endpoints {
		if !ep.Healthy {
			report.Healthy = false
			break
		}
	}
	return report
}

// probeEndpoint records the status code and round-trip time of one GET.
// Status codes below 500 count as healthy: the service answered.
func (c *Checker) probeEndpoint(ctx context.Context, name, url string, headers map[string]string) types.EndpointResult {
	result := types.EndpointResult{Name: name, URL: url}

	ctx, cancel := context.WithTimeout(ctx, HTTPProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	result.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Healthy = resp.StatusCode < 500
	return result
}

package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/herdctl/herd/pkg/alloc"
	"github.com/herdctl/herd/pkg/types"
)

// CheckAuth runs the auth deep-probe: health endpoint, settings fetch
// with the public token, a JWT round-trip against the instance signing
// secret, and a dry signup whose status is recorded without follow-up.
func (c *Checker) CheckAuth(ctx context.Context, inst *types.Instance) *types.AuthReport {
	base := fmt.Sprintf("http://%s:%d/auth/v1", c.host, inst.Ports.GatewayHTTP)
	report := &types.AuthReport{}

	add := func(name string, passed bool, details string) {
		report.Checks = append(report.Checks, types.AuthCheck{Name: name, Passed: passed, Details: details})
	}

	// 1. Health endpoint.
	status, _, err := c.authGet(ctx, base+"/health", nil)
	add("health_endpoint", err == nil && status < 500, errDetail(err, status))

	// 2. Settings with the public API token.
	status, _, err = c.authGet(ctx, base+"/settings", map[string]string{
		"apikey": inst.Credentials.AnonKey,
	})
	add("settings_endpoint", err == nil && status == http.StatusOK, errDetail(err, status))

	// 3. JWT round-trip with the instance signing secret.
	token, err := alloc.SignAPIToken(inst.Credentials.JWTSecret, "anon", time.Now())
	if err == nil {
		var role string
		role, err = alloc.VerifyAPIToken(inst.Credentials.JWTSecret, token)
		if err == nil && role != "anon" {
			err = fmt.Errorf("unexpected role %q", role)
		}
	}
	add("jwt_roundtrip", err == nil, errDetail(err, 0))

	// 4. Dry signup: 200 or 422 means the endpoint processes
	// requests; the instance's signup state stays untouched.
	body := `{"email":"healthcheck-probe@example.invalid","password":"Probe-Only-1!"}`
	status, _, err = c.authPost(ctx, base+"/signup", map[string]string{
		"apikey":       inst.Credentials.AnonKey,
		"Content-Type": "application/json",
	}, body)
	signupOK := err == nil && (status == http.StatusOK || status == http.StatusUnprocessableEntity)
	add("signup_endpoint", signupOK, errDetail(err, status))

	passed := 0
	for _, check := range report.Checks {
		if check.Passed {
			passed++
		}
	}
	report.Healthy = passed == len(report.Checks)
	return report
}

func (c *Checker) authGet(ctx context.Context, url string, headers map[string]string) (int, string, error) {
	return c.authRequest(ctx, http.MethodGet, url, headers, "")
}

func (c *Checker) authPost(ctx context.Context, url string, headers map[string]string, body string) (int, string, error) {
	return c.authRequest(ctx, http.MethodPost, url, headers, body)
}

func (c *Checker) authRequest(ctx context.Context, method, url string, headers map[string]string, body string) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, HTTPProbeTimeout)
	defer cancel()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, "", err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	return resp.StatusCode, resp.Status, nil
}

func errDetail(err error, status int) string {
	if err != nil {
		return err.Error()
	}
	if status != 0 {
		return fmt.Sprintf("status %d", status)
	}
	return ""
}

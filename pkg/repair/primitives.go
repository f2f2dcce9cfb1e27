package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/herdctl/herd/pkg/alloc"
	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/render"
	"github.com/herdctl/herd/pkg/runtime"
	"github.com/herdctl/herd/pkg/types"
)

const (
	containerRestartTimeout = 30 * time.Second
	dbSettlePause           = 3 * time.Second

	// dbRestartPause separates the database stop from the start;
	// dbReadyTimeout bounds the wait for it to answer queries again.
	dbRestartPause = 5 * time.Second
	dbReadyTimeout = 60 * time.Second

	// Settle pauses after restarting the auth container and the
	// gateway, before re-running the auth deep-probe.
	authSettlePause    = 15 * time.Second
	gatewaySettlePause = 10 * time.Second

	// httpRestartPause separates the sequential HTTP-service restarts;
	// httpSettlePause precedes the endpoint re-probe.
	httpRestartPause = 5 * time.Second
	httpSettlePause  = 20 * time.Second

	// authPassThreshold / httpPassThreshold are the minimum pass
	// fractions for the auth and HTTP service restarts to count.
	authPassThreshold = 0.7
	httpPassThreshold = 0.6
)

// portContainers maps a port role to the container that publishes it.
var portContainers = map[string]types.Service{
	"gateway_http":      types.ServiceKong,
	"gateway_https":     types.ServiceKong,
	"database_external": types.ServiceDB,
}

// restartContainers restarts every non-running container individually,
// recreating the whole stack when individual restarts are not enough.
func (e *Engine) restartContainers(ctx context.Context, inst *types.Instance) types.ActionResult {
	result := types.ActionResult{Action: "restart_containers"}

	report := e.checker.CheckContainers(ctx, inst)
	var restarted, failed []string
	for _, c := range report.Containers {
		if c.Running {
			continue
		}
		if err := e.runtime.RestartContainer(ctx, c.Name, containerRestartTimeout); err != nil {
			failed = append(failed, c.Name)
			continue
		}
		restarted = append(restarted, c.Name)
	}

	if len(failed) > 0 {
		// Individual restarts did not take; recreate the stack.
		e.logger.Warn().
			Str("instance_id", inst.ID).
			Strs("failed", failed).
			Msg("individual restarts failed, recreating stack")
		if err := e.runtime.Down(ctx, inst); err != nil {
			result.Message = fmt.Sprintf("stack teardown failed: %v", err)
			return result
		}
		if err := e.runtime.Up(ctx, inst); err != nil {
			result.Message = fmt.Sprintf("stack recreate failed: %v", err)
			return result
		}
	}

	if err := e.runtime.WaitHealthy(ctx, inst, runtime.DefaultComposeTimeout); err != nil {
		result.Message = fmt.Sprintf("containers did not become healthy: %v", err)
		return result
	}

	result.Success = true
	result.Message = fmt.Sprintf("%d containers restarted", len(restarted))
	result.Details = map[string]interface{}{"restarted": restarted, "recreated": len(failed) > 0}
	return result
}

// restartDatabaseContainer stops the database, pauses, starts it again
// and blocks until it answers a trivial query or the ready timeout
// elapses.
func (e *Engine) restartDatabaseContainer(ctx context.Context, inst *types.Instance) types.ActionResult {
	result := types.ActionResult{Action: "restart_database_container"}

	name := types.ContainerName(inst.ID, types.ServiceDB)
	if err := e.runtime.StopContainer(ctx, name, containerRestartTimeout); err != nil {
		result.Message = fmt.Sprintf("database stop failed: %v", err)
		return result
	}
	sleepCtx(ctx, dbRestartPause)
	if err := e.runtime.StartContainer(ctx, name); err != nil {
		result.Message = fmt.Sprintf("database start failed: %v", err)
		return result
	}

	deadline := time.Now().Add(dbReadyTimeout)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if report := e.checker.CheckDatabase(ctx, inst); report.Healthy {
			result.Success = true
			result.Message = "database answering queries"
			result.Details = map[string]interface{}{"connection_time_ms": report.ConnectionTimeMS}
			return result
		}
		sleepCtx(ctx, dbSettlePause)
	}
	result.Message = "database did not recover after restart"
	return result
}

// credentialServices are the containers reading credential material,
// restarted in dependency order during regeneration.
var credentialServices = []types.Service{
	types.ServiceDB,
	types.ServiceAuth,
	types.ServiceRest,
	types.ServiceKong,
}

// credentialRestartPause separates the sequential credential restarts.
const credentialRestartPause = 5 * time.Second

// credentialSettleTimeout bounds the wait for the database and auth
// endpoints to answer with the new credentials.
const credentialSettleTimeout = 120 * time.Second

// regenerateCredentials replaces the instance's entire credential set:
// it writes a JSON copy of the old credentials, rewrites the env file,
// restarts db, auth, rest and gateway sequentially, then validates a
// trivial query, an auth settings fetch and a JWT round-trip. On
// validation failure the previous env file and credentials are
// restored.
func (e *Engine) regenerateCredentials(ctx context.Context, inst *types.Instance) types.ActionResult {
	result := types.ActionResult{Action: "regenerate_credentials"}

	if err := e.writeCredentialBackup(inst); err != nil {
		result.Message = fmt.Sprintf("failed to back up credentials: %v", err)
		return result
	}
	envBackup := inst.Docker.EnvFile + ".pre-regen"
	if err := render.CopyFile(inst.Docker.EnvFile, envBackup); err != nil {
		result.Message = fmt.Sprintf("failed to back up env file: %v", err)
		return result
	}

	newCreds, err := alloc.GenerateCredentials()
	if err != nil {
		result.Message = fmt.Sprintf("credential generation failed: %v", err)
		return result
	}
	newCreds.DashboardUsername = inst.Credentials.DashboardUsername

	oldCreds := inst.Credentials
	if err := render.RewriteEnv(inst.Docker.EnvFile, render.CredentialVars(newCreds)); err != nil {
		result.Message = fmt.Sprintf("env rewrite failed: %v", err)
		return result
	}

	inst.Credentials = newCreds
	inst.UpdatedAt = time.Now().UTC()
	if err := e.registry.Put(inst); err != nil {
		result.Message = fmt.Sprintf("failed to persist new credentials: %v", err)
		return result
	}

	if err := e.restartSequentially(ctx, inst, credentialServices); err != nil {
		e.revertCredentials(ctx, inst, oldCreds, envBackup)
		result.Message = errdefs.Wrap(errdefs.KindCredentialRegenFailed, err,
			"restart with new credentials failed").Error()
		return result
	}

	if err := e.validateCredentials(ctx, inst); err != nil {
		e.revertCredentials(ctx, inst, oldCreds, envBackup)
		result.Message = errdefs.Wrap(errdefs.KindCredentialRegenFailed, err,
			"new credentials failed validation").Error()
		return result
	}

	result.Success = true
	result.Message = "credentials regenerated and validated"
	return result
}

// writeCredentialBackup saves the current credential set as JSON next
// to the instance's other artifacts.
func (e *Engine) writeCredentialBackup(inst *types.Instance) error {
	dir := filepath.Join(filepath.Dir(inst.Docker.EnvFile), "backup-credentials-"+inst.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(inst.Credentials, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("credentials-%d.json", time.Now().Unix()))
	return os.WriteFile(path, data, 0o600)
}

// validateCredentials waits for the database and auth service to
// accept the new material: a trivial query, a settings fetch and the
// JWT round-trip inside the auth deep-probe.
func (e *Engine) validateCredentials(ctx context.Context, inst *types.Instance) error {
	deadline := time.Now().Add(credentialSettleTimeout)
	var lastErr error
	for time.Now().Before(deadline) && ctx.Err() == nil {
		db := e.checker.CheckDatabase(ctx, inst)
		if !db.Healthy {
			lastErr = fmt.Errorf("database: %s", db.Error)
			sleepCtx(ctx, dbSettlePause)
			continue
		}
		auth := e.checker.CheckAuth(ctx, inst)
		if auth.PassRatio() < authPassThreshold {
			lastErr = fmt.Errorf("auth checks passing %.0f%%", auth.PassRatio()*100)
			sleepCtx(ctx, dbSettlePause)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return lastErr
}

// revertCredentials restores the pre-regeneration env file and
// credential set, then restarts the affected containers best-effort.
func (e *Engine) revertCredentials(ctx context.Context, inst *types.Instance, old types.Credentials, envBackup string) {
	inst.Credentials = old
	inst.UpdatedAt = time.Now().UTC()
	if err := e.registry.Put(inst); err != nil {
		e.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("failed to persist reverted credentials")
	}
	if err := render.CopyFile(envBackup, inst.Docker.EnvFile); err != nil {
		e.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("failed to restore env file after credential revert")
		return
	}
	if err := e.restartSequentially(ctx, inst, credentialServices); err != nil {
		e.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("restart after credential revert failed")
	}
}

// restartSequentially restarts the given services one at a time,
// pausing between restarts.
func (e *Engine) restartSequentially(ctx context.Context, inst *types.Instance, services []types.Service) error {
	for _, svc := range services {
		name := types.ContainerName(inst.ID, svc)
		if err := e.runtime.RestartContainer(ctx, name, containerRestartTimeout); err != nil {
			return fmt.Errorf("restart %s: %w", name, err)
		}
		sleepCtx(ctx, credentialRestartPause)
	}
	return nil
}

// fixNetworkConnectivity re-tests each failing port, restarts the
// container owning it unless a live process already answers there, and
// for ports that stay dead tries to open a host-firewall allow rule.
func (e *Engine) fixNetworkConnectivity(ctx context.Context, inst *types.Instance, params map[string]string) types.ActionResult {
	result := types.ActionResult{Action: "fix_network_connectivity"}

	report := e.checker.CheckNetwork(ctx, inst)
	reachableNow := make(map[string]bool, len(report.Ports))
	for _, pc := range report.Ports {
		reachableNow[pc.Role] = pc.Reachable
	}

	roles := failingRoles(params)
	if len(roles) == 0 {
		// Parameters absent; derive from the fresh probe.
		for _, pc := range report.Ports {
			if !pc.Reachable {
				roles = append(roles, pc.Role)
			}
		}
	}

	restarted := make(map[types.Service]bool)
	var skipped, alreadyListening []string
	for _, role := range roles {
		if reachableNow[role] {
			// A live process already answers on the port; restarting
			// the container would only interrupt it.
			alreadyListening = append(alreadyListening, role)
			continue
		}
		svc, ok := portContainers[role]
		if !ok {
			skipped = append(skipped, role)
			continue
		}
		if restarted[svc] {
			continue
		}
		name := types.ContainerName(inst.ID, svc)
		if err := e.runtime.RestartContainer(ctx, name, containerRestartTimeout); err != nil {
			result.Message = fmt.Sprintf("restart %s failed: %v", name, err)
			return result
		}
		restarted[svc] = true
	}
	sleepCtx(ctx, phasePause)

	recheck := e.checker.CheckNetwork(ctx, inst)
	var unreachable []string
	for _, pc := range recheck.Ports {
		if !pc.Reachable {
			unreachable = append(unreachable, fmt.Sprintf("%s:%d", pc.Role, pc.Port))
			e.firewallAllow(pc.Port)
		}
	}
	result.Details = map[string]interface{}{
		"restarted_containers": len(restarted),
		"skipped_roles":        skipped,
		"already_listening":    alreadyListening,
		"still_unreachable":    unreachable,
	}
	if len(unreachable) > 0 {
		result.Message = fmt.Sprintf("%d ports still unreachable", len(unreachable))
		return result
	}
	result.Success = true
	result.Message = "all ports reachable"
	return result
}

// allowFirewallPort opens a host-firewall allow rule for a TCP port.
// Best-effort and platform-dependent: a missing iptables binary or a
// failed command is logged and otherwise ignored.
func (e *Engine) allowFirewallPort(port int) {
	bin, err := exec.LookPath("iptables")
	if err != nil {
		e.logger.Debug().Int("port", port).Msg("iptables not available, skipping firewall rule")
		return
	}
	dport := strconv.Itoa(port)
	if exec.Command(bin, "-C", "INPUT", "-p", "tcp", "--dport", dport, "-j", "ACCEPT").Run() == nil {
		return
	}
	out, err := exec.Command(bin, "-I", "INPUT", "-p", "tcp", "--dport", dport, "-j", "ACCEPT").CombinedOutput()
	if err != nil {
		e.logger.Warn().Err(err).
			Int("port", port).
			Str("output", strings.TrimSpace(string(out))).
			Msg("failed to add firewall allow rule")
	}
}

// restartAuthService restarts auth then the gateway and re-runs the
// auth deep-probe.
func (e *Engine) restartAuthService(ctx context.Context, inst *types.Instance) types.ActionResult {
	result := types.ActionResult{Action: "restart_auth_service"}

	// Auth before gateway: the gateway re-resolves auth upstream on
	// start.
	authName := types.ContainerName(inst.ID, types.ServiceAuth)
	if err := e.runtime.RestartContainer(ctx, authName, containerRestartTimeout); err != nil {
		result.Message = fmt.Sprintf("restart %s failed: %v", authName, err)
		return result
	}
	sleepCtx(ctx, authSettlePause)

	gatewayName := types.ContainerName(inst.ID, types.ServiceKong)
	if err := e.runtime.RestartContainer(ctx, gatewayName, containerRestartTimeout); err != nil {
		result.Message = fmt.Sprintf("restart %s failed: %v", gatewayName, err)
		return result
	}
	sleepCtx(ctx, gatewaySettlePause)

	report := e.checker.CheckAuth(ctx, inst)
	ratio := report.PassRatio()
	result.Details = map[string]interface{}{"pass_ratio": ratio}
	if ratio < authPassThreshold {
		result.Message = fmt.Sprintf("auth checks still failing (%.0f%% passing)", ratio*100)
		return result
	}
	result.Success = true
	result.Message = "auth service responding"
	return result
}

// restartHTTPServices restarts the HTTP-facing containers and
// re-probes the endpoints.
func (e *Engine) restartHTTPServices(ctx context.Context, inst *types.Instance) types.ActionResult {
	result := types.ActionResult{Action: "restart_http_services"}

	for _, svc := range []types.Service{types.ServiceRest, types.ServiceKong, types.ServiceStorage} {
		name := types.ContainerName(inst.ID, svc)
		if err := e.runtime.RestartContainer(ctx, name, containerRestartTimeout); err != nil {
			result.Message = fmt.Sprintf("restart %s failed: %v", name, err)
			return result
		}
		sleepCtx(ctx, httpRestartPause)
	}
	sleepCtx(ctx, httpSettlePause)

	report := e.checker.CheckHTTPServices(ctx, inst)
	healthy := 0
	for _, ep := range report.Endpoints {
		if ep.Healthy {
			healthy++
		}
	}
	ratio := 0.0
	if len(report.Endpoints) > 0 {
		ratio = float64(healthy) / float64(len(report.Endpoints))
	}
	result.Details = map[string]interface{}{"healthy_endpoints": healthy, "total_endpoints": len(report.Endpoints)}
	if ratio < httpPassThreshold {
		result.Message = fmt.Sprintf("%d of %d endpoints healthy", healthy, len(report.Endpoints))
		return result
	}
	result.Success = true
	result.Message = "http services responding"
	return result
}

func failingRoles(params map[string]string) []string {
	raw, ok := params["ports"]
	if !ok || raw == "" {
		return nil
	}
	var roles []string
	for _, role := range strings.Split(raw, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

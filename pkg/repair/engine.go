package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/herdctl/herd/pkg/analyze"
	"github.com/herdctl/herd/pkg/backup"
	"github.com/herdctl/herd/pkg/diagnose"
	"github.com/herdctl/herd/pkg/health"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/runtime"
	"github.com/herdctl/herd/pkg/types"
)

const (
	// actionTimeout bounds one repair primitive.
	actionTimeout = 2 * time.Minute

	// actionPause separates consecutive actions; phasePause lets the
	// stack settle before the post-phase quick check.
	actionPause = 2 * time.Second
	phasePause  = 5 * time.Second

	// improvementThreshold is the minimum reduction in critical issues
	// for a run that did not reach full health to still count as a
	// success.
	improvementThreshold = 0.7
)

// Options controls one repair run.
type Options struct {
	// AutoBackup snapshots the instance before any action runs.
	AutoBackup bool
	// AutoRollback restores the pre-repair snapshot when a critical
	// action fails. Requires AutoBackup.
	AutoRollback bool
	// Force runs the plan even when the initial diagnostic reports the
	// instance healthy.
	Force bool
}

// DefaultOptions is the conservative default: snapshot first, roll
// back on critical failure.
var DefaultOptions = Options{AutoBackup: true, AutoRollback: true}

// InstanceStore is the registry view the repair engine needs.
type InstanceStore interface {
	Get(id string) (*types.Instance, bool)
	Put(inst *types.Instance) error
}

// Engine drives auto-repair: diagnose, plan, snapshot, execute the
// plan phase by phase, verify, and roll back if things got worse.
type Engine struct {
	registry  InstanceStore
	runtime   runtime.Driver
	diagnose  *diagnose.Engine
	checker   *health.Checker
	backups   *backup.Manager
	retention int
	logger    zerolog.Logger

	// firewallAllow opens a host-firewall allow rule for a port.
	// Defaults to the iptables implementation; tests stub it.
	firewallAllow func(port int)
}

// NewEngine creates a repair engine. retention is the number of
// auto-repair snapshots kept per instance.
func NewEngine(registry InstanceStore, rt runtime.Driver, diag *diagnose.Engine,
	checker *health.Checker, backups *backup.Manager, retention int) *Engine {
	e := &Engine{
		registry:  registry,
		runtime:   rt,
		diagnose:  diag,
		checker:   checker,
		backups:   backups,
		retention: retention,
		logger:    log.WithComponent("repair"),
	}
	e.firewallAllow = e.allowFirewallPort
	return e
}

// Plan runs a fresh diagnostic and returns the repair plan without
// executing anything.
func (e *Engine) Plan(ctx context.Context, inst *types.Instance) (*types.Diagnostic, *types.RepairPlan) {
	d := e.diagnose.Force(ctx, inst)
	return d, analyze.BuildPlan(d)
}

// Repair runs the full auto-repair sequence for one instance. The
// caller holds the instance's mutation lock.
func (e *Engine) Repair(ctx context.Context, inst *types.Instance, opts Options) (*types.RepairOutcome, error) {
	logger := e.logger.With().Str("instance_id", inst.ID).Logger()

	priorStatus := inst.Status
	inst.Status = types.InstanceStatusRepairing
	inst.UpdatedAt = time.Now().UTC()
	if err := e.registry.Put(inst); err != nil {
		return nil, err
	}

	initial := e.diagnose.Force(ctx, inst)
	outcome := &types.RepairOutcome{
		InitialCriticalIssues: initial.CriticalCount(),
	}

	plan := analyze.BuildPlan(initial)
	if (initial.OverallHealthy && !opts.Force) || plan.Empty() {
		outcome.Success = true
		outcome.Message = "no repairable problems detected"
		outcome.FinalCriticalIssues = outcome.InitialCriticalIssues
		outcome.FinalDiagnostic = initial
		inst.Status = priorStatus
		if initial.OverallHealthy {
			inst.Status = types.InstanceStatusRunning
		}
		inst.UpdatedAt = time.Now().UTC()
		return outcome, e.registry.Put(inst)
	}

	logger.Info().
		Int("actions", len(plan.Actions)).
		Int("critical_issues", outcome.InitialCriticalIssues).
		Str("summary", plan.Summary).
		Msg("starting repair")

	var snapshot *types.Backup
	if opts.AutoBackup {
		b, err := e.backups.Snapshot(ctx, inst, "auto_repair")
		if err != nil {
			if opts.AutoRollback {
				inst.Status = priorStatus
				inst.UpdatedAt = time.Now().UTC()
				_ = e.registry.Put(inst)
				return nil, fmt.Errorf("pre-repair snapshot failed and rollback was requested: %w", err)
			}
			logger.Warn().Err(err).Msg("pre-repair snapshot failed, continuing without rollback")
		} else {
			snapshot = b
			outcome.BackupID = b.BackupID
		}
		_ = e.backups.Cleanup(inst.ID, e.retention)
	}

	criticalFailed := e.executePlan(ctx, inst, plan, outcome)
	outcome.RepairPerformed = len(outcome.ActionsExecuted) > 0

	if criticalFailed && opts.AutoRollback && snapshot != nil {
		logger.Warn().Str("backup_id", snapshot.BackupID).Msg("critical action failed, rolling back")
		if _, err := e.backups.Restore(ctx, inst.ID, snapshot.BackupID); err != nil {
			logger.Error().Err(err).Msg("rollback failed")
			outcome.ManualRecoveryRequired = true
		} else {
			outcome.RollbackPerformed = true
		}
	} else if criticalFailed {
		outcome.ManualRecoveryRequired = snapshot == nil
	}

	final := e.diagnose.Force(ctx, inst)
	outcome.FinalDiagnostic = final
	outcome.FinalCriticalIssues = final.CriticalCount()
	outcome.Success = repairSucceeded(outcome.InitialCriticalIssues, final)
	outcome.Message = outcomeMessage(outcome)

	now := time.Now().UTC()
	inst.LastRepair = &now
	inst.UpdatedAt = now
	if outcome.Success {
		inst.Status = types.InstanceStatusRunning
	} else {
		inst.Status = types.InstanceStatusError
	}
	if err := e.registry.Put(inst); err != nil {
		return outcome, err
	}
	e.diagnose.Invalidate(inst.ID)

	logger.Info().
		Bool("success", outcome.Success).
		Int("initial_critical", outcome.InitialCriticalIssues).
		Int("final_critical", outcome.FinalCriticalIssues).
		Bool("rolled_back", outcome.RollbackPerformed).
		Msg("repair finished")
	return outcome, nil
}

// executePlan runs the plan phase by phase. Returns true when a
// critical action failed and execution was abandoned.
func (e *Engine) executePlan(ctx context.Context, inst *types.Instance, plan *types.RepairPlan, outcome *types.RepairOutcome) bool {
	for _, phase := range plan.Phases {
		for _, action := range phase.Actions {
			result := e.runAction(ctx, inst, action)
			outcome.ActionsExecuted = append(outcome.ActionsExecuted, result)

			if !result.Success {
				if action.Critical {
					e.logger.Error().
						Str("instance_id", inst.ID).
						Str("action", action.Type).
						Str("message", result.Message).
						Msg("critical repair action failed")
					return true
				}
				e.logger.Warn().
					Str("instance_id", inst.ID).
					Str("action", action.Type).
					Str("message", result.Message).
					Msg("repair action failed, continuing")
			}
			sleepCtx(ctx, actionPause)
		}

		sleepCtx(ctx, phasePause)
		quick := e.diagnose.Quick(ctx, inst)
		e.logger.Debug().
			Str("instance_id", inst.ID).
			Str("phase", string(phase.Category)).
			Bool("healthy", quick.OverallHealthy).
			Msg("post-phase check")
		if quick.OverallHealthy {
			return false
		}
	}
	return false
}

// runAction dispatches one primitive under the action timeout.
func (e *Engine) runAction(ctx context.Context, inst *types.Instance, action types.Action) types.ActionResult {
	actx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	e.logger.Info().
		Str("instance_id", inst.ID).
		Str("action", action.Type).
		Msg("executing repair action")

	switch action.Method {
	case types.MethodRestartContainers:
		return e.restartContainers(actx, inst)
	case types.MethodRestartDatabaseContainer:
		return e.restartDatabaseContainer(actx, inst)
	case types.MethodRegenerateCredentials:
		return e.regenerateCredentials(actx, inst)
	case types.MethodFixNetworkConnectivity:
		return e.fixNetworkConnectivity(actx, inst, action.Parameters)
	case types.MethodRestartAuthService:
		return e.restartAuthService(actx, inst)
	case types.MethodRestartHTTPServices:
		return e.restartHTTPServices(actx, inst)
	default:
		return types.ActionResult{
			Action:  action.Type,
			Message: fmt.Sprintf("unknown repair method %q", action.Method),
		}
	}
}

// repairSucceeded: full health, or enough of the critical issues gone.
func repairSucceeded(initialCritical int, final *types.Diagnostic) bool {
	if final.OverallHealthy {
		return true
	}
	if initialCritical == 0 {
		return false
	}
	resolved := initialCritical - final.CriticalCount()
	return float64(resolved)/float64(initialCritical) >= improvementThreshold
}

func outcomeMessage(o *types.RepairOutcome) string {
	switch {
	case o.Success && o.FinalCriticalIssues == 0:
		return "instance healthy after repair"
	case o.Success:
		return fmt.Sprintf("repair resolved %d of %d critical issues",
			o.InitialCriticalIssues-o.FinalCriticalIssues, o.InitialCriticalIssues)
	case o.RollbackPerformed:
		return "repair failed, instance rolled back to pre-repair snapshot"
	case o.ManualRecoveryRequired:
		return "repair failed and no rollback was possible, manual recovery required"
	default:
		return "repair did not restore health"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

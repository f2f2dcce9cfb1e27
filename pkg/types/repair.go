package types

// RepairMethod names a repair primitive the engine can invoke.
type RepairMethod string

const (
	MethodRestartContainers        RepairMethod = "restart_containers"
	MethodRestartDatabaseContainer RepairMethod = "restart_database_container"
	MethodRegenerateCredentials    RepairMethod = "regenerate_credentials"
	MethodFixNetworkConnectivity   RepairMethod = "fix_network_connectivity"
	MethodRestartAuthService       RepairMethod = "restart_auth_service"
	MethodRestartHTTPServices      RepairMethod = "restart_http_services"
)

// Action is one step of a repair plan. Lower priority executes earlier.
type Action struct {
	Type             string            `json:"type"`
	Description      string            `json:"description"`
	Method           RepairMethod      `json:"method"`
	Parameters       map[string]string `json:"parameters,omitempty"`
	Category         Category          `json:"category"`
	Priority         int               `json:"priority"`
	Critical         bool              `json:"critical"`
	EstimatedSeconds int               `json:"estimated_seconds"`
	DependsOn        []Category        `json:"depends_on,omitempty"`
}

// Phase groups the actions of one category, executed together.
type Phase struct {
	Category Category `json:"category"`
	Actions  []Action `json:"actions"`
}

// RepairPlan is the ordered list of primitives the auto-repair engine
// will execute to restore health.
type RepairPlan struct {
	Actions               []Action `json:"actions"`
	Phases                []Phase  `json:"phases"`
	TotalEstimatedSeconds int      `json:"total_estimated_seconds"`
	Summary               string   `json:"summary"`
}

// Empty reports whether the plan contains no actions.
func (p *RepairPlan) Empty() bool {
	return p == nil || len(p.Actions) == 0
}

// ActionResult is the structured outcome of one repair primitive.
type ActionResult struct {
	Action  string                 `json:"action"`
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RepairOutcome is the result of a full auto-repair run.
type RepairOutcome struct {
	Success                bool           `json:"success"`
	RepairPerformed        bool           `json:"repair_performed"`
	Message                string         `json:"message"`
	BackupID               string         `json:"backup_id,omitempty"`
	RollbackPerformed      bool           `json:"rollback_performed"`
	ManualRecoveryRequired bool           `json:"manual_recovery_required,omitempty"`
	ActionsExecuted        []ActionResult `json:"actions_executed,omitempty"`
	InitialCriticalIssues  int            `json:"initial_critical_issues"`
	FinalCriticalIssues    int            `json:"final_critical_issues"`
	FinalDiagnostic        *Diagnostic    `json:"final_diagnostic,omitempty"`
}

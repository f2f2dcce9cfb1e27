package analyze

import (
	"testing"

	"github.com/herdctl/herd/pkg/types"
)

func diagnosticWith(mutate func(*types.DiagnosticResults)) *types.Diagnostic {
	d := &types.Diagnostic{
		InstanceID: "abc",
		Results: types.DiagnosticResults{
			Containers:   &types.ContainerReport{Healthy: true},
			HTTPServices: &types.HTTPReport{Healthy: true},
			Database:     &types.DatabaseReport{Healthy: true},
			AuthService:  &types.AuthReport{Healthy: true},
			Disk:         &types.DiskReport{Healthy: true},
			Network:      &types.NetworkReport{Healthy: true},
		},
		OverallHealthy: true,
	}
	mutate(&d.Results)
	return d
}

func TestBuildPlanHealthy(t *testing.T) {
	plan := BuildPlan(diagnosticWith(func(r *types.DiagnosticResults) {}))
	if len(plan.Actions) != 0 {
		t.Errorf("actions for healthy diagnostic: %+v", plan.Actions)
	}
	if plan.Summary != "no repairable problems detected" {
		t.Errorf("summary = %q", plan.Summary)
	}
}

func TestBuildPlanActionMapping(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*types.DiagnosticResults)
		wantMethod types.RepairMethod
		critical   bool
	}{
		{
			name:       "stopped containers",
			mutate:     func(r *types.DiagnosticResults) { r.Containers = &types.ContainerReport{} },
			wantMethod: types.MethodRestartContainers,
			critical:   true,
		},
		{
			name: "database down",
			mutate: func(r *types.DiagnosticResults) {
				r.Database = &types.DatabaseReport{Error: "connection refused"}
			},
			wantMethod: types.MethodRestartDatabaseContainer,
			critical:   true,
		},
		{
			name: "database credentials broken",
			mutate: func(r *types.DiagnosticResults) {
				r.Database = &types.DatabaseReport{Error: "FATAL: password authentication failed for user"}
			},
			wantMethod: types.MethodRegenerateCredentials,
			critical:   true,
		},
		{
			name: "database sqlstate marker",
			mutate: func(r *types.DiagnosticResults) {
				r.Database = &types.DatabaseReport{Error: "SQLSTATE 28P01"}
			},
			wantMethod: types.MethodRegenerateCredentials,
			critical:   true,
		},
		{
			name:       "auth failing",
			mutate:     func(r *types.DiagnosticResults) { r.AuthService = &types.AuthReport{} },
			wantMethod: types.MethodRestartAuthService,
			critical:   false,
		},
		{
			name:       "http services failing",
			mutate:     func(r *types.DiagnosticResults) { r.HTTPServices = &types.HTTPReport{} },
			wantMethod: types.MethodRestartHTTPServices,
			critical:   false,
		},
		{
			name:       "network unreachable",
			mutate:     func(r *types.DiagnosticResults) { r.Network = &types.NetworkReport{} },
			wantMethod: types.MethodFixNetworkConnectivity,
			critical:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := BuildPlan(diagnosticWith(tt.mutate))
			if len(plan.Actions) != 1 {
				t.Fatalf("actions = %d, want 1", len(plan.Actions))
			}
			a := plan.Actions[0]
			if a.Method != tt.wantMethod {
				t.Errorf("method = %s, want %s", a.Method, tt.wantMethod)
			}
			if a.Critical != tt.critical {
				t.Errorf("critical = %v, want %v", a.Critical, tt.critical)
			}
		})
	}
}

func TestBuildPlanPriorityOrder(t *testing.T) {
	plan := BuildPlan(diagnosticWith(func(r *types.DiagnosticResults) {
		r.HTTPServices = &types.HTTPReport{}
		r.AuthService = &types.AuthReport{}
		r.Database = &types.DatabaseReport{Error: "connection refused"}
		r.Containers = &types.ContainerReport{}
		r.Network = &types.NetworkReport{}
	}))

	if len(plan.Actions) != 5 {
		t.Fatalf("actions = %d, want 5", len(plan.Actions))
	}
	for i := 1; i < len(plan.Actions); i++ {
		if plan.Actions[i-1].Priority > plan.Actions[i].Priority {
			t.Fatalf("actions out of priority order: %s before %s",
				plan.Actions[i-1].Type, plan.Actions[i].Type)
		}
	}
	if plan.Actions[0].Method != types.MethodRestartContainers {
		t.Errorf("first action = %s, want restart_containers", plan.Actions[0].Type)
	}
	if plan.Actions[len(plan.Actions)-1].Method != types.MethodRestartHTTPServices {
		t.Errorf("last action = %s, want restart_http_services", plan.Actions[len(plan.Actions)-1].Type)
	}
}

func TestBuildPlanPhases(t *testing.T) {
	plan := BuildPlan(diagnosticWith(func(r *types.DiagnosticResults) {
		r.Containers = &types.ContainerReport{}
		r.Database = &types.DatabaseReport{Error: "connection refused"}
	}))

	if len(plan.Phases) != 2 {
		t.Fatalf("phases = %d, want 2", len(plan.Phases))
	}
	if plan.Phases[0].Category != types.CategoryInfrastructure {
		t.Errorf("first phase = %s", plan.Phases[0].Category)
	}
	if plan.Phases[1].Category != types.CategoryDatabase {
		t.Errorf("second phase = %s", plan.Phases[1].Category)
	}
	if plan.TotalEstimatedSeconds != 45+90 {
		t.Errorf("TotalEstimatedSeconds = %d", plan.TotalEstimatedSeconds)
	}
}

func TestBuildPlanNetworkParameters(t *testing.T) {
	plan := BuildPlan(diagnosticWith(func(r *types.DiagnosticResults) {
		r.Network = &types.NetworkReport{
			Ports: []types.PortCheck{
				{Role: "gateway_http", Port: 8100, Reachable: true},
				{Role: "database_external", Port: 5500},
				{Role: "analytics", Port: 4100},
			},
		}
	}))

	if len(plan.Actions) != 1 {
		t.Fatalf("actions = %d", len(plan.Actions))
	}
	if got := plan.Actions[0].Parameters["ports"]; got != "database_external,analytics" {
		t.Errorf("ports parameter = %q", got)
	}
}

func TestCategoryDependenciesRespectPriority(t *testing.T) {
	for cat, deps := range CategoryDependencies {
		for _, dep := range deps {
			if CategoryPriority[dep] >= CategoryPriority[cat] {
				t.Errorf("%s depends on %s, which runs later", cat, dep)
			}
		}
	}
}

func TestIsCredentialError(t *testing.T) {
	if isCredentialError("dial tcp: connection refused") {
		t.Error("connection error classified as credential failure")
	}
	if !isCredentialError("FATAL: role \"postgres\" does not exist") {
		t.Error("missing role not classified as credential failure")
	}
}

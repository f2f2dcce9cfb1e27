package analyze

import (
	"fmt"
	"sort"
	"strings"

	"github.com/herdctl/herd/pkg/types"
)

// CategoryPriority orders repair phases; lower executes first.
var CategoryPriority = map[types.Category]int{
	types.CategoryInfrastructure: 1,
	types.CategoryDatabase:       2,
	types.CategoryNetwork:        3,
	types.CategoryAuthentication: 4,
	types.CategoryServices:       5,
	types.CategoryValidation:     6,
}

// CategoryDependencies is the fixed category dependency graph.
var CategoryDependencies = map[types.Category][]types.Category{
	types.CategoryInfrastructure: {},
	types.CategoryDatabase:       {types.CategoryInfrastructure},
	types.CategoryNetwork:        {types.CategoryInfrastructure},
	types.CategoryAuthentication: {types.CategoryInfrastructure, types.CategoryDatabase},
	types.CategoryServices:       {types.CategoryInfrastructure, types.CategoryDatabase, types.CategoryNetwork},
	types.CategoryValidation: {types.CategoryInfrastructure, types.CategoryDatabase,
		types.CategoryNetwork, types.CategoryAuthentication, types.CategoryServices},
}

// credentialErrorMarkers identify database failures caused by broken
// authentication rather than a wedged container.
var credentialErrorMarkers = []string{
	"password authentication failed",
	"authentication failed",
	"invalid password",
	"role \"postgres\" does not exist",
	"28p01", // invalid_password SQLSTATE
}

// BuildPlan converts a diagnostic into a prioritized, dependency
// ordered repair plan. Pure function: no I/O, no clock.
func BuildPlan(d *types.Diagnostic) *types.RepairPlan {
	plan := &types.RepairPlan{}
	r := d.Results

	if r.Containers != nil && !r.Containers.Healthy {
		plan.Actions = append(plan.Actions, types.Action{
			Type:             "restart_containers",
			Description:      "restart stopped containers, falling back to full recreate",
			Method:           types.MethodRestartContainers,
			Category:         types.CategoryInfrastructure,
			Priority:         CategoryPriority[types.CategoryInfrastructure],
			Critical:         true,
			EstimatedSeconds: 45,
			DependsOn:        CategoryDependencies[types.CategoryInfrastructure],
		})
	}

	if r.Database != nil && !r.Database.Healthy {
		if isCredentialError(r.Database.Error) {
			plan.Actions = append(plan.Actions, types.Action{
				Type:             "regenerate_credentials",
				Description:      "regenerate database credentials and signing material",
				Method:           types.MethodRegenerateCredentials,
				Category:         types.CategoryDatabase,
				Priority:         CategoryPriority[types.CategoryDatabase],
				Critical:         true,
				EstimatedSeconds: 60,
				DependsOn:        CategoryDependencies[types.CategoryDatabase],
			})
		} else {
			plan.Actions = append(plan.Actions, types.Action{
				Type:             "restart_database_container",
				Description:      "restart the database container and wait for queries",
				Method:           types.MethodRestartDatabaseContainer,
				Category:         types.CategoryDatabase,
				Priority:         CategoryPriority[types.CategoryDatabase],
				Critical:         true,
				EstimatedSeconds: 90,
				DependsOn:        CategoryDependencies[types.CategoryDatabase],
			})
		}
	}

	if r.Network != nil && !r.Network.Healthy {
		action := types.Action{
			Type:             "fix_network_connectivity",
			Description:      "re-test unreachable ports and restart their containers",
			Method:           types.MethodFixNetworkConnectivity,
			Category:         types.CategoryNetwork,
			Priority:         CategoryPriority[types.CategoryNetwork],
			Critical:         false,
			EstimatedSeconds: 30,
			DependsOn:        CategoryDependencies[types.CategoryNetwork],
		}
		if failing := failingPorts(r.Network); len(failing) > 0 {
			action.Parameters = map[string]string{"ports": strings.Join(failing, ",")}
		}
		plan.Actions = append(plan.Actions, action)
	}

	if r.AuthService != nil && !r.AuthService.Healthy {
		plan.Actions = append(plan.Actions, types.Action{
			Type:             "restart_auth_service",
			Description:      "restart auth then gateway and re-run the auth deep-probe",
			Method:           types.MethodRestartAuthService,
			Category:         types.CategoryAuthentication,
			Priority:         CategoryPriority[types.CategoryAuthentication],
			Critical:         false,
			EstimatedSeconds: 25,
			DependsOn:        CategoryDependencies[types.CategoryAuthentication],
		})
	}

	if r.HTTPServices != nil && !r.HTTPServices.Healthy {
		plan.Actions = append(plan.Actions, types.Action{
			Type:             "restart_http_services",
			Description:      "restart rest, gateway and storage containers",
			Method:           types.MethodRestartHTTPServices,
			Category:         types.CategoryServices,
			Priority:         CategoryPriority[types.CategoryServices],
			Critical:         false,
			EstimatedSeconds: 25,
			DependsOn:        CategoryDependencies[types.CategoryServices],
		})
	}

	sort.SliceStable(plan.Actions, func(i, j int) bool {
		return plan.Actions[i].Priority < plan.Actions[j].Priority
	})

	plan.Phases = groupPhases(plan.Actions)
	for _, a := range plan.Actions {
		plan.TotalEstimatedSeconds += a.EstimatedSeconds
	}
	plan.Summary = summarize(plan)
	return plan
}

// groupPhases groups actions by category, preserving priority order.
func groupPhases(actions []types.Action) []types.Phase {
	byCategory := make(map[types.Category][]types.Action)
	var order []types.Category
	for _, a := range actions {
		if _, seen := byCategory[a.Category]; !seen {
			order = append(order, a.Category)
		}
		byCategory[a.Category] = append(byCategory[a.Category], a)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return CategoryPriority[order[i]] < CategoryPriority[order[j]]
	})
	phases := make([]types.Phase, 0, len(order))
	for _, cat := range order {
		phases = append(phases, types.Phase{Category: cat, Actions: byCategory[cat]})
	}
	return phases
}

func summarize(plan *types.RepairPlan) string {
	if len(plan.Actions) == 0 {
		return "no repairable problems detected"
	}
	critical := 0
	for _, a := range plan.Actions {
		if a.Critical {
			critical++
		}
	}
	return fmt.Sprintf("%d actions in %d phases (%d critical), estimated %ds",
		len(plan.Actions), len(plan.Phases), critical, plan.TotalEstimatedSeconds)
}

func isCredentialError(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range credentialErrorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func failingPorts(r *types.NetworkReport) []string {
	var out []string
	for _, pc := range r.Ports {
		if !pc.Reachable {
			out = append(out, pc.Role)
		}
	}
	return out
}

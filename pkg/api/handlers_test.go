package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/herdctl/herd/pkg/alloc"
	"github.com/herdctl/herd/pkg/backup"
	"github.com/herdctl/herd/pkg/config"
	"github.com/herdctl/herd/pkg/configedit"
	"github.com/herdctl/herd/pkg/diagnose"
	"github.com/herdctl/herd/pkg/health"
	"github.com/herdctl/herd/pkg/lifecycle"
	"github.com/herdctl/herd/pkg/registry"
	"github.com/herdctl/herd/pkg/render"
	"github.com/herdctl/herd/pkg/repair"
	"github.com/herdctl/herd/pkg/runtime"
	"github.com/herdctl/herd/pkg/types"
)

const testCompose = `services:
  db:
    container_name: supabase-db-${INSTANCE_ID}
    environment:
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD}
`

const testEnvTemplate = `POSTGRES_PASSWORD=${POSTGRES_PASSWORD}
JWT_SECRET=${JWT_SECRET}
`

type healthyProber struct{}

func (healthyProber) RunFullDiagnostic(ctx context.Context, inst *types.Instance) *types.Diagnostic {
	return &types.Diagnostic{Timestamp: time.Now(), InstanceID: inst.ID, OverallHealthy: true}
}

func (healthyProber) QuickHealthCheck(ctx context.Context, inst *types.Instance) *types.Diagnostic {
	return &types.Diagnostic{Timestamp: time.Now(), InstanceID: inst.ID, OverallHealthy: true}
}

// newTestServer wires a full server over a fake runtime and temp state.
func newTestServer(t *testing.T) (*httptest.Server, *runtime.FakeDriver) {
	t.Helper()
	dataRoot := t.TempDir()
	templateDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(templateDir, "docker-compose.yml"), []byte(testCompose), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(templateDir, ".env.template"), []byte(testEnvTemplate), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		DataRoot:        dataRoot,
		TemplateDir:     templateDir,
		ExternalHost:    "127.0.0.1",
		ListenAddr:      "127.0.0.1:0",
		MaxInstances:    5,
		CreateTimeout:   30 * time.Second,
		RepairRetention: 1,
	}

	reg, err := registry.Open(cfg.RegistryPath())
	if err != nil {
		t.Fatal(err)
	}
	driver := runtime.NewFakeDriver()
	diag := diagnose.NewEngine(healthyProber{}, time.Minute, time.Minute, nil)
	locks := lifecycle.NewInstanceLocks()

	controller := lifecycle.NewController(cfg, reg, alloc.NewAllocator(reg),
		render.NewRenderer(templateDir, dataRoot), driver, diag, locks)
	controller.SetHostProbe(func(string) lifecycle.HostResources {
		return lifecycle.HostResources{FreeMemoryMB: 8192, FreeDiskMB: 16384}
	})

	checker := health.NewChecker(driver, cfg.ExternalHost)
	backups := backup.NewManager(cfg.BackupRoot(), cfg.ExternalHost, reg, driver)
	repairs := repair.NewEngine(reg, driver, diag, checker, backups, cfg.RepairRetention)
	editor := configedit.NewEditor(reg, driver, backups, diag, locks)

	s := NewServer(cfg, controller, diag, nil, repairs, backups, editor, "test")
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return ts, driver
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func createInstance(t *testing.T, ts *httptest.Server, name string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/instances",
		map[string]interface{}{"projectName": name})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create %s: status %d, body %v", name, resp.StatusCode, body)
	}
	inst := body["instance"].(map[string]interface{})
	return inst["id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestInstanceLifecycleFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createInstance(t, ts, "alpha")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/instances", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	stats := body["stats"].(map[string]interface{})
	if stats["total"].(float64) != 1 || stats["running"].(float64) != 1 {
		t.Errorf("stats = %v", stats)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	inst := body["instance"].(map[string]interface{})
	if inst["name"] != "alpha" {
		t.Errorf("instance = %v", inst)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/instances/"+id+"/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/instances/"+id+"/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/instances/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestCreateInstanceValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/instances",
		map[string]interface{}{"projectName": "bad name!"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["success"] != false || body["kind"] != "InvalidName" {
		t.Errorf("body = %v", body)
	}
}

func TestUnknownInstanceReturns404(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/instances/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["kind"] != "NotFound" {
		t.Errorf("body = %v", body)
	}
}

func TestLogsEndpoint(t *testing.T) {
	ts, driver := newTestServer(t)
	id := createInstance(t, ts, "alpha")
	driver.SetLogs(types.ContainerName(id, types.ServiceDB), "ready\n")

	resp, body := doJSON(t, http.MethodGet,
		ts.URL+"/api/instances/"+id+"/logs?container=db&tail=10", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["logs"] != "ready\n" {
		t.Errorf("logs = %v", body["logs"])
	}

	resp, _ = doJSON(t, http.MethodGet,
		ts.URL+"/api/instances/"+id+"/logs?container=postgres", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown container status = %d", resp.StatusCode)
	}
}

func TestDiagnosticsEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createInstance(t, ts, "alpha")

	// No cached diagnostic yet.
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id+"/last-diagnostic", nil)
	if resp.StatusCode != http.StatusOK || body["success"] != false {
		t.Errorf("stale last-diagnostic: status %d, body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id+"/run-diagnostics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status = %d", resp.StatusCode)
	}
	d := body["diagnostic"].(map[string]interface{})
	if d["overall_healthy"] != true {
		t.Errorf("diagnostic = %v", d)
	}

	// Now the cache answers.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id+"/last-diagnostic", nil)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Errorf("cached last-diagnostic: status %d, body %v", resp.StatusCode, body)
	}

	// History is not wired in this fixture.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id+"/diagnostic-history", nil)
	if resp.StatusCode != http.StatusOK || body["success"] != false {
		t.Errorf("history: status %d, body %v", resp.StatusCode, body)
	}
}

func TestAutoRepairRequiresConfirmation(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createInstance(t, ts, "alpha")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/instances/"+id+"/auto-repair",
		map[string]interface{}{"userConfirmed": false})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["kind"] != "FieldValidationFailed" {
		t.Errorf("body = %v", body)
	}
}

func TestAutoRepairHealthyInstance(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createInstance(t, ts, "alpha")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/instances/"+id+"/auto-repair",
		map[string]interface{}{"userConfirmed": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["success"] != true || body["repair_performed"] != false {
		t.Errorf("outcome = %v", body)
	}
}

func TestBackupEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createInstance(t, ts, "alpha")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/instances/"+id+"/backup", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("backup status = %d, body %v", resp.StatusCode, body)
	}
	b := body["backup"].(map[string]interface{})
	if b["reason"] != "manual" {
		t.Errorf("backup = %v", b)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id+"/backups", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list backups status = %d", resp.StatusCode)
	}
	backups := body["backups"].([]interface{})
	if len(backups) != 1 {
		t.Errorf("backups = %v", backups)
	}
}

func TestManualBackupAppliesRetention(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createInstance(t, ts, "alpha")

	first, firstBody := doJSON(t, http.MethodPost, ts.URL+"/api/instances/"+id+"/backup", nil)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first backup status = %d, body %v", first.StatusCode, firstBody)
	}
	// Snapshot directories have second resolution.
	time.Sleep(1100 * time.Millisecond)
	second, secondBody := doJSON(t, http.MethodPost, ts.URL+"/api/instances/"+id+"/backup", nil)
	if second.StatusCode != http.StatusOK {
		t.Fatalf("second backup status = %d, body %v", second.StatusCode, secondBody)
	}

	// Retention keeps only the newest snapshot.
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id+"/backups", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list backups status = %d", resp.StatusCode)
	}
	backups := body["backups"].([]interface{})
	if len(backups) != 1 {
		t.Fatalf("backups = %v", backups)
	}
	newest := backups[0].(map[string]interface{})
	kept := secondBody["backup"].(map[string]interface{})
	if newest["backup_id"] != kept["backup_id"] {
		t.Errorf("kept %v, want newest %v", newest["backup_id"], kept["backup_id"])
	}
}

func TestConfigEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createInstance(t, ts, "alpha")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id+"/config/editable-fields", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("editable-fields status = %d", resp.StatusCode)
	}
	fields := body["fields"].([]interface{})
	if len(fields) != 7 {
		t.Errorf("fields = %d, want 7", len(fields))
	}

	// The stored password is never echoed.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id+"/config/dashboard_password", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get field status = %d", resp.StatusCode)
	}
	if body["value"] != "********" {
		t.Errorf("password value = %v", body["value"])
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id+"/config/postgres_password", nil)
	if resp.StatusCode != http.StatusBadRequest || body["kind"] != "UnknownField" {
		t.Errorf("unknown field: status %d, body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPut, ts.URL+"/api/instances/"+id+"/config/organization",
		map[string]interface{}{"value": "acme"})
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("put field: status %d, body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/instances/"+id+"/config/organization", nil)
	if resp.StatusCode != http.StatusOK || body["value"] != "acme" {
		t.Errorf("get after put: status %d, body %v", resp.StatusCode, body)
	}
}

func TestOrphansEndpoint(t *testing.T) {
	ts, driver := newTestServer(t)
	createInstance(t, ts, "alpha")
	driver.SetRunning("supabase-db-zzzzzzzzzz", true)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/orphans", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("body = %v", body)
	}
}

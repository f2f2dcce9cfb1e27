package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/herdctl/herd/pkg/configedit"
	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/lifecycle"
	"github.com/herdctl/herd/pkg/metrics"
	"github.com/herdctl/herd/pkg/repair"
	"github.com/herdctl/herd/pkg/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"uptime":  int64(time.Since(s.startedAt).Seconds()),
		"version": s.version,
	})
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, stats := s.controller.ListInstances(r.Context())
	metrics.SetInstanceCounts(stats.Running, stats.Stopped, stats.Creating, stats.Error)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instances": instances,
		"stats":     stats,
	})
}

// createBody is the dashboard's create payload.
type createBody struct {
	ProjectName string `json:"projectName"`
	Config      struct {
		Organization string `json:"organization"`
	} `json:"config"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	inst, err := s.controller.CreateInstance(r.Context(), lifecycle.CreateRequest{
		Name:         body.ProjectName,
		Organization: body.Config.Organization,
	})
	if err != nil {
		metrics.CreatesTotal.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, err)
		return
	}
	metrics.CreatesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.CreateDuration.Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"instance": inst,
		"message":  "instance " + inst.Name + " created",
	})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.controller.GetInstance(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "instance": inst})
}

func (s *Server) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.controller.StartInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "instance " + inst.Name + " started",
	})
}

func (s *Server) handleStopInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.controller.StopInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "instance " + inst.Name + " stopped",
	})
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.controller.DeleteInstance(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "instance " + id + " deleted",
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	tail, _ := strconv.Atoi(r.URL.Query().Get("tail"))
	logs, err := s.controller.Logs(r.Context(), lifecycle.LogsRequest{
		InstanceID: chi.URLParam(r, "id"),
		Service:    types.Service(r.URL.Query().Get("container")),
		TailLines:  tail,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "logs": logs})
}

func (s *Server) handleRunDiagnostics(w http.ResponseWriter, r *http.Request) {
	inst, err := s.controller.GetInstance(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := s.diagnostic.Run(r.Context(), inst)
	if err != nil {
		writeError(w, err)
		return
	}
	outcome := metrics.ResultFailure
	if d.OverallHealthy {
		outcome = metrics.ResultSuccess
	}
	metrics.DiagnosticsTotal.WithLabelValues(outcome).Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "diagnostic": d})
}

func (s *Server) handleLastDiagnostic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.controller.GetInstance(id); err != nil {
		writeError(w, err)
		return
	}
	if d, ok := s.diagnostic.Last(id); ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "diagnostic": d})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": false,
		"message": "no recent diagnostic for instance " + id,
	})
}

func (s *Server) handleDiagnosticHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.controller.GetInstance(id); err != nil {
		writeError(w, err)
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "history not enabled"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	entries, err := s.history.Recent(id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	trend, err := s.history.TrendReport(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": entries,
		"trend":   trend,
	})
}

// repairBody is the auto-repair request payload.
type repairBody struct {
	UserConfirmed bool  `json:"userConfirmed"`
	Backup        *bool `json:"backup,omitempty"`
	AutoRollback  *bool `json:"autoRollback,omitempty"`
	Force         bool  `json:"force,omitempty"`
}

func (s *Server) handleAutoRepair(w http.ResponseWriter, r *http.Request) {
	var body repairBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if !body.UserConfirmed {
		writeError(w, errdefs.New(errdefs.KindFieldValidationFailed,
			"auto-repair requires explicit user confirmation"))
		return
	}

	id := chi.URLParam(r, "id")
	inst, err := s.controller.GetInstance(id)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.controller.Locks().TryLock(id, "auto-repair"); err != nil {
		writeError(w, err)
		return
	}
	defer s.controller.Locks().Unlock(id)

	opts := repair.DefaultOptions
	if body.Backup != nil {
		opts.AutoBackup = *body.Backup
	}
	if body.AutoRollback != nil {
		opts.AutoRollback = *body.AutoRollback
	}
	opts.Force = body.Force

	outcome, err := s.repairs.Repair(r.Context(), inst, opts)
	if err != nil {
		metrics.RepairsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, err)
		return
	}
	result := metrics.ResultFailure
	if outcome.Success {
		result = metrics.ResultSuccess
	}
	metrics.RepairsTotal.WithLabelValues(result).Inc()
	for _, a := range outcome.ActionsExecuted {
		ar := metrics.ResultFailure
		if a.Success {
			ar = metrics.ResultSuccess
		}
		metrics.RepairActionsTotal.WithLabelValues(a.Action, ar).Inc()
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	inst, err := s.controller.GetInstance(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := s.backups.Snapshot(r.Context(), inst, "manual")
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.BackupsTotal.WithLabelValues("manual").Inc()
	if s.cfg.RepairRetention > 0 {
		if err := s.backups.Cleanup(inst.ID, s.cfg.RepairRetention); err != nil {
			s.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("backup retention cleanup failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "backup": b})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.controller.GetInstance(id); err != nil {
		writeError(w, err)
		return
	}
	backups, err := s.backups.List(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "backups": backups})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.controller.GetInstance(id); err != nil {
		writeError(w, err)
		return
	}

	if err := s.controller.Locks().TryLock(id, "restore"); err != nil {
		writeError(w, err)
		return
	}
	defer s.controller.Locks().Unlock(id)

	result, err := s.backups.Restore(r.Context(), id, chi.URLParam(r, "backupId"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.diagnostic.Invalidate(id)
	writeJSON(w, http.StatusOK, result)
}

// editableField describes one allow-listed config field for the
// dashboard's edit form.
type editableField struct {
	Field       string `json:"field"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

var editableFields = []editableField{
	{configedit.FieldName, "string", "instance display name"},
	{configedit.FieldOrganization, "string", "owning organization label"},
	{configedit.FieldDashboardUsername, "string", "studio dashboard login user"},
	{configedit.FieldDashboardPassword, "string", "studio dashboard login password (min 8 chars)"},
	{configedit.FieldDisableSignup, "bool", "disable public signups"},
	{configedit.FieldEnableEmailAutoconfirm, "bool", "auto-confirm email addresses on signup"},
	{configedit.FieldJWTExpiry, "int", "access token lifetime in seconds (60-86400)"},
}

func (s *Server) handleEditableFields(w http.ResponseWriter, r *http.Request) {
	if _, err := s.controller.GetInstance(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "fields": editableFields})
}

func (s *Server) handleGetConfigField(w http.ResponseWriter, r *http.Request) {
	inst, err := s.controller.GetInstance(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	field := chi.URLParam(r, "field")
	value, err := currentFieldValue(inst, field)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"field":   field,
		"value":   value,
	})
}

func (s *Server) handlePutConfigField(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	field := chi.URLParam(r, "field")
	result, err := s.editor.Apply(r.Context(), chi.URLParam(r, "id"),
		map[string]string{field: body.Value})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": !result.RolledBack, "result": result})
}

func (s *Server) handleBulkEdit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.editor.Apply(r.Context(), chi.URLParam(r, "id"), body.Fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": !result.RolledBack, "result": result})
}

func (s *Server) handleOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := s.controller.OrphanScan(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orphans": orphans,
		"count":   len(orphans),
	})
}

// currentFieldValue reads one allow-listed field off the record.
func currentFieldValue(inst *types.Instance, field string) (string, error) {
	switch field {
	case configedit.FieldName:
		return inst.Name, nil
	case configedit.FieldOrganization:
		return inst.Organization, nil
	case configedit.FieldDashboardUsername:
		return inst.Credentials.DashboardUsername, nil
	case configedit.FieldDashboardPassword:
		// Never echo the stored password.
		return "********", nil
	case configedit.FieldDisableSignup:
		return strconv.FormatBool(inst.Auth.DisableSignup), nil
	case configedit.FieldEnableEmailAutoconfirm:
		return strconv.FormatBool(inst.Auth.EnableEmailAutoconfirm), nil
	case configedit.FieldJWTExpiry:
		return strconv.Itoa(inst.Auth.JWTExpiry), nil
	default:
		return "", errdefs.New(errdefs.KindUnknownField, "field %q is not editable", field)
	}
}

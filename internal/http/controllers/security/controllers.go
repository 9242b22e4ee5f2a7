// Package security contiene los controllers de alertas y audit trail.
package security

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/aegis/internal/audit"
	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/http/dto"
	httperr "github.com/dropDatabas3/aegis/internal/http/errors"
	"github.com/dropDatabas3/aegis/internal/http/helpers"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
)

const maxPageSize = 500

// Controller expone la superficie de consulta de seguridad (solo admin).
type Controller struct {
	Audit     audit.Recorder
	AuditRepo repository.AuditRepository
	Alerts    repository.AlertRepository
}

// NewController crea el controller de seguridad.
func NewController(rec audit.Recorder, auditRepo repository.AuditRepository, alerts repository.AlertRepository) *Controller {
	return &Controller{Audit: rec, AuditRepo: auditRepo, Alerts: alerts}
}

// ListAlerts lista alertas con filtros y paginación.
// GET /v1/admin/alerts?org_id=&type=&resolved=&page=&page_size=
func (c *Controller) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ListAlertsFilter{
		Page:     helpers.QueryInt(r, "page", 1),
		PageSize: clampPageSize(helpers.QueryInt(r, "page_size", 50)),
	}
	if v := strings.TrimSpace(q.Get("org_id")); v != "" {
		filter.OrgID = &v
	}
	if v := strings.TrimSpace(q.Get("type")); v != "" {
		t := types.AlertType(v)
		filter.Type = &t
	}
	if v := strings.TrimSpace(q.Get("resolved")); v != "" {
		b := v == "true" || v == "1"
		filter.Resolved = &b
	}

	alerts, total, err := c.Alerts.List(r.Context(), filter)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}

	views := make([]dto.AlertView, 0, len(alerts))
	for i := range alerts {
		views = append(views, dto.NewAlertView(&alerts[i]))
	}
	helpers.WriteJSON(w, http.StatusOK, dto.AlertListResponse{
		Alerts: views,
		Total:  total,
		Page:   filter.Page,
	})
}

// ResolveAlert marca una alerta como resuelta.
// POST /v1/admin/alerts/{alertID}/resolve
func (c *Controller) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	alertID := strings.TrimSpace(chi.URLParam(r, "alertID"))
	if alertID == "" {
		httperr.WriteError(w, httperr.ErrInvalidParameter.WithDetail("alertID requerido"))
		return
	}
	var req dto.ResolveAlertRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ResolvedBy) == "" {
		httperr.WriteError(w, httperr.ErrBadRequest.WithDetail("resolved_by requerido"))
		return
	}

	if err := c.Alerts.Resolve(r.Context(), alertID, req.ResolvedBy); err != nil {
		if repository.IsNotFound(err) {
			httperr.WriteError(w, httperr.ErrNotFound.WithDetail("alerta no encontrada o ya resuelta"))
			return
		}
		httperr.WriteError(w, err)
		return
	}

	resolved, err := c.Alerts.GetByID(r.Context(), alertID)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.NewAlertView(resolved))
}

// QueryAudit consulta el audit trail con filtros y paginación.
// GET /v1/admin/audit?identity_id=&org_id=&event=&success=&from=&to=&page=&page_size=
func (c *Controller) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, ok := auditFilterFromQuery(w, r)
	if !ok {
		return
	}

	events, total, err := c.Audit.Query(r.Context(), filter)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}

	views := make([]dto.AuditEventView, 0, len(events))
	for i := range events {
		views = append(views, dto.NewAuditEventView(&events[i]))
	}
	helpers.WriteJSON(w, http.StatusOK, dto.AuditListResponse{
		Events: views,
		Total:  total,
		Page:   filter.Page,
	})
}

// ExportAudit vuelca el trail filtrado como CSV, en streaming.
// GET /v1/admin/audit/export
func (c *Controller) ExportAudit(w http.ResponseWriter, r *http.Request) {
	filter, ok := auditFilterFromQuery(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.csv"`)
	if err := audit.ExportCSV(r.Context(), c.AuditRepo, filter, w); err != nil {
		// el header ya salió: solo queda loguear
		logger.From(r.Context()).Error("export de auditoría falló",
			logger.Component("security"), logger.Err(err))
	}
}

func auditFilterFromQuery(w http.ResponseWriter, r *http.Request) (repository.ListAuditFilter, bool) {
	q := r.URL.Query()
	filter := repository.ListAuditFilter{
		Page:     helpers.QueryInt(r, "page", 1),
		PageSize: clampPageSize(helpers.QueryInt(r, "page_size", 50)),
	}
	if v := strings.TrimSpace(q.Get("identity_id")); v != "" {
		filter.IdentityID = &v
	}
	if v := strings.TrimSpace(q.Get("org_id")); v != "" {
		filter.OrgID = &v
	}
	if v := strings.TrimSpace(q.Get("event")); v != "" {
		filter.Event = &v
	}
	if v := strings.TrimSpace(q.Get("success")); v != "" {
		b := v == "true" || v == "1"
		filter.Success = &b
	}
	for _, bound := range []struct {
		key string
		dst **time.Time
	}{
		{"from", &filter.From},
		{"to", &filter.To},
	} {
		if v := strings.TrimSpace(q.Get(bound.key)); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				httperr.WriteError(w, httperr.ErrInvalidParameter.WithDetail(bound.key+" debe ser RFC3339"))
				return filter, false
			}
			*bound.dst = &t
		}
	}
	return filter, true
}

func clampPageSize(n int) int {
	if n <= 0 {
		return 50
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

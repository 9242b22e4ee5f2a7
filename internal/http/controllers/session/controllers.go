// Package session contiene los controllers del ciclo de vida de sesiones.
package session

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/aegis/internal/http/dto"
	httperr "github.com/dropDatabas3/aegis/internal/http/errors"
	"github.com/dropDatabas3/aegis/internal/http/helpers"
	"github.com/dropDatabas3/aegis/internal/session"
)

// Controller expone validación, rotación y administración de sesiones.
type Controller struct {
	Sessions session.Manager
}

// NewController crea el controller de sesiones.
func NewController(mgr session.Manager) *Controller {
	return &Controller{Sessions: mgr}
}

// Validate revalida la sesión del bearer contra el request actual.
// POST /v1/sessions/validate
func (c *Controller) Validate(w http.ResponseWriter, r *http.Request) {
	tokenStr := helpers.SessionToken(r)
	if tokenStr == "" {
		httperr.WriteError(w, httperr.ErrUnauthorized)
		return
	}

	v, err := c.Sessions.Validate(r.Context(), tokenStr, helpers.RequestContext(r))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.NewValidateResponse(v))
}

// Rotate re-emite el session ID; el anterior queda inválido.
// POST /v1/sessions/rotate
func (c *Controller) Rotate(w http.ResponseWriter, r *http.Request) {
	tokenStr := helpers.SessionToken(r)
	if tokenStr == "" {
		httperr.WriteError(w, httperr.ErrUnauthorized)
		return
	}

	newID, err := c.Sessions.Rotate(r.Context(), tokenStr)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RotateResponse{SessionID: newID})
}

// LogoutAll revoca las demás sesiones vivas de la identidad del bearer;
// la sesión actual sobrevive (para cerrarla está /sessions/logout).
// POST /v1/sessions/logout-all
func (c *Controller) LogoutAll(w http.ResponseWriter, r *http.Request) {
	tokenStr := helpers.SessionToken(r)
	if tokenStr == "" {
		httperr.WriteError(w, httperr.ErrUnauthorized)
		return
	}

	v, err := c.Sessions.Validate(r.Context(), tokenStr, helpers.RequestContext(r))
	if err != nil {
		writeSessionError(w, err)
		return
	}

	n, err := c.Sessions.TerminateAllForIdentity(r.Context(), v.Session.IdentityID, tokenStr, "user logout-all")
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RevokeAllResponse{Revoked: n})
}

// AdminList lista las sesiones activas de una identidad.
// GET /v1/admin/identities/{identityID}/sessions
func (c *Controller) AdminList(w http.ResponseWriter, r *http.Request) {
	identityID := strings.TrimSpace(chi.URLParam(r, "identityID"))
	if identityID == "" {
		httperr.WriteError(w, httperr.ErrInvalidParameter.WithDetail("identityID requerido"))
		return
	}

	sessions, err := c.Sessions.ListForIdentity(r.Context(), identityID)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}

	views := make([]dto.SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, dto.NewSessionView(&sessions[i]))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// AdminRevokeAll revoca todas las sesiones de una identidad.
// DELETE /v1/admin/identities/{identityID}/sessions
func (c *Controller) AdminRevokeAll(w http.ResponseWriter, r *http.Request) {
	identityID := strings.TrimSpace(chi.URLParam(r, "identityID"))
	if identityID == "" {
		httperr.WriteError(w, httperr.ErrInvalidParameter.WithDetail("identityID requerido"))
		return
	}

	n, err := c.Sessions.TerminateAllForIdentity(r.Context(), identityID, "", "admin revocation")
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RevokeAllResponse{Revoked: n})
}

// AdminStats devuelve estadísticas de sesiones de una organización.
// GET /v1/admin/orgs/{orgID}/sessions/stats
func (c *Controller) AdminStats(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(chi.URLParam(r, "orgID"))
	if orgID == "" {
		httperr.WriteError(w, httperr.ErrInvalidParameter.WithDetail("orgID requerido"))
		return
	}

	stats, err := c.Sessions.Stats(r.Context(), orgID)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.SessionStatsResponse{
		TotalActive:      stats.TotalActive,
		TotalProvisional: stats.TotalProvisional,
		TotalToday:       stats.TotalToday,
	})
}

// writeSessionError colapsa todos los motivos de denegación en un 401
// uniforme: el motivo exacto queda en el audit trail, no en la respuesta.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionRevoked),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrAbsoluteExpiry),
		errors.Is(err, session.ErrIdleTimeout),
		errors.Is(err, session.ErrFingerprintMismatch),
		errors.Is(err, session.ErrIPMismatch):
		httperr.WriteError(w, httperr.ErrSessionInvalid)
	default:
		httperr.WriteError(w, err)
	}
}

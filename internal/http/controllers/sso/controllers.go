// Package sso contiene los controllers del flujo de federación.
package sso

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/aegis/internal/http/dto"
	httperr "github.com/dropDatabas3/aegis/internal/http/errors"
	"github.com/dropDatabas3/aegis/internal/http/helpers"
	"github.com/dropDatabas3/aegis/internal/session"
	"github.com/dropDatabas3/aegis/internal/sso"
)

// Controller expone el handshake de federación por HTTP.
type Controller struct {
	SSO sso.Orchestrator
}

// NewController crea el controller de SSO.
func NewController(orch sso.Orchestrator) *Controller {
	return &Controller{SSO: orch}
}

// Begin inicia el login federado contra un provider.
// POST /v1/sso/providers/{providerID}/login
func (c *Controller) Begin(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(chi.URLParam(r, "providerID"))
	if providerID == "" {
		httperr.WriteError(w, httperr.ErrInvalidParameter.WithDetail("providerID requerido"))
		return
	}

	var req dto.BeginLoginRequest
	if r.Body != nil && r.ContentLength != 0 {
		if !helpers.ReadJSON(w, r, &req) {
			return
		}
	}

	instr, err := c.SSO.BeginLogin(r.Context(), providerID, req.ReturnTarget)
	if err != nil {
		if errors.Is(err, sso.ErrProviderNotFound) {
			httperr.WriteError(w, httperr.ErrNotFound.WithDetail("provider desconocido"))
			return
		}
		if errors.Is(err, sso.ErrProtocol) {
			httperr.WriteError(w, httperr.ErrBadRequest.WithDetail("configuración de provider inválida"))
			return
		}
		httperr.WriteError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, dto.BeginLoginResponse{
		RedirectURL: instr.RedirectURL,
		State:       instr.State,
		ExpiresAt:   instr.ExpiresAt,
	})
}

// Callback procesa la respuesta del IdP. Acepta GET (OAuth/OIDC: code y
// state en query) y POST form (SAML: SAMLResponse y RelayState).
// GET|POST /v1/sso/callback
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			httperr.WriteError(w, httperr.ErrBadRequest.WithDetail("form inválido"))
			return
		}
	}

	state := firstNonEmpty(r.FormValue("state"), r.FormValue("RelayState"))
	if state == "" {
		httperr.WriteError(w, httperr.ErrSignInFailed)
		return
	}
	resp := sso.ProviderResponse{
		Code:         r.FormValue("code"),
		SAMLResponse: r.FormValue("SAMLResponse"),
	}

	result, err := c.SSO.CompleteLogin(r.Context(), state, resp, helpers.RequestContext(r))
	if err != nil {
		// todo rechazo del flujo es un 401 opaco; el detalle vive en el
		// audit trail
		switch {
		case errors.Is(err, sso.ErrStateInvalid),
			errors.Is(err, sso.ErrSignInFailed),
			errors.Is(err, sso.ErrProtocol),
			errors.Is(err, sso.ErrPolicyViolation):
			httperr.WriteError(w, httperr.ErrSignInFailed)
		case errors.Is(err, sso.ErrProviderDown):
			httperr.WriteError(w, httperr.ErrServiceUnavailable)
		default:
			httperr.WriteError(w, err)
		}
		return
	}

	helpers.WriteJSON(w, http.StatusOK, dto.NewLoginResponse(result))
}

// Logout termina la sesión del bearer y, si fue SAML, devuelve la URL
// de single logout del IdP.
// POST /v1/sessions/logout
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	tokenStr := helpers.SessionToken(r)
	if tokenStr == "" {
		httperr.WriteError(w, httperr.ErrUnauthorized)
		return
	}

	result, err := c.SSO.Logout(r.Context(), tokenStr, helpers.RequestContext(r))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			httperr.WriteError(w, httperr.ErrSessionInvalid)
			return
		}
		httperr.WriteError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, dto.LogoutResponse{SLORedirectURL: result.SLORedirectURL})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

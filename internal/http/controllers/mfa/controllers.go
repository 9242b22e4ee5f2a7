// Package mfa contiene los controllers del segundo factor.
package mfa

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/aegis/internal/http/dto"
	httperr "github.com/dropDatabas3/aegis/internal/http/errors"
	"github.com/dropDatabas3/aegis/internal/http/helpers"
	"github.com/dropDatabas3/aegis/internal/mfa"
	"github.com/dropDatabas3/aegis/internal/session"
)

// Controller expone el ciclo de vida del segundo factor. Toda operación
// requiere una sesión válida: la identidad sale de ahí, nunca del body.
type Controller struct {
	MFA      mfa.Verifier
	Sessions session.Manager
}

// NewController crea el controller de MFA.
func NewController(v mfa.Verifier, mgr session.Manager) *Controller {
	return &Controller{MFA: v, Sessions: mgr}
}

// resolveIdentity valida la sesión del bearer y devuelve (identityID, sessionID).
// Una sesión provisional alcanza: el flujo de MFA es justamente lo que
// la promueve a active.
func (c *Controller) resolveIdentity(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	tokenStr := helpers.SessionToken(r)
	if tokenStr == "" {
		httperr.WriteError(w, httperr.ErrUnauthorized)
		return "", "", false
	}
	v, err := c.Sessions.Validate(r.Context(), tokenStr, helpers.RequestContext(r))
	if err != nil {
		httperr.WriteError(w, httperr.ErrSessionInvalid)
		return "", "", false
	}
	return v.Session.IdentityID, tokenStr, true
}

// Setup genera secreto TOTP y backup codes nuevos.
// POST /v1/mfa/setup
func (c *Controller) Setup(w http.ResponseWriter, r *http.Request) {
	identityID, _, ok := c.resolveIdentity(w, r)
	if !ok {
		return
	}

	res, err := c.MFA.Setup(r.Context(), identityID)
	if err != nil {
		writeMFAError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.MFASetupResponse{
		Secret:          res.Secret,
		ProvisioningURI: res.ProvisioningURI,
		BackupCodes:     res.BackupCodes,
	})
}

// Confirm habilita la credencial validando el primer código.
// POST /v1/mfa/confirm
func (c *Controller) Confirm(w http.ResponseWriter, r *http.Request) {
	identityID, _, ok := c.resolveIdentity(w, r)
	if !ok {
		return
	}
	var req dto.MFACodeRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	if err := c.MFA.ConfirmAndEnable(r.Context(), identityID, req.Code); err != nil {
		writeMFAError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

// Verify valida el segundo factor y promueve la sesión del bearer.
// POST /v1/mfa/verify
func (c *Controller) Verify(w http.ResponseWriter, r *http.Request) {
	identityID, sessionID, ok := c.resolveIdentity(w, r)
	if !ok {
		return
	}
	var req dto.MFAVerifyRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	res, err := c.MFA.Verify(r.Context(), mfa.VerifyInput{
		IdentityID:     identityID,
		Code:           req.Code,
		SessionID:      sessionID,
		RememberDevice: req.RememberDevice,
		Request:        helpers.RequestContext(r),
	})
	if err != nil {
		writeMFAError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.MFAVerifyResponse{
		Verified:       true,
		UsedBackupCode: res.UsedBackupCode,
		DeviceTrusted:  res.DeviceTrusted,
	})
}

// Disable apaga el segundo factor. Exige un código válido y revoca las
// sesiones vivas de la identidad.
// POST /v1/mfa/disable
func (c *Controller) Disable(w http.ResponseWriter, r *http.Request) {
	identityID, _, ok := c.resolveIdentity(w, r)
	if !ok {
		return
	}
	var req dto.MFACodeRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	if err := c.MFA.Disable(r.Context(), identityID, req.Code); err != nil {
		writeMFAError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]bool{"disabled": true})
}

// RegenerateBackupCodes reemplaza el set completo de backup codes.
// POST /v1/mfa/backup-codes
func (c *Controller) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	identityID, _, ok := c.resolveIdentity(w, r)
	if !ok {
		return
	}
	var req dto.MFACodeRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	codes, err := c.MFA.RegenerateBackupCodes(r.Context(), identityID, req.Code)
	if err != nil {
		writeMFAError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.MFABackupCodesResponse{BackupCodes: codes})
}

func writeMFAError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mfa.ErrAccountLocked):
		httperr.WriteError(w, httperr.ErrAccountLocked)
	case errors.Is(err, mfa.ErrInvalidCode):
		httperr.WriteError(w, httperr.ErrInvalidMFACode)
	case errors.Is(err, mfa.ErrAlreadyEnabled):
		httperr.WriteError(w, httperr.ErrMFAAlreadyEnabled)
	case errors.Is(err, mfa.ErrNotEnrolled), errors.Is(err, mfa.ErrNotEnabled):
		httperr.WriteError(w, httperr.ErrBadRequest.WithDetail("mfa no habilitado para esta identidad"))
	case errors.Is(err, mfa.ErrIdentityNotFound):
		httperr.WriteError(w, httperr.ErrNotFound)
	default:
		httperr.WriteError(w, err)
	}
}

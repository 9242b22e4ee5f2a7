// Package admin contiene los controllers del plano administrativo.
package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/http/dto"
	httperr "github.com/dropDatabas3/aegis/internal/http/errors"
	"github.com/dropDatabas3/aegis/internal/http/helpers"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
	"github.com/dropDatabas3/aegis/internal/security/secretbox"
)

// ProvidersController administra los federation providers. Los client
// secrets se cifran at-rest al entrar y nunca salen en las respuestas.
type ProvidersController struct {
	Providers repository.ProviderRepository
}

// NewProvidersController crea el controller de providers.
func NewProvidersController(repo repository.ProviderRepository) *ProvidersController {
	return &ProvidersController{Providers: repo}
}

// Create registra un provider nuevo.
// POST /v1/admin/providers
func (c *ProvidersController) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.ProviderRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	provider, appErr := c.fromRequest(&req, "")
	if appErr != nil {
		httperr.WriteError(w, appErr)
		return
	}
	provider.ID = uuid.NewString()

	if err := c.Providers.Create(r.Context(), provider); err != nil {
		if repository.IsConflict(err) {
			httperr.WriteError(w, httperr.ErrConflict)
			return
		}
		httperr.WriteError(w, err)
		return
	}

	logger.From(r.Context()).Info("provider creado",
		logger.Component("admin"),
		logger.ProviderID(provider.ID),
		logger.OrgID(provider.OrgID),
		logger.String("kind", string(provider.Kind)),
	)
	helpers.WriteJSON(w, http.StatusCreated, dto.NewProviderView(provider))
}

// Get obtiene un provider.
// GET /v1/admin/providers/{providerID}
func (c *ProvidersController) Get(w http.ResponseWriter, r *http.Request) {
	provider, ok := c.load(w, r)
	if !ok {
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.NewProviderView(provider))
}

// List lista los providers de una organización.
// GET /v1/admin/providers?org_id=
func (c *ProvidersController) List(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	if orgID == "" {
		httperr.WriteError(w, httperr.ErrInvalidParameter.WithDetail("org_id requerido"))
		return
	}

	providers, err := c.Providers.ListByOrg(r.Context(), orgID)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}

	views := make([]dto.ProviderView, 0, len(providers))
	for i := range providers {
		views = append(views, dto.NewProviderView(&providers[i]))
	}
	helpers.WriteJSON(w, http.StatusOK, dto.ProviderListResponse{Providers: views})
}

// Update reemplaza la configuración del provider e incrementa la
// versión; el hot cache y el JWKS cache invalidan por versión.
// PUT /v1/admin/providers/{providerID}
func (c *ProvidersController) Update(w http.ResponseWriter, r *http.Request) {
	existing, ok := c.load(w, r)
	if !ok {
		return
	}
	var req dto.ProviderRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	provider, appErr := c.fromRequest(&req, secretCarryOver(existing, &req))
	if appErr != nil {
		httperr.WriteError(w, appErr)
		return
	}
	provider.ID = existing.ID
	provider.Version = existing.Version
	provider.CreatedAt = existing.CreatedAt

	if err := c.Providers.Update(r.Context(), provider); err != nil {
		if repository.IsNotFound(err) {
			httperr.WriteError(w, httperr.ErrNotFound)
			return
		}
		httperr.WriteError(w, err)
		return
	}

	updated, err := c.Providers.GetByID(r.Context(), provider.ID)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.NewProviderView(updated))
}

// Delete elimina el provider. Las sesiones ya creadas a través de él
// siguen su ciclo de vida normal.
// DELETE /v1/admin/providers/{providerID}
func (c *ProvidersController) Delete(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(chi.URLParam(r, "providerID"))
	if providerID == "" {
		httperr.WriteError(w, httperr.ErrInvalidParameter.WithDetail("providerID requerido"))
		return
	}
	if err := c.Providers.Delete(r.Context(), providerID); err != nil {
		if repository.IsNotFound(err) {
			httperr.WriteError(w, httperr.ErrNotFound)
			return
		}
		httperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *ProvidersController) load(w http.ResponseWriter, r *http.Request) (*repository.FederationProvider, bool) {
	providerID := strings.TrimSpace(chi.URLParam(r, "providerID"))
	if providerID == "" {
		httperr.WriteError(w, httperr.ErrInvalidParameter.WithDetail("providerID requerido"))
		return nil, false
	}
	provider, err := c.Providers.GetByID(r.Context(), providerID)
	if err != nil {
		if repository.IsNotFound(err) {
			httperr.WriteError(w, httperr.ErrNotFound)
			return nil, false
		}
		httperr.WriteError(w, err)
		return nil, false
	}
	return provider, true
}

// fromRequest valida el payload y arma el provider de dominio. Si el
// request no trae client_secret y hay uno previo (carryOver), se
// conserva el cifrado existente.
func (c *ProvidersController) fromRequest(req *dto.ProviderRequest, carryOver string) (*repository.FederationProvider, *httperr.AppError) {
	if strings.TrimSpace(req.OrgID) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, httperr.ErrBadRequest.WithDetail("org_id y name son requeridos")
	}
	if !dto.KindValid(req.Kind) {
		return nil, httperr.ErrBadRequest.WithDetail("kind debe ser saml, oauth u oidc")
	}

	p := &repository.FederationProvider{
		OrgID:        req.OrgID,
		Name:         req.Name,
		Kind:         types.ProtocolKind(req.Kind),
		AttributeMap: req.AttributeMap,
		RoleRules:    req.RoleRules2Domain(),
		Settings: repository.ProviderSettings{
			JITProvisioning: req.Settings.JITProvisioning,
			AutoActivate:    req.Settings.AutoActivate,
			RequireMFA:      req.Settings.RequireMFA,
			AllowedDomains:  req.Settings.AllowedDomains,
		},
	}
	if s := strings.TrimSpace(req.Settings.SessionTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, httperr.ErrBadRequest.WithDetail("settings.session_timeout inválido")
		}
		p.Settings.SessionTimeout = d
	}

	switch p.Kind {
	case types.ProtocolSAML:
		if req.SAML == nil {
			return nil, httperr.ErrBadRequest.WithDetail("config saml requerida")
		}
		p.SAML = &repository.SAMLConfig{
			EntryPointURL:  req.SAML.EntryPointURL,
			IssuerEntityID: req.SAML.IssuerEntityID,
			AudienceURI:    req.SAML.AudienceURI,
			CertificatePEM: req.SAML.CertificatePEM,
		}
	case types.ProtocolOAuth:
		if req.OAuth == nil {
			return nil, httperr.ErrBadRequest.WithDetail("config oauth requerida")
		}
		enc, appErr := encryptSecret(req.OAuth.ClientSecret, carryOver)
		if appErr != nil {
			return nil, appErr
		}
		p.OAuth = &repository.OAuthConfig{
			AuthorizeURL:    req.OAuth.AuthorizeURL,
			TokenURL:        req.OAuth.TokenURL,
			UserInfoURL:     req.OAuth.UserInfoURL,
			ClientID:        req.OAuth.ClientID,
			ClientSecretEnc: enc,
			Scopes:          req.OAuth.Scopes,
			RedirectURL:     req.OAuth.RedirectURL,
		}
	case types.ProtocolOIDC:
		if req.OIDC == nil {
			return nil, httperr.ErrBadRequest.WithDetail("config oidc requerida")
		}
		enc, appErr := encryptSecret(req.OIDC.ClientSecret, carryOver)
		if appErr != nil {
			return nil, appErr
		}
		p.OIDC = &repository.OIDCConfig{
			IssuerURL:       req.OIDC.IssuerURL,
			AuthorizeURL:    req.OIDC.AuthorizeURL,
			TokenURL:        req.OIDC.TokenURL,
			JWKSURL:         req.OIDC.JWKSURL,
			ClientID:        req.OIDC.ClientID,
			ClientSecretEnc: enc,
			Scopes:          req.OIDC.Scopes,
			RedirectURL:     req.OIDC.RedirectURL,
		}
	}
	return p, nil
}

func encryptSecret(plain, carryOver string) (string, *httperr.AppError) {
	if strings.TrimSpace(plain) == "" {
		if carryOver != "" {
			return carryOver, nil
		}
		return "", httperr.ErrBadRequest.WithDetail("client_secret requerido")
	}
	enc, err := secretbox.Encrypt(plain)
	if err != nil {
		return "", httperr.ErrInternalServerError.WithCause(err)
	}
	return enc, nil
}

// secretCarryOver devuelve el secreto cifrado vigente para un update
// que no re-envía el client_secret.
func secretCarryOver(existing *repository.FederationProvider, req *dto.ProviderRequest) string {
	switch {
	case existing.OAuth != nil && req.OAuth != nil && strings.TrimSpace(req.OAuth.ClientSecret) == "":
		return existing.OAuth.ClientSecretEnc
	case existing.OIDC != nil && req.OIDC != nil && strings.TrimSpace(req.OIDC.ClientSecret) == "":
		return existing.OIDC.ClientSecretEnc
	}
	return ""
}

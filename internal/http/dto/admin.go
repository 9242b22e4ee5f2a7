package dto

import (
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// ProviderRequest es el payload de alta/update de un federation provider.
// ClientSecret viaja en claro solo en este request; se cifra at-rest y
// nunca vuelve en las respuestas.
type ProviderRequest struct {
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
	Kind  string `json:"kind"` // saml | oauth | oidc

	SAML  *SAMLConfigDTO  `json:"saml,omitempty"`
	OAuth *OAuthConfigDTO `json:"oauth,omitempty"`
	OIDC  *OIDCConfigDTO  `json:"oidc,omitempty"`

	AttributeMap map[string]string `json:"attribute_map,omitempty"`
	RoleRules    []RoleRuleDTO     `json:"role_rules,omitempty"`
	Settings     ProviderSettings  `json:"settings"`
}

type SAMLConfigDTO struct {
	EntryPointURL  string `json:"entry_point_url"`
	IssuerEntityID string `json:"issuer_entity_id"`
	AudienceURI    string `json:"audience_uri,omitempty"`
	CertificatePEM string `json:"certificate_pem"`
}

type OAuthConfigDTO struct {
	AuthorizeURL string   `json:"authorize_url"`
	TokenURL     string   `json:"token_url"`
	UserInfoURL  string   `json:"userinfo_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	RedirectURL  string   `json:"redirect_url"`
}

type OIDCConfigDTO struct {
	IssuerURL    string   `json:"issuer_url"`
	AuthorizeURL string   `json:"authorize_url"`
	TokenURL     string   `json:"token_url"`
	JWKSURL      string   `json:"jwks_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	RedirectURL  string   `json:"redirect_url"`
}

type RoleRuleDTO struct {
	SourceValue  string             `json:"source_value,omitempty"`
	InternalRole string             `json:"internal_role"`
	Conditions   []RoleConditionDTO `json:"conditions,omitempty"`
}

type RoleConditionDTO struct {
	Attribute string `json:"attribute"`
	Op        string `json:"op"`
	Value     string `json:"value"`
}

type ProviderSettings struct {
	JITProvisioning bool     `json:"jit_provisioning"`
	AutoActivate    bool     `json:"auto_activate"`
	RequireMFA      bool     `json:"require_mfa"`
	AllowedDomains  []string `json:"allowed_domains,omitempty"`
	SessionTimeout  string   `json:"session_timeout,omitempty"` // duración, "" = policy de la org
}

// ProviderView es la proyección pública de un provider. Los secretos
// cifrados no se exponen.
type ProviderView struct {
	ID           string            `json:"id"`
	OrgID        string            `json:"org_id"`
	Name         string            `json:"name"`
	Kind         string            `json:"kind"`
	Version      int               `json:"version"`
	SAML         *SAMLConfigDTO    `json:"saml,omitempty"`
	OAuth        *OAuthConfigDTO   `json:"oauth,omitempty"`
	OIDC         *OIDCConfigDTO    `json:"oidc,omitempty"`
	AttributeMap map[string]string `json:"attribute_map,omitempty"`
	RoleRules    []RoleRuleDTO     `json:"role_rules,omitempty"`
	Settings     ProviderSettings  `json:"settings"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ProviderListResponse lista los providers de una organización.
type ProviderListResponse struct {
	Providers []ProviderView `json:"providers"`
}

// RoleRules mapea las reglas del DTO al dominio, preservando el orden
// (la primera que matchea gana).
func (r *ProviderRequest) RoleRules2Domain() []repository.RoleRule {
	if len(r.RoleRules) == 0 {
		return nil
	}
	rules := make([]repository.RoleRule, 0, len(r.RoleRules))
	for _, rr := range r.RoleRules {
		rule := repository.RoleRule{
			SourceValue:  rr.SourceValue,
			InternalRole: rr.InternalRole,
		}
		for _, c := range rr.Conditions {
			rule.Conditions = append(rule.Conditions, repository.RoleCondition{
				Attribute: c.Attribute,
				Op:        c.Op,
				Value:     c.Value,
			})
		}
		rules = append(rules, rule)
	}
	return rules
}

// NewProviderView mapea un provider persistido a su proyección pública.
func NewProviderView(p *repository.FederationProvider) ProviderView {
	v := ProviderView{
		ID:           p.ID,
		OrgID:        p.OrgID,
		Name:         p.Name,
		Kind:         string(p.Kind),
		Version:      p.Version,
		AttributeMap: p.AttributeMap,
		Settings: ProviderSettings{
			JITProvisioning: p.Settings.JITProvisioning,
			AutoActivate:    p.Settings.AutoActivate,
			RequireMFA:      p.Settings.RequireMFA,
			AllowedDomains:  p.Settings.AllowedDomains,
		},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.Settings.SessionTimeout > 0 {
		v.Settings.SessionTimeout = p.Settings.SessionTimeout.String()
	}
	if p.SAML != nil {
		v.SAML = &SAMLConfigDTO{
			EntryPointURL:  p.SAML.EntryPointURL,
			IssuerEntityID: p.SAML.IssuerEntityID,
			AudienceURI:    p.SAML.AudienceURI,
			CertificatePEM: p.SAML.CertificatePEM,
		}
	}
	if p.OAuth != nil {
		v.OAuth = &OAuthConfigDTO{
			AuthorizeURL: p.OAuth.AuthorizeURL,
			TokenURL:     p.OAuth.TokenURL,
			UserInfoURL:  p.OAuth.UserInfoURL,
			ClientID:     p.OAuth.ClientID,
			Scopes:       p.OAuth.Scopes,
			RedirectURL:  p.OAuth.RedirectURL,
		}
	}
	if p.OIDC != nil {
		v.OIDC = &OIDCConfigDTO{
			IssuerURL:    p.OIDC.IssuerURL,
			AuthorizeURL: p.OIDC.AuthorizeURL,
			TokenURL:     p.OIDC.TokenURL,
			JWKSURL:      p.OIDC.JWKSURL,
			ClientID:     p.OIDC.ClientID,
			Scopes:       p.OIDC.Scopes,
			RedirectURL:  p.OIDC.RedirectURL,
		}
	}
	for _, rr := range p.RoleRules {
		dtoRule := RoleRuleDTO{SourceValue: rr.SourceValue, InternalRole: rr.InternalRole}
		for _, c := range rr.Conditions {
			dtoRule.Conditions = append(dtoRule.Conditions, RoleConditionDTO{
				Attribute: c.Attribute, Op: c.Op, Value: c.Value,
			})
		}
		v.RoleRules = append(v.RoleRules, dtoRule)
	}
	return v
}

// KindValid valida el protocolo declarado.
func KindValid(kind string) bool {
	switch types.ProtocolKind(kind) {
	case types.ProtocolSAML, types.ProtocolOAuth, types.ProtocolOIDC:
		return true
	}
	return false
}

package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// FederationProvider es la configuración de un identity provider externo.
// Exactamente uno de SAML/OAuth/OIDC está presente según Kind (variante etiquetada).
// Version se incrementa en cada update; el hot cache invalida por versión.
type FederationProvider struct {
	ID           string
	OrgID        string
	Name         string
	Kind         types.ProtocolKind
	Version      int
	SAML         *SAMLConfig
	OAuth        *OAuthConfig
	OIDC         *OIDCConfig
	AttributeMap AttributeMap
	RoleRules    []RoleRule
	Settings     ProviderSettings
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SAMLConfig contiene el material de configuración para un IdP SAML.
type SAMLConfig struct {
	EntryPointURL  string // endpoint de SSO del IdP
	IssuerEntityID string // entityID esperado en la assertion
	AudienceURI    string // nuestro SP entityID
	CertificatePEM string // certificado de firma del IdP
}

// OAuthConfig contiene la configuración de un provider OAuth2 plano.
// ClientSecretEnc está cifrado at-rest con secretbox.
type OAuthConfig struct {
	AuthorizeURL    string
	TokenURL        string
	UserInfoURL     string
	ClientID        string
	ClientSecretEnc string
	Scopes          []string
	RedirectURL     string
}

// OIDCConfig contiene la configuración de un provider OIDC.
// ClientSecretEnc está cifrado at-rest con secretbox.
type OIDCConfig struct {
	IssuerURL       string
	AuthorizeURL    string
	TokenURL        string
	JWKSURL         string
	ClientID        string
	ClientSecretEnc string
	Scopes          []string
	RedirectURL     string
}

// AttributeMap mapea claims/atributos externos a campos normalizados.
// Keys: "email", "given_name", "family_name", "department", "groups".
type AttributeMap map[string]string

// RoleRule es una regla de role-mapping. Las reglas se evalúan en orden
// y la primera que matchea gana.
type RoleRule struct {
	// SourceValue es el rol/grupo externo a matchear (equals o contains
	// sobre el claim de grupos).
	SourceValue string
	// InternalRole es el rol interno asignado si la regla matchea.
	InternalRole string
	// Conditions: todas deben evaluar true para que la regla aplique.
	Conditions []RoleCondition
}

// RoleCondition es una comparación simple sobre un atributo externo.
type RoleCondition struct {
	Attribute string
	Op        string // equals | not-equals | contains | in
	Value     string // para "in": valores separados por coma
}

// ProviderSettings son los settings operativos del provider.
type ProviderSettings struct {
	JITProvisioning bool
	AutoActivate    bool
	RequireMFA      bool
	AllowedDomains  []string
	SessionTimeout  time.Duration // 0 = usar policy de la organización
}

// ProviderRepository define operaciones sobre providers de federación.
type ProviderRepository interface {
	// Create registra un provider nuevo.
	Create(ctx context.Context, p *FederationProvider) error

	// GetByID obtiene un provider. Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*FederationProvider, error)

	// ListByOrg lista los providers de una organización.
	ListByOrg(ctx context.Context, orgID string) ([]FederationProvider, error)

	// Update reemplaza la configuración e incrementa Version.
	Update(ctx context.Context, p *FederationProvider) error

	// Delete elimina el provider.
	Delete(ctx context.Context, id string) error
}

package sso

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
)

// samlValidator procesa respuestas SAML 2.0 del lado SP. Valida issuer,
// ventana de validez, audiencia y que la assertion venga firmada con el
// certificado configurado para el provider.
type samlValidator struct {
	// clockSkew tolera desfasajes entre el reloj del IdP y el nuestro.
	clockSkew time.Duration
}

func newSAMLValidator() *samlValidator {
	return &samlValidator{clockSkew: 2 * time.Minute}
}

// Formas XML mínimas de la respuesta. Los namespaces varían por IdP;
// se matchea por local name.
type samlResponse struct {
	XMLName   xml.Name      `xml:"Response"`
	Issuer    string        `xml:"Issuer"`
	Status    samlStatus    `xml:"Status"`
	Assertion samlAssertion `xml:"Assertion"`
}

type samlStatus struct {
	StatusCode struct {
		Value string `xml:"Value,attr"`
	} `xml:"StatusCode"`
}

type samlAssertion struct {
	Issuer    string `xml:"Issuer"`
	Signature *struct {
		KeyInfo struct {
			X509Data struct {
				X509Certificate string `xml:"X509Certificate"`
			} `xml:"X509Data"`
		} `xml:"KeyInfo"`
	} `xml:"Signature"`
	Subject struct {
		NameID string `xml:"NameID"`
	} `xml:"Subject"`
	Conditions struct {
		NotBefore    string `xml:"NotBefore,attr"`
		NotOnOrAfter string `xml:"NotOnOrAfter,attr"`
		Audience     string `xml:"AudienceRestriction>Audience"`
	} `xml:"Conditions"`
	AuthnStatement struct {
		SessionIndex string `xml:"SessionIndex,attr"`
	} `xml:"AuthnStatement"`
	AttributeStatement struct {
		Attributes []samlAttribute `xml:"Attribute"`
	} `xml:"AttributeStatement"`
}

type samlAttribute struct {
	Name   string   `xml:"Name,attr"`
	Values []string `xml:"AttributeValue"`
}

const samlStatusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

// AuthURL redirige al entry point del IdP con el state como RelayState.
func (v *samlValidator) AuthURL(_ context.Context, p *repository.FederationProvider, state, _ string) (string, error) {
	cfg := p.SAML
	if cfg == nil {
		return "", fmt.Errorf("%w: provider %s has no saml config", ErrProtocol, p.ID)
	}
	u, err := url.Parse(cfg.EntryPointURL)
	if err != nil {
		return "", fmt.Errorf("%w: entry point url: %v", ErrProtocol, err)
	}
	q := u.Query()
	q.Set("RelayState", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (v *samlValidator) Validate(_ context.Context, p *repository.FederationProvider, resp ProviderResponse, _ string) (*Assertion, error) {
	cfg := p.SAML
	if cfg == nil {
		return nil, fmt.Errorf("%w: provider %s has no saml config", ErrProtocol, p.ID)
	}
	if resp.SAMLResponse == "" {
		return nil, fmt.Errorf("%w: missing SAMLResponse", ErrProtocol)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.SAMLResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: SAMLResponse base64: %v", ErrProtocol, err)
	}

	var doc samlResponse
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: SAMLResponse xml: %v", ErrProtocol, err)
	}

	if doc.Status.StatusCode.Value != samlStatusSuccess {
		return nil, fmt.Errorf("%w: saml status %q", ErrProtocol, doc.Status.StatusCode.Value)
	}

	issuer := strings.TrimSpace(doc.Assertion.Issuer)
	if issuer == "" {
		issuer = strings.TrimSpace(doc.Issuer)
	}
	if issuer != cfg.IssuerEntityID {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrProtocol, issuer)
	}

	if err := v.checkConditions(&doc.Assertion, cfg); err != nil {
		return nil, err
	}
	if err := v.checkSignature(&doc.Assertion, cfg); err != nil {
		return nil, err
	}

	a := &Assertion{
		Subject:      strings.TrimSpace(doc.Assertion.Subject.NameID),
		NameID:       strings.TrimSpace(doc.Assertion.Subject.NameID),
		SessionIndex: doc.Assertion.AuthnStatement.SessionIndex,
		Attributes:   make(map[string]string),
	}
	for _, attr := range doc.Assertion.AttributeStatement.Attributes {
		vals := make([]string, 0, len(attr.Values))
		for _, av := range attr.Values {
			if av = strings.TrimSpace(av); av != "" {
				vals = append(vals, av)
			}
		}
		if len(vals) == 0 {
			continue
		}
		a.Attributes[attr.Name] = strings.Join(vals, ",")
		if isGroupsAttribute(attr.Name) {
			a.Groups = append(a.Groups, vals...)
		}
	}
	a.Email = a.Attributes["email"]
	if a.Email == "" && strings.Contains(a.Subject, "@") {
		a.Email = a.Subject
	}
	return a, nil
}

func (v *samlValidator) checkConditions(as *samlAssertion, cfg *repository.SAMLConfig) error {
	now := time.Now().UTC()
	if nb := as.Conditions.NotBefore; nb != "" {
		t, err := time.Parse(time.RFC3339, nb)
		if err != nil {
			return fmt.Errorf("%w: NotBefore: %v", ErrProtocol, err)
		}
		if now.Add(v.clockSkew).Before(t) {
			return fmt.Errorf("%w: assertion not yet valid", ErrProtocol)
		}
	}
	if noa := as.Conditions.NotOnOrAfter; noa != "" {
		t, err := time.Parse(time.RFC3339, noa)
		if err != nil {
			return fmt.Errorf("%w: NotOnOrAfter: %v", ErrProtocol, err)
		}
		if !now.Add(-v.clockSkew).Before(t) {
			return fmt.Errorf("%w: assertion expired", ErrProtocol)
		}
	}
	if aud := strings.TrimSpace(as.Conditions.Audience); aud != "" && cfg.AudienceURI != "" && aud != cfg.AudienceURI {
		return fmt.Errorf("%w: audience %q", ErrProtocol, aud)
	}
	return nil
}

// checkSignature exige assertion firmada y que el certificado embebido
// sea exactamente el configurado para el provider (comparación de
// fingerprint del DER).
func (v *samlValidator) checkSignature(as *samlAssertion, cfg *repository.SAMLConfig) error {
	if as.Signature == nil {
		return fmt.Errorf("%w: unsigned assertion", ErrProtocol)
	}
	embedded := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, as.Signature.KeyInfo.X509Data.X509Certificate)
	if embedded == "" {
		return fmt.Errorf("%w: signature without certificate", ErrProtocol)
	}
	der, err := base64.StdEncoding.DecodeString(embedded)
	if err != nil {
		return fmt.Errorf("%w: embedded certificate: %v", ErrProtocol, err)
	}

	block, _ := pem.Decode([]byte(cfg.CertificatePEM))
	if block == nil {
		return fmt.Errorf("%w: provider certificate PEM invalid", ErrProtocol)
	}

	got := sha256.Sum256(der)
	want := sha256.Sum256(block.Bytes)
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return fmt.Errorf("%w: certificate mismatch", ErrProtocol)
	}
	return nil
}

// SLORedirectURL arma la URL de single logout del IdP a partir de los
// identificadores guardados en la sesión.
func SLORedirectURL(cfg *repository.SAMLConfig, nameID, sessionIndex string) string {
	if cfg == nil || nameID == "" {
		return ""
	}
	u, err := url.Parse(cfg.EntryPointURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("SLO", "true")
	q.Set("NameID", nameID)
	if sessionIndex != "" {
		q.Set("SessionIndex", sessionIndex)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func isGroupsAttribute(name string) bool {
	n := strings.ToLower(name)
	return n == "groups" || n == "roles" || n == "membership" ||
		strings.HasSuffix(n, "/groups") || strings.HasSuffix(n, "/role")
}

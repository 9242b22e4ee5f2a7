package sso

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/metrics"
	"github.com/dropDatabas3/aegis/internal/security/secretbox"
)

type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

type jwksEntry struct {
	doc       *jwksDoc
	fetchedAt time.Time
	etag      string
}

// oidcValidator implementa el flujo authorization-code de OIDC con
// verificación de id_token contra el JWKS del provider.
type oidcValidator struct {
	http *http.Client

	mu   sync.RWMutex
	jwks map[string]*jwksEntry // key: providerID@version
}

func newOIDCValidator(timeout time.Duration) *oidcValidator {
	return &oidcValidator{
		http: &http.Client{Timeout: timeout},
		jwks: make(map[string]*jwksEntry),
	}
}

func (v *oidcValidator) AuthURL(_ context.Context, p *repository.FederationProvider, state, nonce string) (string, error) {
	cfg := p.OIDC
	if cfg == nil {
		return "", fmt.Errorf("%w: provider %s has no oidc config", ErrProtocol, p.ID)
	}
	u, err := url.Parse(cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("%w: authorize url: %v", ErrProtocol, err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", cfg.RedirectURL)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	q.Set("nonce", nonce)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (v *oidcValidator) Validate(ctx context.Context, p *repository.FederationProvider, resp ProviderResponse, nonce string) (*Assertion, error) {
	cfg := p.OIDC
	if cfg == nil {
		return nil, fmt.Errorf("%w: provider %s has no oidc config", ErrProtocol, p.ID)
	}
	if resp.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrProtocol)
	}

	idToken, err := v.exchangeCode(ctx, p, resp.Code)
	if err != nil {
		return nil, err
	}
	return v.verifyIDToken(ctx, p, idToken, nonce)
}

func (v *oidcValidator) exchangeCode(ctx context.Context, p *repository.FederationProvider, code string) (string, error) {
	cfg := p.OIDC
	secret, err := secretbox.Decrypt(cfg.ClientSecretEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt client secret: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", secret)
	form.Set("redirect_uri", cfg.RedirectURL)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := v.http.Do(req)
	metrics.ProviderCallDuration.WithLabelValues("oidc", "token").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: token endpoint: %v", ErrProviderDown, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		var body struct {
			Error string `json:"error"`
			Desc  string `json:"error_description"`
		}
		_ = json.NewDecoder(res.Body).Decode(&body)
		return "", fmt.Errorf("%w: token http %d: %s %s", ErrProtocol, res.StatusCode, body.Error, body.Desc)
	}

	var tr struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: token response: %v", ErrProtocol, err)
	}
	if tr.IDToken == "" {
		return "", fmt.Errorf("%w: no id_token in response", ErrProtocol)
	}
	return tr.IDToken, nil
}

// verifyIDToken valida firma (RS256 contra JWKS), iss, aud, nonce y exp.
func (v *oidcValidator) verifyIDToken(ctx context.Context, p *repository.FederationProvider, idToken, nonce string) (*Assertion, error) {
	cfg := p.OIDC

	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: bad jwt format", ErrProtocol)
	}
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: jwt header: %v", ErrProtocol, err)
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(hb, &header); err != nil {
		return nil, fmt.Errorf("%w: jwt header: %v", ErrProtocol, err)
	}
	if header.Alg != "RS256" {
		return nil, fmt.Errorf("%w: unexpected alg %s", ErrProtocol, header.Alg)
	}

	key, err := v.keyForKid(ctx, p, header.Kid)
	if err != nil {
		return nil, err
	}

	tok, err := jwtv5.Parse(idToken,
		func(*jwtv5.Token) (any, error) { return key, nil },
		jwtv5.WithValidMethods([]string{"RS256"}),
	)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: invalid id_token", ErrProtocol)
	}
	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: claims type", ErrProtocol)
	}

	iss, _ := claims["iss"].(string)
	if cfg.IssuerURL != "" && iss != cfg.IssuerURL {
		return nil, fmt.Errorf("%w: bad iss %q", ErrProtocol, iss)
	}
	if !audMatches(claims["aud"], cfg.ClientID) {
		return nil, fmt.Errorf("%w: bad aud", ErrProtocol)
	}
	if nonce != "" {
		if got, _ := claims["nonce"].(string); got != nonce {
			return nil, fmt.Errorf("%w: bad nonce", ErrProtocol)
		}
	}
	if expf, ok := claims["exp"].(float64); ok {
		if time.Unix(int64(expf), 0).Before(time.Now().Add(-30 * time.Second)) {
			return nil, fmt.Errorf("%w: token expired", ErrProtocol)
		}
	}

	return assertionFromClaims(claims), nil
}

func (v *oidcValidator) keyForKid(ctx context.Context, p *repository.FederationProvider, kid string) (*rsa.PublicKey, error) {
	doc, err := v.fetchJWKS(ctx, p)
	if err != nil {
		return nil, err
	}
	for _, k := range doc.Keys {
		if k.Kid != kid || !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		nb, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("%w: jwk n: %v", ErrProtocol, err)
		}
		eb, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("%w: jwk e: %v", ErrProtocol, err)
		}
		e := 65537
		if len(eb) > 0 {
			e = 0
			for _, b := range eb {
				e = (e << 8) | int(b)
			}
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
	}
	return nil, fmt.Errorf("%w: kid %s not found in jwks", ErrProtocol, kid)
}

// fetchJWKS cachea el JWKS por provider y versión de config: un update
// del provider fuerza refetch aunque la entrada anterior siga fresca.
func (v *oidcValidator) fetchJWKS(ctx context.Context, p *repository.FederationProvider) (*jwksDoc, error) {
	key := fmt.Sprintf("%s@%d", p.ID, p.Version)

	v.mu.RLock()
	entry := v.jwks[key]
	v.mu.RUnlock()
	if entry != nil && time.Since(entry.fetchedAt) < time.Hour {
		return entry.doc, nil
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, p.OIDC.JWKSURL, nil)
	if entry != nil && entry.etag != "" {
		req.Header.Set("If-None-Match", entry.etag)
	}
	res, err := v.http.Do(req)
	metrics.ProviderCallDuration.WithLabelValues("oidc", "jwks").Observe(time.Since(start).Seconds())
	if err != nil {
		if entry != nil {
			return entry.doc, nil // mejor servir el JWKS viejo que caerse
		}
		return nil, fmt.Errorf("%w: jwks: %v", ErrProviderDown, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotModified && entry != nil {
		v.mu.Lock()
		entry.fetchedAt = time.Now()
		v.mu.Unlock()
		return entry.doc, nil
	}
	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: jwks http %d", ErrProviderDown, res.StatusCode)
	}

	var doc jwksDoc
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: jwks decode: %v", ErrProtocol, err)
	}

	v.mu.Lock()
	v.jwks[key] = &jwksEntry{doc: &doc, fetchedAt: time.Now(), etag: res.Header.Get("ETag")}
	v.mu.Unlock()
	return &doc, nil
}

func audMatches(aud any, clientID string) bool {
	switch a := aud.(type) {
	case string:
		return a == clientID
	case []any:
		for _, v := range a {
			if s, _ := v.(string); s == clientID {
				return true
			}
		}
	}
	return false
}

// assertionFromClaims aplana los claims string del id_token y extrae
// grupos de los claims habituales.
func assertionFromClaims(claims jwtv5.MapClaims) *Assertion {
	a := &Assertion{Attributes: make(map[string]string)}
	for k, val := range claims {
		if s, ok := val.(string); ok {
			a.Attributes[k] = s
		}
	}
	a.Subject, _ = claims["sub"].(string)
	a.Email, _ = claims["email"].(string)

	for _, claim := range []string{"groups", "roles"} {
		raw, ok := claims[claim].([]any)
		if !ok {
			continue
		}
		for _, g := range raw {
			if s, _ := g.(string); s != "" {
				a.Groups = append(a.Groups, s)
			}
		}
	}
	return a
}

package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/metrics"
	"github.com/dropDatabas3/aegis/internal/security/secretbox"
)

// oauthValidator implementa OAuth2 plano: code exchange + userinfo.
// Sin id_token firmado, la identidad sale del endpoint de userinfo.
type oauthValidator struct {
	http *http.Client
}

func newOAuthValidator(timeout time.Duration) *oauthValidator {
	return &oauthValidator{http: &http.Client{Timeout: timeout}}
}

func (v *oauthValidator) AuthURL(_ context.Context, p *repository.FederationProvider, state, _ string) (string, error) {
	cfg := p.OAuth
	if cfg == nil {
		return "", fmt.Errorf("%w: provider %s has no oauth config", ErrProtocol, p.ID)
	}
	u, err := url.Parse(cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("%w: authorize url: %v", ErrProtocol, err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", cfg.RedirectURL)
	if len(cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (v *oauthValidator) Validate(ctx context.Context, p *repository.FederationProvider, resp ProviderResponse, _ string) (*Assertion, error) {
	cfg := p.OAuth
	if cfg == nil {
		return nil, fmt.Errorf("%w: provider %s has no oauth config", ErrProtocol, p.ID)
	}
	if resp.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrProtocol)
	}

	accessToken, err := v.exchangeCode(ctx, cfg, resp.Code)
	if err != nil {
		return nil, err
	}
	return v.userInfo(ctx, cfg, accessToken)
}

func (v *oauthValidator) exchangeCode(ctx context.Context, cfg *repository.OAuthConfig, code string) (string, error) {
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
	req.Header.Set("Accept", "application/json")
	res, err := v.http.Do(req)
	metrics.ProviderCallDuration.WithLabelValues("oauth", "token").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: token endpoint: %v", ErrProviderDown, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: token http %d", ErrProtocol, res.StatusCode)
	}
	var tr struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: token response: %v", ErrProtocol, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: no access_token in response", ErrProtocol)
	}
	return tr.AccessToken, nil
}

func (v *oauthValidator) userInfo(ctx context.Context, cfg *repository.OAuthConfig, accessToken string) (*Assertion, error) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserInfoURL, nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	res, err := v.http.Do(req)
	metrics.ProviderCallDuration.WithLabelValues("oauth", "userinfo").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo: %v", ErrProviderDown, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: userinfo http %d", ErrProtocol, res.StatusCode)
	}
	var raw map[string]any
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: userinfo decode: %v", ErrProtocol, err)
	}

	a := &Assertion{Attributes: make(map[string]string)}
	for k, val := range raw {
		switch t := val.(type) {
		case string:
			a.Attributes[k] = t
		case float64:
			a.Attributes[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			a.Attributes[k] = strconv.FormatBool(t)
		case []any:
			if k == "groups" || k == "roles" {
				for _, g := range t {
					if s, _ := g.(string); s != "" {
						a.Groups = append(a.Groups, s)
					}
				}
			}
		}
	}
	a.Email = a.Attributes["email"]
	a.Subject = a.Attributes["sub"]
	if a.Subject == "" {
		a.Subject = a.Attributes["id"]
	}
	if a.Subject == "" && a.Email == "" {
		return nil, fmt.Errorf("%w: userinfo has no subject nor email", ErrProtocol)
	}
	return a, nil
}

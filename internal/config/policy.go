package config

import (
	"context"
	"strings"
	"time"
)

// Policy son los valores de policy de una organización que el engine
// consume read-only: timeouts de sesión, límite concurrente, MFA,
// binding de fingerprint/IP y países permitidos.
type Policy struct {
	SessionTimeout   time.Duration
	AbsoluteTimeout  time.Duration
	ConcurrentLimit  int
	RenewalFraction  float64
	BindFingerprint  bool
	BindIP           bool
	RequireMFA       bool
	AllowedCountries []string
}

// RenewalThreshold retorna el umbral de renovación: cuando el tiempo
// restante cae debajo, validate extiende el expiry.
func (p Policy) RenewalThreshold() time.Duration {
	return time.Duration(float64(p.SessionTimeout) * p.RenewalFraction)
}

// CountryAllowed compara el país geolocalizado del request contra la
// allowlist. Lista vacía = sin restricción; país desconocido pasa, la
// señal de riesgo por país lo cubre aparte.
func (p Policy) CountryAllowed(country string) bool {
	if len(p.AllowedCountries) == 0 || country == "" {
		return true
	}
	for _, c := range p.AllowedCountries {
		if strings.EqualFold(strings.TrimSpace(c), country) {
			return true
		}
	}
	return false
}

// PolicyProvider resuelve la policy vigente para una organización.
// La superficie de configuración por organización es un colaborador
// externo; este engine solo lee.
type PolicyProvider interface {
	PolicyFor(ctx context.Context, orgID string) (Policy, error)
}

// StaticPolicyProvider sirve la misma policy (defaults de config) para
// toda organización. Suficiente para single-org y tests.
type StaticPolicyProvider struct {
	Policy Policy
}

func (s StaticPolicyProvider) PolicyFor(context.Context, string) (Policy, error) {
	return s.Policy, nil
}

// DefaultPolicy arma la policy default desde la configuración cargada.
func (c *Config) DefaultPolicy() Policy {
	return Policy{
		SessionTimeout:   DurationOr(c.Session.Timeout, 30*time.Minute),
		AbsoluteTimeout:  DurationOr(c.Session.AbsoluteTimeout, 12*time.Hour),
		ConcurrentLimit:  c.Session.ConcurrentLimit,
		RenewalFraction:  c.Session.RenewalFraction,
		BindFingerprint:  c.Session.BindFingerprint,
		BindIP:           c.Session.BindIP,
		RequireMFA:       c.Session.RequireMFA,
		AllowedCountries: c.Session.AllowedCountries,
	}
}

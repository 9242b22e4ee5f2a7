// Package risk combina señales ponderadas del contexto de autenticación
// en un nivel LOW / MEDIUM / HIGH.
package risk

import (
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/fingerprint"
)

// Weights son los pesos de cada señal. Todos no negativos: agregar una
// señal nunca puede bajar el nivel resultante.
type Weights struct {
	DeviceUntrusted int
	MFAUnverified   int
	HighRiskCountry int
	UnknownDevice   int
	IPChanged       int
	StaleSession    int
}

// Config parametriza el scorer. Los umbrales son configuración, no
// semántica de negocio fija.
type Config struct {
	Weights           Weights
	MediumThreshold   int
	HighThreshold     int
	HighRiskCountries []string
	FreshnessWindow   time.Duration
}

// Signals son los hechos observados sobre los que se calcula el score.
type Signals struct {
	DeviceTrust    types.TrustLevel
	MFAVerified    bool
	Country        string
	KnownDevice    bool
	SessionIP      string // IP de origen de la sesión; vacío en creación
	CurrentIP      string
	SessionCreated time.Time
	Now            time.Time
}

// Scorer calcula el riesgo de un contexto de autenticación.
type Scorer struct {
	cfg      Config
	highRisk map[string]bool
}

// NewScorer crea un Scorer. Pesos negativos se fuerzan a cero para
// preservar la monotonía.
func NewScorer(cfg Config) *Scorer {
	clamp := func(n *int) {
		if *n < 0 {
			*n = 0
		}
	}
	w := &cfg.Weights
	clamp(&w.DeviceUntrusted)
	clamp(&w.MFAUnverified)
	clamp(&w.HighRiskCountry)
	clamp(&w.UnknownDevice)
	clamp(&w.IPChanged)
	clamp(&w.StaleSession)

	if cfg.MediumThreshold <= 0 {
		cfg.MediumThreshold = 30
	}
	if cfg.HighThreshold <= cfg.MediumThreshold {
		cfg.HighThreshold = cfg.MediumThreshold * 2
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 8 * time.Hour
	}

	hr := make(map[string]bool, len(cfg.HighRiskCountries))
	for _, c := range cfg.HighRiskCountries {
		hr[c] = true
	}
	return &Scorer{cfg: cfg, highRisk: hr}
}

// Score suma las señales presentes y mapea el total a un nivel.
func (s *Scorer) Score(sig Signals) (int, types.RiskLevel) {
	w := s.cfg.Weights
	score := 0

	if sig.DeviceTrust != types.TrustTrusted {
		score += w.DeviceUntrusted
	}
	if !sig.MFAVerified {
		score += w.MFAUnverified
	}
	if sig.Country != "" && s.highRisk[sig.Country] {
		score += w.HighRiskCountry
	}
	if !sig.KnownDevice {
		score += w.UnknownDevice
	}
	if sig.SessionIP != "" && sig.CurrentIP != "" &&
		sig.SessionIP != sig.CurrentIP && !fingerprint.SameBlock(sig.SessionIP, sig.CurrentIP) {
		score += w.IPChanged
	}
	now := sig.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if !sig.SessionCreated.IsZero() && now.Sub(sig.SessionCreated) > s.cfg.FreshnessWindow {
		score += w.StaleSession
	}

	return score, s.Level(score)
}

// Level mapea un score numérico a un nivel. Monotónico: score mayor
// nunca produce un nivel menor.
func (s *Scorer) Level(score int) types.RiskLevel {
	switch {
	case score >= s.cfg.HighThreshold:
		return types.RiskHigh
	case score >= s.cfg.MediumThreshold:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

package risk

import (
	"testing"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/types"
)

func testScorer() *Scorer {
	return NewScorer(Config{
		Weights: Weights{
			DeviceUntrusted: 25,
			MFAUnverified:   20,
			HighRiskCountry: 20,
			UnknownDevice:   10,
			IPChanged:       25,
			StaleSession:    10,
		},
		MediumThreshold:   30,
		HighThreshold:     60,
		HighRiskCountries: []string{"XX"},
		FreshnessWindow:   8 * time.Hour,
	})
}

// baseline: todas las señales en su mejor estado
func cleanSignals() Signals {
	now := time.Now().UTC()
	return Signals{
		DeviceTrust:    types.TrustTrusted,
		MFAVerified:    true,
		Country:        "AR",
		KnownDevice:    true,
		SessionIP:      "203.0.113.1",
		CurrentIP:      "203.0.113.1",
		SessionCreated: now,
		Now:            now,
	}
}

func TestScore_CleanContextIsLow(t *testing.T) {
	score, level := testScorer().Score(cleanSignals())
	if score != 0 || level != types.RiskLow {
		t.Fatalf("contexto limpio: score=%d level=%s", score, level)
	}
}

func TestScore_Thresholds(t *testing.T) {
	s := testScorer()

	sig := cleanSignals()
	sig.MFAVerified = false
	sig.KnownDevice = false // 20+10 = 30, borde de MEDIUM
	score, level := s.Score(sig)
	if score != 30 || level != types.RiskMedium {
		t.Fatalf("score=%d level=%s, quería 30/MEDIUM", score, level)
	}

	sig.DeviceTrust = types.TrustProvisional // +25 = 55, sigue MEDIUM
	score, level = s.Score(sig)
	if score != 55 || level != types.RiskMedium {
		t.Fatalf("score=%d level=%s, quería 55/MEDIUM", score, level)
	}

	sig.Country = "XX" // +20 = 75, HIGH
	score, level = s.Score(sig)
	if score != 75 || level != types.RiskHigh {
		t.Fatalf("score=%d level=%s, quería 75/HIGH", score, level)
	}
}

// Agregar una señal de riesgo nunca baja el nivel.
func TestScore_Monotonic(t *testing.T) {
	s := testScorer()

	degrade := []func(*Signals){
		func(sig *Signals) { sig.DeviceTrust = types.TrustProvisional },
		func(sig *Signals) { sig.MFAVerified = false },
		func(sig *Signals) { sig.Country = "XX" },
		func(sig *Signals) { sig.KnownDevice = false },
		func(sig *Signals) { sig.CurrentIP = "198.51.100.9" },
		func(sig *Signals) { sig.SessionCreated = sig.Now.Add(-9 * time.Hour) },
	}

	sig := cleanSignals()
	prev, _ := s.Score(sig)
	for i, f := range degrade {
		f(&sig)
		score, _ := s.Score(sig)
		if score < prev {
			t.Fatalf("señal %d bajó el score: %d -> %d", i, prev, score)
		}
		prev = score
	}
}

func TestScore_IPChangeWithinBlockIgnored(t *testing.T) {
	s := testScorer()
	sig := cleanSignals()
	sig.CurrentIP = "203.0.113.200" // misma /24
	score, _ := s.Score(sig)
	if score != 0 {
		t.Fatalf("cambio de IP dentro del bloque sumó riesgo: %d", score)
	}
}

func TestScore_StaleSession(t *testing.T) {
	s := testScorer()
	sig := cleanSignals()
	sig.SessionCreated = sig.Now.Add(-9 * time.Hour)
	score, _ := s.Score(sig)
	if score != 10 {
		t.Fatalf("sesión vieja: score=%d, quería 10", score)
	}
}

func TestNewScorer_ClampsNegativeWeights(t *testing.T) {
	s := NewScorer(Config{
		Weights:         Weights{MFAUnverified: -50},
		MediumThreshold: 30,
		HighThreshold:   60,
	})
	sig := Signals{DeviceTrust: types.TrustTrusted, MFAVerified: false, KnownDevice: true}
	score, level := s.Score(sig)
	if score != 0 || level != types.RiskLow {
		t.Fatalf("peso negativo no clampeado: score=%d level=%s", score, level)
	}
}

// Package metrics define los collectors Prometheus del engine.
// Viven en un paquete standalone para evitar ciclos de import entre
// services y HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_login_attempts_total",
		Help: "Intentos de login por protocolo y resultado",
	}, []string{"protocol", "result"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_active_sessions",
		Help: "Sesiones activas conocidas por esta instancia",
	})

	SessionValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_session_validations_total",
		Help: "Resultados de validación de sesión",
	}, []string{"result"})

	MFAVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_mfa_verifications_total",
		Help: "Verificaciones MFA por método y resultado",
	}, []string{"method", "result"})

	AlertsRaised = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_alerts_raised_total",
		Help: "Alertas de seguridad creadas por tipo",
	}, []string{"type"})

	RiskLevels = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_risk_evaluations_total",
		Help: "Evaluaciones de riesgo por nivel resultante",
	}, []string{"level"})

	SweepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_sweep_duration_seconds",
		Help:    "Duración de los background sweeps",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"job"})

	ProviderCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_provider_call_duration_seconds",
		Help:    "Duración de llamadas salientes a federation providers",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"protocol", "call"})
)

// Register registra todos los collectors en el registry dado (o en el
// default si es nil). Tolera AlreadyRegistered para no romper en tests.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		LoginAttempts, ActiveSessions, SessionValidations,
		MFAVerifications, AlertsRaised, RiskLevels,
		SweepDuration, ProviderCallDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// Package analyzer implementa el Security Pattern Analyzer: consume el
// stream de eventos de auditoría, mantiene contadores de ventana y
// levanta alertas deduplicadas.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dropDatabas3/aegis/internal/cache"
	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/metrics"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
)

// SessionTerminator revoca sesiones ante una alerta crítica. Lo
// implementa el session manager; la interfaz evita el acople directo.
type SessionTerminator interface {
	TerminateAllForIdentity(ctx context.Context, identityID, exceptSessionID, reason string) (int, error)
}

// Config parametriza las ventanas y umbrales de detección.
type Config struct {
	FailureWindow       time.Duration
	FailureThreshold    int
	DistinctIPWindow    time.Duration
	DistinctIPThreshold int
	PrivilegeWindow     time.Duration
	PrivilegeThreshold  int
}

// Deps contiene las dependencias del analyzer.
type Deps struct {
	Alerts     repository.AlertRepository
	Audit      repository.AuditRepository
	Cache      cache.Client
	Terminator SessionTerminator // opcional
}

// Analyzer consume eventos y levanta alertas. Implementa audit.Sink.
type Analyzer struct {
	cfg  Config
	deps Deps
}

// New crea el analyzer.
func New(cfg Config, deps Deps) *Analyzer {
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 15 * time.Minute
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.DistinctIPWindow <= 0 {
		cfg.DistinctIPWindow = 24 * time.Hour
	}
	if cfg.DistinctIPThreshold <= 0 {
		cfg.DistinctIPThreshold = 3
	}
	if cfg.PrivilegeWindow <= 0 {
		cfg.PrivilegeWindow = 5 * time.Minute
	}
	if cfg.PrivilegeThreshold <= 0 {
		cfg.PrivilegeThreshold = 3
	}
	return &Analyzer{cfg: cfg, deps: deps}
}

// SetTerminator conecta el session manager después de la construcción.
// El wiring es circular (el manager audita, el recorder propaga al
// analyzer, el analyzer termina sesiones) y alguien tiene que ceder.
func (a *Analyzer) SetTerminator(t SessionTerminator) {
	a.deps.Terminator = t
}

// Consume procesa un evento. Nunca retorna error al emisor: el análisis
// es best-effort y los problemas quedan en el log.
func (a *Analyzer) Consume(ctx context.Context, ev *repository.AuditEvent) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("analyzer"),
		logger.Op("Consume"),
		logger.Event(ev.Event),
	)

	switch {
	case ev.Event == types.EventLoginFailure || (ev.Event == types.EventMFAFailed && ev.IPAddress != ""):
		if err := a.onFailure(ctx, ev); err != nil {
			log.Warn("análisis de fallo incompleto", logger.Err(err))
		}
	case ev.Event == types.EventLoginSuccess:
		if err := a.onLoginSuccess(ctx, ev); err != nil {
			log.Warn("análisis de login incompleto", logger.Err(err))
		}
	}

	if types.PrivilegeEvents[ev.Event] && ev.IdentityID != nil {
		if err := a.onPrivilegeEvent(ctx, ev); err != nil {
			log.Warn("análisis de privilegios incompleto", logger.Err(err))
		}
	}
}

// onFailure mantiene el contador deslizante de fallos por IP. El
// contador vive en el cache compartido: varias instancias suman al
// mismo. Un éxito desde esa IP lo limpia (onLoginSuccess).
func (a *Analyzer) onFailure(ctx context.Context, ev *repository.AuditEvent) error {
	if ev.IPAddress == "" {
		return nil
	}
	key := failureKey(ev.IPAddress)
	n, err := a.deps.Cache.Incr(ctx, key, a.cfg.FailureWindow)
	if err != nil {
		return fmt.Errorf("incr failure counter: %w", err)
	}
	if int(n) < a.cfg.FailureThreshold {
		return nil
	}

	return a.raise(ctx, &repository.SecurityAlert{
		Type:       types.AlertRepeatedFailures,
		Severity:   types.SeverityHigh,
		OrgID:      ev.OrgID,
		IdentityID: ev.IdentityID,
		Subject:    ev.IPAddress,
		Description: fmt.Sprintf("%d intentos fallidos desde %s dentro de la ventana de %s",
			n, ev.IPAddress, a.cfg.FailureWindow),
		Evidence: map[string]any{
			"ip":         ev.IPAddress,
			"failures":   n,
			"window":     a.cfg.FailureWindow.String(),
			"last_event": ev.Event,
		},
	})
}

// onLoginSuccess limpia el contador de fallos de la IP y evalúa
// ubicación inusual contra el historial de IPs distintas.
func (a *Analyzer) onLoginSuccess(ctx context.Context, ev *repository.AuditEvent) error {
	if ev.IPAddress != "" {
		if err := a.deps.Cache.Delete(ctx, failureKey(ev.IPAddress)); err != nil && !cache.IsNotFound(err) {
			return fmt.Errorf("clear failure counter: %w", err)
		}
	}
	if ev.IdentityID == nil || ev.IPAddress == "" {
		return nil
	}

	// el audit trail es la fuente autoritativa del set de IPs: resiste
	// reinicios y es consistente entre instancias
	since := time.Now().UTC().Add(-a.cfg.DistinctIPWindow)
	ips, err := a.deps.Audit.DistinctIPsByIdentity(ctx, *ev.IdentityID, since)
	if err != nil {
		return fmt.Errorf("distinct ips: %w", err)
	}

	seen := false
	for _, ip := range ips {
		if ip == ev.IPAddress {
			seen = true
			break
		}
	}
	// la IP actual ya está en el trail (este mismo evento); "nueva"
	// significa que el resto del set ya superaba el umbral
	others := len(ips)
	if seen {
		others--
	}
	if others < a.cfg.DistinctIPThreshold {
		return nil
	}

	return a.raise(ctx, &repository.SecurityAlert{
		Type:       types.AlertUnusualLocation,
		Severity:   types.SeverityMedium,
		OrgID:      ev.OrgID,
		IdentityID: ev.IdentityID,
		Subject:    *ev.IdentityID,
		Description: fmt.Sprintf("login desde IP nueva %s con %d IPs distintas en las últimas %s",
			ev.IPAddress, len(ips), a.cfg.DistinctIPWindow),
		Evidence: map[string]any{
			"new_ip":       ev.IPAddress,
			"distinct_ips": ips,
			"window":       a.cfg.DistinctIPWindow.String(),
		},
	})
}

// onPrivilegeEvent detecta ráfagas de eventos de privilegio sobre una
// identidad. Superado el umbral levanta una alerta crítica y revoca
// las sesiones de la identidad.
func (a *Analyzer) onPrivilegeEvent(ctx context.Context, ev *repository.AuditEvent) error {
	key := "analyzer:priv:" + *ev.IdentityID
	n, err := a.deps.Cache.Incr(ctx, key, a.cfg.PrivilegeWindow)
	if err != nil {
		return fmt.Errorf("incr privilege counter: %w", err)
	}
	if int(n) < a.cfg.PrivilegeThreshold {
		return nil
	}

	if err := a.raise(ctx, &repository.SecurityAlert{
		Type:       types.AlertPrivilegeEscalation,
		Severity:   types.SeverityCritical,
		OrgID:      ev.OrgID,
		IdentityID: ev.IdentityID,
		Subject:    *ev.IdentityID,
		Description: fmt.Sprintf("%d eventos de privilegio en %s para la identidad %s",
			n, a.cfg.PrivilegeWindow, *ev.IdentityID),
		Evidence: map[string]any{
			"events":     n,
			"window":     a.cfg.PrivilegeWindow.String(),
			"last_event": ev.Event,
		},
	}); err != nil {
		return err
	}

	if a.deps.Terminator != nil {
		revoked, err := a.deps.Terminator.TerminateAllForIdentity(ctx, *ev.IdentityID, "", "privilege-escalation alert")
		if err != nil {
			return fmt.Errorf("terminate sessions: %w", err)
		}
		logger.From(ctx).Info("sesiones revocadas por alerta crítica",
			logger.Component("analyzer"),
			logger.IdentityID(*ev.IdentityID),
			logger.Count(revoked),
		)
	}
	return nil
}

// raise crea la alerta si no hay una abierta con la misma clave
// (type, subject). Re-levantar mientras está sin resolver es no-op.
func (a *Analyzer) raise(ctx context.Context, alert *repository.SecurityAlert) error {
	if _, err := a.deps.Alerts.GetOpenByKey(ctx, alert.Type, alert.Subject); err == nil {
		return nil
	} else if !repository.IsNotFound(err) {
		return fmt.Errorf("dedup lookup: %w", err)
	}

	alert.ID = ulid.Make().String()
	alert.CreatedAt = time.Now().UTC()
	if err := a.deps.Alerts.Create(ctx, alert); err != nil {
		return fmt.Errorf("create alert: %w", err)
	}

	metrics.AlertsRaised.WithLabelValues(string(alert.Type)).Inc()
	logger.From(ctx).Info("alerta de seguridad",
		logger.Component("analyzer"),
		logger.AlertType(string(alert.Type)),
		logger.String("subject", alert.Subject),
		logger.String("severity", string(alert.Severity)),
	)
	return nil
}

func failureKey(ip string) string { return "analyzer:fail:" + ip }

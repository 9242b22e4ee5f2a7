package analyzer

import (
	"context"
	"time"

	"github.com/dropDatabas3/aegis/internal/observability/logger"
)

// Retention define los horizontes de purga del trail y las alertas.
type Retention struct {
	Audit          time.Duration
	ResolvedAlerts time.Duration
}

// Sweep purga eventos de auditoría y alertas resueltas más viejas que
// el horizonte. Idempotente: correrlo en varias instancias a la vez
// solo reparte los borrados.
func (a *Analyzer) Sweep(ctx context.Context, ret Retention) error {
	log := logger.From(ctx).With(
		logger.Layer("job"),
		logger.Component("analyzer"),
		logger.Op("Sweep"),
	)
	now := time.Now().UTC()

	if ret.Audit > 0 {
		n, err := a.deps.Audit.DeleteBefore(ctx, now.Add(-ret.Audit))
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("eventos de auditoría purgados", logger.Count(n))
		}
	}

	if ret.ResolvedAlerts > 0 {
		n, err := a.deps.Alerts.DeleteResolvedBefore(ctx, now.Add(-ret.ResolvedAlerts))
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("alertas resueltas purgadas", logger.Count(n))
		}
	}
	return nil
}

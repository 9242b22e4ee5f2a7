// Package audit registra el trail de eventos de seguridad y lo expone
// para consulta y exportación.
package audit

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/metrics"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
)

// Sink recibe cada evento registrado. El pattern analyzer implementa
// esta interfaz; el recorder no conoce sus detalles.
type Sink interface {
	Consume(ctx context.Context, ev *repository.AuditEvent)
}

// Recorder persiste eventos de auditoría y los propaga al sink.
type Recorder interface {
	// Record asigna ID y timestamp, persiste y propaga. El fan-out al
	// sink es asíncrono: un analyzer lento no frena el request.
	Record(ctx context.Context, ev *repository.AuditEvent) error

	// Query retorna eventos paginados con su total.
	Query(ctx context.Context, filter repository.ListAuditFilter) ([]repository.AuditEvent, int, error)
}

// RecorderDeps contiene las dependencias del recorder.
type RecorderDeps struct {
	Audit repository.AuditRepository
	Sink  Sink // opcional
}

type recorder struct {
	deps RecorderDeps
}

// NewRecorder crea un Recorder.
func NewRecorder(deps RecorderDeps) Recorder {
	return &recorder{deps: deps}
}

func (r *recorder) Record(ctx context.Context, ev *repository.AuditEvent) error {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("audit"),
		logger.Op("Record"),
	)

	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Risk == "" {
		ev.Risk = types.RiskLow
	}

	if err := r.deps.Audit.Insert(ctx, ev); err != nil {
		// el trail es parte del contrato de seguridad: si no se puede
		// escribir, el caller decide, pero siempre queda log
		log.Error("no se pudo persistir evento de auditoría",
			logger.Event(ev.Event), logger.Err(err))
		return err
	}

	metrics.RiskLevels.WithLabelValues(string(ev.Risk)).Inc()

	if r.deps.Sink != nil {
		// contexto desacoplado del request: el análisis sobrevive al
		// cierre del handler
		evCopy := *ev
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			r.deps.Sink.Consume(logger.ToContext(actx, logger.From(ctx)), &evCopy)
		}()
	}

	log.Debug("evento registrado", logger.Event(ev.Event), logger.Bool("success", ev.Success))
	return nil
}

func (r *recorder) Query(ctx context.Context, filter repository.ListAuditFilter) ([]repository.AuditEvent, int, error) {
	return r.deps.Audit.List(ctx, filter)
}

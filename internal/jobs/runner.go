// Package jobs corre tareas periódicas de mantenimiento: purgas de
// retención, expiración de confianza de dispositivos, limpieza de
// sesiones terminales.
package jobs

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/aegis/internal/metrics"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
)

// Job es una tarea periódica. Debe ser idempotente: varias instancias
// del servicio pueden ejecutarla a la vez y el resultado es el mismo.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner programa jobs con jitter para desfasar instancias.
type Runner struct {
	jobs []Job

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewRunner crea el runner.
func NewRunner(jobs ...Job) *Runner {
	return &Runner{jobs: jobs}
}

// Start lanza una goroutine por job. Los jobs corren hasta Stop o hasta
// que el contexto padre se cancele.
func (r *Runner) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	r.cancel = cancel
	stopped := make(chan struct{})
	r.stopped = stopped
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, job := range r.jobs {
		if job.Interval <= 0 || job.Run == nil {
			continue
		}
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			r.loop(ctx, j)
		}(job)
	}
	go func() {
		wg.Wait()
		close(stopped)
	}()
}

func (r *Runner) loop(ctx context.Context, j Job) {
	log := logger.L().With(
		logger.Layer("job"),
		logger.Component("jobs"),
		logger.String("job", j.Name),
	)

	// jitter inicial: hasta 10% del intervalo, para que varias
	// instancias no barran todas en el mismo instante
	jitter := time.Duration(rand.Int63n(int64(j.Interval)/10 + 1))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		r.runOnce(ctx, j, log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, j Job, log *zap.Logger) {
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, j.Interval)
	err := j.Run(logger.ToContext(rctx, logger.L()))
	cancel()

	metrics.SweepDuration.WithLabelValues(j.Name).Observe(time.Since(start).Seconds())
	if err != nil && ctx.Err() == nil {
		log.Warn("job falló", logger.Err(err))
	}
}

// Stop cancela los jobs y espera a que terminen los que están corriendo.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	stopped := r.stopped
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
}

package fingerprint

import (
	"context"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
)

// Evaluation es el resultado de evaluar el dispositivo de un request.
type Evaluation struct {
	Fingerprint string
	Trust       types.TrustLevel
	KnownDevice bool
	FirstSeen   time.Time
}

// Evaluator decide el nivel de confianza del dispositivo de un request.
type Evaluator interface {
	// Evaluate registra (o toca) el dispositivo y retorna su confianza.
	Evaluate(ctx context.Context, identityID string, rc types.RequestContext) (*Evaluation, error)

	// Trust promueve el fingerprint a trusted con expiry opcional. Se
	// invoca tras una verificación fuerte (MFA completado en ese
	// dispositivo) con rememberDevice.
	Trust(ctx context.Context, identityID, fp string, ttl time.Duration) error

	// Revoke degrada el dispositivo a untrusted.
	Revoke(ctx context.Context, identityID, fp string) error
}

// EvaluatorDeps contiene las dependencias del evaluator.
type EvaluatorDeps struct {
	Devices repository.DeviceRepository
}

type evaluator struct {
	deps EvaluatorDeps
}

// NewEvaluator crea un Evaluator.
func NewEvaluator(deps EvaluatorDeps) Evaluator {
	return &evaluator{deps: deps}
}

func (e *evaluator) Evaluate(ctx context.Context, identityID string, rc types.RequestContext) (*Evaluation, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("fingerprint"),
		logger.Op("Evaluate"),
	)

	fp := Compute(rc)

	existing, err := e.deps.Devices.Get(ctx, identityID, fp)
	known := err == nil
	if err != nil && !repository.IsNotFound(err) {
		return nil, err
	}

	dev, err := e.deps.Devices.Upsert(ctx, identityID, fp, rc.UserAgent)
	if err != nil {
		return nil, err
	}

	trust := dev.Trust
	if trust == types.TrustTrusted && dev.TrustExpiresAt != nil && dev.TrustExpiresAt.Before(time.Now().UTC()) {
		// confianza vencida entre sweeps: degradar en la lectura
		trust = types.TrustProvisional
		if err := e.deps.Devices.SetTrust(ctx, identityID, fp, types.TrustProvisional, nil); err != nil {
			log.Warn("no se pudo degradar confianza vencida", logger.Err(err))
		}
	}

	// Un dispositivo ya visto pero nunca confirmado es provisional, no
	// untrusted: volvió, pero nadie lo verificó.
	if known && trust == types.TrustUntrusted {
		trust = types.TrustProvisional
		if err := e.deps.Devices.SetTrust(ctx, identityID, fp, types.TrustProvisional, nil); err != nil {
			log.Warn("no se pudo promover a provisional", logger.Err(err))
		}
	}

	firstSeen := dev.FirstSeen
	if existing != nil {
		firstSeen = existing.FirstSeen
	}

	log.Debug("dispositivo evaluado",
		logger.Fingerprint(fp),
		logger.String("trust", string(trust)),
		logger.Bool("known", known),
	)

	return &Evaluation{
		Fingerprint: fp,
		Trust:       trust,
		KnownDevice: known,
		FirstSeen:   firstSeen,
	}, nil
}

func (e *evaluator) Trust(ctx context.Context, identityID, fp string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().UTC().Add(ttl)
		expiresAt = &t
	}
	return e.deps.Devices.SetTrust(ctx, identityID, fp, types.TrustTrusted, expiresAt)
}

func (e *evaluator) Revoke(ctx context.Context, identityID, fp string) error {
	return e.deps.Devices.SetTrust(ctx, identityID, fp, types.TrustUntrusted, nil)
}

package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar - HTTP

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field { return zap.String("request_id", v) }

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field { return zap.String("method", v) }

// Path crea un campo para el path del request.
func Path(v string) zap.Field { return zap.String("path", v) }

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field { return zap.Int("status", v) }

// Duration crea un campo para la duración del request.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// ClientIP crea un campo para la IP del cliente.
func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

// UserAgent crea un campo para el User-Agent.
func UserAgent(v string) zap.Field { return zap.String("user_agent", v) }

// Campos estándar - negocio

// OrgID crea un campo para el ID de la organización.
func OrgID(v string) zap.Field { return zap.String("org_id", v) }

// IdentityID crea un campo para el ID de la identidad.
func IdentityID(v string) zap.Field { return zap.String("identity_id", v) }

// ProviderID crea un campo para el ID del federation provider.
func ProviderID(v string) zap.Field { return zap.String("provider_id", v) }

// SessionID crea un campo para el hash de la sesión (nunca el ID en claro).
func SessionID(v string) zap.Field { return zap.String("session_id_hash", v) }

// Fingerprint crea un campo para el fingerprint de dispositivo.
func Fingerprint(v string) zap.Field { return zap.String("fingerprint", v) }

// Risk crea un campo para el nivel de riesgo.
func Risk(v string) zap.Field { return zap.String("risk", v) }

// AlertType crea un campo para el tipo de alerta.
func AlertType(v string) zap.Field { return zap.String("alert_type", v) }

// Event crea un campo para el nombre de evento de auditoría.
func Event(v string) zap.Field { return zap.String("event", v) }

// Email crea un campo para el email (usar con cuidado en prod).
func Email(v string) zap.Field { return zap.String("email", v) }

// Campos estándar - sistema

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Layer crea un campo para la capa (handler, service, repository, job).
func Layer(v string) zap.Field { return zap.String("layer", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }

// Campos genéricos

// Count crea un campo para un conteo.
func Count(v int) zap.Field { return zap.Int("count", v) }

// String crea un campo string genérico.
func String(key, v string) zap.Field { return zap.String(key, v) }

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field { return zap.Int(key, v) }

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field { return zap.Any(key, v) }

package middlewares

import (
	"net/http"
	"strconv"

	httperr "github.com/dropDatabas3/aegis/internal/http/errors"
	"github.com/dropDatabas3/aegis/internal/http/helpers"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
	"github.com/dropDatabas3/aegis/internal/rate"
)

// KeyFunc extrae la clave de rate limiting de un request.
type KeyFunc func(r *http.Request) string

// KeyByIP limita por IP de cliente.
func KeyByIP(r *http.Request) string { return helpers.ClientIP(r) }

// WithRateLimit aplica un limiter de ventana fija sobre la clave dada.
// Si el cache está caído el request pasa: preferimos degradar el rate
// limiting antes que tirar logins válidos.
func WithRateLimit(limiter rate.Limiter, key KeyFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			res, err := limiter.Allow(r.Context(), key(r))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter no disponible",
					logger.Component("middlewares"), logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				if res.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
				}
				httperr.WriteError(w, httperr.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

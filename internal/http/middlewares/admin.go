package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	httperr "github.com/dropDatabas3/aegis/internal/http/errors"
)

// RequireAPIKey protege la superficie administrativa con una API key
// estática (header X-Admin-Key). Si no hay key configurada, el plano de
// admin queda cerrado por completo.
func RequireAPIKey(key string) Middleware {
	key = strings.TrimSpace(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				httperr.WriteError(w, httperr.ErrForbidden.WithDetail("admin API deshabilitada"))
				return
			}
			got := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
			if got == "" {
				httperr.WriteError(w, httperr.ErrUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httperr.WriteError(w, httperr.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

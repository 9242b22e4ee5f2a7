package helpers

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// ClientIP resuelve la IP real del cliente. Prioriza X-Forwarded-For
// (primer hop) y X-Real-IP; cae a RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			xff = xff[:i]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestContext arma el contexto de red/cliente que consumen el
// fingerprinting y el risk scoring. El país viene resuelto por el edge
// (CDN / LB con geolocalización); si no está, queda vacío.
func RequestContext(r *http.Request) types.RequestContext {
	country := strings.TrimSpace(r.Header.Get("X-Geo-Country"))
	if country == "" {
		country = strings.TrimSpace(r.Header.Get("CF-IPCountry"))
	}
	return types.RequestContext{
		IP:             ClientIP(r),
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
		Country:        strings.ToUpper(country),
	}
}

// SessionToken extrae el session ID opaco del request: Authorization
// Bearer primero, después el header X-Session-Token.
func SessionToken(r *http.Request) string {
	if ah := strings.TrimSpace(r.Header.Get("Authorization")); ah != "" {
		if len(ah) > 7 && strings.EqualFold(ah[:7], "Bearer ") {
			return strings.TrimSpace(ah[7:])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Session-Token"))
}

// QueryInt parsea un query param entero con fallback.
func QueryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// Package fingerprint deriva un identificador heurístico de dispositivo
// a partir del request y evalúa su nivel de confianza. El fingerprint
// no es una identidad criptográfica: solo reconoce un dispositivo que
// vuelve.
package fingerprint

import (
	"crypto/sha256"
	"encoding/base64"
	"net"
	"strings"

	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// Compute deriva el hash estable de dispositivo: user-agent, headers
// accept y bloque de red de origen. Se usa el bloque y no la IP exacta
// para que un cambio de IP dentro de la misma red no genere un
// dispositivo nuevo.
func Compute(rc types.RequestContext) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(rc.UserAgent)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(rc.AcceptLanguage)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(rc.AcceptEncoding)))
	h.Write([]byte{0})
	h.Write([]byte(NetworkBlock(rc.IP)))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// NetworkBlock reduce una IP a su bloque aproximado: /24 para IPv4,
// /48 para IPv6. IPs no parseables se devuelven tal cual.
func NetworkBlock(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ip
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String()
}

// SameBlock reporta si dos IPs caen en el mismo bloque de red.
func SameBlock(a, b string) bool {
	return NetworkBlock(a) == NetworkBlock(b)
}

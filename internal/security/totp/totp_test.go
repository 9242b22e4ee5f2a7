package totp

import (
	"strings"
	"testing"
	"time"
)

// Vector del apéndice B de RFC 6238 (secreto ASCII "12345678901234567890"),
// truncado a 6 dígitos.
var rfcSecret = []byte("12345678901234567890")

func TestVerify_RFCVector(t *testing.T) {
	at := time.Unix(59, 0).UTC() // counter 1 -> 94287082
	ok, counter := Verify(rfcSecret, "287082", at, 0, nil)
	if !ok {
		t.Fatalf("el código del vector RFC no verificó")
	}
	if counter != 1 {
		t.Fatalf("counter = %d, quería 1", counter)
	}
}

func TestVerify_WindowTolerance(t *testing.T) {
	at := time.Unix(59, 0).UTC()

	// Código del paso anterior (counter 0): fuera de ventana 0, dentro de ±1.
	prev := hotp(rfcSecret, 0)
	if ok, _ := Verify(rfcSecret, prev, at, 0, nil); ok {
		t.Fatalf("ventana 0 aceptó un código del paso anterior")
	}
	ok, counter := Verify(rfcSecret, prev, at, 1, nil)
	if !ok || counter != 0 {
		t.Fatalf("ventana 1 rechazó el paso anterior: ok=%v counter=%d", ok, counter)
	}
}

func TestVerify_AntiReplay(t *testing.T) {
	at := time.Unix(59, 0).UTC()
	code := hotp(rfcSecret, 1)

	ok, counter := Verify(rfcSecret, code, at, 1, nil)
	if !ok {
		t.Fatalf("primer uso rechazado")
	}
	// Mismo código con el contador ya consumido: replay.
	if ok, _ := Verify(rfcSecret, code, at, 1, &counter); ok {
		t.Fatalf("replay aceptado con lastCounterUsed=%d", counter)
	}
	// Un contador futuro sigue siendo válido.
	next := hotp(rfcSecret, 2)
	if ok, _ := Verify(rfcSecret, next, at, 1, &counter); !ok {
		t.Fatalf("el paso siguiente fue rechazado tras consumir el anterior")
	}
}

func TestVerify_RejectsMalformedCodes(t *testing.T) {
	at := time.Now().UTC()
	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		if ok, _ := Verify(rfcSecret, code, at, 1, nil); ok {
			t.Fatalf("código malformado %q aceptado", code)
		}
	}
}

func TestGenerateSecret_RoundTrip(t *testing.T) {
	raw, b32, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(raw) != 20 {
		t.Fatalf("len(raw) = %d, quería 20", len(raw))
	}
	if strings.Contains(b32, "=") {
		t.Fatalf("el base32 no debería llevar padding: %q", b32)
	}
	decoded, err := DecodeSecret(b32)
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatalf("decode no recupera el secreto original")
	}
}

func TestProvisioningURL(t *testing.T) {
	u := ProvisioningURL("Aegis", "ana@acme.test", "JBSWY3DPEHPK3PXP")
	if !strings.HasPrefix(u, "otpauth://totp/") {
		t.Fatalf("esquema inesperado: %q", u)
	}
	for _, want := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=Aegis", "digits=6", "period=30"} {
		if !strings.Contains(u, want) {
			t.Fatalf("falta %q en %q", want, u)
		}
	}
}

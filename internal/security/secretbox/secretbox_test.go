package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"
)

func setTestKey(t *testing.T, fill byte) {
	t.Helper()
	UnsafeResetForTests()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = fill + byte(i)
	}
	t.Setenv("AEGIS_MASTER_KEY", base64.StdEncoding.EncodeToString(raw))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	setTestKey(t, 1)

	msg := "client-secret ✓ — confidencial"
	ct, err := Encrypt(msg)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.Contains(ct, "|") {
		t.Fatalf("formato nonce|ciphertext esperado, obtuvo %q", ct)
	}
	pt, err := Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if pt != msg {
		t.Fatalf("plaintext: got %q want %q", pt, msg)
	}
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	setTestKey(t, 100)

	ct, err := Encrypt("top secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	parts := strings.SplitN(ct, "|", 2)
	raw, _ := base64.StdEncoding.DecodeString(parts[1])
	raw[0] ^= 0xff
	tampered := parts[0] + "|" + base64.StdEncoding.EncodeToString(raw)

	if _, err := Decrypt(tampered); err == nil {
		t.Fatalf("Decrypt aceptó ciphertext adulterado")
	}
}

func TestDecrypt_RejectsMalformed(t *testing.T) {
	setTestKey(t, 7)
	for _, ct := range []string{"", "sin-separador", "!!|AAAA", "AAAA|!!"} {
		if _, err := Decrypt(ct); err == nil {
			t.Fatalf("Decrypt aceptó %q", ct)
		}
	}
}

func TestEncrypt_FailsWithoutKey(t *testing.T) {
	UnsafeResetForTests()
	t.Setenv("AEGIS_MASTER_KEY", "")
	if _, err := Encrypt("x"); err == nil {
		t.Fatalf("Encrypt debería fallar sin clave maestra")
	}
	UnsafeResetForTests()
}

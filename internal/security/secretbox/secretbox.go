// Package secretbox cifra material sensible at-rest (client secrets de
// providers, secretos TOTP) con AES-256-GCM y una clave maestra de entorno.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	envVar         = "AEGIS_MASTER_KEY" // base64 de 32 bytes
	nonceSize      = 12                 // AES-GCM nonce recomendado (96 bits)
	requiredKeyLen = 32                 // 32 bytes => AES-256
	sep            = "|"                // nonce|ciphertext (ambos en base64)
)

var (
	mu        sync.RWMutex
	masterKey []byte
	loadOnce  sync.Once
	loadErr   error
)

// ensureLoaded carga la clave maestra desde AEGIS_MASTER_KEY (base64) una sola vez.
func ensureLoaded() error {
	loadOnce.Do(func() {
		b64 := strings.TrimSpace(os.Getenv(envVar))
		if b64 == "" {
			loadErr = fmt.Errorf("%s no seteada; genere una clave con: openssl rand -base64 32", envVar)
			return
		}
		k, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			loadErr = fmt.Errorf("decode %s: %w", envVar, err)
			return
		}
		if len(k) != requiredKeyLen {
			loadErr = fmt.Errorf("%s debe decodificar a %d bytes, obtuvo %d", envVar, requiredKeyLen, len(k))
			return
		}
		mu.Lock()
		masterKey = append([]byte(nil), k...)
		mu.Unlock()
	})
	return loadErr
}

// Ready expone si la clave está cargada (útil para healthchecks).
func Ready() bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(masterKey) == requiredKeyLen
}

func gcm() (cipher.AEAD, error) {
	if err := ensureLoaded(); err != nil {
		return nil, err
	}
	mu.RLock()
	key := append([]byte(nil), masterKey...)
	mu.RUnlock()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt cifra plainText y devuelve base64(nonce)|base64(ciphertext).
func Encrypt(plainText string) (string, error) {
	aead, err := gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt descifra un valor producido por Encrypt.
func Decrypt(cipherText string) (string, error) {
	parts := strings.SplitN(cipherText, sep, 2)
	if len(parts) != 2 {
		return "", errors.New("secretbox: formato inválido")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", errors.New("secretbox: nonce inválido")
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.New("secretbox: ciphertext inválido")
	}
	aead, err := gcm()
	if err != nil {
		return "", err
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", errors.New("secretbox: autenticación falló")
	}
	return string(pt), nil
}

// UnsafeResetForTests resetea el estado global. Solo para tests.
func UnsafeResetForTests() {
	mu.Lock()
	masterKey = nil
	mu.Unlock()
	loadOnce = sync.Once{}
	loadErr = nil
}

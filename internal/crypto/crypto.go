// Package crypto implements the symmetric obfuscation used for tenant
// secrets at rest.
//
// The scheme XORs the plaintext with a repeating keystream derived from
// SHA-256 of the operator passphrase and encodes the result as URL-safe
// base64. This is obfuscation, not confidentiality against a capable
// adversary: the passphrase comes from the environment and must never be
// written to the metadata store.
package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/sovgate/sovgate/internal/proxyerr"
)

// ErrPassphraseUnset is returned when a credential operation is attempted
// without TENANT_SECRET_PASSPHRASE configured.
var ErrPassphraseUnset = proxyerr.ErrMisconfigured.WithMessage(
	"TENANT_SECRET_PASSPHRASE must be set to store credentials securely")

// Encrypt obfuscates plaintext with the given passphrase and returns a
// URL-safe base64 token.
func Encrypt(plaintext, passphrase string) (string, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return "", err
	}
	data := []byte(plaintext)
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return base64.URLEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt for a token produced with the same passphrase.
func Decrypt(token, passphrase string) (string, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return "", err
	}
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decoding secret token: %w", err)
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return string(out), nil
}

// deriveKey hashes the passphrase into the 32-byte XOR keystream.
func deriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrPassphraseUnset
	}
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:], nil
}

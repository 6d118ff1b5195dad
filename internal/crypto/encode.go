package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"

	"beacon/internal/domain"
)

// B64 returns standard base64 without padding, the encoding used for every
// key, signature and ciphertext on the wire.
func B64(b []byte) string { return base64.RawStdEncoding.EncodeToString(b) }

// DecodeB64 decodes standard base64, padded or not.
func DecodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// DecodeX25519 decodes a base64 Curve25519 public key.
func DecodeX25519(s string) (pub domain.X25519Public, err error) {
	b, err := DecodeB64(s)
	if err != nil {
		return pub, fmt.Errorf("decode curve25519 key: %w", err)
	}
	if len(b) != len(pub) {
		return pub, fmt.Errorf("curve25519 key has %d bytes", len(b))
	}
	copy(pub[:], b)
	return pub, nil
}

// DecodeEd25519 decodes a base64 Ed25519 public key.
func DecodeEd25519(s string) (pub domain.Ed25519Public, err error) {
	b, err := DecodeB64(s)
	if err != nil {
		return pub, fmt.Errorf("decode ed25519 key: %w", err)
	}
	if len(b) != len(pub) {
		return pub, fmt.Errorf("ed25519 key has %d bytes", len(b))
	}
	copy(pub[:], b)
	return pub, nil
}

package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashing. The version suffix enables
// future algorithm migration without ambiguity.
const (
	DomainPatch  = "warrant/patch/v1"
	DomainInput  = "warrant/validation-input/v1"
	DomainResult = "warrant/validation-result/v1"
)

// HashBytes computes a SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte separator prevents
// domain/data boundary ambiguity.
func HashBytes(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashValue computes a domain-separated hash of a value's canonical JSON.
// The hash is stable across processes given the same logical value.
func HashValue(domain string, v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("HashValue: %w", err)
	}
	return HashBytes(domain, data), nil
}

// MustHashValue is like HashValue but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHashValue(domain string, v any) string {
	h, err := HashValue(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}

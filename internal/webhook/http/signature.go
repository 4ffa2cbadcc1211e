// Package http provides the webhook ingestion HTTP layer.
package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	apperrors "github.com/allisson/callsync/internal/errors"
)

// signaturePrefix is the conventional header prefix providers put before the
// hex digest.
const signaturePrefix = "sha256="

// SignatureVerifier authenticates webhook deliveries with HMAC-SHA256 over
// the raw request body. Each provider gets its own signing key derived from
// the master secret with HKDF-SHA256, so a leaked provider key never exposes
// the master secret or the other providers' keys.
type SignatureVerifier struct {
	masterSecret []byte
}

// NewSignatureVerifier creates a new SignatureVerifier.
func NewSignatureVerifier(masterSecret []byte) *SignatureVerifier {
	return &SignatureVerifier{masterSecret: masterSecret}
}

// deriveKey derives the 32-byte per-provider signing key. The info string is
// versioned so the scheme can rotate without ambiguity.
func (v *SignatureVerifier) deriveKey(provider string) ([]byte, error) {
	info := []byte("webhook-signing-v1:" + provider)
	reader := hkdf.New(sha256.New, v.masterSecret, nil, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, apperrors.Wrap(err, "failed to derive signing key")
	}
	return key, nil
}

// Sign computes the hex HMAC-SHA256 signature for a provider and body. Used
// by tests and by outbound verification tooling.
func (v *SignatureVerifier) Sign(provider string, body []byte) (string, error) {
	key, err := v.deriveKey(provider)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the signature header against the raw body using constant-time
// comparison. Returns ErrUnauthorized on any mismatch or malformed header.
func (v *SignatureVerifier) Verify(provider string, body []byte, header string) error {
	header = strings.TrimPrefix(header, signaturePrefix)
	if header == "" {
		return apperrors.Wrap(apperrors.ErrUnauthorized, "missing webhook signature")
	}

	provided, err := hex.DecodeString(header)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrUnauthorized, "malformed webhook signature")
	}

	expected, err := v.Sign(provider, body)
	if err != nil {
		return err
	}
	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return apperrors.Wrap(err, "failed to decode expected signature")
	}

	if !hmac.Equal(provided, expectedBytes) {
		return apperrors.Wrap(apperrors.ErrUnauthorized, "invalid webhook signature")
	}
	return nil
}

// Package webhook ingests push notifications from GitHub: it validates
// delivery signatures, routes payloads by event category, and applies
// one remote state transition per delivery, idempotently.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

var (
	// ErrMissingSignature means the signature header was absent.
	ErrMissingSignature = errors.New("missing signature header")

	// ErrMalformedSignature means the header did not have the
	// sha256=<hex> form.
	ErrMalformedSignature = errors.New("malformed signature header")

	// ErrSignatureMismatch means the digest did not match the body.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// ValidateSignature verifies the HMAC-SHA256 signature of a webhook
// body against the shared secret, comparing digests in constant time.
//
// An empty secret disables validation and returns nil: this is the
// development-mode fallback and must never be the configuration of a
// hardened deployment. The server logs a warning when running this way.
func ValidateSignature(body []byte, header string, secret []byte) error {
	if len(secret) == 0 {
		return nil
	}

	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrMalformedSignature
	}

	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrMalformedSignature
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the signature header value for a body. Used by tests
// and by tooling that replays deliveries.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

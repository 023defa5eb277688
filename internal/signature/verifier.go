// Package signature validates inbound webhook authenticity.
//
// Two schemes are supported, matching what Telnyx sends:
//   - v2: Ed25519 over "{timestamp}|{raw_body}", public-key based
//     (telnyx-signature-ed25519 + telnyx-timestamp headers)
//   - v1: HMAC-SHA256 over "{timestamp}.{raw_body}" with a shared secret
//     (x-telnyx-signature header, "t=<ts>,v1=<sig>" format)
//
// Verification is a pure function of the request and configuration; any
// decoding or cryptographic failure yields an unverified outcome, never an
// error to the caller. Unconfigured keys fail closed unless the local
// development override is set.
package signature

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	headerEd25519Signature = "telnyx-signature-ed25519"
	headerTimestamp        = "telnyx-timestamp"
	headerHMACSignature    = "x-telnyx-signature"

	MethodEd25519 = "ed25519"
	MethodHMAC    = "hmac-sha256"
	MethodNone    = "none"
)

// Config is the key material used for verification.
type Config struct {
	// PublicKeyB64 is the base64-encoded Ed25519 public key.
	PublicKeyB64 string
	// Secret is the shared secret for the v1 HMAC scheme.
	Secret string
	// AllowUnverified accepts unsigned requests when no key material is
	// configured at all. Local development only; it never overrides a
	// failed check against a configured key.
	AllowUnverified bool
}

// Outcome reports whether a request verified and by which method.
type Outcome struct {
	Verified bool
	Method   string
}

// Verify checks the request headers and raw body against the configured
// keys. Ed25519 is preferred; HMAC is a fallback only when the Ed25519
// headers are absent or the Ed25519 check failed.
func Verify(cfg Config, hdr http.Header, rawBody []byte) Outcome {
	sig := hdr.Get(headerEd25519Signature)
	ts := hdr.Get(headerTimestamp)
	if sig != "" && ts != "" && verifyEd25519(cfg.PublicKeyB64, ts, rawBody, sig) {
		return Outcome{Verified: true, Method: MethodEd25519}
	}

	if v1 := hdr.Get(headerHMACSignature); v1 != "" && verifyHMAC(cfg.Secret, v1, rawBody) {
		return Outcome{Verified: true, Method: MethodHMAC}
	}

	if cfg.AllowUnverified && cfg.PublicKeyB64 == "" && cfg.Secret == "" {
		return Outcome{Verified: true, Method: MethodNone}
	}
	return Outcome{Verified: false, Method: MethodNone}
}

// verifyEd25519 checks an Ed25519 signature over "{timestamp}|{body}".
func verifyEd25519(publicKeyB64, timestamp string, rawBody []byte, signatureB64 string) bool {
	if publicKeyB64 == "" {
		return false
	}

	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	signed := make([]byte, 0, len(timestamp)+1+len(rawBody))
	signed = append(signed, timestamp...)
	signed = append(signed, '|')
	signed = append(signed, rawBody...)

	return ed25519.Verify(ed25519.PublicKey(pub), signed, sig)
}

// verifyHMAC checks a "t=<ts>,v1=<sig>" header against
// HMAC-SHA256("{timestamp}.{body}") using constant-time comparison.
func verifyHMAC(secret, signatureHeader string, rawBody []byte) bool {
	if secret == "" {
		return false
	}

	parts := map[string]string{}
	for _, p := range strings.Split(signatureHeader, ",") {
		if k, v, ok := strings.Cut(p, "="); ok {
			parts[strings.TrimSpace(k)] = v
		}
	}
	timestamp := parts["t"]
	provided := parts["v1"]
	if timestamp == "" || provided == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(provided), []byte(expected))
}

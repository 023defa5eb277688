package signature

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"testing"
)

func ed25519Headers(t *testing.T, priv ed25519.PrivateKey, ts string, body []byte) http.Header {
	t.Helper()
	signed := append([]byte(ts+"|"), body...)
	sig := ed25519.Sign(priv, signed)
	h := http.Header{}
	h.Set("telnyx-signature-ed25519", base64.StdEncoding.EncodeToString(sig))
	h.Set("telnyx-timestamp", ts)
	return h
}

func TestVerify_Ed25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	cfg := Config{PublicKeyB64: base64.StdEncoding.EncodeToString(pub)}
	body := []byte(`{"data":{"event_type":"message.received"}}`)

	out := Verify(cfg, ed25519Headers(t, priv, "1700000000", body), body)
	if !out.Verified || out.Method != MethodEd25519 {
		t.Fatalf("expected ed25519 verification, got %+v", out)
	}
}

func TestVerify_Ed25519TamperedSignatureFails(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	cfg := Config{PublicKeyB64: base64.StdEncoding.EncodeToString(pub)}
	body := []byte(`{"data":{}}`)

	h := ed25519Headers(t, priv, "1700000000", body)
	sig, _ := base64.StdEncoding.DecodeString(h.Get("telnyx-signature-ed25519"))
	sig[0] ^= 0xff
	h.Set("telnyx-signature-ed25519", base64.StdEncoding.EncodeToString(sig))

	out := Verify(cfg, h, body)
	if out.Verified {
		t.Fatalf("tampered signature must not verify")
	}
	if out.Method != MethodNone {
		t.Fatalf("expected method none, got %q", out.Method)
	}
}

func TestVerify_HMACFallback(t *testing.T) {
	secret := "shh"
	body := []byte(`{"data":{}}`)
	ts := "1700000000"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	h := http.Header{}
	h.Set("x-telnyx-signature", "t="+ts+",v1="+hex.EncodeToString(mac.Sum(nil)))

	out := Verify(Config{Secret: secret}, h, body)
	if !out.Verified || out.Method != MethodHMAC {
		t.Fatalf("expected hmac verification, got %+v", out)
	}

	// Wrong secret must fail.
	out = Verify(Config{Secret: "other"}, h, body)
	if out.Verified {
		t.Fatalf("wrong secret must not verify")
	}
}

func TestVerify_FailsClosedWithoutKeys(t *testing.T) {
	body := []byte(`{}`)
	out := Verify(Config{}, http.Header{}, body)
	if out.Verified {
		t.Fatalf("no keys configured must fail closed")
	}

	out = Verify(Config{AllowUnverified: true}, http.Header{}, body)
	if !out.Verified || out.Method != MethodNone {
		t.Fatalf("local override should accept with method none, got %+v", out)
	}
}

func TestVerify_OverrideNeverRescuesFailedCheck(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	_, wrongPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	body := []byte(`{"data":{}}`)

	cfg := Config{
		PublicKeyB64:    base64.StdEncoding.EncodeToString(pub),
		AllowUnverified: true,
	}
	out := Verify(cfg, ed25519Headers(t, wrongPriv, "1700000000", body), body)
	if out.Verified {
		t.Fatalf("override must not accept a signature that failed against a configured key")
	}

	out = Verify(Config{Secret: "shh", AllowUnverified: true}, http.Header{}, body)
	if out.Verified {
		t.Fatalf("override must not apply while a secret is configured")
	}
}

func TestVerify_MalformedHeadersNeverPanic(t *testing.T) {
	h := http.Header{}
	h.Set("telnyx-signature-ed25519", "%%%not-base64%%%")
	h.Set("telnyx-timestamp", "123")
	h.Set("x-telnyx-signature", "garbage-without-pairs")

	out := Verify(Config{PublicKeyB64: "also-bad", Secret: "s"}, h, []byte("{}"))
	if out.Verified {
		t.Fatalf("malformed input must not verify")
	}
}

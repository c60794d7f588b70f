package utils

import (
	"fmt"
	"testing"
	"time"
)

func TestSignedPayloadRoundTrip(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"type":"subscription.updated","workspace_id":"abc"}`)
	ts := time.Now().Unix()

	sig := ComputeWebhookSignature(secret, ts, payload)
	header := fmt.Sprintf("t=%d,v1=%s", ts, sig)

	if err := VerifySignedPayload(secret, header, payload, 5*time.Minute); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignedPayload("wrong-secret", header, payload, 5*time.Minute); err == nil {
		t.Fatal("wrong secret accepted")
	}
	if err := VerifySignedPayload(secret, header, []byte(`{"tampered":true}`), 5*time.Minute); err == nil {
		t.Fatal("tampered payload accepted")
	}
}

func TestSignedPayloadTimestampTolerance(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{}`)
	stale := time.Now().Add(-10 * time.Minute).Unix()
	header := fmt.Sprintf("t=%d,v1=%s", stale, ComputeWebhookSignature(secret, stale, payload))
	if err := VerifySignedPayload(secret, header, payload, 5*time.Minute); err == nil {
		t.Fatal("stale timestamp accepted")
	}
}

func TestParseSignatureHeader(t *testing.T) {
	ts, sig, err := ParseSignatureHeader("t=1700000000,v1=deadbeef")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ts != 1700000000 || sig != "deadbeef" {
		t.Fatalf("unexpected parse result: ts=%d sig=%q", ts, sig)
	}

	// order and spacing should not matter
	if _, _, err := ParseSignatureHeader("v1=deadbeef, t=1700000000"); err != nil {
		t.Fatalf("reordered header rejected: %v", err)
	}

	for _, h := range []string{"", "t=abc,v1=deadbeef", "t=1700000000", "v1=deadbeef", "garbage"} {
		if _, _, err := ParseSignatureHeader(h); err == nil {
			t.Errorf("header %q: expected error", h)
		}
	}
}

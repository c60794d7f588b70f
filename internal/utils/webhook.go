package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ComputeWebhookSignature computes an HMAC-SHA256 signature over "{ts}.{payload}"
// similar to Stripe style signing. Returns hex string.
func ComputeWebhookSignature(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	msg := []byte(fmt.Sprintf("%d.", timestamp))
	msg = append(msg, payload...)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature verifies provided hex signature given secret, timestamp, and payload
func VerifyWebhookSignature(secret string, timestamp int64, payload []byte, givenSigHex string) bool {
	expected := ComputeWebhookSignature(secret, timestamp, payload)
	exp, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(givenSigHex)
	if err != nil {
		return false
	}
	return hmac.Equal(exp, got)
}

// ParseSignatureHeader parses a "t=<unix>,v1=<hex>" header as sent by the
// billing and pipeline providers. Returns the timestamp and signature.
func ParseSignatureHeader(header string) (int64, string, error) {
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			n, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("invalid timestamp in signature header")
			}
			ts = n
		case "v1":
			sig = kv[1]
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", fmt.Errorf("malformed signature header")
	}
	return ts, sig, nil
}

// VerifySignedPayload checks header signature and timestamp tolerance in one call.
func VerifySignedPayload(secret, header string, payload []byte, tolerance time.Duration) error {
	ts, sig, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}
	if d := time.Since(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}
	if !VerifyWebhookSignature(secret, ts, payload, sig) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

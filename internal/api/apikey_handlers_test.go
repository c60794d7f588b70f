package api

import (
	"strings"
	"testing"
)

func TestMintAPIKey(t *testing.T) {
	raw, prefix, err := mintAPIKey()
	if err != nil {
		t.Fatalf("mintAPIKey: %v", err)
	}
	if !strings.HasPrefix(raw, "reel_sk_") {
		t.Fatalf("raw key missing reel_sk_ prefix: %q", raw)
	}
	random := strings.TrimPrefix(raw, "reel_sk_")
	if len(random) != 56 {
		t.Fatalf("expected 56 hex chars after prefix, got %d", len(random))
	}
	if len(prefix) != 8 || !strings.HasPrefix(random, prefix) {
		t.Fatalf("lookup prefix %q does not match key %q", prefix, raw)
	}
	for _, c := range random {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("non-hex char %q in key", c)
		}
	}

	raw2, prefix2, err := mintAPIKey()
	if err != nil {
		t.Fatalf("mintAPIKey: %v", err)
	}
	if raw == raw2 || prefix == prefix2 {
		t.Fatal("two minted keys should not collide")
	}
}

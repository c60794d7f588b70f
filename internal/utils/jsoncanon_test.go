package utils

import (
	"bytes"
	"testing"
)

func TestCanonicalizeJSONStableAcrossKeyOrder(t *testing.T) {
	a := CanonicalizeJSON([]byte(`{"b":2,"a":1,"nested":{"y":[1,2],"x":null}}`))
	b := CanonicalizeJSON([]byte(`{"nested":{"x":null,"y":[1,2]},"a":1,"b":2}`))
	if !bytes.Equal(a, b) {
		t.Fatalf("canonical forms differ:\n%s\n%s", a, b)
	}
}

func TestCanonicalizeJSONPassthroughOnInvalid(t *testing.T) {
	in := []byte("not json at all")
	if out := CanonicalizeJSON(in); !bytes.Equal(out, in) {
		t.Fatalf("invalid input should pass through, got %s", out)
	}
}

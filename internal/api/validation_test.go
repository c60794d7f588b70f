package api

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestValidateHandle(t *testing.T) {
	cases := []struct {
		handle string
		ok     bool
	}{
		{"maya", true},
		{"maya_reel", true},
		{"m4y4", true},
		{"ab", false},                        // too short
		{strings.Repeat("a", 31), false},     // too long
		{"4maya", false},                     // must start with a letter
		{"_maya", false},                     // must start with a letter
		{"maya__reel", false},                // consecutive underscores
		{"Maya", false},                      // uppercase
		{"maya-reel", false},                 // hyphen not allowed in handles
		{"admin", false},                     // reserved
		{"workspaces", false},                // reserved
		{"a" + strings.Repeat("b", 29), true}, // exactly 30
	}
	for _, tc := range cases {
		ok, reason := ValidateHandle(tc.handle)
		if ok != tc.ok {
			t.Errorf("ValidateHandle(%q) = %v (%s), want %v", tc.handle, ok, reason, tc.ok)
		}
		if !ok && reason == "" {
			t.Errorf("ValidateHandle(%q) rejected without a reason", tc.handle)
		}
	}
}

func TestValidateSlug(t *testing.T) {
	cases := []struct {
		slug string
		ok   bool
	}{
		{"acme", true},
		{"acme-studio", true},
		{"a1-b2-c3", true},
		{"ab", false},                    // too short
		{strings.Repeat("a", 49), false}, // too long
		{"-acme", false},                 // leading hyphen
		{"acme-", false},                 // trailing hyphen
		{"acme--studio", false},          // consecutive hyphens
		{"Acme", false},                  // uppercase
		{"acme_studio", false},           // underscore not allowed in slugs
		{"billing", false},               // reserved
	}
	for _, tc := range cases {
		ok, reason := ValidateSlug(tc.slug)
		if ok != tc.ok {
			t.Errorf("ValidateSlug(%q) = %v (%s), want %v", tc.slug, ok, reason, tc.ok)
		}
	}
}

func dataURL(mime string, payload []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

var (
	pngBytes  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}
	jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	webpBytes = []byte{'R', 'I', 'F', 'F', 0x24, 0x00, 0x00, 0x00, 'W', 'E', 'B', 'P'}
)

func TestDecodeAvatarDataURL(t *testing.T) {
	mime, data, err := DecodeAvatarDataURL(dataURL("image/png", pngBytes))
	if err != nil {
		t.Fatalf("valid png rejected: %v", err)
	}
	if mime != "image/png" || len(data) != len(pngBytes) {
		t.Fatalf("unexpected decode result: mime=%q len=%d", mime, len(data))
	}

	if _, _, err := DecodeAvatarDataURL(dataURL("image/jpeg", jpegBytes)); err != nil {
		t.Fatalf("valid jpeg rejected: %v", err)
	}
	if _, _, err := DecodeAvatarDataURL(dataURL("image/webp", webpBytes)); err != nil {
		t.Fatalf("valid webp rejected: %v", err)
	}
}

func TestDecodeAvatarDataURL_Rejections(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"not a data url", "https://example.com/avatar.png"},
		{"missing base64 marker", "data:image/png,rawbytes"},
		{"unsupported mime", dataURL("image/gif", []byte("GIF89a"))},
		{"empty payload", "data:image/png;base64,"},
		{"invalid base64", "data:image/png;base64,!!!not-base64!!!"},
		{"magic mismatch", dataURL("image/png", jpegBytes)},
		{"webp missing inner tag", dataURL("image/webp", []byte("RIFF00001234"))},
		{"oversize", "data:image/png;base64," + strings.Repeat("A", (2<<20/3+2)*4)},
	}
	for _, tc := range cases {
		if _, _, err := DecodeAvatarDataURL(tc.url); err == nil {
			t.Errorf("%s: expected error, got none", tc.name)
		}
	}
}

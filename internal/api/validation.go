package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

// Handle and slug rules mirror what the dashboard enforces client-side;
// the server remains the source of truth.

const (
	handleMinLen = 3
	handleMaxLen = 30
	slugMinLen   = 3
	slugMaxLen   = 48

	// Decoded avatar payloads above this are rejected outright.
	maxAvatarBytes = 2 << 20
)

var reservedWords = map[string]bool{
	"admin": true, "api": true, "app": true, "auth": true, "billing": true,
	"dashboard": true, "help": true, "internal": true, "login": true,
	"logout": true, "me": true, "metrics": true, "new": true, "reel": true,
	"root": true, "settings": true, "signup": true, "support": true,
	"system": true, "team": true, "webhooks": true, "workspace": true,
	"workspaces": true,
}

// ValidateHandle checks a user handle: 3-30 chars, lowercase letters,
// digits and underscores, starting with a letter, no consecutive
// underscores, not a reserved word.
func ValidateHandle(handle string) (ok bool, reason string) {
	if len(handle) < handleMinLen || len(handle) > handleMaxLen {
		return false, fmt.Sprintf("handle must be %d-%d characters", handleMinLen, handleMaxLen)
	}
	if handle[0] < 'a' || handle[0] > 'z' {
		return false, "handle must start with a lowercase letter"
	}
	prevUnderscore := false
	for i := 0; i < len(handle); i++ {
		c := handle[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevUnderscore = false
		case c == '_':
			if prevUnderscore {
				return false, "handle must not contain consecutive underscores"
			}
			prevUnderscore = true
		default:
			return false, "handle may only contain lowercase letters, digits, and underscores"
		}
	}
	if reservedWords[handle] {
		return false, "handle is reserved"
	}
	return true, ""
}

// ValidateSlug checks a workspace slug: 3-48 chars, lowercase letters,
// digits and single hyphens, no leading/trailing hyphen, not reserved.
func ValidateSlug(slug string) (ok bool, reason string) {
	if len(slug) < slugMinLen || len(slug) > slugMaxLen {
		return false, fmt.Sprintf("slug must be %d-%d characters", slugMinLen, slugMaxLen)
	}
	if slug[0] == '-' || slug[len(slug)-1] == '-' {
		return false, "slug must not start or end with a hyphen"
	}
	prevHyphen := false
	for i := 0; i < len(slug); i++ {
		c := slug[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevHyphen = false
		case c == '-':
			if prevHyphen {
				return false, "slug must not contain consecutive hyphens"
			}
			prevHyphen = true
		default:
			return false, "slug may only contain lowercase letters, digits, and hyphens"
		}
	}
	if reservedWords[slug] {
		return false, "slug is reserved"
	}
	return true, ""
}

var imageMagic = map[string][]byte{
	"image/png":  {0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A},
	"image/jpeg": {0xFF, 0xD8, 0xFF},
	"image/webp": {'R', 'I', 'F', 'F'},
}

// DecodeAvatarDataURL validates a base64 data URL for an avatar upload and
// returns the MIME type plus decoded bytes. Accepts png, jpeg, and webp;
// the payload must decode and its magic bytes must match the declared type.
func DecodeAvatarDataURL(dataURL string) (mime string, data []byte, err error) {
	const scheme = "data:"
	if !strings.HasPrefix(dataURL, scheme) {
		return "", nil, fmt.Errorf("avatar must be a data URL")
	}
	rest := dataURL[len(scheme):]
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", nil, fmt.Errorf("avatar data URL must be base64-encoded")
	}
	mime = rest[:sep]
	magic, known := imageMagic[mime]
	if !known {
		return "", nil, fmt.Errorf("unsupported avatar type %q (png, jpeg, or webp)", mime)
	}
	encoded := rest[sep+len(";base64,"):]
	if encoded == "" {
		return "", nil, fmt.Errorf("avatar payload is empty")
	}
	// Cheap size gate before decoding: base64 inflates by 4/3.
	if len(encoded) > (maxAvatarBytes/3+1)*4 {
		return "", nil, fmt.Errorf("avatar exceeds %d bytes", maxAvatarBytes)
	}
	data, err = base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("avatar payload is not valid base64")
	}
	if len(data) > maxAvatarBytes {
		return "", nil, fmt.Errorf("avatar exceeds %d bytes", maxAvatarBytes)
	}
	if len(data) < len(magic) || !bytes.HasPrefix(data, magic) {
		return "", nil, fmt.Errorf("avatar payload does not match declared type %q", mime)
	}
	// WebP nests its signature: RIFF....WEBP
	if mime == "image/webp" && (len(data) < 12 || string(data[8:12]) != "WEBP") {
		return "", nil, fmt.Errorf("avatar payload does not match declared type %q", mime)
	}
	return mime, data, nil
}

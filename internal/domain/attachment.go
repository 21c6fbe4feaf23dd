// Package domain attachment.go validates attachment names and renders them
// safely into download headers.
package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameBytes bounds the stored attachment name.
const MaxNameBytes = 255

// ValidateAttachmentName checks that name is usable as a download filename.
// When allowed is non-empty the extension must match one entry (case-insensitive).
func ValidateAttachmentName(name string, allowed []string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: attachment name is empty", ErrInvalidInput)
	}
	if len(name) > MaxNameBytes {
		return fmt.Errorf("%w: attachment name exceeds %d bytes", ErrInvalidInput, MaxNameBytes)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: attachment name is not valid utf-8", ErrInvalidInput)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: attachment name must not contain path separators", ErrInvalidInput)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: attachment name contains control characters", ErrInvalidInput)
		}
	}
	if len(allowed) > 0 && !ExtensionAllowed(name, allowed) {
		return ErrExtensionNotAllowed
	}
	return nil
}

// ErrExtensionNotAllowed reports an attachment whose extension is not in the allow-list.
var ErrExtensionNotAllowed = fmt.Errorf("%w: extension not allowed", ErrInvalidInput)

// ExtensionAllowed reports whether the extension of name appears in allowed.
func ExtensionAllowed(name string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if !strings.HasPrefix(a, ".") {
			a = "." + a
		}
		if a == ext {
			return true
		}
	}
	return false
}

// ContentDisposition renders an attachment Content-Disposition value. The
// quoted filename is restricted to printable ASCII; names outside that range
// additionally carry an RFC 5987 filename* parameter with the exact name.
func ContentDisposition(name string) string {
	fallback := asciiFilename(name)
	v := `attachment; filename="` + fallback + `"`
	if fallback != name {
		v += "; filename*=UTF-8''" + extValue(name)
	}
	return v
}

func asciiFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('_')
		case r < 0x20 || r == 0x7f || r > 0x7e:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "attachment"
	}
	return b.String()
}

// extValue percent-encodes every byte outside the RFC 5987 attr-char set.
func extValue(name string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

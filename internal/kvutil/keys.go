package kvutil

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// EncodeToken turns an arbitrary string into a single KV key token.
//
// KV keys only allow [-/_=.a-zA-Z0-9] and use '.' as the token separator, while
// subscription names contain '.' and '$'. Bytes outside [A-Za-z0-9_-] are
// written as '=' followed by two upper-case hex digits, so the result never
// contains a separator and decodes back unambiguously.
//
// Example:
//
//	kvutil.EncodeToken("pl.allegro.orders$audit") // "pl=2Eallegro=2Eorders=24audit"
func EncodeToken(s string) string {
	if isPlain(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := range len(s) {
		c := s[i]
		if isPlainByte(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('=')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}

	return b.String()
}

// DecodeToken reverses EncodeToken.
func DecodeToken(token string) (string, error) {
	if !strings.Contains(token, "=") {
		return token, nil
	}

	out := make([]byte, 0, len(token))
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c != '=' {
			out = append(out, c)
			continue
		}
		if i+2 >= len(token) {
			return "", fmt.Errorf("truncated escape in token %q", token)
		}
		hi, okHi := unhex(token[i+1])
		lo, okLo := unhex(token[i+2])
		if !okHi || !okLo {
			return "", fmt.Errorf("invalid escape in token %q", token)
		}
		out = append(out, hi<<4|lo)
		i += 2
	}

	return string(out), nil
}

// Key joins tokens with the KV separator. Tokens must already be encoded.
func Key(tokens ...string) string {
	return strings.Join(tokens, ".")
}

func isPlain(s string) bool {
	for i := range len(s) {
		if !isPlainByte(s[i]) {
			return false
		}
	}

	return s != ""
}

func isPlainByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

package framing

import (
	"strings"
	"unicode"

	"openfms/framekit/internal/protocol"
)

// ParseDelimiter turns a configured delimiter into bytes.
//
// "0D 0A" (only hex digits and whitespace, at least one space) is read as hex
// tokens. Anything else is text with \n, \r, \t, \0 and \\ expanded.
func ParseDelimiter(s string) []byte {
	if looksLikeHexTokens(s) {
		var out []byte
		ok := true
		for _, tok := range strings.Fields(s) {
			b, err := protocol.ParseHex(tok)
			if err != nil {
				ok = false
				break
			}
			out = append(out, b...)
		}
		if ok {
			return out
		}
	}
	return expandEscapes(s)
}

func looksLikeHexTokens(s string) bool {
	if !strings.Contains(s, " ") {
		return false
	}
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
		case strings.ContainsRune("0123456789abcdefABCDEF", r):
			digits++
		default:
			return false
		}
	}
	return digits > 0
}

func expandEscapes(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			out = append(out, c)
			continue
		}
		switch s[i+1] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case '0':
			out = append(out, 0)
		case '\\':
			out = append(out, '\\')
		default:
			out = append(out, c, s[i+1])
		}
		i++
	}
	return out
}

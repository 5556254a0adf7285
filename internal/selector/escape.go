package selector

import (
	"fmt"
	"strings"
)

// Escape escapes s for use as a CSS identifier the way the browser's
// CSS.escape does.
func Escape(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('�')
		case (r >= 0x1 && r <= 0x1f) || r == 0x7f:
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r >= '0' && r <= '9':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// attrSelector renders [name="value"].
func attrSelector(name, value string) string {
	return "[" + Escape(name) + `="` + Escape(value) + `"]`
}

// splitTopLevel splits s on any of seps wherever one occurs outside quotes,
// brackets and parentheses. delims[i] is the separator that preceded
// parts[i+1].
func splitTopLevel(s string, seps ...string) (parts, delims []string) {
	var (
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		case c == '\\':
			i++
			continue
		case c == '"' || c == '\'':
			quote = c
			continue
		case c == '[' || c == '(':
			depth++
			continue
		case c == ']' || c == ')':
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth > 0 {
			continue
		}
		for _, sep := range seps {
			if strings.HasPrefix(s[i:], sep) {
				parts = append(parts, s[start:i])
				delims = append(delims, sep)
				i += len(sep) - 1
				start = i + 1
				break
			}
		}
	}
	return append(parts, s[start:]), delims
}

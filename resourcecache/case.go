package resourcecache

import (
	"strings"
	"unicode"
)

// toSnake converts a domain name such as "ClubMessages" into the key
// namespace "club_messages". Anything that is not a letter or digit becomes a
// single underscore so namespaces never contain the key separator.
func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + 4)

	sep := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
			b.WriteByte('_')
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sep()
				}
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLower(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i > 0 && unicode.IsLetter(runes[i-1]) {
				sep()
			}
			b.WriteRune(r)
		default:
			sep()
		}
	}
	return strings.Trim(b.String(), "_")
}

package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims whitespace, strips control characters and truncates to maxLen runes.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			return string(runes[:maxLen])
		}
	}
	return cleaned
}

// NormalizeDiscountCode canonicalizes a shopper-entered code. Codes are stored upper case.
func NormalizeDiscountCode(code string, maxLen int) string {
	return strings.ToUpper(strings.Join(strings.Fields(SanitizeString(code, maxLen)), ""))
}

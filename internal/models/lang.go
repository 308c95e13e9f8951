package models

import "strings"

// NormalizeLanguage maps a language tag to the bare code providers key
// documents on: "ko-KR" -> "ko", "EN" -> "en". The function is total and
// idempotent; inputs that are not region-qualified tags pass through
// lowercased.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	base, _, found := strings.Cut(lang, "-")
	if found && isAlpha(base) && len(base) >= 2 && len(base) <= 3 {
		return base
	}
	return lang
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return len(s) > 0
}

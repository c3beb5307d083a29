// redact маскирует чувствительные значения перед записью в лог.
package redact

import "strings"

// Email оставляет первые два символа локальной части и домен: "al***@example.com".
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "***"
	}

	r := []rune(local)
	if len(r) > 2 {
		return string(r[:2]) + "***@" + domain
	}

	return "***@" + domain
}

// Token не раскрывает значение токена, различая только пустой и непустой.
func Token(tok string) string {
	if tok == "" {
		return "[EMPTY_TOKEN]"
	}

	return "[REDACTED_TOKEN]"
}

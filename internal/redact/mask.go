package redact

import "strings"

// maskEmail preserves the first two characters of the local part and the
// TLD, matching S6's expectation: "alice@example.com" → "al***@***.com".
func maskEmail(match, _ string) string {
	at := strings.IndexByte(match, '@')
	if at < 0 {
		return "***@***.***"
	}
	local, domain := match[:at], match[at+1:]
	prefix := local
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	dot := strings.LastIndexByte(domain, '.')
	tld := "***"
	if dot >= 0 {
		tld = domain[dot:]
	}
	return prefix + "***@***" + tld
}

// maskWallet masks an entire wallet address to a stable, length-independent
// template — the exact address never appears in output.
func maskWallet(match, _ string) string {
	return "0x***masked***"
}

// maskName hashes the matched name with the daily salt, returning a stable
// 6-hex-char token so the same name collapses to the same token within a
// day but cannot be reversed.
func maskName(match, salt string) string {
	return "name_" + saltedHash6(match, salt)
}

// maskGeneric returns a masker that replaces the match with a fixed
// "<label>_***masked***" template, used for entity kinds with no special
// partial-preservation rule (phone, IBAN, government ID, bare domain).
func maskGeneric(label string) func(string, string) string {
	return func(match, _ string) string {
		return label + "_***masked***"
	}
}

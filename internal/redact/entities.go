package redact

import "regexp"

// kind identifies the entity type a detector finds.
type kind string

const (
	kindEmail  kind = "email"
	kindPhone  kind = "phone"
	kindIBAN   kind = "iban"
	kindGovID  kind = "gov_id"
	kindWallet kind = "wallet"
	kindName   kind = "name"
	kindTicker kind = "ticker"
	kindDomain kind = "domain"
)

// detector pairs a regex with the masking function applied to each match.
type detector struct {
	kind    kind
	pattern *regexp.Regexp
	mask    func(match, salt string) string
}

// detectors runs in declared order. Order matters: more specific patterns
// (IBAN, wallet) are checked before looser ones (name-like) so a wallet
// address is never misclassified as a name token.
var detectors = []detector{
	{
		kind:    kindEmail,
		pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		mask:    maskEmail,
	},
	{
		kind:    kindIBAN,
		pattern: regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
		mask:    maskGeneric("iban"),
	},
	{
		// BTC (base58, 26-35 chars starting 1/3/bc1), ETH/Tron-style hex (0x + 40 hex).
		kind:    kindWallet,
		pattern: regexp.MustCompile(`\b(0x[a-fA-F0-9]{40}|bc1[a-z0-9]{25,39}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`),
		mask:    maskWallet,
	},
	{
		// International phone: optional +, 7-15 digits with separators.
		kind:    kindPhone,
		pattern: regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}\b`),
		mask:    maskGeneric("phone"),
	},
	{
		// Government ID: loose SSN-shaped or national-ID-shaped digit groups.
		kind:    kindGovID,
		pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9,12}\b`),
		mask:    maskGeneric("gov_id"),
	},
	{
		kind:    kindDomain,
		pattern: regexp.MustCompile(`\b(?:[a-zA-Z0-9\-]+\.)+[a-zA-Z]{2,}\b`),
		mask:    maskGeneric("domain"),
	},
	{
		kind:    kindTicker,
		pattern: regexp.MustCompile(`\b[A-Z]{2,6}\b`),
		mask:    func(match, salt string) string { return match }, // allowlisted elsewhere; never masked by itself
	},
	{
		// Name-like: two consecutive capitalized words, e.g. "Jane Doe".
		kind:    kindName,
		pattern: regexp.MustCompile(`\b[A-Z][a-z]+\s[A-Z][a-z]+\b`),
		mask:    maskName,
	},
}

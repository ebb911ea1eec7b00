package sanitizer

import "regexp"

// Category identifies one of the sensitive-data kinds the sanitizer looks for.
type Category string

const (
	CategoryEmail Category = "email"
	CategoryIPv4  Category = "ipv4"
	CategoryIBAN  Category = "iban"
)

// PlaceholderTokens maps each category to the fixed placeholder substituted
// in redact mode.
var PlaceholderTokens = map[Category]string{
	CategoryEmail: "EMAIL_PH",
	CategoryIPv4:  "IP_ADDRESS_PH",
	CategoryIBAN:  "IBAN_PH",
}

// validators re-check a classifier's candidate strings against a strict
// local pattern before they are trusted — the external classifier is never
// the sole authority for what gets blocked or redacted.
var validators = map[Category]*regexp.Regexp{
	CategoryEmail: regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`),
	CategoryIPv4:  regexp.MustCompile(`^(25[0-5]|2[0-4]\d|1?\d?\d)(\.(25[0-5]|2[0-4]\d|1?\d?\d)){3}$`),
	CategoryIBAN:  regexp.MustCompile(`^[A-Z]{2}\d{2}[A-Z0-9]{11,30}$`),
}

// valid reports whether candidate genuinely matches category's strict pattern.
func valid(cat Category, candidate string) bool {
	re, ok := validators[cat]
	if !ok {
		return false
	}
	return re.MatchString(candidate)
}

// inlinePatterns scan running text (not just exact-match candidates) and are
// used by Redact to find the span of each validated candidate within the
// original string for substitution.
var inlinePatterns = map[Category]*regexp.Regexp{
	CategoryEmail: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	CategoryIPv4:  regexp.MustCompile(`\b(25[0-5]|2[0-4]\d|1?\d?\d)(\.(25[0-5]|2[0-4]\d|1?\d?\d)){3}\b`),
	CategoryIBAN:  regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
}

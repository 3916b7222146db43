// Package matcher scores directory search hits against a generated company
// and filters companies that are already known to the CRM.
package matcher

import (
	"net/url"
	"strings"
)

// legalSuffixes are stripped in order, each at most once, from the end of a name.
var legalSuffixes = []string{
	"inc", "inc.",
	"corporation", "corp", "corp.",
	"llc", "llc.",
	"ltd", "ltd.", "limited",
	"co", "co.",
	"company",
}

// NormalizeName lowercases and trims a company name and strips trailing
// legal-entity suffixes such as "Inc." or "LLC".
func NormalizeName(name string) string {
	cleaned := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(cleaned, " "+suffix) {
			cleaned = strings.TrimSpace(cleaned[:len(cleaned)-len(suffix)-1])
			cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, ","))
		}
	}
	return cleaned
}

// Domain extracts the lowercase host of a website without a leading "www.".
// Bare hosts such as "acme.com" are accepted.
func Domain(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// significantWords returns the distinct words longer than two characters.
func significantWords(name string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(name) {
		if len(w) > 2 {
			words[w] = struct{}{}
		}
	}
	return words
}

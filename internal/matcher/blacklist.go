package matcher

import (
	"strings"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

// DefaultExclusions are large enterprises never worth prospecting.
var DefaultExclusions = []string{
	"General Electric", "Boeing", "Apple Inc", "Microsoft Corporation",
	"Amazon", "Google", "Meta", "Tesla", "Ford Motor Company",
	"General Motors", "IBM", "Intel", "Oracle", "Salesforce",
}

// Blacklist is an immutable set of normalized company names.
type Blacklist struct {
	names map[string]struct{}
}

// NewBlacklist builds a blacklist from any number of name lists.
func NewBlacklist(sources ...[]string) *Blacklist {
	b := &Blacklist{names: make(map[string]struct{})}
	for _, src := range sources {
		for _, name := range src {
			if n := NormalizeName(name); n != "" {
				b.names[n] = struct{}{}
			}
		}
	}
	return b
}

// Len returns the number of distinct names.
func (b *Blacklist) Len() int {
	return len(b.names)
}

// Contains reports whether the company, raw or normalized, is blacklisted.
func (b *Blacklist) Contains(company string) bool {
	if b == nil || company == "" {
		return false
	}
	if _, ok := b.names[NormalizeName(company)]; ok {
		return true
	}
	_, ok := b.names[strings.ToLower(strings.TrimSpace(company))]
	return ok
}

// Filter splits companies into kept and excluded, preserving order.
func (b *Blacklist) Filter(companies []model.Company) (kept, excluded []model.Company) {
	for _, c := range companies {
		if b.Contains(c.Name) {
			excluded = append(excluded, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, excluded
}

// Package filter decides which organization accounts take part in an audit.
package filter

import (
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

// Filter drops the parent account and an explicit exclusion set.
type Filter struct {
	parent  string
	exclude map[string]bool
}

// New creates a new Filter for the given parent account and exclusion list.
func New(parent string, exclude []string) *Filter {
	excludeMap := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excludeMap[id] = true
	}

	return &Filter{
		parent:  parent,
		exclude: excludeMap,
	}
}

// ShouldAudit returns true if the account is neither the parent nor excluded.
func (f *Filter) ShouldAudit(account string) bool {
	if account == f.parent {
		return false
	}
	return !f.exclude[account]
}

// Accounts returns the accounts that pass the filter, in their original order.
func (f *Filter) Accounts(in []audit.AccountRecord) []audit.AccountRecord {
	filtered := make([]audit.AccountRecord, 0, len(in))
	for _, a := range in {
		if f.ShouldAudit(a.Account) {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

// Excluded returns the number of explicitly excluded accounts.
func (f *Filter) Excluded() int {
	return len(f.exclude)
}

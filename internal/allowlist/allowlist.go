// Package allowlist decides which target hosts the forwarder may contact.
package allowlist

import "strings"

// List is an immutable set of allowed domains. A host is allowed when it
// equals an entry or is a subdomain of one. An empty List allows every host:
// leaving the list unset is how an operator disables the check.
type List struct {
	domains []string
}

// New builds a List from raw entries. Entries are trimmed and lower-cased;
// blanks are dropped.
func New(entries []string) *List {
	l := &List{}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		d := strings.ToLower(strings.TrimSpace(e))
		d = strings.TrimPrefix(d, ".")
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		l.domains = append(l.domains, d)
	}
	return l
}

// Empty reports whether validation is disabled.
func (l *List) Empty() bool { return len(l.domains) == 0 }

// Len returns the number of configured domains.
func (l *List) Len() int { return len(l.domains) }

// Allowed reports whether hostname may be forwarded to.
func (l *List) Allowed(hostname string) bool {
	if l.Empty() {
		return true
	}
	host := strings.ToLower(hostname)
	for _, d := range l.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

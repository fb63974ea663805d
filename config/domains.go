package config

import (
	"strings"
	"unicode"

	"github.com/stevegt/sonarchat/util"
)

// MaxDomains is the most entries a DomainFilter may hold.
const MaxDomains = 3

// DomainFilter restricts search results to (or away from) a few
// domains.  An entry starting with "-" excludes that domain; any
// other entry is an allow-list entry.
type DomainFilter []string

// Add appends entry after trimming it.  It returns false, leaving the
// filter unchanged, if the entry is blank, already present, or the
// filter is full.
func (d *DomainFilter) Add(entry string) bool {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return false
	}
	if len(*d) >= MaxDomains {
		return false
	}
	if util.StringInSlice(entry, *d) {
		return false
	}
	*d = append(*d, entry)
	return true
}

// Remove deletes entry from the filter and reports whether it was
// present.  Order of the remaining entries is preserved.
func (d *DomainFilter) Remove(entry string) bool {
	entry = strings.TrimSpace(entry)
	out := (*d)[:0:0]
	found := false
	for _, e := range *d {
		if e == entry {
			found = true
			continue
		}
		out = append(out, e)
	}
	if found {
		*d = out
	}
	return found
}

// Full returns true if no more entries can be added.
func (d DomainFilter) Full() bool {
	return len(d) >= MaxDomains
}

// Clone returns a copy that shares no storage with d.  The copy of an
// empty filter is an empty, non-nil slice so that it encodes as [].
func (d DomainFilter) Clone() DomainFilter {
	return append(DomainFilter{}, d...)
}

// IsExclusion returns true if entry excludes its domain.
func IsExclusion(entry string) bool {
	return strings.HasPrefix(entry, "-")
}

// problems returns one message per invalid aspect of the filter.
func (d DomainFilter) problems() (msgs []string) {
	if len(d) > MaxDomains {
		msgs = append(msgs, "at most 3 domains may be set")
	}
	seen := map[string]bool{}
	for _, e := range d {
		switch {
		case strings.TrimSpace(e) == "":
			msgs = append(msgs, "domain entries must not be empty")
		case strings.IndexFunc(e, unicode.IsSpace) >= 0:
			msgs = append(msgs, "domain "+e+" contains whitespace")
		case e == "-":
			msgs = append(msgs, "exclusion entry needs a domain after the '-'")
		case seen[e]:
			msgs = append(msgs, "duplicate domain "+e)
		}
		seen[e] = true
	}
	return
}

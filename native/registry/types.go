package registry

import (
	"fmt"
	"strings"
)

// FirstDIN is the identifier assigned to the first registered product. DINs
// grow monotonically from here and are never reused.
const FirstDIN uint64 = 1_000_000_001

// Entry captures the registration state of a single DIN: the owner entitled
// to sign price quotes and the identifier of the resolver that maps the DIN
// to its merchant.
type Entry struct {
	DIN      uint64
	Owner    [20]byte
	Resolver string
}

// Clone returns a copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// SanitizeEntry validates the entry and returns a cloned instance with the
// resolver identifier trimmed.
func SanitizeEntry(e *Entry) (*Entry, error) {
	if e == nil {
		return nil, fmt.Errorf("registry: nil entry")
	}
	if e.DIN < FirstDIN {
		return nil, fmt.Errorf("registry: DIN %d below assignable range", e.DIN)
	}
	if e.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("registry: owner required")
	}
	clone := e.Clone()
	clone.Resolver = strings.TrimSpace(clone.Resolver)
	return clone, nil
}

// Record is the resolver-side view of a DIN: the merchant payout address and
// a descriptive product URL.
type Record struct {
	Merchant   [20]byte
	ProductURL string
}

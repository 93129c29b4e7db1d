package access

import (
	"sort"
	"time"
)

// Grant binds a user to a child with a capability set. A grant is a ledger
// record: revocation deactivates it, it is never rewritten into a new identity.
type Grant struct {
	ID           string    `json:"id"`
	ChildID      string    `json:"child_id"`
	UserID       string    `json:"user_id"`
	UserRole     Role      `json:"user_role"`
	Capabilities []Capability `json:"capabilities"`
	IsPrimary    bool      `json:"is_primary"`
	IsActive     bool      `json:"is_active"`
	GrantedBy    string    `json:"granted_by"`
	GrantedAt    time.Time `json:"granted_at"`
}

// Has reports whether the stored set contains cap. Primaries are resolved
// before this point; Has only inspects the stored set.
func (g Grant) Has(cap Capability) bool {
	for _, c := range g.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Effective returns the capability set the grant actually confers: the full
// registry for an active primary, the stored set otherwise.
func (g Grant) Effective() []Capability {
	if g.IsPrimary {
		return Registry()
	}
	out := make([]Capability, len(g.Capabilities))
	copy(out, g.Capabilities)
	return out
}

// normalizeCapabilities deduplicates, validates and sorts a capability set.
// Order is irrelevant semantically; sorting keeps stored records stable.
func normalizeCapabilities(caps []Capability) ([]Capability, error) {
	seen := make(map[Capability]struct{}, len(caps))
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		if !c.Valid() {
			return nil, ErrInvalidArgument
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

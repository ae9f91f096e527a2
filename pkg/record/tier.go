package record

import "fmt"

// Tier is the coarse age/activity partition a record lives in. Automated
// migration only ever advances a record forward through the ordered
// sequence working -> session -> longterm.
type Tier string

const (
	TierWorking  Tier = "working"
	TierSession  Tier = "session"
	TierLongterm Tier = "longterm"
)

// Tiers lists every tier in promotion order.
func Tiers() []Tier {
	return []Tier{TierWorking, TierSession, TierLongterm}
}

// ParseTier validates and returns the tier for s.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("invalid memory tier %q", s)
	}
	return t, nil
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierWorking, TierSession, TierLongterm:
		return true
	}
	return false
}

// Next returns the promotion target for t, and false when t is terminal.
func (t Tier) Next() (Tier, bool) {
	switch t {
	case TierWorking:
		return TierSession, true
	case TierSession:
		return TierLongterm, true
	}
	return "", false
}

// Terminal reports whether t has no promotion target.
func (t Tier) Terminal() bool {
	_, ok := t.Next()
	return !ok
}

func (t Tier) String() string {
	return string(t)
}

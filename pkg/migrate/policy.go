// Package migrate moves memory records through the tier hierarchy on a
// schedule: aged-out working memories advance to the session tier, settled
// session memories advance to long-term, and near-duplicate long-term
// memories are optionally consolidated.
package migrate

import (
	"time"

	"github.com/engramhq/engram/pkg/record"
)

// TierPolicy decides when records leave a tier. Each non-terminal tier gets
// one policy; the long-term tier is terminal and never has one.
type TierPolicy struct {
	// Tier is the source tier this policy governs.
	Tier record.Tier

	// MinAge is the idle time (since last access) after which a record
	// becomes a migration candidate.
	MinAge time.Duration

	// AccessFrequencyThreshold keeps hot records in place: a record with
	// at least this many accesses is skipped regardless of age. Zero
	// disables the rule.
	AccessFrequencyThreshold int64

	// ImportanceAgeFactor shortens MinAge for important records. The
	// required idle time is MinAge * (1 - factor*importance), so at
	// factor 0.5 a maximally important record migrates in half the time.
	// Must be in [0,1].
	ImportanceAgeFactor float64

	// MaxSize, when positive, caps the tier: overflow records migrate
	// oldest-accessed first even before reaching MinAge.
	MaxSize int64
}

// DefaultPolicies: working memories advance after two idle days, session
// memories after an idle week.
func DefaultPolicies() []TierPolicy {
	return []TierPolicy{
		{
			Tier:                     record.TierWorking,
			MinAge:                   48 * time.Hour,
			AccessFrequencyThreshold: 3,
			ImportanceAgeFactor:      0.5,
		},
		{
			Tier:                     record.TierSession,
			MinAge:                   168 * time.Hour,
			AccessFrequencyThreshold: 5,
			ImportanceAgeFactor:      0.5,
		},
	}
}

// requiredIdle returns the idle duration a record must reach before it
// migrates under this policy.
func (p TierPolicy) requiredIdle(rec *record.Record) time.Duration {
	factor := 1 - p.ImportanceAgeFactor*rec.Importance
	if factor < 0 {
		factor = 0
	}
	return time.Duration(float64(p.MinAge) * factor)
}

// eligible reports whether the record should migrate out of the policy's
// tier at the given time. A record must both be idle and have dwelled in
// its tier for the required duration: SetTier stamps ModifiedAt, so a
// freshly promoted record waits out the next tier's age rule before it can
// leave again.
func (p TierPolicy) eligible(rec *record.Record, now time.Time) bool {
	if rec.Tier != p.Tier {
		return false
	}
	if p.AccessFrequencyThreshold > 0 && rec.AccessCount >= p.AccessFrequencyThreshold {
		return false
	}
	required := p.requiredIdle(rec)
	return now.Sub(rec.AccessedAt) >= required && now.Sub(rec.ModifiedAt) >= required
}

// Package compat holds the blood type compatibility rules used by the engine.
//
// Two distinct policies intentionally coexist: ranking uses the full ABO/Rh
// matrix below to surface broader matches, while pledge creation only accepts
// exact blood-type equality (CanPledge). Keep them separate; unifying them
// would silently change either safety policy or discovery breadth.
package compat

import "github.com/kilianp07/hemolink/core/model"

// Tier classifies whether a donor's blood may be transfused to a patient
// needing a given type.
type Tier int

const (
	TierNone Tier = iota
	TierCompatible
	TierExactMatch
)

// Weight collapses the tier to the numeric value used in scoring.
func (t Tier) Weight() int { return int(t) }

func (t Tier) String() string {
	switch t {
	case TierCompatible:
		return "compatible"
	case TierExactMatch:
		return "exactMatch"
	default:
		return "none"
	}
}

// matrix maps donor type to the set of recipient types it may serve.
// Exact matches are promoted to TierExactMatch when looked up.
//
// O+ is deliberately restricted to O+ recipients only: the product decision
// is to advertise O+ strictly same-group even though transfusion rules would
// also allow O-positive recipients of other groups.
var matrix = map[model.BloodType][]model.BloodType{
	model.ONeg:  {model.APos, model.ANeg, model.BPos, model.BNeg, model.ABPos, model.ABNeg, model.OPos, model.ONeg},
	model.OPos:  {model.OPos},
	model.APos:  {model.APos, model.ABPos},
	model.ANeg:  {model.APos, model.ANeg, model.ABPos, model.ABNeg},
	model.BPos:  {model.BPos, model.ABPos},
	model.BNeg:  {model.BPos, model.BNeg, model.ABPos, model.ABNeg},
	model.ABPos: {model.ABPos},
	model.ABNeg: {model.ABPos, model.ABNeg},
}

// Compatibility returns the tier for a (donor, needed) pair. It is total over
// the 8x8 type space; unknown types map to TierNone.
func Compatibility(donor, needed model.BloodType) Tier {
	if !donor.Valid() || !needed.Valid() {
		return TierNone
	}
	if donor == needed {
		return TierExactMatch
	}
	for _, t := range matrix[donor] {
		if t == needed {
			return TierCompatible
		}
	}
	return TierNone
}

// CanPledge is the strict gate applied at pledge creation: only exact
// blood-type equality is accepted, regardless of ABO compatibility.
func CanPledge(donor, needed model.BloodType) bool {
	return donor.Valid() && donor == needed
}

// rarityRank orders the eight groups from rarest (1, O-) to most common
// (8, A+) in the served population.
var rarityRank = map[model.BloodType]int{
	model.ONeg:  1,
	model.ABNeg: 2,
	model.BNeg:  3,
	model.ANeg:  4,
	model.OPos:  5,
	model.ABPos: 6,
	model.BPos:  7,
	model.APos:  8,
}

// RarityScore maps a blood type to [0,1]; rarer types score higher. Unknown
// types score as the most common group.
func RarityScore(b model.BloodType) float64 {
	rank, ok := rarityRank[b]
	if !ok {
		rank = 8
	}
	return float64(9-rank) / 8
}

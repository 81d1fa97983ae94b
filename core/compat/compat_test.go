package compat

import (
	"testing"

	"github.com/kilianp07/hemolink/core/model"
)

// TestCompatibility_Exhaustive pins the full 8x8 donation table, including
// the deliberate O+ same-group-only restriction.
func TestCompatibility_Exhaustive(t *testing.T) {
	e, c, n := TierExactMatch, TierCompatible, TierNone
	// Rows are donors, columns recipients in the order of the header slice.
	order := []model.BloodType{model.APos, model.ANeg, model.BPos, model.BNeg, model.ABPos, model.ABNeg, model.OPos, model.ONeg}
	want := map[model.BloodType][8]Tier{
		model.APos:  {e, n, n, n, c, n, n, n},
		model.ANeg:  {c, e, n, n, c, c, n, n},
		model.BPos:  {n, n, e, n, c, n, n, n},
		model.BNeg:  {n, n, c, e, c, c, n, n},
		model.ABPos: {n, n, n, n, e, n, n, n},
		model.ABNeg: {n, n, n, n, c, e, n, n},
		model.OPos:  {n, n, n, n, n, n, e, n},
		model.ONeg:  {c, c, c, c, c, c, c, e},
	}
	for donor, row := range want {
		for i, needed := range order {
			if got := Compatibility(donor, needed); got != row[i] {
				t.Errorf("Compatibility(%s, %s) = %s, want %s", donor, needed, got, row[i])
			}
		}
	}
}

func TestCompatibility_ONegUniversal(t *testing.T) {
	for _, needed := range model.BloodTypes {
		if Compatibility(model.ONeg, needed) < TierCompatible {
			t.Errorf("O- should be at least compatible with %s", needed)
		}
	}
}

func TestCompatibility_UnknownTypes(t *testing.T) {
	if Compatibility("C+", model.APos) != TierNone {
		t.Error("unknown donor type should be TierNone")
	}
	if Compatibility(model.ONeg, "") != TierNone {
		t.Error("unknown needed type should be TierNone")
	}
}

// TestCanPledge_StrictGate documents that pledging is stricter than ranking:
// ranking surfaces ABO-compatible donors, but a pledge requires exact
// equality. This asymmetry is a product decision, not a bug.
func TestCanPledge_StrictGate(t *testing.T) {
	if !CanPledge(model.OPos, model.OPos) {
		t.Error("exact match must be pledgeable")
	}
	if CanPledge(model.ONeg, model.APos) {
		t.Error("O- ranks as compatible with A+ but must not pass the pledge gate")
	}
	if Compatibility(model.ONeg, model.APos) != TierCompatible {
		t.Error("ranking compatibility for O- to A+ must remain broader than the gate")
	}
}

func TestTier_Weight(t *testing.T) {
	if TierNone.Weight() != 0 || TierCompatible.Weight() != 1 || TierExactMatch.Weight() != 2 {
		t.Error("tier weights must be 0/1/2")
	}
}

func TestRarityScore_Ordering(t *testing.T) {
	if RarityScore(model.ONeg) != 1 {
		t.Errorf("O- should score 1, got %v", RarityScore(model.ONeg))
	}
	if RarityScore(model.APos) != 0.125 {
		t.Errorf("A+ should score 0.125, got %v", RarityScore(model.APos))
	}
	if RarityScore(model.ONeg) <= RarityScore(model.ABNeg) {
		t.Error("O- must outrank AB-")
	}
}

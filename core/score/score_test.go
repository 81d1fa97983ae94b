package score

import (
	"testing"
	"time"

	"github.com/kilianp07/hemolink/core/model"
)

func donor(bt model.BloodType, resp float64) model.Entity {
	return model.Entity{ID: "d1", Role: model.RoleDonor, BloodType: bt, ResponsivenessScore: resp}
}

func request(bt model.BloodType, urgency int) model.Request {
	return model.Request{ID: "r1", HospitalID: "h1", BloodType: bt, UrgencyLevel: urgency, UnitsNeeded: 1}
}

func TestUrgency_Bounds(t *testing.T) {
	for _, db := range model.BloodTypes {
		for _, rb := range model.BloodTypes {
			for _, d := range []float64{0, 10, 50, 500} {
				for _, u := range []int{1, 3, 5} {
					s := Urgency(donor(db, 0.5), request(rb, u), d)
					if s < 0 || s > 100 {
						t.Fatalf("score out of bounds: %d (donor=%s req=%s d=%v u=%d)", s, db, rb, d, u)
					}
				}
			}
		}
	}
}

func TestUrgency_MonotonicInDistance(t *testing.T) {
	d := donor(model.OPos, 0.5)
	r := request(model.OPos, 4)
	prev := Urgency(d, r, 0)
	for _, dist := range []float64{1, 5, 10, 25, 49, 50, 80} {
		s := Urgency(d, r, dist)
		if s > prev {
			t.Fatalf("increasing distance raised the score: %d -> %d at %v km", prev, s, dist)
		}
		prev = s
	}
}

func TestUrgency_MonotonicInUrgencyLevel(t *testing.T) {
	d := donor(model.ANeg, 0.5)
	r := request(model.APos, 1)
	prev := Urgency(d, r, 10)
	for u := 2; u <= 5; u++ {
		r.UrgencyLevel = u
		s := Urgency(d, r, 10)
		if s < prev {
			t.Fatalf("increasing urgency lowered the score: %d -> %d at level %d", prev, s, u)
		}
		prev = s
	}
}

func TestUrgency_CompatibilityBoost(t *testing.T) {
	r := request(model.APos, 3)
	compatible := Urgency(donor(model.ANeg, 0.5), r, 10)
	incompatible := Urgency(donor(model.BPos, 0.5), r, 10)
	if compatible <= incompatible {
		t.Fatalf("compatible donor must outscore incompatible at equal rarity rank distance: %d vs %d", compatible, incompatible)
	}
}

func TestUrgency_ExactScenario(t *testing.T) {
	// O+ donor, O+ request at urgency 5, 2 km away, default responsiveness.
	// urgency 35 + compat 25 + distance 19.2 + rarity 5 + resp 5 = 89.
	s := Urgency(donor(model.OPos, 0), request(model.OPos, 5), 2)
	if s != 89 {
		t.Fatalf("expected 89, got %d", s)
	}
	if s <= 80 {
		t.Fatal("nearby exact-match high-urgency pledge must score above 80")
	}
}

func TestResponsiveness_Default(t *testing.T) {
	if Responsiveness(donor(model.OPos, 0)) != 0.5 {
		t.Fatal("unset responsiveness must default to 0.5")
	}
	if Responsiveness(donor(model.OPos, 0.9)) != 0.9 {
		t.Fatal("set responsiveness must be used as-is")
	}
}

func TestComputeReadiness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fresh := now.Add(-24 * time.Hour)
	r := ComputeReadiness(&fresh, now, 0.5, true)
	if r.DaysSince != 1 {
		t.Fatalf("expected 1 day since, got %d", r.DaysSince)
	}
	if r.Score < 0 || r.Score > 100 {
		t.Fatalf("score out of bounds: %d", r.Score)
	}

	old := now.Add(-100 * 24 * time.Hour)
	recovered := ComputeReadiness(&old, now, 0, true)
	if recovered.Score != 96 {
		// 50 (saturated cooldown) + 30 (no trend) + 16 (available)
		t.Fatalf("expected 96, got %d", recovered.Score)
	}

	none := ComputeReadiness(nil, now, 0.5, false)
	if none.DaysSince != 90 {
		t.Fatalf("no donation history should default to 90 days, got %d", none.DaysSince)
	}
	if recovered.Score <= none.Score {
		t.Fatal("available donor with closer trend must outscore unavailable one")
	}
}

// Package score computes the composite ranking values used by dispatch.
package score

import (
	"math"
	"time"

	"github.com/kilianp07/hemolink/core/compat"
	"github.com/kilianp07/hemolink/core/model"
)

// Component weights of the urgency score. They sum to 100.
const (
	urgencyWeight        = 35.0
	compatWeight         = 25.0
	distanceWeight       = 20.0
	rarityWeight         = 10.0
	responsivenessWeight = 10.0
)

// maxDistanceKm is where the distance component bottoms out.
const maxDistanceKm = 50.0

// defaultResponsiveness substitutes for donors never observed responding.
const defaultResponsiveness = 0.5

// Responsiveness returns the donor's responsiveness score, falling back to
// the 0.5 default when the field was never set.
func Responsiveness(donor model.Entity) float64 {
	if donor.ResponsivenessScore <= 0 {
		return defaultResponsiveness
	}
	return math.Min(donor.ResponsivenessScore, 1)
}

// Urgency blends request severity, compatibility, distance, blood rarity and
// donor responsiveness into a single 0-100 value. It is monotonic in every
// component: closer never scores lower, higher urgency never scores lower.
func Urgency(donor model.Entity, req model.Request, distanceKm float64) int {
	urgency := math.Min(math.Max(float64(req.UrgencyLevel), 1), 5) / 5

	compatBoost := 0.0
	if compat.Compatibility(donor.BloodType, req.BloodType) > compat.TierNone {
		compatBoost = 1
	}

	distance := math.Max(0, 1-math.Min(math.Max(distanceKm, 0), maxDistanceKm)/maxDistanceKm)

	total := urgency*urgencyWeight +
		compatBoost*compatWeight +
		distance*distanceWeight +
		compat.RarityScore(donor.BloodType)*rarityWeight +
		Responsiveness(donor)*responsivenessWeight

	return int(math.Min(100, math.Max(0, math.Round(total))))
}

// Readiness weights of the donor readiness display.
const (
	readinessCooldownWeight     = 50.0
	readinessTrendWeight        = 30.0
	readinessAvailabilityWeight = 20.0

	// cooldownSaturationDays is where the cooldown component tops out: two
	// donation intervals without donating reads as fully recovered.
	cooldownSaturationDays = 56.0
)

// Readiness summarizes how ready a donor is to pledge again.
type Readiness struct {
	Score         int     `json:"score"`
	DaysSince     int     `json:"days_since"`
	DistanceTrend float64 `json:"distance_trend"`
	Availability  float64 `json:"availability"`
}

// ComputeReadiness derives the 0-100 readiness value. distanceTrend is in
// [0,1], smaller meaning the donor's recent pledges were closer. A donor with
// no recorded donation counts as 90 days since.
func ComputeReadiness(lastDonation *time.Time, now time.Time, distanceTrend float64, available bool) Readiness {
	last := now.Add(-90 * 24 * time.Hour)
	if lastDonation != nil {
		last = *lastDonation
	}
	daysSince := int(now.Sub(last).Hours() / 24)
	if daysSince < 0 {
		daysSince = 0
	}

	availability := 0.2
	if available {
		availability = 0.8
	}
	trend := math.Min(math.Max(distanceTrend, 0), 1)

	total := math.Min(float64(daysSince)/cooldownSaturationDays, 1)*readinessCooldownWeight +
		(1-trend)*readinessTrendWeight +
		availability*readinessAvailabilityWeight

	return Readiness{
		Score:         int(math.Min(100, math.Max(0, math.Round(total)))),
		DaysSince:     daysSince,
		DistanceTrend: trend,
		Availability:  availability,
	}
}

package model

import (
	"testing"
	"time"
)

func TestEntity_Validate(t *testing.T) {
	base := Entity{ID: "d1", Role: RoleDonor, BloodType: OPos, ResponsivenessScore: 0.5}
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := base
	bad.Role = "admin"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for unknown role")
	}

	bad = base
	bad.BloodType = "C+"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for unknown blood type")
	}

	bad = base
	bad.Location = &GeoPoint{Lat: 91, Lng: 0}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for out-of-bounds location")
	}

	bad = base
	bad.CreditPoints = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for negative credits")
	}
}

func TestRequest_Validate(t *testing.T) {
	base := Request{HospitalID: "h1", BloodType: APos, UrgencyLevel: 3, UnitsNeeded: 2}
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, u := range []int{0, 6} {
		r := base
		r.UrgencyLevel = u
		if err := r.Validate(); err == nil {
			t.Errorf("urgency %d should be rejected", u)
		}
	}
	for _, u := range []int{0, 21} {
		r := base
		r.UnitsNeeded = u
		if err := r.Validate(); err == nil {
			t.Errorf("units %d should be rejected", u)
		}
	}
}

func TestPledge_Validate(t *testing.T) {
	base := Pledge{RequestID: "r1", DonorID: "d1", Code: "123456", EtaMinutes: 10, AvailableForMinutes: 60}
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := base
	p.Code = "1234"
	if err := p.Validate(); err == nil {
		t.Fatal("short code should be rejected")
	}
	p = base
	p.EtaMinutes = 301
	if err := p.Validate(); err == nil {
		t.Fatal("eta above 300 should be rejected")
	}
}

func TestWellnessReport_Validate(t *testing.T) {
	now := time.Now()
	sys, dia, units := 120, 80, 1
	ok := WellnessReport{ReportAt: &now, BPSys: &sys, BPDia: &dia, UnitsDonated: &units}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tooMany := 21
	bad := WellnessReport{UnitsDonated: &tooMany}
	if err := bad.Validate(); err == nil {
		t.Fatal("units above 20 should be rejected")
	}
}

func TestSwapRequest_Validate(t *testing.T) {
	base := SwapRequest{FromHospitalID: "h1", ToHospitalID: "h2", BloodType: BNeg, Units: 5}
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := base
	s.ToHospitalID = "h1"
	if err := s.Validate(); err == nil {
		t.Fatal("self swap should be rejected")
	}
	s = base
	s.Units = 51
	if err := s.Validate(); err == nil {
		t.Fatal("units above 50 should be rejected")
	}
}

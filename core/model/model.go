package model

import (
	"fmt"
	"time"
)

// Role distinguishes the two registered entity kinds the engine works with.
type Role string

const (
	RoleDonor    Role = "donor"
	RoleHospital Role = "hospital"
)

// BloodType is one of the eight ABO/Rh groups.
type BloodType string

const (
	APos  BloodType = "A+"
	ANeg  BloodType = "A-"
	BPos  BloodType = "B+"
	BNeg  BloodType = "B-"
	ABPos BloodType = "AB+"
	ABNeg BloodType = "AB-"
	OPos  BloodType = "O+"
	ONeg  BloodType = "O-"
)

// BloodTypes lists all valid groups in rarity order is NOT implied here;
// rarity lives in the compat package.
var BloodTypes = []BloodType{APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg}

// Valid reports whether the blood type is one of the eight known groups.
func (b BloodType) Valid() bool {
	for _, t := range BloodTypes {
		if b == t {
			return true
		}
	}
	return false
}

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within the WGS84 bounds.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Entity is a registered donor or hospital. Registration owns most fields;
// the engine mutates only ResponsivenessScore, LastDonationDate, CreditPoints,
// AvailableNow and LastHealthCheckAt.
type Entity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	BloodType BloodType `json:"blood_type"`
	// Location is nil when the entity never registered a position. The engine
	// treats that as a first-class unknown state, never as a default point.
	Location *GeoPoint `json:"location,omitempty"`

	// Contact fields are read-only inputs for event payloads.
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	// Donor fields.
	LastDonationDate *time.Time `json:"last_donation_date,omitempty"`

	// ResponsivenessScore is in [0,1]. Zero means "never observed"; scoring
	// substitutes the 0.5 default in that case.
	ResponsivenessScore float64    `json:"responsiveness_score"`
	AvailableNow        bool       `json:"available_now"`
	CreditPoints        int        `json:"credit_points"`
	LastHealthCheckAt   *time.Time `json:"last_health_check_at,omitempty"`

	// Hospital fields.
	CapacityUnits int `json:"capacity_units,omitempty"`
}

// Validate checks invariants the engine relies on.
func (e Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	if e.Role != RoleDonor && e.Role != RoleHospital {
		return fmt.Errorf("unknown role %q", e.Role)
	}
	if !e.BloodType.Valid() {
		return fmt.Errorf("unknown blood type %q", e.BloodType)
	}
	if e.Location != nil && !e.Location.Valid() {
		return fmt.Errorf("location out of bounds")
	}
	if e.ResponsivenessScore < 0 || e.ResponsivenessScore > 1 {
		return fmt.Errorf("responsiveness score must be in [0,1]")
	}
	if e.CreditPoints < 0 {
		return fmt.Errorf("credit points must not be negative")
	}
	return nil
}

// RequestStatus tracks a blood request through its lifecycle.
// Transitions only ever move active -> fulfilled or active -> closed.
type RequestStatus string

const (
	RequestActive    RequestStatus = "active"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestClosed    RequestStatus = "closed"
)

// Request is an urgent need for blood units issued by a hospital.
type Request struct {
	ID         string        `json:"id"`
	HospitalID string        `json:"hospital_id"`
	BloodType  BloodType     `json:"blood_type"`
	Status     RequestStatus `json:"status"`
	// Location normally equals the hospital's position; simulated requests
	// jitter it. Nil when the hospital has no registered position.
	Location     *GeoPoint `json:"location,omitempty"`
	UrgencyLevel int       `json:"urgency_level"`
	UnitsNeeded  int       `json:"units_needed"`
	Notes        string    `json:"notes,omitempty"`
	Simulated    bool      `json:"simulated,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks creation-time invariants.
func (r Request) Validate() error {
	if r.HospitalID == "" {
		return fmt.Errorf("hospital id is required")
	}
	if !r.BloodType.Valid() {
		return fmt.Errorf("unknown blood type %q", r.BloodType)
	}
	if r.UrgencyLevel < 1 || r.UrgencyLevel > 5 {
		return fmt.Errorf("urgency level must be in [1,5]")
	}
	if r.UnitsNeeded < 1 || r.UnitsNeeded > 20 {
		return fmt.Errorf("units needed must be in [1,20]")
	}
	return nil
}

// PledgeStatus tracks a donor commitment. A pledge never returns to pledged
// once it left that state.
type PledgeStatus string

const (
	PledgePledged   PledgeStatus = "pledged"
	PledgeArrived   PledgeStatus = "arrived"
	PledgeCancelled PledgeStatus = "cancelled"
)

// WellnessReport captures the optional vitals recorded at arrival.
type WellnessReport struct {
	ReportAt     *time.Time `json:"report_at,omitempty"`
	BPSys        *int       `json:"bp_sys,omitempty"`
	BPDia        *int       `json:"bp_dia,omitempty"`
	Hemoglobin   *float64   `json:"hemoglobin,omitempty"`
	Sugar        *float64   `json:"sugar,omitempty"`
	UnitsDonated *int       `json:"units_donated,omitempty"`
}

// Validate bounds the report fields to plausible medical ranges.
func (w WellnessReport) Validate() error {
	if w.BPSys != nil && (*w.BPSys < 60 || *w.BPSys > 220) {
		return fmt.Errorf("systolic pressure out of range")
	}
	if w.BPDia != nil && (*w.BPDia < 40 || *w.BPDia > 150) {
		return fmt.Errorf("diastolic pressure out of range")
	}
	if w.Hemoglobin != nil && (*w.Hemoglobin < 0 || *w.Hemoglobin > 25) {
		return fmt.Errorf("hemoglobin out of range")
	}
	if w.Sugar != nil && (*w.Sugar < 0 || *w.Sugar > 400) {
		return fmt.Errorf("sugar out of range")
	}
	if w.UnitsDonated != nil && (*w.UnitsDonated < 0 || *w.UnitsDonated > 20) {
		return fmt.Errorf("units donated out of range")
	}
	return nil
}

// Pledge binds a donor to a request. At most one non-cancelled pledge may
// exist per (request, donor) pair; the store enforces that constraint.
type Pledge struct {
	ID                  string       `json:"id"`
	RequestID           string       `json:"request_id"`
	DonorID             string       `json:"donor_id"`
	EtaMinutes          int          `json:"eta_minutes"`
	AvailableForMinutes int          `json:"available_for_minutes"`
	Status              PledgeStatus `json:"status"`
	// Code is the 6-digit arrival credential, meaningful only together with
	// the request id.
	Code string `json:"code,omitempty"`

	Report WellnessReport `json:"report,omitempty"`

	FeedbackRating  int        `json:"feedback_rating,omitempty"`
	FeedbackComment string     `json:"feedback_comment,omitempty"`
	FeedbackAt      *time.Time `json:"feedback_at,omitempty"`

	CertificateID string    `json:"certificate_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks creation-time invariants.
func (p Pledge) Validate() error {
	if p.RequestID == "" || p.DonorID == "" {
		return fmt.Errorf("request id and donor id are required")
	}
	if p.EtaMinutes < 0 || p.EtaMinutes > 300 {
		return fmt.Errorf("eta minutes must be in [0,300]")
	}
	if p.AvailableForMinutes < 0 || p.AvailableForMinutes > 480 {
		return fmt.Errorf("available-for minutes must be in [0,480]")
	}
	if len(p.Code) != 6 {
		return fmt.Errorf("arrival code must be 6 digits")
	}
	return nil
}

// SwapStatus tracks an inter-hospital unit swap. Terminal once accepted or
// declined.
type SwapStatus string

const (
	SwapPending  SwapStatus = "pending"
	SwapAccepted SwapStatus = "accepted"
	SwapDeclined SwapStatus = "declined"
)

// SwapRequest proposes a unit transfer between two hospitals. Only the
// receiving hospital may resolve it.
type SwapRequest struct {
	ID             string     `json:"id"`
	FromHospitalID string     `json:"from_hospital_id"`
	ToHospitalID   string     `json:"to_hospital_id"`
	BloodType      BloodType  `json:"blood_type"`
	Units          int        `json:"units"`
	Status         SwapStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Validate checks creation-time invariants.
func (s SwapRequest) Validate() error {
	if s.FromHospitalID == "" || s.ToHospitalID == "" {
		return fmt.Errorf("both hospital ids are required")
	}
	if s.FromHospitalID == s.ToHospitalID {
		return fmt.Errorf("cannot swap with own hospital")
	}
	if !s.BloodType.Valid() {
		return fmt.Errorf("unknown blood type %q", s.BloodType)
	}
	if s.Units < 1 || s.Units > 50 {
		return fmt.Errorf("units must be in [1,50]")
	}
	return nil
}

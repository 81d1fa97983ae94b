// Package events defines the outbound domain events and the abstract emit
// capability. The engine never holds transport connections; gateways (MQTT,
// in-process bus) implement Emitter and are injected at construction.
package events

import "github.com/kilianp07/hemolink/core/model"

// Kind names an outbound event. Values double as topic suffixes.
type Kind string

const (
	KindRequestCreated    Kind = "request.created"
	KindPledgeCreated     Kind = "pledge.created"
	KindPledgeArrived     Kind = "pledge.arrived"
	KindDonorCodeCleared  Kind = "donor.codeCleared"
	KindSwapCreated       Kind = "swap.created"
	KindSwapUpdated       Kind = "swap.updated"
	KindRequestsSimulated Kind = "requests.simulated"
)

// Event wraps one domain occurrence. TargetHospitalID, when set, requests
// targeted delivery to that hospital's channel in addition to the broadcast.
type Event struct {
	Kind             Kind   `json:"kind"`
	TargetHospitalID string `json:"target_hospital_id,omitempty"`
	Payload          any    `json:"payload"`
}

// Emitter is the engine's only outbound capability. Emit must not block and
// must never fail the calling state transition; delivery is best effort.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// Payloads carry enough denormalized data that the notifier can render a
// human-readable alert without a second round-trip.

// RequestCreated announces a new blood request.
type RequestCreated struct {
	Request      model.Request `json:"request"`
	HospitalName string        `json:"hospital_name"`
	// Recipients are the donors dispatch selected for notification: strict
	// same-type matches within the search radius, closest first.
	Recipients []Recipient `json:"recipients,omitempty"`
}

// Recipient describes one donor to notify about a request.
type Recipient struct {
	DonorID    string          `json:"donor_id"`
	Name       string          `json:"name"`
	Email      string          `json:"email,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	BloodType  model.BloodType `json:"blood_type"`
	DistanceKm float64         `json:"distance_km"`
}

// PledgeCreated announces a donor commitment.
type PledgeCreated struct {
	RequestID    string          `json:"request_id"`
	Pledge       model.Pledge    `json:"pledge"`
	DonorName    string          `json:"donor_name"`
	HospitalName string          `json:"hospital_name"`
	BloodType    model.BloodType `json:"blood_type"`
	// DistanceKm is nil when either side lacks a location.
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// PledgeArrived announces a verified arrival.
type PledgeArrived struct {
	RequestID     string `json:"request_id"`
	PledgeID      string `json:"pledge_id"`
	DonorID       string `json:"donor_id"`
	CertificateID string `json:"certificate_id"`
}

// DonorCodeCleared tells donor-side clients to drop the displayed code.
type DonorCodeCleared struct {
	DonorID string `json:"donor_id"`
}

// SwapCreated announces a new swap proposal to the receiving hospital.
type SwapCreated struct {
	SwapID           string           `json:"swap_id"`
	FromHospitalID   string           `json:"from_hospital_id"`
	FromHospitalName string           `json:"from_hospital_name"`
	ToHospitalID     string           `json:"to_hospital_id"`
	BloodType        model.BloodType  `json:"blood_type"`
	Units            int              `json:"units"`
	Status           model.SwapStatus `json:"status"`
}

// SwapUpdated announces a swap resolution to both hospitals.
type SwapUpdated struct {
	SwapID         string           `json:"swap_id"`
	FromHospitalID string           `json:"from_hospital_id"`
	ToHospitalID   string           `json:"to_hospital_id"`
	Status         model.SwapStatus `json:"status"`
}

// RequestsSimulated announces a demo batch creation or clearance.
type RequestsSimulated struct {
	HospitalID string   `json:"hospital_id"`
	RequestIDs []string `json:"request_ids,omitempty"`
	Cleared    bool     `json:"cleared"`
}

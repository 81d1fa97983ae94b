// Package store defines the persistence contracts of the matching engine.
//
// Mutations on shared state (a pledge, a request, a donor's credit balance)
// must be serialized through the implementation's atomic update primitives:
// conditional updates keyed on current state, and a uniqueness constraint on
// non-cancelled (request, donor) pledges. Post-hoc application checks are not
// an acceptable substitute; races between concurrent pledges or verifications
// must resolve at the storage layer.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/hemolink/core/model"
)

var (
	// ErrNotFound marks a missing entity, request, pledge or swap.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a constraint violation or a lost conditional update
	// (duplicate pledge, double swap resolution, insufficient credits).
	ErrConflict = errors.New("conflict")
)

// MaxRadiusKm bounds every proximity query regardless of caller input.
const MaxRadiusKm = 200.0

// EntityFilter narrows proximity queries at the storage layer.
type EntityFilter struct {
	Role          model.Role
	BloodType     model.BloodType // zero value: any
	AvailableOnly bool
}

// NearbyEntity pairs an entity with its distance from the query point.
type NearbyEntity struct {
	Entity     model.Entity
	DistanceKm float64
}

// NearbyRequest pairs a request (and its owning hospital) with the distance
// from the query point.
type NearbyRequest struct {
	Request    model.Request
	Hospital   model.Entity
	DistanceKm float64
}

// EntityStore reads registered entities and mutates the engine-owned fields.
type EntityStore interface {
	Entity(ctx context.Context, id string) (model.Entity, error)
	PutEntity(ctx context.Context, e model.Entity) error

	// NearbyEntities returns entities within radiusKm of p, sorted ascending
	// by distance. Entities without a location are excluded. The radius is
	// capped at MaxRadiusKm.
	NearbyEntities(ctx context.Context, p model.GeoPoint, radiusKm float64, f EntityFilter) ([]NearbyEntity, error)

	// Hospitals lists all hospital entities (market listings).
	Hospitals(ctx context.Context) ([]model.Entity, error)

	SetAvailability(ctx context.Context, donorID string, available bool) error
	SetResponsiveness(ctx context.Context, donorID string, score float64) error

	// AwardCredits atomically increments the donor's credit points and stamps
	// the last donation date.
	AwardCredits(ctx context.Context, donorID string, points int, donatedAt time.Time) error

	// RedeemCredits atomically decrements cost points if, and only if, the
	// donor holds at least cost, stamping the health-check time. Returns the
	// new balance, or ErrConflict when the balance is insufficient.
	RedeemCredits(ctx context.Context, donorID string, cost int, at time.Time) (int, error)
}

// RequestStore persists blood requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, r model.Request) error
	Request(ctx context.Context, id string) (model.Request, error)
	ActiveRequests(ctx context.Context) ([]model.Request, error)
	RequestsByHospital(ctx context.Context, hospitalID string) ([]model.Request, error)

	// NearbyRequests returns active requests within radiusKm of p, hospital
	// attached, sorted ascending by distance. Requests without a location are
	// excluded.
	NearbyRequests(ctx context.Context, p model.GeoPoint, radiusKm float64) ([]NearbyRequest, error)

	// FulfillRequest conditionally moves the request from active to
	// fulfilled. Reports false when the request was no longer active.
	FulfillRequest(ctx context.Context, id string) (bool, error)

	// CloseSimulated closes all active simulated requests of a hospital and
	// returns their ids.
	CloseSimulated(ctx context.Context, hospitalID string) ([]string, error)

	// ActiveRequestLocations returns the locations of located active
	// requests, for density aggregation.
	ActiveRequestLocations(ctx context.Context) ([]model.GeoPoint, error)

	// ActiveRequestCountByHospital counts active requests per hospital id.
	ActiveRequestCountByHospital(ctx context.Context) (map[string]int, error)
}

// PledgeStore persists pledges and performs their atomic transitions.
type PledgeStore interface {
	// CreatePledge inserts the pledge, returning ErrConflict when a
	// non-cancelled pledge already exists for the (request, donor) pair.
	CreatePledge(ctx context.Context, p model.Pledge) error

	Pledge(ctx context.Context, id string) (model.Pledge, error)
	PledgesByRequest(ctx context.Context, requestID string, statuses ...model.PledgeStatus) ([]model.Pledge, error)
	PledgesByDonor(ctx context.Context, donorID string) ([]model.Pledge, error)
	FeedbackByRequest(ctx context.Context, requestID string) ([]model.Pledge, error)

	// CancelPledge conditionally moves pledged to cancelled. Reports false
	// when no pledged row matched (already arrived, already cancelled, or no
	// pledge at all).
	CancelPledge(ctx context.Context, requestID, donorID string) (bool, error)

	// ArrivePledge looks up the pledge by (request id, code) jointly and, in
	// one transaction, transitions it pledged -> arrived stamping the report
	// and certificateID. When the pledge already arrived it returns the
	// stored row unchanged with applied=false, preserving the original
	// certificate. ErrNotFound when no pledge matches the pair.
	ArrivePledge(ctx context.Context, requestID, code string, report model.WellnessReport, certificateID string, at time.Time) (p model.Pledge, applied bool, err error)

	// SetFeedback stamps rating/comment on the donor's arrived pledge.
	// ErrConflict when the pledge exists but has not arrived.
	SetFeedback(ctx context.Context, pledgeID, donorID string, rating int, comment string, at time.Time) (model.Pledge, error)

	// ActiveCodeExists reports whether any non-cancelled, non-arrived pledge
	// currently uses the code. Issuance keeps codes unique in that namespace.
	ActiveCodeExists(ctx context.Context, code string) (bool, error)
}

// SwapStore persists inter-hospital swap proposals.
type SwapStore interface {
	CreateSwap(ctx context.Context, s model.SwapRequest) error
	Swap(ctx context.Context, id string) (model.SwapRequest, error)
	SwapsIncoming(ctx context.Context, hospitalID string) ([]model.SwapRequest, error)
	SwapsOutgoing(ctx context.Context, hospitalID string) ([]model.SwapRequest, error)

	// ResolveSwap conditionally moves pending to status for the swap
	// addressed to hospitalID. Reports false when the swap was already
	// resolved. ErrNotFound when no swap with that id is addressed to the
	// hospital.
	ResolveSwap(ctx context.Context, id, hospitalID string, status model.SwapStatus) (bool, error)
}

// Store aggregates all repositories behind one handle.
type Store interface {
	EntityStore
	RequestStore
	PledgeStore
	SwapStore
	Close() error
}

// Package simulate creates demo emergency batches: short-lived request bursts
// jittered around a hospital, marked simulated so they can be cleared in one
// call. Demo traffic flows through the same stores and events as real
// requests; only the simulated flag separates the two.
package simulate

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/hemolink/core/events"
	"github.com/kilianp07/hemolink/core/geo"
	"github.com/kilianp07/hemolink/core/logger"
	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/policy"
	"github.com/kilianp07/hemolink/core/store"
)

// Batch bounds. Count defaults to 3, jitter radius to 5 km.
const (
	defaultCount  = 3
	maxCount      = 10
	minRadiusKm   = 0.5
	maxRadiusKm   = 20.0
	defaultRadius = 5.0
)

// Mix selects the blood types of a batch.
type Mix string

const (
	// MixRandom draws each request's type uniformly.
	MixRandom Mix = "random"
	// MixSame copies the hospital's own blood type onto every request.
	MixSame Mix = "same"
)

// Options tune one batch. Zero values select the defaults.
type Options struct {
	Count    int
	RadiusKm float64
	Mix      Mix
}

func (o *Options) setDefaults() {
	if o.Count <= 0 {
		o.Count = defaultCount
	}
	if o.Count > maxCount {
		o.Count = maxCount
	}
	if o.RadiusKm <= 0 {
		o.RadiusKm = defaultRadius
	}
	if o.RadiusKm < minRadiusKm {
		o.RadiusKm = minRadiusKm
	}
	if o.RadiusKm > maxRadiusKm {
		o.RadiusKm = maxRadiusKm
	}
	if o.Mix != MixSame {
		o.Mix = MixRandom
	}
}

// Simulator creates and clears demo batches. Safe for concurrent use: batch
// randomness comes from the lock-free top-level rand functions.
type Simulator struct {
	store   store.Store
	emitter events.Emitter
	log     logger.Logger

	now func() time.Time
}

// New creates a Simulator.
func New(st store.Store, emitter events.Emitter, log logger.Logger) (*Simulator, error) {
	if st == nil || emitter == nil || log == nil {
		return nil, fmt.Errorf("simulate: nil parameter provided to New")
	}
	return &Simulator{
		store:   st,
		emitter: emitter,
		log:     log,
		now:     time.Now,
	}, nil
}

// Run creates a batch of simulated requests around the hospital's position
// and emits one request.created event per request plus a batch summary.
// A hospital without a registered position cannot host a demo.
func (s *Simulator) Run(ctx context.Context, hospitalID string, opts Options) ([]model.Request, error) {
	hospital, err := s.store.Entity(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	if hospital.Role != model.RoleHospital {
		return nil, store.ErrNotFound
	}
	if hospital.Location == nil {
		return nil, policy.Reject(policy.ReasonNoLocation, "hospital has no registered position")
	}
	opts.setDefaults()

	created := make([]model.Request, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		bt := hospital.BloodType
		if opts.Mix == MixRandom {
			bt = model.BloodTypes[rand.Intn(len(model.BloodTypes))]
		}
		loc := geo.Jitter(*hospital.Location, opts.RadiusKm)
		req := model.Request{
			ID:           uuid.NewString(),
			HospitalID:   hospitalID,
			BloodType:    bt,
			Status:       model.RequestActive,
			Location:     &loc,
			UrgencyLevel: 5,
			UnitsNeeded:  1 + rand.Intn(3),
			Simulated:    true,
			CreatedAt:    s.now().UTC(),
		}
		if err := s.store.CreateRequest(ctx, req); err != nil {
			return created, err
		}
		created = append(created, req)
		s.emitter.Emit(events.Event{
			Kind:    events.KindRequestCreated,
			Payload: events.RequestCreated{Request: req, HospitalName: hospital.Name},
		})
	}

	ids := make([]string, len(created))
	for i, r := range created {
		ids[i] = r.ID
	}
	s.emitter.Emit(events.Event{
		Kind:    events.KindRequestsSimulated,
		Payload: events.RequestsSimulated{HospitalID: hospitalID, RequestIDs: ids},
	})
	s.log.Infof("simulated %d requests for hospital %s (radius %.1f km, mix %s)", len(created), hospitalID, opts.RadiusKm, opts.Mix)
	return created, nil
}

// Clear closes the hospital's active simulated requests and announces the
// clearance. Clearing an empty batch is a no-op, not an error.
func (s *Simulator) Clear(ctx context.Context, hospitalID string) (int, error) {
	ids, err := s.store.CloseSimulated(ctx, hospitalID)
	if err != nil {
		return 0, err
	}
	s.emitter.Emit(events.Event{
		Kind:    events.KindRequestsSimulated,
		Payload: events.RequestsSimulated{HospitalID: hospitalID, RequestIDs: ids, Cleared: true},
	})
	s.log.Infof("cleared %d simulated requests for hospital %s", len(ids), hospitalID)
	return len(ids), nil
}

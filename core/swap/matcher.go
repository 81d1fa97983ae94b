// Package swap implements the inter-hospital unit marketplace: hospitals
// browse each other's standing, propose unit transfers, and the receiving
// side accepts or declines. Resolution is single-shot; races between two
// responders settle on the store's conditional update.
package swap

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/hemolink/core/events"
	"github.com/kilianp07/hemolink/core/logger"
	"github.com/kilianp07/hemolink/core/metrics"
	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/policy"
	"github.com/kilianp07/hemolink/core/store"
)

// Matcher mediates swap proposals between hospitals.
type Matcher struct {
	store   store.Store
	emitter events.Emitter
	log     logger.Logger
	sink    metrics.MetricsSink

	now func() time.Time
}

// NewMatcher creates a Matcher.
func NewMatcher(st store.Store, emitter events.Emitter, log logger.Logger, sink metrics.MetricsSink) (*Matcher, error) {
	if st == nil || emitter == nil || log == nil {
		return nil, fmt.Errorf("swap: nil parameter provided to NewMatcher")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Matcher{store: st, emitter: emitter, log: log, sink: sink, now: time.Now}, nil
}

// Listing is one hospital's marketplace card.
type Listing struct {
	HospitalID     string          `json:"hospital_id"`
	Name           string          `json:"name"`
	BloodType      model.BloodType `json:"blood_type,omitempty"`
	Location       *model.GeoPoint `json:"location,omitempty"`
	ActiveRequests int             `json:"active_requests"`
}

// Listings returns all hospitals except the viewer, annotated with their
// active request counts so proposers can judge demand.
func (m *Matcher) Listings(ctx context.Context, viewerHospitalID string) ([]Listing, error) {
	hospitals, err := m.store.Hospitals(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := m.store.ActiveRequestCountByHospital(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(hospitals))
	for _, h := range hospitals {
		if h.ID == viewerHospitalID {
			continue
		}
		out = append(out, Listing{
			HospitalID:     h.ID,
			Name:           h.Name,
			BloodType:      h.BloodType,
			Location:       h.Location,
			ActiveRequests: counts[h.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActiveRequests != out[j].ActiveRequests {
			return out[i].ActiveRequests > out[j].ActiveRequests
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Propose records a pending swap from one hospital to another and notifies
// the receiver.
func (m *Matcher) Propose(ctx context.Context, fromHospitalID, toHospitalID string, bloodType model.BloodType, units int) (model.SwapRequest, error) {
	if fromHospitalID == toHospitalID {
		return model.SwapRequest{}, policy.Reject(policy.ReasonSelfSwap, "cannot swap with own hospital")
	}
	from, err := m.hospital(ctx, fromHospitalID)
	if err != nil {
		return model.SwapRequest{}, err
	}
	if _, err := m.hospital(ctx, toHospitalID); err != nil {
		return model.SwapRequest{}, err
	}

	s := model.SwapRequest{
		ID:             uuid.NewString(),
		FromHospitalID: fromHospitalID,
		ToHospitalID:   toHospitalID,
		BloodType:      bloodType,
		Units:          units,
		Status:         model.SwapPending,
		CreatedAt:      m.now().UTC(),
	}
	if err := s.Validate(); err != nil {
		return model.SwapRequest{}, policy.Reject(policy.ReasonInvalidInput, "%v", err)
	}
	if err := m.store.CreateSwap(ctx, s); err != nil {
		return model.SwapRequest{}, err
	}
	if err := m.sink.RecordSwap(model.SwapPending); err != nil {
		m.log.Debugf("record swap metric: %v", err)
	}

	m.emitter.Emit(events.Event{
		Kind:             events.KindSwapCreated,
		TargetHospitalID: toHospitalID,
		Payload: events.SwapCreated{
			SwapID:           s.ID,
			FromHospitalID:   fromHospitalID,
			FromHospitalName: from.Name,
			ToHospitalID:     toHospitalID,
			BloodType:        bloodType,
			Units:            units,
			Status:           s.Status,
		},
	})
	m.log.Infof("swap %s proposed: %d units of %s from %s to %s", s.ID, units, bloodType, fromHospitalID, toHospitalID)
	return s, nil
}

// Respond resolves a pending swap addressed to hospitalID. Only the receiving
// hospital may respond, and only once; a second response is rejected even if
// it matches the recorded outcome.
func (m *Matcher) Respond(ctx context.Context, swapID, hospitalID string, accept bool) (model.SwapRequest, error) {
	status := model.SwapDeclined
	if accept {
		status = model.SwapAccepted
	}
	applied, err := m.store.ResolveSwap(ctx, swapID, hospitalID, status)
	if err != nil {
		return model.SwapRequest{}, err
	}
	if !applied {
		return model.SwapRequest{}, policy.Reject(policy.ReasonAlreadyResolved, "swap has already been resolved")
	}
	s, err := m.store.Swap(ctx, swapID)
	if err != nil {
		return model.SwapRequest{}, err
	}
	if err := m.sink.RecordSwap(status); err != nil {
		m.log.Debugf("record swap metric: %v", err)
	}

	// Both sides learn the outcome: the proposer via its targeted channel,
	// everyone else via the broadcast copy.
	m.emitter.Emit(events.Event{
		Kind:             events.KindSwapUpdated,
		TargetHospitalID: s.FromHospitalID,
		Payload: events.SwapUpdated{
			SwapID:         s.ID,
			FromHospitalID: s.FromHospitalID,
			ToHospitalID:   s.ToHospitalID,
			Status:         s.Status,
		},
	})
	m.log.Infof("swap %s %s by %s", s.ID, status, hospitalID)
	return s, nil
}

// Incoming lists swaps addressed to the hospital, pending first.
func (m *Matcher) Incoming(ctx context.Context, hospitalID string) ([]model.SwapRequest, error) {
	swaps, err := m.store.SwapsIncoming(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	sortPendingFirst(swaps)
	return swaps, nil
}

// Outgoing lists swaps the hospital proposed, pending first.
func (m *Matcher) Outgoing(ctx context.Context, hospitalID string) ([]model.SwapRequest, error) {
	swaps, err := m.store.SwapsOutgoing(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	sortPendingFirst(swaps)
	return swaps, nil
}

func (m *Matcher) hospital(ctx context.Context, id string) (model.Entity, error) {
	e, err := m.store.Entity(ctx, id)
	if err != nil {
		return model.Entity{}, err
	}
	if e.Role != model.RoleHospital {
		return model.Entity{}, store.ErrNotFound
	}
	return e, nil
}

func sortPendingFirst(swaps []model.SwapRequest) {
	sort.SliceStable(swaps, func(i, j int) bool {
		pi, pj := swaps[i].Status == model.SwapPending, swaps[j].Status == model.SwapPending
		if pi != pj {
			return pi
		}
		return swaps[i].CreatedAt.After(swaps[j].CreatedAt)
	})
}

// Package memstore is the in-memory store backend. It backs unit tests and
// the dev profile; the sqlite backend is the production path. All mutations
// hold the store lock, giving the same serialization guarantees the engine
// requires from any backend.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/hemolink/core/geo"
	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/store"
)

// Store implements store.Store with locked maps.
type Store struct {
	mu       sync.RWMutex
	entities map[string]model.Entity
	requests map[string]model.Request
	pledges  map[string]model.Pledge
	swaps    map[string]model.SwapRequest
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		entities: make(map[string]model.Entity),
		requests: make(map[string]model.Request),
		pledges:  make(map[string]model.Pledge),
		swaps:    make(map[string]model.SwapRequest),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// --- EntityStore ---

func (s *Store) Entity(_ context.Context, id string) (model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return model.Entity{}, store.ErrNotFound
	}
	return e, nil
}

func (s *Store) PutEntity(_ context.Context, e model.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entities[e.ID] = e
	s.mu.Unlock()
	return nil
}

func (s *Store) NearbyEntities(_ context.Context, p model.GeoPoint, radiusKm float64, f store.EntityFilter) ([]store.NearbyEntity, error) {
	radiusKm = capRadius(radiusKm)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.NearbyEntity
	for _, e := range s.entities {
		if e.Location == nil {
			continue
		}
		if f.Role != "" && e.Role != f.Role {
			continue
		}
		if f.BloodType != "" && e.BloodType != f.BloodType {
			continue
		}
		if f.AvailableOnly && !e.AvailableNow {
			continue
		}
		d := geo.DistanceKm(p, *e.Location)
		if d > radiusKm {
			continue
		}
		out = append(out, store.NearbyEntity{Entity: e, DistanceKm: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (s *Store) Hospitals(_ context.Context) ([]model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Entity
	for _, e := range s.entities {
		if e.Role == model.RoleHospital {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetAvailability(_ context.Context, donorID string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[donorID]
	if !ok {
		return store.ErrNotFound
	}
	e.AvailableNow = available
	s.entities[donorID] = e
	return nil
}

func (s *Store) SetResponsiveness(_ context.Context, donorID string, scoreVal float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[donorID]
	if !ok {
		return store.ErrNotFound
	}
	e.ResponsivenessScore = scoreVal
	s.entities[donorID] = e
	return nil
}

func (s *Store) AwardCredits(_ context.Context, donorID string, points int, donatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[donorID]
	if !ok {
		return store.ErrNotFound
	}
	e.CreditPoints += points
	t := donatedAt
	e.LastDonationDate = &t
	s.entities[donorID] = e
	return nil
}

func (s *Store) RedeemCredits(_ context.Context, donorID string, cost int, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[donorID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if e.CreditPoints < cost {
		return e.CreditPoints, store.ErrConflict
	}
	e.CreditPoints -= cost
	t := at
	e.LastHealthCheckAt = &t
	s.entities[donorID] = e
	return e.CreditPoints, nil
}

// --- RequestStore ---

func (s *Store) CreateRequest(_ context.Context, r model.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return store.ErrConflict
	}
	s.requests[r.ID] = r
	return nil
}

func (s *Store) Request(_ context.Context, id string) (model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return model.Request{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) ActiveRequests(_ context.Context) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Request
	for _, r := range s.requests {
		if r.Status == model.RequestActive {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *Store) RequestsByHospital(_ context.Context, hospitalID string) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Request
	for _, r := range s.requests {
		if r.HospitalID == hospitalID {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *Store) NearbyRequests(_ context.Context, p model.GeoPoint, radiusKm float64) ([]store.NearbyRequest, error) {
	radiusKm = capRadius(radiusKm)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.NearbyRequest
	for _, r := range s.requests {
		if r.Status != model.RequestActive || r.Location == nil {
			continue
		}
		d := geo.DistanceKm(p, *r.Location)
		if d > radiusKm {
			continue
		}
		out = append(out, store.NearbyRequest{Request: r, Hospital: s.entities[r.HospitalID], DistanceKm: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (s *Store) FulfillRequest(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.Status != model.RequestActive {
		return false, nil
	}
	r.Status = model.RequestFulfilled
	s.requests[id] = r
	return true, nil
}

func (s *Store) CloseSimulated(_ context.Context, hospitalID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.requests {
		if r.HospitalID == hospitalID && r.Simulated && r.Status == model.RequestActive {
			r.Status = model.RequestClosed
			s.requests[id] = r
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ActiveRequestLocations(_ context.Context) ([]model.GeoPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.GeoPoint
	for _, r := range s.requests {
		if r.Status == model.RequestActive && r.Location != nil {
			out = append(out, *r.Location)
		}
	}
	return out, nil
}

func (s *Store) ActiveRequestCountByHospital(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, r := range s.requests {
		if r.Status == model.RequestActive {
			out[r.HospitalID]++
		}
	}
	return out, nil
}

// --- PledgeStore ---

func (s *Store) CreatePledge(_ context.Context, p model.Pledge) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.pledges {
		if existing.RequestID == p.RequestID && existing.DonorID == p.DonorID &&
			existing.Status != model.PledgeCancelled {
			return store.ErrConflict
		}
	}
	s.pledges[p.ID] = p
	return nil
}

func (s *Store) Pledge(_ context.Context, id string) (model.Pledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pledges[id]
	if !ok {
		return model.Pledge{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) PledgesByRequest(_ context.Context, requestID string, statuses ...model.PledgeStatus) ([]model.Pledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Pledge
	for _, p := range s.pledges {
		if p.RequestID != requestID {
			continue
		}
		if len(statuses) > 0 && !statusIn(p.Status, statuses) {
			continue
		}
		out = append(out, p)
	}
	sortPledges(out)
	return out, nil
}

func (s *Store) PledgesByDonor(_ context.Context, donorID string) ([]model.Pledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Pledge
	for _, p := range s.pledges {
		if p.DonorID == donorID {
			out = append(out, p)
		}
	}
	sortPledges(out)
	return out, nil
}

func (s *Store) FeedbackByRequest(_ context.Context, requestID string) ([]model.Pledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Pledge
	for _, p := range s.pledges {
		if p.RequestID == requestID && p.FeedbackRating > 0 {
			out = append(out, p)
		}
	}
	sortPledges(out)
	return out, nil
}

func (s *Store) CancelPledge(_ context.Context, requestID, donorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pledges {
		if p.RequestID == requestID && p.DonorID == donorID && p.Status == model.PledgePledged {
			p.Status = model.PledgeCancelled
			s.pledges[id] = p
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ArrivePledge(_ context.Context, requestID, code string, report model.WellnessReport, certificateID string, at time.Time) (model.Pledge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pledges {
		if p.RequestID != requestID || p.Code != code || p.Status == model.PledgeCancelled {
			continue
		}
		if p.Status == model.PledgeArrived {
			return p, false, nil
		}
		p.Status = model.PledgeArrived
		p.Report = report
		if p.Report.ReportAt == nil {
			t := at
			p.Report.ReportAt = &t
		}
		p.CertificateID = certificateID
		s.pledges[id] = p
		return p, true, nil
	}
	return model.Pledge{}, false, store.ErrNotFound
}

func (s *Store) SetFeedback(_ context.Context, pledgeID, donorID string, rating int, comment string, at time.Time) (model.Pledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pledges[pledgeID]
	if !ok || p.DonorID != donorID {
		return model.Pledge{}, store.ErrNotFound
	}
	if p.Status != model.PledgeArrived {
		return model.Pledge{}, store.ErrConflict
	}
	p.FeedbackRating = rating
	p.FeedbackComment = comment
	t := at
	p.FeedbackAt = &t
	s.pledges[pledgeID] = p
	return p, nil
}

func (s *Store) ActiveCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pledges {
		if p.Code == code && p.Status == model.PledgePledged {
			return true, nil
		}
	}
	return false, nil
}

// --- SwapStore ---

func (s *Store) CreateSwap(_ context.Context, sw model.SwapRequest) error {
	if err := sw.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.swaps[sw.ID]; ok {
		return store.ErrConflict
	}
	s.swaps[sw.ID] = sw
	return nil
}

func (s *Store) Swap(_ context.Context, id string) (model.SwapRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sw, ok := s.swaps[id]
	if !ok {
		return model.SwapRequest{}, store.ErrNotFound
	}
	return sw, nil
}

func (s *Store) SwapsIncoming(_ context.Context, hospitalID string) ([]model.SwapRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SwapRequest
	for _, sw := range s.swaps {
		if sw.ToHospitalID == hospitalID {
			out = append(out, sw)
		}
	}
	sortSwaps(out)
	return out, nil
}

func (s *Store) SwapsOutgoing(_ context.Context, hospitalID string) ([]model.SwapRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SwapRequest
	for _, sw := range s.swaps {
		if sw.FromHospitalID == hospitalID {
			out = append(out, sw)
		}
	}
	sortSwaps(out)
	return out, nil
}

func (s *Store) ResolveSwap(_ context.Context, id, hospitalID string, status model.SwapStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.swaps[id]
	if !ok || sw.ToHospitalID != hospitalID {
		return false, store.ErrNotFound
	}
	if sw.Status != model.SwapPending {
		return false, nil
	}
	sw.Status = status
	s.swaps[id] = sw
	return true, nil
}

// --- helpers ---

func capRadius(radiusKm float64) float64 {
	if radiusKm <= 0 || radiusKm > store.MaxRadiusKm {
		return store.MaxRadiusKm
	}
	return radiusKm
}

func statusIn(st model.PledgeStatus, in []model.PledgeStatus) bool {
	for _, s := range in {
		if st == s {
			return true
		}
	}
	return false
}

func sortRequests(rs []model.Request) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func sortPledges(ps []model.Pledge) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

func sortSwaps(ss []model.SwapRequest) {
	sort.Slice(ss, func(i, j int) bool {
		if !ss[i].CreatedAt.Equal(ss[j].CreatedAt) {
			return ss[i].CreatedAt.After(ss[j].CreatedAt)
		}
		return ss[i].ID < ss[j].ID
	})
}

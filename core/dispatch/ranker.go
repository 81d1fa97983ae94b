// Package dispatch ranks donors for requests and requests for donors, and
// owns request intake: creating a request is what triggers the dispatch
// decision of who gets notified.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/hemolink/core/compat"
	"github.com/kilianp07/hemolink/core/events"
	"github.com/kilianp07/hemolink/core/logger"
	"github.com/kilianp07/hemolink/core/metrics"
	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/score"
	"github.com/kilianp07/hemolink/core/store"
)

// Config defines ranking parameters.
type Config struct {
	// SearchRadiusKm is the default proximity radius for both ranking
	// directions.
	SearchRadiusKm float64 `json:"search_radius_km"`
	// RankLimit caps ranked result lists.
	RankLimit int `json:"rank_limit"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.SearchRadiusKm <= 0 {
		c.SearchRadiusKm = 50
	}
	if c.RankLimit <= 0 {
		c.RankLimit = 50
	}
}

// Ranker orchestrates the proximity index and the urgency scorer.
type Ranker struct {
	store   store.Store
	emitter events.Emitter
	cfg     Config
	log     logger.Logger
	sink    metrics.MetricsSink
	now     func() time.Time
}

// NewRanker creates a Ranker.
func NewRanker(st store.Store, emitter events.Emitter, cfg Config, log logger.Logger, sink metrics.MetricsSink) (*Ranker, error) {
	if st == nil || emitter == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewRanker")
	}
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Ranker{store: st, emitter: emitter, cfg: cfg, log: log, sink: sink, now: time.Now}, nil
}

// CreateRequest persists a new blood request for the hospital and emits the
// request.created event carrying the donors selected for notification.
// A hospital without a registered location still gets its request created;
// the location stays unknown and no proximity-based recipients are attached.
func (r *Ranker) CreateRequest(ctx context.Context, hospitalID string, bloodType model.BloodType, urgencyLevel, unitsNeeded int, notes string) (model.Request, error) {
	hospital, err := r.store.Entity(ctx, hospitalID)
	if err != nil {
		return model.Request{}, err
	}
	if hospital.Role != model.RoleHospital {
		return model.Request{}, store.ErrNotFound
	}

	req := model.Request{
		ID:           uuid.NewString(),
		HospitalID:   hospitalID,
		BloodType:    bloodType,
		Status:       model.RequestActive,
		Location:     hospital.Location,
		UrgencyLevel: urgencyLevel,
		UnitsNeeded:  unitsNeeded,
		Notes:        notes,
		CreatedAt:    r.now().UTC(),
	}
	if err := req.Validate(); err != nil {
		return model.Request{}, err
	}
	if err := r.store.CreateRequest(ctx, req); err != nil {
		return model.Request{}, err
	}
	if err := r.sink.RecordRequestCreated(req.BloodType, req.UrgencyLevel); err != nil {
		r.log.Warnf("record request metric: %v", err)
	}

	recipients := r.notificationTargets(ctx, req)
	r.log.Infof("request %s created for %s, notifying %d donors", req.ID, req.BloodType, len(recipients))
	r.emitter.Emit(events.Event{
		Kind:    events.KindRequestCreated,
		Payload: events.RequestCreated{Request: req, HospitalName: hospital.Name, Recipients: recipients},
	})
	return req, nil
}

// notificationTargets selects the donors to alert for a request: strict
// same-type matches within the search radius, closest first, capped at the
// rank limit. Delivery itself is the notifier gateway's concern.
func (r *Ranker) notificationTargets(ctx context.Context, req model.Request) []events.Recipient {
	if req.Location == nil {
		return nil
	}
	nearby, err := r.store.NearbyEntities(ctx, *req.Location, r.cfg.SearchRadiusKm, store.EntityFilter{
		Role:      model.RoleDonor,
		BloodType: req.BloodType,
	})
	if err != nil {
		r.log.Errorf("notification targets for %s: %v", req.ID, err)
		return nil
	}
	if len(nearby) > r.cfg.RankLimit {
		nearby = nearby[:r.cfg.RankLimit]
	}
	out := make([]events.Recipient, 0, len(nearby))
	for _, n := range nearby {
		out = append(out, events.Recipient{
			DonorID:    n.Entity.ID,
			Name:       n.Entity.Name,
			Email:      n.Entity.Email,
			Phone:      n.Entity.Phone,
			BloodType:  n.Entity.BloodType,
			DistanceKm: n.DistanceKm,
		})
	}
	return out
}

// DonorCandidate is one ranked donor. Safe subset only; no credentials or
// contact fields.
type DonorCandidate struct {
	DonorID        string          `json:"donor_id"`
	Name           string          `json:"name"`
	BloodType      model.BloodType `json:"blood_type"`
	DistanceKm     float64         `json:"distance_km"`
	Responsiveness float64         `json:"responsiveness"`
	UrgencyScore   int             `json:"urgency_score"`
	Location       *model.GeoPoint `json:"location,omitempty"`
}

// DonorRanking is the hospital-side ranked list. DistanceKnown is false when
// the request has no location: the candidate list is then empty rather than
// ranked against a fabricated point.
type DonorRanking struct {
	RequestID     string           `json:"request_id"`
	DistanceKnown bool             `json:"distance_known"`
	Candidates    []DonorCandidate `json:"candidates"`
}

// RankDonorsForRequest finds ABO-compatible donors within the search radius
// and orders them by urgency score, best first. The request must belong to
// hospitalID; foreign requests surface as not found.
func (r *Ranker) RankDonorsForRequest(ctx context.Context, requestID, hospitalID string) (DonorRanking, error) {
	start := r.now()
	req, err := r.store.Request(ctx, requestID)
	if err != nil {
		return DonorRanking{}, err
	}
	if req.HospitalID != hospitalID {
		return DonorRanking{}, store.ErrNotFound
	}
	ranking := DonorRanking{RequestID: requestID, Candidates: []DonorCandidate{}}
	if req.Location == nil {
		r.log.Warnf("request %s has no location, returning empty donor ranking", requestID)
		return ranking, nil
	}
	ranking.DistanceKnown = true

	nearby, err := r.store.NearbyEntities(ctx, *req.Location, r.cfg.SearchRadiusKm, store.EntityFilter{Role: model.RoleDonor})
	if err != nil {
		return DonorRanking{}, err
	}
	for _, n := range nearby {
		// Ranking uses the full ABO matrix, deliberately broader than the
		// strict pledge gate.
		if compat.Compatibility(n.Entity.BloodType, req.BloodType) == compat.TierNone {
			continue
		}
		ranking.Candidates = append(ranking.Candidates, DonorCandidate{
			DonorID:        n.Entity.ID,
			Name:           n.Entity.Name,
			BloodType:      n.Entity.BloodType,
			DistanceKm:     n.DistanceKm,
			Responsiveness: score.Responsiveness(n.Entity),
			UrgencyScore:   score.Urgency(n.Entity, req, n.DistanceKm),
			Location:       n.Entity.Location,
		})
	}
	sort.SliceStable(ranking.Candidates, func(i, j int) bool {
		return ranking.Candidates[i].UrgencyScore > ranking.Candidates[j].UrgencyScore
	})
	if len(ranking.Candidates) > r.cfg.RankLimit {
		ranking.Candidates = ranking.Candidates[:r.cfg.RankLimit]
	}
	if err := r.sink.RecordRankingLatency("rank_donors", r.now().Sub(start)); err != nil {
		r.log.Debugf("record ranking latency: %v", err)
	}
	return ranking, nil
}

// RequestCandidate is one ranked request on the donor side.
type RequestCandidate struct {
	Request             model.Request `json:"request"`
	HospitalName        string        `json:"hospital_name"`
	DistanceKm          float64       `json:"distance_km"`
	DistanceKnown       bool          `json:"distance_known"`
	CompatibilityWeight int           `json:"compatibility_weight"`
	ExactMatch          bool          `json:"exact_match"`
	UrgencyScore        int           `json:"urgency_score"`
}

// RequestOptions filter the donor-side ranking.
type RequestOptions struct {
	// OnlyCompatible drops requests the donor cannot serve at all.
	OnlyCompatible bool
	// MaxDistanceKm overrides the default search radius when positive. It is
	// still capped by the store's hard radius bound.
	MaxDistanceKm float64
}

// RankRequestsForDonor returns active requests near the donor, annotated with
// compatibility weight and urgency score, sorted by compatibility weight then
// urgency score, both descending. A donor without a location degrades to the
// full active set with DistanceKnown=false so callers cannot mistake zero
// distance for co-location.
func (r *Ranker) RankRequestsForDonor(ctx context.Context, donorID string, opts RequestOptions) ([]RequestCandidate, error) {
	start := r.now()
	donor, err := r.store.Entity(ctx, donorID)
	if err != nil {
		return nil, err
	}
	if donor.Role != model.RoleDonor {
		return nil, store.ErrNotFound
	}

	var out []RequestCandidate
	if donor.Location == nil {
		out, err = r.rankWithoutLocation(ctx, donor)
	} else {
		out, err = r.rankNearby(ctx, donor, opts)
	}
	if err != nil {
		return nil, err
	}
	if opts.OnlyCompatible {
		filtered := out[:0]
		for _, c := range out {
			if c.CompatibilityWeight > 0 {
				filtered = append(filtered, c)
			}
		}
		out = filtered
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CompatibilityWeight != out[j].CompatibilityWeight {
			return out[i].CompatibilityWeight > out[j].CompatibilityWeight
		}
		return out[i].UrgencyScore > out[j].UrgencyScore
	})
	if err := r.sink.RecordRankingLatency("rank_requests", r.now().Sub(start)); err != nil {
		r.log.Debugf("record ranking latency: %v", err)
	}
	return out, nil
}

func (r *Ranker) rankNearby(ctx context.Context, donor model.Entity, opts RequestOptions) ([]RequestCandidate, error) {
	radius := r.cfg.SearchRadiusKm
	if opts.MaxDistanceKm > 0 {
		radius = opts.MaxDistanceKm
	}
	nearby, err := r.store.NearbyRequests(ctx, *donor.Location, radius)
	if err != nil {
		return nil, err
	}
	out := make([]RequestCandidate, 0, len(nearby))
	for _, n := range nearby {
		tier := compat.Compatibility(donor.BloodType, n.Request.BloodType)
		out = append(out, RequestCandidate{
			Request:             n.Request,
			HospitalName:        n.Hospital.Name,
			DistanceKm:          n.DistanceKm,
			DistanceKnown:       true,
			CompatibilityWeight: tier.Weight(),
			ExactMatch:          tier == compat.TierExactMatch,
			UrgencyScore:        score.Urgency(donor, n.Request, n.DistanceKm),
		})
	}
	return out, nil
}

// rankWithoutLocation is the degraded mode: every active request, no distance
// ranking. Urgency falls back to request severity alone.
func (r *Ranker) rankWithoutLocation(ctx context.Context, donor model.Entity) ([]RequestCandidate, error) {
	reqs, err := r.store.ActiveRequests(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RequestCandidate, 0, len(reqs))
	for _, req := range reqs {
		hospital, err := r.store.Entity(ctx, req.HospitalID)
		if err != nil {
			r.log.Warnf("hospital %s for request %s: %v", req.HospitalID, req.ID, err)
		}
		tier := compat.Compatibility(donor.BloodType, req.BloodType)
		out = append(out, RequestCandidate{
			Request:             req,
			HospitalName:        hospital.Name,
			DistanceKnown:       false,
			CompatibilityWeight: tier.Weight(),
			ExactMatch:          tier == compat.TierExactMatch,
			UrgencyScore:        req.UrgencyLevel * 20,
		})
	}
	return out, nil
}

// Hotspot is one cell of the request density grid.
type Hotspot struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Count int     `json:"count"`
}

// Hotspots aggregates active request locations on a two-decimal grid
// (roughly one kilometre) for heatmap rendering.
func (r *Ranker) Hotspots(ctx context.Context) ([]Hotspot, error) {
	points, err := r.store.ActiveRequestLocations(ctx)
	if err != nil {
		return nil, err
	}
	type cell struct{ lat, lng float64 }
	counts := make(map[cell]int, len(points))
	for _, p := range points {
		counts[cell{roundTo2(p.Lat), roundTo2(p.Lng)}]++
	}
	out := make([]Hotspot, 0, len(counts))
	for c, n := range counts {
		out = append(out, Hotspot{Lat: c.lat, Lng: c.lng, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Lat != out[j].Lat {
			return out[i].Lat < out[j].Lat
		}
		return out[i].Lng < out[j].Lng
	})
	return out, nil
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+copysignHalf(v))) / 100
}

func copysignHalf(v float64) float64 {
	if v < 0 {
		return -0.5
	}
	return 0.5
}

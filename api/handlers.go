package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/hemolink/core/dispatch"
	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/policy"
	"github.com/kilianp07/hemolink/core/simulate"
	"github.com/kilianp07/hemolink/core/store"
)

type createRequestBody struct {
	BloodType    string `json:"blood_type"`
	UrgencyLevel int    `json:"urgency_level"`
	UnitsNeeded  int    `json:"units_needed"`
	Notes        string `json:"notes"`
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decode(r, &body); err != nil {
		h.writeError(w, policy.Reject(policy.ReasonInvalidInput, "malformed request body"))
		return
	}
	req, err := h.ranker.CreateRequest(r.Context(), actor(r), model.BloodType(body.BloodType), body.UrgencyLevel, body.UnitsNeeded, body.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) activeRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.store.ActiveRequests(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []model.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *Handler) myRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.store.RequestsByHospital(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []model.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *Handler) rankDonors(w http.ResponseWriter, r *http.Request) {
	ranking, err := h.ranker.RankDonorsForRequest(r.Context(), chi.URLParam(r, "requestID"), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

func (h *Handler) rankRequests(w http.ResponseWriter, r *http.Request) {
	opts := dispatch.RequestOptions{}
	q := r.URL.Query()
	if v := q.Get("only_compatible"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, policy.Reject(policy.ReasonInvalidInput, "only_compatible must be a boolean"))
			return
		}
		opts.OnlyCompatible = b
	}
	if v := q.Get("max_distance_km"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			h.writeError(w, policy.Reject(policy.ReasonInvalidInput, "max_distance_km must be a positive number"))
			return
		}
		opts.MaxDistanceKm = f
	}
	cands, err := h.ranker.RankRequestsForDonor(r.Context(), actor(r), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if cands == nil {
		cands = []dispatch.RequestCandidate{}
	}
	writeJSON(w, http.StatusOK, cands)
}

func (h *Handler) hotspots(w http.ResponseWriter, r *http.Request) {
	spots, err := h.ranker.Hotspots(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if spots == nil {
		spots = []dispatch.Hotspot{}
	}
	writeJSON(w, http.StatusOK, spots)
}

// pledgeView attaches the donor identity a hospital dashboard needs next to
// each pledge row.
type pledgeView struct {
	model.Pledge
	DonorName      string          `json:"donor_name"`
	DonorBloodType model.BloodType `json:"donor_blood_type"`
}

func (h *Handler) requestPledges(w http.ResponseWriter, r *http.Request) {
	req, err := h.store.Request(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.HospitalID != actor(r) {
		h.writeError(w, store.ErrNotFound)
		return
	}
	pledges, err := h.store.PledgesByRequest(r.Context(), req.ID, model.PledgePledged, model.PledgeArrived)
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]pledgeView, 0, len(pledges))
	for _, p := range pledges {
		v := pledgeView{Pledge: p}
		if donor, err := h.store.Entity(r.Context(), p.DonorID); err == nil {
			v.DonorName = donor.Name
			v.DonorBloodType = donor.BloodType
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) requestFeedback(w http.ResponseWriter, r *http.Request) {
	req, err := h.store.Request(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.HospitalID != actor(r) {
		h.writeError(w, store.ErrNotFound)
		return
	}
	pledges, err := h.store.FeedbackByRequest(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if pledges == nil {
		pledges = []model.Pledge{}
	}
	writeJSON(w, http.StatusOK, pledges)
}

type createPledgeBody struct {
	ETAMinutes          int `json:"eta_minutes"`
	AvailableForMinutes int `json:"available_for_minutes"`
}

func (h *Handler) createPledge(w http.ResponseWriter, r *http.Request) {
	var body createPledgeBody
	if err := decode(r, &body); err != nil {
		h.writeError(w, policy.Reject(policy.ReasonInvalidInput, "malformed request body"))
		return
	}
	detail, err := h.pledges.Create(r.Context(), chi.URLParam(r, "requestID"), actor(r), body.ETAMinutes, body.AvailableForMinutes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (h *Handler) cancelPledge(w http.ResponseWriter, r *http.Request) {
	if err := h.pledges.Cancel(r.Context(), chi.URLParam(r, "requestID"), actor(r)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

type verifyBody struct {
	Code   string               `json:"code"`
	Report model.WellnessReport `json:"report"`
}

func (h *Handler) verifyArrival(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := decode(r, &body); err != nil {
		h.writeError(w, policy.Reject(policy.ReasonInvalidInput, "malformed request body"))
		return
	}
	cert, err := h.pledges.VerifyArrival(r.Context(), chi.URLParam(r, "requestID"), actor(r), body.Code, body.Report)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"certificate_id": cert})
}

func (h *Handler) fulfillRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.store.Request(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.HospitalID != actor(r) {
		h.writeError(w, store.ErrNotFound)
		return
	}
	applied, err := h.store.FulfillRequest(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !applied {
		h.writeError(w, policy.Reject(policy.ReasonRequestNotActive, "request %s is no longer active", req.ID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"fulfilled": true})
}

func (h *Handler) myPledges(w http.ResponseWriter, r *http.Request) {
	pledges, err := h.store.PledgesByDonor(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if pledges == nil {
		pledges = []model.Pledge{}
	}
	writeJSON(w, http.StatusOK, pledges)
}

type feedbackBody struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *Handler) pledgeFeedback(w http.ResponseWriter, r *http.Request) {
	var body feedbackBody
	if err := decode(r, &body); err != nil {
		h.writeError(w, policy.Reject(policy.ReasonInvalidInput, "malformed request body"))
		return
	}
	if err := h.pledges.Feedback(r.Context(), chi.URLParam(r, "pledgeID"), actor(r), body.Rating, body.Comment); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

type availabilityBody struct {
	Available bool `json:"available"`
}

func (h *Handler) setAvailability(w http.ResponseWriter, r *http.Request) {
	var body availabilityBody
	if err := decode(r, &body); err != nil {
		h.writeError(w, policy.Reject(policy.ReasonInvalidInput, "malformed request body"))
		return
	}
	if err := h.store.SetAvailability(r.Context(), actor(r), body.Available); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": body.Available})
}

func (h *Handler) redeemCredits(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.Redeem(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"credit_points": balance})
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	readiness, err := h.ledger.Readiness(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readiness)
}

func (h *Handler) marketListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.swaps.Listings(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

type proposeSwapBody struct {
	ToHospitalID string `json:"to_hospital_id"`
	BloodType    string `json:"blood_type"`
	Units        int    `json:"units"`
}

func (h *Handler) proposeSwap(w http.ResponseWriter, r *http.Request) {
	var body proposeSwapBody
	if err := decode(r, &body); err != nil {
		h.writeError(w, policy.Reject(policy.ReasonInvalidInput, "malformed request body"))
		return
	}
	sw, err := h.swaps.Propose(r.Context(), actor(r), body.ToHospitalID, model.BloodType(body.BloodType), body.Units)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sw)
}

type respondSwapBody struct {
	Accept bool `json:"accept"`
}

func (h *Handler) respondSwap(w http.ResponseWriter, r *http.Request) {
	var body respondSwapBody
	if err := decode(r, &body); err != nil {
		h.writeError(w, policy.Reject(policy.ReasonInvalidInput, "malformed request body"))
		return
	}
	sw, err := h.swaps.Respond(r.Context(), chi.URLParam(r, "swapID"), actor(r), body.Accept)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sw)
}

func (h *Handler) incomingSwaps(w http.ResponseWriter, r *http.Request) {
	swaps, err := h.swaps.Incoming(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if swaps == nil {
		swaps = []model.SwapRequest{}
	}
	writeJSON(w, http.StatusOK, swaps)
}

func (h *Handler) outgoingSwaps(w http.ResponseWriter, r *http.Request) {
	swaps, err := h.swaps.Outgoing(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if swaps == nil {
		swaps = []model.SwapRequest{}
	}
	writeJSON(w, http.StatusOK, swaps)
}

type simulateBody struct {
	Count    int     `json:"count"`
	RadiusKm float64 `json:"radius_km"`
	Mix      string  `json:"mix"`
}

func (h *Handler) simulateBatch(w http.ResponseWriter, r *http.Request) {
	var body simulateBody
	// the body is optional, defaults apply when it is absent
	if err := decode(r, &body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, policy.Reject(policy.ReasonInvalidInput, "malformed request body"))
		return
	}
	reqs, err := h.simulator.Run(r.Context(), actor(r), simulate.Options{
		Count:    body.Count,
		RadiusKm: body.RadiusKm,
		Mix:      simulate.Mix(body.Mix),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reqs)
}

func (h *Handler) simulateClear(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.simulator.Clear(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// Package api is the HTTP surface of the engine. Identity is taken from the
// X-Actor-ID header; the deployment terminates authentication upstream and
// forwards the verified subject. Handlers still enforce ownership and role,
// so a forged header only reaches the actor's own resources.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kilianp07/hemolink/core/dispatch"
	"github.com/kilianp07/hemolink/core/ledger"
	"github.com/kilianp07/hemolink/core/logger"
	"github.com/kilianp07/hemolink/core/pledge"
	"github.com/kilianp07/hemolink/core/policy"
	"github.com/kilianp07/hemolink/core/simulate"
	"github.com/kilianp07/hemolink/core/store"
	"github.com/kilianp07/hemolink/core/swap"
)

// actorHeader carries the authenticated subject id.
const actorHeader = "X-Actor-ID"

// Handler holds the engine components the routes dispatch into.
type Handler struct {
	store     store.Store
	ranker    *dispatch.Ranker
	pledges   *pledge.Manager
	ledger    *ledger.Ledger
	swaps     *swap.Matcher
	simulator *simulate.Simulator
	log       logger.Logger
}

// New creates a Handler.
func New(st store.Store, ranker *dispatch.Ranker, pledges *pledge.Manager, led *ledger.Ledger, swaps *swap.Matcher, simulator *simulate.Simulator, log logger.Logger) *Handler {
	return &Handler{
		store:     st,
		ranker:    ranker,
		pledges:   pledges,
		ledger:    led,
		swaps:     swaps,
		simulator: simulator,
		log:       log,
	}
}

// Router builds the chi router with all engine routes mounted under /api.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireActor)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.createRequest)
			r.Get("/active", h.activeRequests)
			r.Get("/mine", h.myRequests)
			r.Get("/nearby", h.rankRequests)
			r.Get("/hotspots", h.hotspots)
			r.Post("/simulate", h.simulateBatch)
			r.Post("/simulate/clear", h.simulateClear)

			r.Route("/{requestID}", func(r chi.Router) {
				r.Get("/donors", h.rankDonors)
				r.Get("/pledges", h.requestPledges)
				r.Get("/feedback", h.requestFeedback)
				r.Post("/pledges", h.createPledge)
				r.Delete("/pledges", h.cancelPledge)
				r.Post("/verify", h.verifyArrival)
				r.Post("/fulfill", h.fulfillRequest)
			})
		})

		r.Route("/pledges", func(r chi.Router) {
			r.Get("/mine", h.myPledges)
			r.Post("/{pledgeID}/feedback", h.pledgeFeedback)
		})

		r.Route("/donors", func(r chi.Router) {
			r.Post("/availability", h.setAvailability)
			r.Post("/redeem", h.redeemCredits)
			r.Get("/readiness", h.readiness)
		})

		r.Get("/market/listings", h.marketListings)

		r.Route("/swaps", func(r chi.Router) {
			r.Post("/", h.proposeSwap)
			r.Post("/{swapID}/respond", h.respondSwap)
			r.Get("/incoming", h.incomingSwaps)
			r.Get("/outgoing", h.outgoingSwaps)
		})
	})
	return r
}

func (h *Handler) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(actorHeader) == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Reason: "unauthenticated", Message: "missing " + actorHeader + " header"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actor(r *http.Request) string { return r.Header.Get(actorHeader) }

type errorBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// writeError maps engine errors onto HTTP statuses. Rejections keep their
// machine reason; unknown errors collapse to a generic 500 so internals never
// leak to clients.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if rej, ok := policy.As(err); ok {
		writeJSON(w, rejectionStatus(rej.Reason), errorBody{Reason: rej.Reason, Message: rej.Message})
		return
	}
	switch err {
	case store.ErrNotFound:
		writeJSON(w, http.StatusNotFound, errorBody{Reason: "not-found", Message: "resource not found"})
	case store.ErrConflict:
		writeJSON(w, http.StatusConflict, errorBody{Reason: "conflict", Message: "conflicting update"})
	default:
		h.log.Errorf("request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Reason: "internal", Message: "internal error"})
	}
}

func rejectionStatus(reason string) int {
	switch reason {
	case policy.ReasonInvalidInput, policy.ReasonInvalidCode:
		return http.StatusBadRequest
	case policy.ReasonTooManyAttempts:
		return http.StatusTooManyRequests
	default:
		return http.StatusConflict
	}
}

// Package pledge implements the pledge lifecycle state machine: creation,
// cancellation, arrival verification and feedback, per (request, donor) pair.
package pledge

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/hemolink/core/compat"
	"github.com/kilianp07/hemolink/core/events"
	"github.com/kilianp07/hemolink/core/geo"
	"github.com/kilianp07/hemolink/core/ledger"
	"github.com/kilianp07/hemolink/core/logger"
	"github.com/kilianp07/hemolink/core/metrics"
	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/policy"
	"github.com/kilianp07/hemolink/core/store"
)

// Config defines lifecycle parameters.
type Config struct {
	// VerifyAttemptsPerMinute throttles failed arrival verifications per
	// request. Negative disables the throttle; zero selects the default.
	VerifyAttemptsPerMinute int `json:"verify_attempts_per_minute"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.VerifyAttemptsPerMinute == 0 {
		c.VerifyAttemptsPerMinute = 5
	}
}

// Responsiveness EMA parameters: a pledge is a positive responsiveness
// observation worth 0.7, blended at 30%.
const (
	emaKeep        = 0.7
	emaBlend       = 0.3
	emaObservation = 0.7
)

// Manager drives pledge state transitions.
type Manager struct {
	store   store.Store
	ledger  *ledger.Ledger
	emitter events.Emitter
	cfg     Config
	log     logger.Logger
	sink    metrics.MetricsSink

	now      func() time.Time
	randCode func() string
	throttle *attemptThrottle
}

// NewManager creates a Manager.
func NewManager(st store.Store, led *ledger.Ledger, emitter events.Emitter, cfg Config, log logger.Logger, sink metrics.MetricsSink) (*Manager, error) {
	if st == nil || led == nil || emitter == nil || log == nil {
		return nil, fmt.Errorf("pledge: nil parameter provided to NewManager")
	}
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	m := &Manager{
		store:   st,
		ledger:  led,
		emitter: emitter,
		cfg:     cfg,
		log:     log,
		sink:    sink,
		now:     time.Now,
	}
	m.randCode = randomCode
	m.throttle = newAttemptThrottle(cfg.VerifyAttemptsPerMinute, time.Minute, m.nowFn)
	return m, nil
}

func (m *Manager) nowFn() time.Time { return m.now() }

// randomCode draws a 6-digit numeric arrival code.
func randomCode() string {
	return fmt.Sprintf("%06d", 100000+rand.Intn(900000))
}

// Detail is a pledge with the denormalized summaries callers render.
type Detail struct {
	Pledge       model.Pledge `json:"pledge"`
	DonorName    string       `json:"donor_name"`
	HospitalName string       `json:"hospital_name"`
	// DistanceKm is nil when either side lacks a location.
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// Create registers a donor's commitment to a request.
//
// Preconditions, each with its own rejection reason so UIs can message them:
// the request is active, the donor's blood type strictly equals the request's
// (ranking compatibility is intentionally broader), the donation cooldown has
// elapsed, and no non-cancelled pledge exists for the pair. The uniqueness
// check is the store's constraint, not an application read: concurrent
// creates resolve there.
func (m *Manager) Create(ctx context.Context, requestID, donorID string, etaMinutes, availableForMinutes int) (Detail, error) {
	req, err := m.store.Request(ctx, requestID)
	if err != nil {
		return Detail{}, err
	}
	if req.Status != model.RequestActive {
		return Detail{}, m.reject(policy.ReasonRequestNotActive, "request is no longer active")
	}
	donor, err := m.store.Entity(ctx, donorID)
	if err != nil {
		return Detail{}, err
	}
	if donor.Role != model.RoleDonor {
		return Detail{}, store.ErrNotFound
	}
	if !compat.CanPledge(donor.BloodType, req.BloodType) {
		return Detail{}, m.reject(policy.ReasonIneligibleByType,
			"only same blood group allowed: your %s cannot donate to %s", donor.BloodType, req.BloodType)
	}
	if ok, next := ledger.Eligible(donor.LastDonationDate, m.now().UTC(), m.ledger.Cooldown()); !ok {
		return Detail{}, m.reject(policy.ReasonCooldownActive,
			"not eligible until %s", next.UTC().Format("2006-01-02"))
	}

	code, err := m.issueCode(ctx)
	if err != nil {
		return Detail{}, err
	}
	p := model.Pledge{
		ID:                  uuid.NewString(),
		RequestID:           requestID,
		DonorID:             donorID,
		EtaMinutes:          etaMinutes,
		AvailableForMinutes: availableForMinutes,
		Status:              model.PledgePledged,
		Code:                code,
		CreatedAt:           m.now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return Detail{}, policy.Reject(policy.ReasonInvalidInput, "%v", err)
	}
	if err := m.store.CreatePledge(ctx, p); err != nil {
		if err == store.ErrConflict {
			return Detail{}, m.reject(policy.ReasonAlreadyPledged, "you already pledged to this request")
		}
		return Detail{}, err
	}

	// Positive reinforcement: pledging is a responsiveness observation.
	// Best effort; the pledge itself is already durable.
	updated := clamp01(emaKeep*scoreOf(donor) + emaBlend*emaObservation)
	if err := m.store.SetResponsiveness(ctx, donorID, updated); err != nil {
		m.log.Warnf("responsiveness update for %s: %v", donorID, err)
	}

	hospital, err := m.store.Entity(ctx, req.HospitalID)
	if err != nil {
		m.log.Warnf("hospital %s lookup: %v", req.HospitalID, err)
	}
	detail := Detail{Pledge: p, DonorName: donor.Name, HospitalName: hospital.Name}
	if donor.Location != nil && req.Location != nil {
		d := geo.DistanceKm(*donor.Location, *req.Location)
		detail.DistanceKm = &d
	}

	if err := m.sink.RecordPledge(metrics.PledgeCreated, ""); err != nil {
		m.log.Debugf("record pledge metric: %v", err)
	}
	m.emitter.Emit(events.Event{
		Kind:             events.KindPledgeCreated,
		TargetHospitalID: req.HospitalID,
		Payload: events.PledgeCreated{
			RequestID:    requestID,
			Pledge:       p,
			DonorName:    donor.Name,
			HospitalName: hospital.Name,
			BloodType:    req.BloodType,
			DistanceKm:   detail.DistanceKm,
		},
	})
	m.log.Infof("donor %s pledged to request %s (eta %dm)", donorID, requestID, etaMinutes)
	return detail, nil
}

// issueCode draws codes until one is unused among active pledges. The code
// namespace only needs uniqueness at issuance time within non-terminal
// pledges; verification matches on (request, code) jointly anyway.
func (m *Manager) issueCode(ctx context.Context) (string, error) {
	for i := 0; i < 10; i++ {
		code := m.randCode()
		exists, err := m.store.ActiveCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("pledge: could not issue a unique arrival code")
}

// Cancel moves the donor's pledge from pledged to cancelled. Cancelling a
// pledge that already arrived or was already cancelled is a no-op; the
// stored state is never corrupted by a late cancel.
func (m *Manager) Cancel(ctx context.Context, requestID, donorID string) error {
	changed, err := m.store.CancelPledge(ctx, requestID, donorID)
	if err != nil {
		return err
	}
	if !changed {
		m.log.Debugf("cancel pledge request=%s donor=%s: nothing to cancel", requestID, donorID)
	}
	return nil
}

// VerifyArrival confirms the donor's presence via the 6-digit code, scoped to
// the hospital owning the request. On first success it transitions the pledge
// to arrived, stamps the wellness report, mints a certificate, fulfils the
// request if still active and awards credits. Re-verification with the same
// code is a no-op returning the same certificate and awarding nothing.
//
// Invalid codes are rejected generically: the error never reveals whether the
// request id or the code was wrong.
func (m *Manager) VerifyArrival(ctx context.Context, requestID, hospitalID, code string, report model.WellnessReport) (string, error) {
	req, err := m.store.Request(ctx, requestID)
	if err != nil {
		return "", err
	}
	if req.HospitalID != hospitalID {
		return "", store.ErrNotFound
	}
	if err := report.Validate(); err != nil {
		return "", policy.Reject(policy.ReasonInvalidInput, "%v", err)
	}
	if !m.throttle.allow(requestID) {
		return "", policy.Reject(policy.ReasonTooManyAttempts, "too many verification attempts, retry later")
	}

	now := m.now().UTC()
	cert := newCertificateID()
	p, applied, err := m.store.ArrivePledge(ctx, requestID, code, report, cert, now)
	if err != nil {
		if err == store.ErrNotFound {
			m.throttle.fail(requestID)
			return "", policy.Reject(policy.ReasonInvalidCode, "invalid code")
		}
		return "", err
	}
	if !applied {
		// Idempotent re-verification: same certificate, no second award.
		return p.CertificateID, nil
	}

	if _, err := m.store.FulfillRequest(ctx, requestID); err != nil {
		m.log.Errorf("fulfill request %s: %v", requestID, err)
	}
	if err := m.ledger.Award(ctx, p.DonorID, now); err != nil {
		m.log.Errorf("credit award for donor %s: %v", p.DonorID, err)
	}
	if err := m.sink.RecordArrival(req.BloodType); err != nil {
		m.log.Debugf("record arrival metric: %v", err)
	}

	m.emitter.Emit(events.Event{
		Kind:             events.KindPledgeArrived,
		TargetHospitalID: hospitalID,
		Payload: events.PledgeArrived{
			RequestID:     requestID,
			PledgeID:      p.ID,
			DonorID:       p.DonorID,
			CertificateID: p.CertificateID,
		},
	})
	m.emitter.Emit(events.Event{
		Kind:    events.KindDonorCodeCleared,
		Payload: events.DonorCodeCleared{DonorID: p.DonorID},
	})
	m.log.Infof("arrival verified for request %s, certificate %s", requestID, p.CertificateID)
	return p.CertificateID, nil
}

// Feedback attaches a rating and optional comment to the donor's pledge.
// Requires the pledge to have arrived; later calls update the stored values.
func (m *Manager) Feedback(ctx context.Context, pledgeID, donorID string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return policy.Reject(policy.ReasonInvalidInput, "rating must be between 1 and 5")
	}
	_, err := m.store.SetFeedback(ctx, pledgeID, donorID, rating, strings.TrimSpace(comment), m.now().UTC())
	if err == store.ErrConflict {
		return policy.Reject(policy.ReasonNotArrived, "feedback is only accepted after arrival")
	}
	return err
}

func (m *Manager) reject(reason, format string, args ...any) error {
	if err := m.sink.RecordPledge(metrics.PledgeRejected, reason); err != nil {
		m.log.Debugf("record pledge metric: %v", err)
	}
	return policy.Reject(reason, format, args...)
}

func newCertificateID() string {
	return "CERT-" + strings.ToUpper(uuid.NewString()[:8])
}

func scoreOf(donor model.Entity) float64 {
	if donor.ResponsivenessScore <= 0 {
		return 0.5
	}
	return donor.ResponsivenessScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

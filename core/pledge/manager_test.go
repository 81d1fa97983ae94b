package pledge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/hemolink/core/events"
	"github.com/kilianp07/hemolink/core/ledger"
	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/policy"
	"github.com/kilianp07/hemolink/core/store"
	"github.com/kilianp07/hemolink/infra/logger"
	"github.com/kilianp07/hemolink/internal/memstore"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEmitter) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	m       *Manager
	st      *memstore.Store
	emitter *recordingEmitter
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	led, err := ledger.New(st, ledger.Config{}, logger.NopLogger{})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	emitter := &recordingEmitter{}
	m, err := NewManager(st, led, emitter, Config{}, logger.NopLogger{}, nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	f := &fixture{m: m, st: st, emitter: emitter, now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	m.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seed(t *testing.T, donorType, requestType model.BloodType) (donorID, requestID string) {
	t.Helper()
	ctx := context.Background()
	loc := model.GeoPoint{Lat: 10.67, Lng: 78.59}
	hospLoc := model.GeoPoint{Lat: 10.68, Lng: 78.59}
	if err := f.st.PutEntity(ctx, model.Entity{
		ID: "hosp-1", Name: "City Hospital", Role: model.RoleHospital,
		BloodType: model.OPos, Location: &hospLoc,
	}); err != nil {
		t.Fatalf("put hospital: %v", err)
	}
	if err := f.st.PutEntity(ctx, model.Entity{
		ID: "donor-1", Name: "Asha", Role: model.RoleDonor,
		BloodType: donorType, Location: &loc, AvailableNow: true,
	}); err != nil {
		t.Fatalf("put donor: %v", err)
	}
	req := model.Request{
		ID: "req-1", HospitalID: "hosp-1", BloodType: requestType,
		Status: model.RequestActive, Location: &hospLoc,
		UrgencyLevel: 5, UnitsNeeded: 2, CreatedAt: f.now,
	}
	if err := f.st.CreateRequest(ctx, req); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return "donor-1", "req-1"
}

func TestCreate_Success(t *testing.T) {
	f := newFixture(t)
	donorID, requestID := f.seed(t, model.OPos, model.OPos)

	detail, err := f.m.Create(context.Background(), requestID, donorID, 10, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if detail.Pledge.Status != model.PledgePledged {
		t.Fatalf("status = %s, want pledged", detail.Pledge.Status)
	}
	if len(detail.Pledge.Code) != 6 {
		t.Fatalf("code %q is not 6 digits", detail.Pledge.Code)
	}
	if detail.HospitalName != "City Hospital" || detail.DonorName != "Asha" {
		t.Fatalf("summaries not populated: %+v", detail)
	}
	if detail.DistanceKm == nil || *detail.DistanceKm <= 0 {
		t.Fatal("distance must be populated when both sides have locations")
	}

	// Pledging nudges responsiveness up from the 0.5 default.
	d, _ := f.st.Entity(context.Background(), donorID)
	want := 0.7*0.5 + 0.3*0.7
	if diff := d.ResponsivenessScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("responsiveness = %v, want %v", d.ResponsivenessScore, want)
	}

	kinds := f.emitter.kinds()
	if len(kinds) != 1 || kinds[0] != events.KindPledgeCreated {
		t.Fatalf("expected one pledge.created event, got %v", kinds)
	}
}

func TestCreate_StrictTypeGate(t *testing.T) {
	f := newFixture(t)
	// O- ranks as compatible with A+ but the pledge gate requires equality.
	donorID, requestID := f.seed(t, model.ONeg, model.APos)

	_, err := f.m.Create(context.Background(), requestID, donorID, 10, 60)
	if !policy.Is(err, policy.ReasonIneligibleByType) {
		t.Fatalf("expected ineligible-by-type, got %v", err)
	}
}

func TestCreate_CooldownBoundary(t *testing.T) {
	cases := []struct {
		name     string
		daysAgo  int
		eligible bool
	}{
		{"29 days rejected", 29, false},
		{"30 days accepted", 30, true},
		{"45 days accepted", 45, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			donorID, requestID := f.seed(t, model.OPos, model.OPos)
			last := f.now.Add(-time.Duration(tc.daysAgo) * 24 * time.Hour)
			d, _ := f.st.Entity(context.Background(), donorID)
			d.LastDonationDate = &last
			if err := f.st.PutEntity(context.Background(), d); err != nil {
				t.Fatalf("put donor: %v", err)
			}

			_, err := f.m.Create(context.Background(), requestID, donorID, 10, 60)
			if tc.eligible && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tc.eligible && !policy.Is(err, policy.ReasonCooldownActive) {
				t.Fatalf("expected cooldown-active, got %v", err)
			}
		})
	}
}

func TestCreate_RequestNotActive(t *testing.T) {
	f := newFixture(t)
	donorID, requestID := f.seed(t, model.OPos, model.OPos)
	if _, err := f.st.FulfillRequest(context.Background(), requestID); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	_, err := f.m.Create(context.Background(), requestID, donorID, 10, 60)
	if !policy.Is(err, policy.ReasonRequestNotActive) {
		t.Fatalf("expected request-not-active, got %v", err)
	}
}

func TestCreate_DuplicateRace(t *testing.T) {
	f := newFixture(t)
	donorID, requestID := f.seed(t, model.OPos, model.OPos)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.Create(context.Background(), requestID, donorID, 10, 60)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created, rejected int
	for err := range errs {
		switch {
		case err == nil:
			created++
		case policy.Is(err, policy.ReasonAlreadyPledged):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 || rejected != attempts-1 {
		t.Fatalf("created=%d rejected=%d, want 1/%d", created, rejected, attempts-1)
	}

	pledges, _ := f.st.PledgesByRequest(context.Background(), requestID, model.PledgePledged)
	if len(pledges) != 1 {
		t.Fatalf("exactly one pledged row must exist, got %d", len(pledges))
	}
}

func TestCancel_Semantics(t *testing.T) {
	f := newFixture(t)
	donorID, requestID := f.seed(t, model.OPos, model.OPos)
	detail, err := f.m.Create(context.Background(), requestID, donorID, 10, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.m.Cancel(context.Background(), requestID, donorID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	p, _ := f.st.Pledge(context.Background(), detail.Pledge.ID)
	if p.Status != model.PledgeCancelled {
		t.Fatalf("status = %s, want cancelled", p.Status)
	}

	// Cancelling again is a no-op, not an error.
	if err := f.m.Cancel(context.Background(), requestID, donorID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	// After cancellation the donor may pledge again.
	if _, err := f.m.Create(context.Background(), requestID, donorID, 15, 60); err != nil {
		t.Fatalf("re-pledge after cancel: %v", err)
	}
}

func TestVerifyArrival_FullSettlement(t *testing.T) {
	f := newFixture(t)
	donorID, requestID := f.seed(t, model.OPos, model.OPos)
	detail, err := f.m.Create(context.Background(), requestID, donorID, 10, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	units := 1
	cert, err := f.m.VerifyArrival(context.Background(), requestID, "hosp-1", detail.Pledge.Code,
		model.WellnessReport{UnitsDonated: &units})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if cert == "" {
		t.Fatal("certificate id must be minted")
	}

	p, _ := f.st.Pledge(context.Background(), detail.Pledge.ID)
	if p.Status != model.PledgeArrived {
		t.Fatalf("pledge status = %s, want arrived", p.Status)
	}
	req, _ := f.st.Request(context.Background(), requestID)
	if req.Status != model.RequestFulfilled {
		t.Fatalf("request status = %s, want fulfilled", req.Status)
	}
	d, _ := f.st.Entity(context.Background(), donorID)
	if d.CreditPoints != ledger.DefaultCreditAward {
		t.Fatalf("credits = %d, want %d", d.CreditPoints, ledger.DefaultCreditAward)
	}
	if d.LastDonationDate == nil || !d.LastDonationDate.Equal(f.now) {
		t.Fatalf("cooldown not stamped: %v", d.LastDonationDate)
	}

	kinds := f.emitter.kinds()
	var arrived, cleared bool
	for _, k := range kinds {
		if k == events.KindPledgeArrived {
			arrived = true
		}
		if k == events.KindDonorCodeCleared {
			cleared = true
		}
	}
	if !arrived || !cleared {
		t.Fatalf("expected arrival and code-cleared events, got %v", kinds)
	}
}

func TestVerifyArrival_Idempotent(t *testing.T) {
	f := newFixture(t)
	donorID, requestID := f.seed(t, model.OPos, model.OPos)
	detail, err := f.m.Create(context.Background(), requestID, donorID, 10, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cert1, err := f.m.VerifyArrival(context.Background(), requestID, "hosp-1", detail.Pledge.Code, model.WellnessReport{})
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	cert2, err := f.m.VerifyArrival(context.Background(), requestID, "hosp-1", detail.Pledge.Code, model.WellnessReport{})
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if cert1 != cert2 {
		t.Fatalf("certificates differ across re-verification: %s vs %s", cert1, cert2)
	}

	d, _ := f.st.Entity(context.Background(), donorID)
	if d.CreditPoints != ledger.DefaultCreditAward {
		t.Fatalf("credits double-awarded: %d", d.CreditPoints)
	}
}

func TestVerifyArrival_WrongHospitalAndBadCode(t *testing.T) {
	f := newFixture(t)
	donorID, requestID := f.seed(t, model.OPos, model.OPos)
	detail, err := f.m.Create(context.Background(), requestID, donorID, 10, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Foreign hospital: not found, never a hint about the code.
	if _, err := f.m.VerifyArrival(context.Background(), requestID, "hosp-2", detail.Pledge.Code, model.WellnessReport{}); err != store.ErrNotFound {
		t.Fatalf("expected not found for foreign hospital, got %v", err)
	}

	// Wrong code: generic rejection.
	_, err = f.m.VerifyArrival(context.Background(), requestID, "hosp-1", "000000", model.WellnessReport{})
	if !policy.Is(err, policy.ReasonInvalidCode) {
		t.Fatalf("expected invalid-code, got %v", err)
	}
}

func TestVerifyArrival_Throttled(t *testing.T) {
	f := newFixture(t)
	_, requestID := f.seed(t, model.OPos, model.OPos)

	for i := 0; i < 5; i++ {
		_, err := f.m.VerifyArrival(context.Background(), requestID, "hosp-1", "000000", model.WellnessReport{})
		if !policy.Is(err, policy.ReasonInvalidCode) {
			t.Fatalf("attempt %d: expected invalid-code, got %v", i, err)
		}
	}
	_, err := f.m.VerifyArrival(context.Background(), requestID, "hosp-1", "000000", model.WellnessReport{})
	if !policy.Is(err, policy.ReasonTooManyAttempts) {
		t.Fatalf("expected too-many-attempts, got %v", err)
	}

	// The window slides: a minute later attempts are allowed again.
	f.now = f.now.Add(61 * time.Second)
	_, err = f.m.VerifyArrival(context.Background(), requestID, "hosp-1", "000000", model.WellnessReport{})
	if !policy.Is(err, policy.ReasonInvalidCode) {
		t.Fatalf("expected invalid-code after window, got %v", err)
	}
}

func TestFeedback_RequiresArrival(t *testing.T) {
	f := newFixture(t)
	donorID, requestID := f.seed(t, model.OPos, model.OPos)
	detail, err := f.m.Create(context.Background(), requestID, donorID, 10, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.m.Feedback(context.Background(), detail.Pledge.ID, donorID, 5, "great"); !policy.Is(err, policy.ReasonNotArrived) {
		t.Fatalf("expected not-arrived, got %v", err)
	}
	if err := f.m.Feedback(context.Background(), detail.Pledge.ID, donorID, 6, ""); !policy.Is(err, policy.ReasonInvalidInput) {
		t.Fatalf("expected invalid-input for rating 6, got %v", err)
	}

	if _, err := f.m.VerifyArrival(context.Background(), requestID, "hosp-1", detail.Pledge.Code, model.WellnessReport{}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.m.Feedback(context.Background(), detail.Pledge.ID, donorID, 5, "great"); err != nil {
		t.Fatalf("feedback after arrival: %v", err)
	}
	p, _ := f.st.Pledge(context.Background(), detail.Pledge.ID)
	if p.FeedbackRating != 5 || p.FeedbackComment != "great" || p.FeedbackAt == nil {
		t.Fatalf("feedback not stored: %+v", p)
	}

	// A second call updates the stored values.
	if err := f.m.Feedback(context.Background(), detail.Pledge.ID, donorID, 4, "good"); err != nil {
		t.Fatalf("feedback update: %v", err)
	}
	p, _ = f.st.Pledge(context.Background(), detail.Pledge.ID)
	if p.FeedbackRating != 4 {
		t.Fatalf("feedback not updated: %+v", p)
	}
}

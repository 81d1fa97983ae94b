package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedDonor(t *testing.T, s *Store, id string, bt model.BloodType, loc *model.GeoPoint) {
	t.Helper()
	err := s.PutEntity(context.Background(), model.Entity{
		ID: id, Name: "Donor " + id, Role: model.RoleDonor, BloodType: bt,
		Location: loc, AvailableNow: true,
	})
	if err != nil {
		t.Fatalf("seed donor: %v", err)
	}
}

func seedRequest(t *testing.T, s *Store, id, hospitalID string, loc *model.GeoPoint) {
	t.Helper()
	err := s.CreateRequest(context.Background(), model.Request{
		ID: id, HospitalID: hospitalID, BloodType: model.OPos,
		Status: model.RequestActive, Location: loc,
		UrgencyLevel: 4, UnitsNeeded: 2, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
}

func TestEntityRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	last := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	loc := model.GeoPoint{Lat: 10.7, Lng: 78.6}
	in := model.Entity{
		ID: "donor-1", Name: "Asha", Role: model.RoleDonor, BloodType: model.ONeg,
		Location: &loc, Email: "asha@example.com", Phone: "+91-1",
		LastDonationDate: &last, ResponsivenessScore: 0.65,
		AvailableNow: true, CreditPoints: 30,
	}
	if err := s.PutEntity(ctx, in); err != nil {
		t.Fatalf("put: %v", err)
	}
	out, err := s.Entity(ctx, "donor-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Name != in.Name || out.BloodType != in.BloodType || out.CreditPoints != 30 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if out.Location == nil || out.Location.Lat != loc.Lat {
		t.Fatalf("location lost: %+v", out.Location)
	}
	if out.LastDonationDate == nil || !out.LastDonationDate.Equal(last) {
		t.Fatalf("last donation lost: %v", out.LastDonationDate)
	}

	// Upsert overwrites, including clearing the location.
	in.Location = nil
	in.Name = "Asha K"
	if err := s.PutEntity(ctx, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	out, _ = s.Entity(ctx, "donor-1")
	if out.Name != "Asha K" || out.Location != nil {
		t.Fatalf("upsert incomplete: %+v", out)
	}

	if _, err := s.Entity(ctx, "missing"); err != store.ErrNotFound {
		t.Fatalf("missing entity: got %v", err)
	}
}

func TestNearbyEntities(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	center := model.GeoPoint{Lat: 10.7, Lng: 78.6}

	near := model.GeoPoint{Lat: 10.71, Lng: 78.6}
	far := model.GeoPoint{Lat: 11.7, Lng: 78.6}
	seedDonor(t, s, "near", model.OPos, &near)
	seedDonor(t, s, "far", model.OPos, &far)
	seedDonor(t, s, "unlocated", model.OPos, nil)
	seedDonor(t, s, "other-type", model.ABNeg, &near)

	got, err := s.NearbyEntities(ctx, center, 50, store.EntityFilter{Role: model.RoleDonor, BloodType: model.OPos})
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 1 || got[0].Entity.ID != "near" {
		t.Fatalf("unexpected nearby set: %+v", got)
	}
	if got[0].DistanceKm <= 0 || got[0].DistanceKm > 2 {
		t.Fatalf("distance off: %v", got[0].DistanceKm)
	}

	// Radius is capped; even an absurd request does not reach past 200 km.
	got, err = s.NearbyEntities(ctx, center, 100000, store.EntityFilter{Role: model.RoleDonor})
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	for _, n := range got {
		if n.DistanceKm > store.MaxRadiusKm {
			t.Fatalf("radius cap breached: %v", n.DistanceKm)
		}
	}
}

func TestNearbyEntities_AcrossAntimeridian(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// ~11 km apart, but on opposite sides of the 180° seam.
	west := model.GeoPoint{Lat: 0, Lng: 179.95}
	east := model.GeoPoint{Lat: 0, Lng: -179.95}
	seedDonor(t, s, "across-seam", model.OPos, &east)

	got, err := s.NearbyEntities(ctx, west, 25, store.EntityFilter{Role: model.RoleDonor})
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 1 || got[0].Entity.ID != "across-seam" {
		t.Fatalf("donor across the seam must be found: %+v", got)
	}
	if got[0].DistanceKm > 15 {
		t.Fatalf("seam distance must use the great circle, got %v km", got[0].DistanceKm)
	}
}

func TestCreditMutations(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDonor(t, s, "donor-1", model.OPos, nil)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := s.AwardCredits(ctx, "donor-1", 10, now); err != nil {
		t.Fatalf("award: %v", err)
	}
	e, _ := s.Entity(ctx, "donor-1")
	if e.CreditPoints != 10 || e.LastDonationDate == nil || !e.LastDonationDate.Equal(now) {
		t.Fatalf("award incomplete: %+v", e)
	}

	if _, err := s.RedeemCredits(ctx, "donor-1", 100, now); err != store.ErrConflict {
		t.Fatalf("insufficient balance must conflict, got %v", err)
	}
	if err := s.AwardCredits(ctx, "donor-1", 90, now); err != nil {
		t.Fatalf("award: %v", err)
	}
	balance, err := s.RedeemCredits(ctx, "donor-1", 100, now)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
	e, _ = s.Entity(ctx, "donor-1")
	if e.LastHealthCheckAt == nil {
		t.Fatal("health check not stamped")
	}

	if _, err := s.RedeemCredits(ctx, "missing", 1, now); err != store.ErrNotFound {
		t.Fatalf("missing donor: got %v", err)
	}
}

func TestPledgeUniquePair(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedRequest(t, s, "req-1", "hosp-1", nil)

	p := model.Pledge{
		ID: "pl-1", RequestID: "req-1", DonorID: "donor-1",
		Status: model.PledgePledged, Code: "123456", CreatedAt: time.Now(),
	}
	if err := s.CreatePledge(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := p
	dup.ID = "pl-2"
	dup.Code = "654321"
	if err := s.CreatePledge(ctx, dup); err != store.ErrConflict {
		t.Fatalf("duplicate live pledge must conflict, got %v", err)
	}

	// A cancelled pledge frees the pair.
	if applied, err := s.CancelPledge(ctx, "req-1", "donor-1"); err != nil || !applied {
		t.Fatalf("cancel: applied=%v err=%v", applied, err)
	}
	if err := s.CreatePledge(ctx, dup); err != nil {
		t.Fatalf("re-pledge after cancel: %v", err)
	}
}

func TestArrivePledge(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedRequest(t, s, "req-1", "hosp-1", nil)
	p := model.Pledge{
		ID: "pl-1", RequestID: "req-1", DonorID: "donor-1",
		Status: model.PledgePledged, Code: "123456", CreatedAt: time.Now(),
	}
	if err := s.CreatePledge(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, _, err := s.ArrivePledge(ctx, "req-1", "999999", model.WellnessReport{}, "CERT-X", at); err != store.ErrNotFound {
		t.Fatalf("wrong code must read as not found, got %v", err)
	}

	units := 1
	got, applied, err := s.ArrivePledge(ctx, "req-1", "123456", model.WellnessReport{UnitsDonated: &units}, "CERT-A", at)
	if err != nil || !applied {
		t.Fatalf("arrive: applied=%v err=%v", applied, err)
	}
	if got.Status != model.PledgeArrived || got.CertificateID != "CERT-A" {
		t.Fatalf("transition incomplete: %+v", got)
	}
	if got.Report.ReportAt == nil || got.Report.UnitsDonated == nil {
		t.Fatalf("report not stamped: %+v", got.Report)
	}

	// Re-arrival keeps the original certificate.
	again, applied, err := s.ArrivePledge(ctx, "req-1", "123456", model.WellnessReport{}, "CERT-B", at)
	if err != nil || applied {
		t.Fatalf("re-arrive: applied=%v err=%v", applied, err)
	}
	if again.CertificateID != "CERT-A" {
		t.Fatalf("certificate rewritten: %s", again.CertificateID)
	}

	stored, err := s.Pledge(ctx, "pl-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Report.UnitsDonated == nil || *stored.Report.UnitsDonated != 1 {
		t.Fatalf("report lost on reload: %+v", stored.Report)
	}
}

func TestSetFeedback(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedRequest(t, s, "req-1", "hosp-1", nil)
	p := model.Pledge{
		ID: "pl-1", RequestID: "req-1", DonorID: "donor-1",
		Status: model.PledgePledged, Code: "123456", CreatedAt: time.Now(),
	}
	if err := s.CreatePledge(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	at := time.Now()

	if _, err := s.SetFeedback(ctx, "pl-1", "donor-1", 5, "", at); err != store.ErrConflict {
		t.Fatalf("feedback before arrival must conflict, got %v", err)
	}
	if _, err := s.SetFeedback(ctx, "pl-1", "other", 5, "", at); err != store.ErrNotFound {
		t.Fatalf("foreign donor must read as not found, got %v", err)
	}

	if _, _, err := s.ArrivePledge(ctx, "req-1", "123456", model.WellnessReport{}, "CERT-A", at); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	got, err := s.SetFeedback(ctx, "pl-1", "donor-1", 4, "smooth", at)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if got.FeedbackRating != 4 || got.FeedbackComment != "smooth" || got.FeedbackAt == nil {
		t.Fatalf("feedback incomplete: %+v", got)
	}

	fb, err := s.FeedbackByRequest(ctx, "req-1")
	if err != nil || len(fb) != 1 {
		t.Fatalf("feedback listing: %v %+v", err, fb)
	}
}

func TestRequestLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	loc := model.GeoPoint{Lat: 10.7, Lng: 78.6}
	seedRequest(t, s, "req-1", "hosp-1", &loc)

	applied, err := s.FulfillRequest(ctx, "req-1")
	if err != nil || !applied {
		t.Fatalf("fulfill: applied=%v err=%v", applied, err)
	}
	applied, err = s.FulfillRequest(ctx, "req-1")
	if err != nil || applied {
		t.Fatalf("second fulfill must be a no-op: applied=%v err=%v", applied, err)
	}
	if _, err := s.FulfillRequest(ctx, "missing"); err != store.ErrNotFound {
		t.Fatalf("missing request: got %v", err)
	}
}

func TestCloseSimulated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	loc := model.GeoPoint{Lat: 10.7, Lng: 78.6}

	for _, r := range []model.Request{
		{ID: "sim-1", HospitalID: "hosp-1", BloodType: model.OPos, Status: model.RequestActive,
			Location: &loc, UrgencyLevel: 5, UnitsNeeded: 1, Simulated: true, CreatedAt: time.Now()},
		{ID: "sim-2", HospitalID: "hosp-1", BloodType: model.APos, Status: model.RequestActive,
			Location: &loc, UrgencyLevel: 5, UnitsNeeded: 2, Simulated: true, CreatedAt: time.Now()},
		{ID: "real-1", HospitalID: "hosp-1", BloodType: model.BPos, Status: model.RequestActive,
			Location: &loc, UrgencyLevel: 3, UnitsNeeded: 1, CreatedAt: time.Now()},
	} {
		if err := s.CreateRequest(ctx, r); err != nil {
			t.Fatalf("create %s: %v", r.ID, err)
		}
	}

	ids, err := s.CloseSimulated(ctx, "hosp-1")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("closed %v, want the two simulated requests", ids)
	}
	active, _ := s.ActiveRequests(ctx)
	if len(active) != 1 || active[0].ID != "real-1" {
		t.Fatalf("real request must survive: %+v", active)
	}

	ids, err = s.CloseSimulated(ctx, "hosp-1")
	if err != nil || len(ids) != 0 {
		t.Fatalf("second close: ids=%v err=%v", ids, err)
	}
}

func TestSwapResolution(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sw := model.SwapRequest{
		ID: "swap-1", FromHospitalID: "hosp-a", ToHospitalID: "hosp-b",
		BloodType: model.ONeg, Units: 2, Status: model.SwapPending, CreatedAt: time.Now(),
	}
	if err := s.CreateSwap(ctx, sw); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.ResolveSwap(ctx, "swap-1", "hosp-a", model.SwapAccepted); err != store.ErrNotFound {
		t.Fatalf("proposer resolving must read as not found, got %v", err)
	}
	applied, err := s.ResolveSwap(ctx, "swap-1", "hosp-b", model.SwapAccepted)
	if err != nil || !applied {
		t.Fatalf("resolve: applied=%v err=%v", applied, err)
	}
	applied, err = s.ResolveSwap(ctx, "swap-1", "hosp-b", model.SwapDeclined)
	if err != nil || applied {
		t.Fatalf("second resolve must lose: applied=%v err=%v", applied, err)
	}

	got, _ := s.Swap(ctx, "swap-1")
	if got.Status != model.SwapAccepted {
		t.Fatalf("status = %s, want accepted", got.Status)
	}
	in, _ := s.SwapsIncoming(ctx, "hosp-b")
	out, _ := s.SwapsOutgoing(ctx, "hosp-a")
	if len(in) != 1 || len(out) != 1 {
		t.Fatalf("queues wrong: in=%d out=%d", len(in), len(out))
	}
}

func TestNearbyRequestsAttachesHospital(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	loc := model.GeoPoint{Lat: 10.7, Lng: 78.6}
	err := s.PutEntity(ctx, model.Entity{
		ID: "hosp-1", Name: "City Hospital", Role: model.RoleHospital,
		BloodType: model.OPos, Location: &loc,
	})
	if err != nil {
		t.Fatalf("put hospital: %v", err)
	}
	seedRequest(t, s, "req-1", "hosp-1", &loc)

	got, err := s.NearbyRequests(ctx, model.GeoPoint{Lat: 10.71, Lng: 78.6}, 50)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 1 || got[0].Hospital.Name != "City Hospital" {
		t.Fatalf("hospital not attached: %+v", got)
	}
}

// Package ledger owns donor credits and the donation cooldown.
package ledger

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/hemolink/core/geo"
	"github.com/kilianp07/hemolink/core/logger"
	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/policy"
	"github.com/kilianp07/hemolink/core/score"
	"github.com/kilianp07/hemolink/core/store"
)

// Defaults. Configurable via Config; tests pin these values.
const (
	DefaultCooldownDays = 30
	DefaultCreditAward  = 10
	DefaultRedeemCost   = 100
)

// Config defines ledger parameters.
type Config struct {
	CooldownDays int `json:"cooldown_days"`
	CreditAward  int `json:"credit_award"`
	RedeemCost   int `json:"redeem_cost"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.CooldownDays <= 0 {
		c.CooldownDays = DefaultCooldownDays
	}
	if c.CreditAward <= 0 {
		c.CreditAward = DefaultCreditAward
	}
	if c.RedeemCost <= 0 {
		c.RedeemCost = DefaultRedeemCost
	}
}

// Eligible reports whether a donor who last donated at lastDonation may
// donate again at now, with the next eligible instant. A donor who never
// donated is always eligible. The boundary is inclusive: exactly cooldown
// after the last donation is eligible again.
//
// This is the single cooldown check; pledge creation and the readiness
// display both call it so the two can never diverge.
func Eligible(lastDonation *time.Time, now time.Time, cooldown time.Duration) (bool, time.Time) {
	if lastDonation == nil {
		return true, now
	}
	next := lastDonation.Add(cooldown)
	return !now.Before(next), next
}

// Ledger applies credit mutations and computes donor readiness.
type Ledger struct {
	store store.Store
	cfg   Config
	log   logger.Logger
	now   func() time.Time
}

// New creates a Ledger.
func New(st store.Store, cfg Config, log logger.Logger) (*Ledger, error) {
	if st == nil || log == nil {
		return nil, fmt.Errorf("ledger: nil parameter provided to New")
	}
	cfg.SetDefaults()
	return &Ledger{store: st, cfg: cfg, log: log, now: time.Now}, nil
}

// Cooldown returns the configured cooldown duration.
func (l *Ledger) Cooldown() time.Duration {
	return time.Duration(l.cfg.CooldownDays) * 24 * time.Hour
}

// CreditAward returns the points granted per verified donation.
func (l *Ledger) CreditAward() int { return l.cfg.CreditAward }

// Award credits the donor for a verified donation and stamps the cooldown
// start. The store applies both in one atomic update.
func (l *Ledger) Award(ctx context.Context, donorID string, at time.Time) error {
	if err := l.store.AwardCredits(ctx, donorID, l.cfg.CreditAward, at); err != nil {
		return fmt.Errorf("award credits: %w", err)
	}
	l.log.Infof("awarded %d credits to donor %s", l.cfg.CreditAward, donorID)
	return nil
}

// Redeem exchanges RedeemCost credits for a health check. The precondition
// check and the decrement are a single conditional update in the store, so
// concurrent redemptions cannot double-spend.
func (l *Ledger) Redeem(ctx context.Context, donorID string) (int, error) {
	balance, err := l.store.RedeemCredits(ctx, donorID, l.cfg.RedeemCost, l.now().UTC())
	if err != nil {
		if err == store.ErrConflict {
			return balance, policy.Reject(policy.ReasonInsufficientCredits,
				"need %d credits to redeem, balance is %d", l.cfg.RedeemCost, balance)
		}
		return 0, err
	}
	l.log.Infof("donor %s redeemed %d credits, balance %d", donorID, l.cfg.RedeemCost, balance)
	return balance, nil
}

// Readiness builds the donor-facing readiness report. The distance trend is
// the mean distance of the donor's recent pledges relative to the 50 km
// search horizon; donors with no located pledge history sit at the neutral
// midpoint.
func (l *Ledger) Readiness(ctx context.Context, donorID string) (score.Readiness, error) {
	donor, err := l.store.Entity(ctx, donorID)
	if err != nil {
		return score.Readiness{}, err
	}
	trend := l.distanceTrend(ctx, donor)
	return score.ComputeReadiness(donor.LastDonationDate, l.now().UTC(), trend, donor.AvailableNow), nil
}

const trendHorizonKm = 50.0
const trendSampleSize = 10

func (l *Ledger) distanceTrend(ctx context.Context, donor model.Entity) float64 {
	if donor.Location == nil {
		return 0.5
	}
	pledges, err := l.store.PledgesByDonor(ctx, donor.ID)
	if err != nil {
		l.log.Warnf("pledge history for %s: %v", donor.ID, err)
		return 0.5
	}
	var samples []float64
	for _, p := range pledges {
		if len(samples) >= trendSampleSize {
			break
		}
		req, err := l.store.Request(ctx, p.RequestID)
		if err != nil || req.Location == nil {
			continue
		}
		d := distanceRatio(*donor.Location, *req.Location)
		samples = append(samples, d)
	}
	if len(samples) == 0 {
		return 0.5
	}
	return stat.Mean(samples, nil)
}

func distanceRatio(a, b model.GeoPoint) float64 {
	d := geo.DistanceKm(a, b) / trendHorizonKm
	if d > 1 {
		return 1
	}
	return d
}

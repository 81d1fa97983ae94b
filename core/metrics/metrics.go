package metrics

import (
	"time"

	"github.com/kilianp07/hemolink/core/model"
)

// PledgeOutcome labels the result of a pledge attempt.
type PledgeOutcome string

const (
	PledgeCreated  PledgeOutcome = "created"
	PledgeRejected PledgeOutcome = "rejected"
)

// MetricsSink records engine activity for observability. Implementations must
// be safe for concurrent use; recording failures never affect the operation
// being recorded.
type MetricsSink interface {
	RecordRequestCreated(bloodType model.BloodType, urgencyLevel int) error
	RecordPledge(outcome PledgeOutcome, reason string) error
	RecordArrival(bloodType model.BloodType) error
	RecordSwap(status model.SwapStatus) error
	RecordRankingLatency(op string, d time.Duration) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordRequestCreated(model.BloodType, int) error  { return nil }
func (NopSink) RecordPledge(PledgeOutcome, string) error         { return nil }
func (NopSink) RecordArrival(model.BloodType) error              { return nil }
func (NopSink) RecordSwap(model.SwapStatus) error                { return nil }
func (NopSink) RecordRankingLatency(string, time.Duration) error { return nil }

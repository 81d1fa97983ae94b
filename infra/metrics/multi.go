package metrics

import (
	"time"

	coremetrics "github.com/kilianp07/hemolink/core/metrics"
	"github.com/kilianp07/hemolink/core/model"
)

// MultiSink fans every record out to all sinks, returning the first error.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink over the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordRequestCreated(bt model.BloodType, urgencyLevel int) error {
	for _, s := range m.Sinks {
		if err := s.RecordRequestCreated(bt, urgencyLevel); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordPledge(outcome coremetrics.PledgeOutcome, reason string) error {
	for _, s := range m.Sinks {
		if err := s.RecordPledge(outcome, reason); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordArrival(bt model.BloodType) error {
	for _, s := range m.Sinks {
		if err := s.RecordArrival(bt); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordSwap(status model.SwapStatus) error {
	for _, s := range m.Sinks {
		if err := s.RecordSwap(status); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordRankingLatency(op string, d time.Duration) error {
	for _, s := range m.Sinks {
		if err := s.RecordRankingLatency(op, d); err != nil {
			return err
		}
	}
	return nil
}

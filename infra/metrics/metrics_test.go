package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/hemolink/core/metrics"
	"github.com/kilianp07/hemolink/core/model"
)

func TestPromSink_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordRequestCreated(model.OPos, 5))
	require.NoError(t, sink.RecordPledge(coremetrics.PledgeCreated, ""))
	require.NoError(t, sink.RecordPledge(coremetrics.PledgeRejected, "cooldown-active"))
	require.NoError(t, sink.RecordArrival(model.OPos))
	require.NoError(t, sink.RecordSwap(model.SwapAccepted))
	require.NoError(t, sink.RecordRankingLatency("rank_donors", 10*time.Millisecond))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"hemolink_requests_created_total",
		"hemolink_pledges_total",
		"hemolink_arrivals_total",
		"hemolink_swaps_total",
		"hemolink_ranking_seconds",
	} {
		require.True(t, names[want], "missing metric %s", want)
	}
}

func TestPromSink_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	// Registering again reuses the existing collectors instead of failing.
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, sink.RecordArrival(model.ABNeg))
}

type countingSink struct {
	coremetrics.NopSink
	calls int
}

func (c *countingSink) RecordSwap(model.SwapStatus) error {
	c.calls++
	return nil
}

func TestMultiSink_FansOut(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	m := NewMultiSink(a, b)
	require.NoError(t, m.RecordSwap(model.SwapDeclined))
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
}

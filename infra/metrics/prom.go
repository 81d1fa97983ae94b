// Package metrics hosts the MetricsSink implementations: Prometheus for
// scraping, InfluxDB for time series, and a fan-out combining them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coremetrics "github.com/kilianp07/hemolink/core/metrics"
	"github.com/kilianp07/hemolink/core/model"
)

// PromSink records engine activity in Prometheus metrics.
type PromSink struct {
	requests *prometheus.CounterVec
	pledges  *prometheus.CounterVec
	arrivals *prometheus.CounterVec
	swaps    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPromSink registers the engine metrics on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global one.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hemolink_requests_created_total",
		Help: "Blood requests created",
	}, []string{"blood_type", "urgency_level"})
	pledges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hemolink_pledges_total",
		Help: "Pledge attempts by outcome",
	}, []string{"outcome", "reason"})
	arrivals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hemolink_arrivals_total",
		Help: "Verified donor arrivals",
	}, []string{"blood_type"})
	swaps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hemolink_swaps_total",
		Help: "Swap proposals by status",
	}, []string{"status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hemolink_ranking_seconds",
		Help:    "Ranking operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	if err := reg.Register(requests); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			requests = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(pledges); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			pledges = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(arrivals); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			arrivals = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(swaps); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			swaps = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	return &PromSink{requests: requests, pledges: pledges, arrivals: arrivals, swaps: swaps, latency: latency}, nil
}

func (s *PromSink) RecordRequestCreated(bt model.BloodType, urgencyLevel int) error {
	s.requests.WithLabelValues(string(bt), strconv.Itoa(urgencyLevel)).Inc()
	return nil
}

func (s *PromSink) RecordPledge(outcome coremetrics.PledgeOutcome, reason string) error {
	s.pledges.WithLabelValues(string(outcome), reason).Inc()
	return nil
}

func (s *PromSink) RecordArrival(bt model.BloodType) error {
	s.arrivals.WithLabelValues(string(bt)).Inc()
	return nil
}

func (s *PromSink) RecordSwap(status model.SwapStatus) error {
	s.swaps.WithLabelValues(string(status)).Inc()
	return nil
}

func (s *PromSink) RecordRankingLatency(op string, d time.Duration) error {
	s.latency.WithLabelValues(op).Observe(d.Seconds())
	return nil
}

// StartPromServer exposes /metrics on addr. The returned server is already
// listening when the call returns; shut it down through the handle.
func StartPromServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

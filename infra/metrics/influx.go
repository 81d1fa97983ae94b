package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/hemolink/core/logger"
	coremetrics "github.com/kilianp07/hemolink/core/metrics"
	"github.com/kilianp07/hemolink/core/model"
)

// InfluxSink writes engine activity to InfluxDB with the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
	now      func() time.Time
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string, log logger.Logger) *InfluxSink {
	client := influxdb2.NewClientWithOptions(url, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      log,
		now:      time.Now,
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and degrades to a
// NopSink when the health check fails, so a missing time-series backend never
// blocks the engine.
func NewInfluxSinkWithFallback(url, token, org, bucket string, log logger.Logger) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			log.Errorf("influx health check error: %v", err)
		} else {
			log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close flushes and releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordRequestCreated(bt model.BloodType, urgencyLevel int) error {
	return s.write(write.NewPointWithMeasurement("request_created").
		AddTag("blood_type", string(bt)).
		AddTag("urgency_level", strconv.Itoa(urgencyLevel)).
		AddField("count", 1).
		SetTime(s.now()))
}

func (s *InfluxSink) RecordPledge(outcome coremetrics.PledgeOutcome, reason string) error {
	return s.write(write.NewPointWithMeasurement("pledge").
		AddTag("outcome", string(outcome)).
		AddTag("reason", reason).
		AddField("count", 1).
		SetTime(s.now()))
}

func (s *InfluxSink) RecordArrival(bt model.BloodType) error {
	return s.write(write.NewPointWithMeasurement("arrival").
		AddTag("blood_type", string(bt)).
		AddField("count", 1).
		SetTime(s.now()))
}

func (s *InfluxSink) RecordSwap(status model.SwapStatus) error {
	return s.write(write.NewPointWithMeasurement("swap").
		AddTag("status", string(status)).
		AddField("count", 1).
		SetTime(s.now()))
}

func (s *InfluxSink) RecordRankingLatency(op string, d time.Duration) error {
	return s.write(write.NewPointWithMeasurement("ranking_latency").
		AddTag("op", op).
		AddField("seconds", d.Seconds()).
		SetTime(s.now()))
}

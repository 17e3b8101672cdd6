package swr

import (
	"time"

	"github.com/rs/zerolog"
)

// Sample is one traffic observation reported to the metrics sink.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	IsBot      bool      `json:"is_bot"`
	Action     string    `json:"action"`
	StatusCode int       `json:"status_code"`
}

// TrafficSink receives fire-and-forget traffic samples. Implementations may
// persist, aggregate, or forward them; failures must never affect serving.
type TrafficSink interface {
	Report(sample Sample)
}

// NopSink discards all samples.
type NopSink struct{}

// Report implements TrafficSink.
func (NopSink) Report(Sample) {}

// LogSink writes each sample as a structured debug log line.
type LogSink struct {
	Logger zerolog.Logger
}

// Report implements TrafficSink.
func (s LogSink) Report(sample Sample) {
	s.Logger.Debug().
		Str("method", sample.Method).
		Str("path", sample.Path).
		Str("ip", sample.IP).
		Bool("bot", sample.IsBot).
		Str("action", sample.Action).
		Int("status_code", sample.StatusCode).
		Msg("Traffic sample")
}

// report delivers a sample to the sink with a panic boundary: a misbehaving
// sink is logged and ignored, never propagated to the request path.
func (o *Orchestrator) report(sample Sample) {
	defer func() {
		if r := recover(); r != nil {
			trafficReportFailures.Inc()
			o.logger.Warn().Interface("panic", r).Msg("Traffic sink panicked")
		}
	}()
	o.sink.Report(sample)
}

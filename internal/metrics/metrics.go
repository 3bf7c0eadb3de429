package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sinais que podem disparar durante uma verificação
const (
	SignalBlacklist = "blacklist"
	SignalRateLimit = "rate_limit"
	SignalHoneypot  = "honeypot"
	SignalContent   = "content"
	SignalBehavior  = "behavior"
)

var (
	Checks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antispam_checks_total",
		Help: "Total number of spam checks by recommended action",
	}, []string{"action"})

	Signals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antispam_signals_total",
		Help: "Total number of triggered spam signals",
	}, []string{"signal"})

	AutoBlacklisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "antispam_auto_blacklisted_total",
		Help: "Total number of IPs promoted to the blacklist automatically",
	})

	SweepEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antispam_sweep_evictions_total",
		Help: "Total number of entries removed by the periodic cleanup",
	}, []string{"kind"})

	APIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "antispam_api_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
	}, []string{"path", "method", "status"})
)

// RecordCheck contabiliza o veredito final de uma verificação
func RecordCheck(action string) {
	Checks.WithLabelValues(action).Inc()
}

// RecordSignal contabiliza um sinal disparado
func RecordSignal(signal string) {
	Signals.WithLabelValues(signal).Inc()
}

// RecordSweep contabiliza as remoções de uma varredura
func RecordSweep(rateLimits, suspicious int) {
	SweepEvictions.WithLabelValues("rate_limit").Add(float64(rateLimits))
	SweepEvictions.WithLabelValues("suspicious").Add(float64(suspicious))
}

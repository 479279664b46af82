package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/connector"
)

type pollMetrics struct {
	runs           prometheus.Counter
	activeAccounts prometheus.Gauge
	accounts       *prometheus.CounterVec
	messages       *prometheus.CounterVec
	haltedAccounts prometheus.Gauge
	durations      prometheus.Observer
}

var (
	pollMetricsOnce sync.Once
	pollMetricsInst *pollMetrics
)

func globalPollMetrics() *pollMetrics {
	pollMetricsOnce.Do(func() {
		pollMetricsInst = newPollMetrics()
	})
	return pollMetricsInst
}

func newPollMetrics() *pollMetrics {
	return &pollMetrics{
		runs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "opendesk",
			Subsystem: "pipeline",
			Name:      "poll_runs_total",
			Help:      "Total mailbox poll executions",
		}),
		activeAccounts: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "opendesk",
			Subsystem: "pipeline",
			Name:      "poll_active_accounts",
			Help:      "Mailboxes considered during the latest poll",
		}),
		accounts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opendesk",
			Subsystem: "pipeline",
			Name:      "poll_accounts_total",
			Help:      "Mailboxes polled, labeled by result and connector",
		}, []string{"status", "connector"}),
		messages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opendesk",
			Subsystem: "pipeline",
			Name:      "poll_messages_total",
			Help:      "Messages handed to the postmaster, labeled by result",
		}, []string{"status"}),
		haltedAccounts: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "opendesk",
			Subsystem: "pipeline",
			Name:      "poll_halted_accounts",
			Help:      "Mailboxes halted after repeated authentication failures",
		}),
		durations: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opendesk",
			Subsystem: "pipeline",
			Name:      "poll_duration_seconds",
			Help:      "Duration of mailbox poll executions",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *pollMetrics) recordRun(active int) func() {
	if m == nil {
		return func() {}
	}
	m.runs.Inc()
	m.activeAccounts.Set(float64(active))
	timer := prometheus.NewTimer(m.durations)
	return func() {
		timer.ObserveDuration()
	}
}

func (m *pollMetrics) recordAccount(account connector.Account, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	name := account.Protocol
	if name == "" {
		name = "unknown"
	}
	m.accounts.WithLabelValues(status, name).Inc()
}

func (m *pollMetrics) recordMessage(success bool) {
	if m == nil {
		return
	}
	status := "processed"
	if !success {
		status = "failed"
	}
	m.messages.WithLabelValues(status).Inc()
}

func (m *pollMetrics) setHalted(n int) {
	if m == nil {
		return
	}
	m.haltedAccounts.Set(float64(n))
}

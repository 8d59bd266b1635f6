package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chat_client"

// Metrics instruments the chat core. A nil *Metrics is valid and records
// nothing, so components can be built without a registry.
type Metrics struct {
	pageFetches      *prometheus.CounterVec
	pageLatency      *prometheus.HistogramVec
	staleResponses   prometheus.Counter
	realtimeMessages *prometheus.CounterVec
	connectAttempts  *prometheus.CounterVec
	connectionState  prometheus.Gauge
	subscriptions    prometheus.Gauge
	sends            *prometheus.CounterVec
	unread           prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_fetches_total",
			Help:      "History page fetches by kind (initial, backfill, auto_backfill, catch_up) and outcome.",
		}, []string{"kind", "outcome"}),
		pageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_fetch_duration_seconds",
			Help:      "Latency of history page fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Async completions discarded because the conversation changed.",
		}),
		realtimeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_messages_total",
			Help:      "Pushed messages by outcome (appended, duplicate).",
		}, []string{"outcome"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_connect_attempts_total",
			Help:      "Realtime dial attempts by driver and outcome.",
		}, []string{"driver", "outcome"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_subscriptions",
			Help:      "Active topic subscriptions.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Outgoing messages by outcome.",
		}, []string{"outcome"}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unread_while_scrolled_up",
			Help:      "Messages received while the viewer was reading history.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.pageFetches,
			m.pageLatency,
			m.staleResponses,
			m.realtimeMessages,
			m.connectAttempts,
			m.connectionState,
			m.subscriptions,
			m.sends,
			m.unread,
		)
	}
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObservePageFetch(kind string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.pageFetches.WithLabelValues(kind, outcome(err)).Inc()
	m.pageLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

func (m *Metrics) StaleResponse() {
	if m == nil {
		return
	}
	m.staleResponses.Inc()
}

func (m *Metrics) RealtimeMessage(appended bool) {
	if m == nil {
		return
	}
	if appended {
		m.realtimeMessages.WithLabelValues("appended").Inc()
		return
	}
	m.realtimeMessages.WithLabelValues("duplicate").Inc()
}

func (m *Metrics) ConnectAttempt(driver string, err error) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(driver, outcome(err)).Inc()
}

func (m *Metrics) ConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

func (m *Metrics) Subscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *Metrics) Send(err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) Unread(n int) {
	if m == nil {
		return
	}
	m.unread.Set(float64(n))
}

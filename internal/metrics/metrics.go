// Package metrics holds the Prometheus instruments for the delivery core.
// All methods are safe on a nil *Metrics, so services can run without a
// registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PassesTotal       *prometheus.CounterVec
	PassDuration      *prometheus.HistogramVec
	MessagesSent      prometheus.Counter
	MessagesFailed    *prometheus.CounterVec
	ClaimsLost        prometheus.Counter
	LinksRewritten    prometheus.Counter
	FollowUpsQueued   prometheus.Counter
	RepliesDetected   prometheus.Counter
	TrackingHits      *prometheus.CounterVec
	TokenRefreshes    *prometheus.CounterVec
	MessagesRecovered prometheus.Counter
	MessagesPurged    prometheus.Counter
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PassesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_passes_total",
			Help: "Dispatch and scheduling passes by kind and result",
		}, []string{"kind", "result"}),
		PassDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outreach_pass_duration_seconds",
			Help:    "Wall-clock duration of a pass, pacing sleeps included",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"kind"}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_messages_sent_total",
			Help: "Messages accepted by the mail transport",
		}),
		MessagesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_messages_failed_total",
			Help: "Messages marked failed, by reason",
		}, []string{"reason"}),
		ClaimsLost: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_claims_lost_total",
			Help: "Claims that lost the race to another dispatcher",
		}),
		LinksRewritten: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_links_rewritten_total",
			Help: "Hyperlinks rewritten for click tracking",
		}),
		FollowUpsQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_followups_enqueued_total",
			Help: "Follow-up messages enqueued by the scheduler",
		}),
		RepliesDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_replies_detected_total",
			Help: "New replies recorded on leads",
		}),
		TrackingHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_tracking_hits_total",
			Help: "Tracking endpoint hits by kind and whether recording succeeded",
		}, []string{"kind", "recorded"}),
		TokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_token_refreshes_total",
			Help: "Mailbox credential refreshes by result",
		}, []string{"result"}),
		MessagesRecovered: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_messages_recovered_total",
			Help: "Messages stuck in processing that were marked failed",
		}),
		MessagesPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_messages_purged_total",
			Help: "Failed messages removed by retention cleanup",
		}),
	}
}

// ObservePass records one finished pass.
func (m *Metrics) ObservePass(kind string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PassesTotal.WithLabelValues(kind, result).Inc()
	m.PassDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// Sent records a successful send and how many links it carried.
func (m *Metrics) Sent(links int) {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
	m.LinksRewritten.Add(float64(links))
}

// Failed records a message marked failed.
func (m *Metrics) Failed(reason string) {
	if m == nil {
		return
	}
	m.MessagesFailed.WithLabelValues(reason).Inc()
}

// ClaimLost records a lost claim race.
func (m *Metrics) ClaimLost() {
	if m == nil {
		return
	}
	m.ClaimsLost.Inc()
}

// FollowUpQueued records an enqueued follow-up.
func (m *Metrics) FollowUpQueued() {
	if m == nil {
		return
	}
	m.FollowUpsQueued.Inc()
}

// ReplyDetected records a newly recorded reply.
func (m *Metrics) ReplyDetected() {
	if m == nil {
		return
	}
	m.RepliesDetected.Inc()
}

// TrackingHit records a tracking endpoint hit.
func (m *Metrics) TrackingHit(kind string, recorded bool) {
	if m == nil {
		return
	}
	r := "false"
	if recorded {
		r = "true"
	}
	m.TrackingHits.WithLabelValues(kind, r).Inc()
}

// TokenRefresh records a credential refresh attempt.
func (m *Metrics) TokenRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// Recovered records messages failed by stuck-processing recovery.
func (m *Metrics) Recovered(n int64) {
	if m == nil {
		return
	}
	m.MessagesRecovered.Add(float64(n))
}

// Purged records messages removed by retention cleanup.
func (m *Metrics) Purged(n int64) {
	if m == nil {
		return
	}
	m.MessagesPurged.Add(float64(n))
}

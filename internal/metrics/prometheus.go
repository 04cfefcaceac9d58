package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Metrics groups the session and match counters. A nil *Metrics records nothing.
type Metrics struct {
	SignInsTotal          *prometheus.CounterVec
	RegistrationsTotal    *prometheus.CounterVec
	SignOutsTotal         prometheus.Counter
	ResumesTotal          *prometheus.CounterVec
	PushEventsTotal       *prometheus.CounterVec
	SnapshotsEmittedTotal prometheus.Counter
	LookupFailuresTotal   prometheus.Counter
	ActiveSubscriptions   prometheus.Gauge
}

// InitCustomMetrics creates the datelink metrics and registers them with reg.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignInsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datelink_sign_ins_total",
			Help: "Total number of credential sign-ins by outcome.",
		}, []string{"outcome"}),
		RegistrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datelink_registrations_total",
			Help: "Total number of registrations by outcome.",
		}, []string{"outcome"}),
		SignOutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datelink_sign_outs_total",
			Help: "Total number of sign-outs.",
		}),
		ResumesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datelink_session_resumes_total",
			Help: "Total number of session resume attempts by result.",
		}, []string{"result"}),
		PushEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datelink_provider_push_events_total",
			Help: "Identity provider change-feed events by kind.",
		}, []string{"kind"}),
		SnapshotsEmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datelink_match_snapshots_emitted_total",
			Help: "Total number of match snapshots published.",
		}),
		LookupFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datelink_match_lookup_failures_total",
			Help: "Total number of failed counterpart profile lookups.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datelink_match_subscriptions_active",
			Help: "Current number of live match subscriptions.",
		}),
	}

	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return m
	}

	for _, c := range []prometheus.Collector{
		m.SignInsTotal, m.RegistrationsTotal, m.SignOutsTotal, m.ResumesTotal,
		m.PushEventsTotal, m.SnapshotsEmittedTotal, m.LookupFailuresTotal, m.ActiveSubscriptions,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")

	return m
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) SignIn(err error) {
	if m == nil {
		return
	}
	m.SignInsTotal.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) Registration(err error) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) SignOut() {
	if m == nil {
		return
	}
	m.SignOutsTotal.Inc()
}

// Resume records a resume attempt; found tells whether a session record existed.
func (m *Metrics) Resume(found bool) {
	if m == nil {
		return
	}
	result := "absent"
	if found {
		result = "provisional"
	}
	m.ResumesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) PushEvent(kind string) {
	if m == nil {
		return
	}
	m.PushEventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) SnapshotEmitted() {
	if m == nil {
		return
	}
	m.SnapshotsEmittedTotal.Inc()
}

func (m *Metrics) LookupFailed() {
	if m == nil {
		return
	}
	m.LookupFailuresTotal.Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Dec()
}

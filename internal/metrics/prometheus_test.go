package metrics_test

import (
	"errors"
	"testing"

	"github.com/pilab-dev/datelink/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInitCustomMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.InitCustomMetrics(reg)

	m.SignIn(nil)
	m.SignIn(errors.New("denied"))
	m.SignIn(errors.New("denied"))
	m.SubscriptionOpened()
	m.SubscriptionOpened()
	m.SubscriptionClosed()

	assert.InDelta(t, 1, testutil.ToFloat64(m.SignInsTotal.WithLabelValues("success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.SignInsTotal.WithLabelValues("failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveSubscriptions), 0)

	count, err := testutil.GatherAndCount(reg, "datelink_sign_ins_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.SignIn(nil)
		m.Resume(true)
		m.LookupFailed()
		m.SubscriptionClosed()
	})
}

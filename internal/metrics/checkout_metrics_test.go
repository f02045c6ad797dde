package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestCheckoutMetrics_RecordCheckoutLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewCheckoutMetricsWithRegisterer(registry)

	m.RecordCheckoutStarted()

	var gauge dto.Metric
	require.NoError(t, m.inFlight.Write(&gauge))
	require.Equal(t, float64(1), gauge.GetGauge().GetValue())

	m.RecordCheckoutFinished("success", 20*time.Millisecond)

	require.NoError(t, m.inFlight.Write(&gauge))
	require.Equal(t, float64(0), gauge.GetGauge().GetValue())
	require.Equal(t, float64(1), counterValue(t, m.checkouts.WithLabelValues("success")))

	var hist dto.Metric
	require.NoError(t, m.checkoutDuration.Write(&hist))
	require.Equal(t, uint64(1), hist.GetHistogram().GetSampleCount())
	require.InDelta(t, 0.02, hist.GetHistogram().GetSampleSum(), 0.0001)
}

func TestCheckoutMetrics_BusinessCounters(t *testing.T) {
	m := NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOrderCreated(18000, 2000)
	m.RecordOrderCreated(500, 0)
	m.RecordCouponMinted()
	m.RecordCouponRedeemed()
	m.RecordCartAdd()
	m.RecordCartAdd()

	require.Equal(t, float64(2), counterValue(t, m.ordersCreated))
	require.Equal(t, float64(18500), counterValue(t, m.revenueMinor))
	require.Equal(t, float64(2000), counterValue(t, m.discountsMinor))
	require.Equal(t, float64(1), counterValue(t, m.couponsMinted))
	require.Equal(t, float64(1), counterValue(t, m.couponsRedeemed))
	require.Equal(t, float64(2), counterValue(t, m.cartAdds))
}

func TestCheckoutMetrics_ReusesAlreadyRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()

	first := NewCheckoutMetricsWithRegisterer(registry)
	second := NewCheckoutMetricsWithRegisterer(registry)

	first.RecordCouponMinted()
	second.RecordCouponMinted()

	require.Equal(t, float64(2), counterValue(t, first.couponsMinted))
	require.Equal(t, float64(2), counterValue(t, second.couponsMinted))
}

func TestCheckoutMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *CheckoutMetrics
	require.NotPanics(t, func() {
		m.RecordCheckoutStarted()
		m.RecordCheckoutFinished("success", time.Millisecond)
		m.RecordOrderCreated(1, 1)
		m.RecordCouponMinted()
		m.RecordCouponRedeemed()
		m.RecordCartAdd()
	})
}

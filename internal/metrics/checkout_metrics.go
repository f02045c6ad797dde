package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики корзины, checkout и купонов.
// Методы безопасно вызывать на nil-получателе: сервис без метрик просто ничего не пишет.
type CheckoutMetrics struct {
	// Результаты checkout по категориям ошибок
	checkouts *prometheus.CounterVec

	// Счётчики бизнес-событий
	ordersCreated   prometheus.Counter
	revenueMinor    prometheus.Counter
	discountsMinor  prometheus.Counter
	couponsMinted   prometheus.Counter
	couponsRedeemed prometheus.Counter
	cartAdds        prometheus.Counter

	// Время выполнения checkout
	checkoutDuration prometheus.Histogram

	// Gauge для checkout в процессе
	inFlight prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в заданном registerer (удобно для тестов).
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_checkouts_total",
			Help: "Total number of checkout attempts grouped by result.",
		}, []string{"result"}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_created_total",
			Help: "Total number of committed orders",
		}),
		revenueMinor: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_revenue_minor_total",
			Help: "Sum of final order amounts in minor currency units",
		}),
		discountsMinor: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_discounts_given_minor_total",
			Help: "Sum of applied discounts in minor currency units",
		}),
		couponsMinted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_coupons_minted_total",
			Help: "Total number of discount codes minted for nth orders",
		}),
		couponsRedeemed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_coupons_redeemed_total",
			Help: "Total number of discount codes redeemed at checkout",
		}),
		cartAdds: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_cart_items_added_total",
			Help: "Total number of add-to-cart operations",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shop_checkout_duration_seconds",
			Help:    "Duration of checkout operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_checkouts_in_flight",
			Help: "Number of checkout operations currently in progress",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCheckoutStarted увеличивает количество checkout в процессе.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RecordCheckoutFinished фиксирует результат и длительность checkout.
func (m *CheckoutMetrics) RecordCheckoutFinished(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordOrderCreated учитывает заказ, выручку и выданную скидку.
func (m *CheckoutMetrics) RecordOrderCreated(finalMinor, discountMinor int64) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.revenueMinor.Add(float64(finalMinor))
	if discountMinor > 0 {
		m.discountsMinor.Add(float64(discountMinor))
	}
}

// RecordCouponMinted увеличивает счётчик выпущенных купонов.
func (m *CheckoutMetrics) RecordCouponMinted() {
	if m == nil {
		return
	}
	m.couponsMinted.Inc()
}

// RecordCouponRedeemed увеличивает счётчик погашенных купонов.
func (m *CheckoutMetrics) RecordCouponRedeemed() {
	if m == nil {
		return
	}
	m.couponsRedeemed.Inc()
}

// RecordCartAdd увеличивает счётчик добавлений в корзину.
func (m *CheckoutMetrics) RecordCartAdd() {
	if m == nil {
		return
	}
	m.cartAdds.Inc()
}

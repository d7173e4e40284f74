package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingPassTotal counts pricing passes by outcome.
	PricingPassTotal *prometheus.CounterVec
	// PricingPassDuration records pricing pass latency in milliseconds.
	PricingPassDuration *prometheus.HistogramVec
	// ReservationTotal counts usage-ledger reservation outcomes.
	ReservationTotal *prometheus.CounterVec
	// RatesFetchTotal counts exchange-rate lookups by source and outcome.
	RatesFetchTotal *prometheus.CounterVec
	// ReservationsSwept counts expired reservations released by the sweeper.
	ReservationsSwept prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific
// Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingPassTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_pass_total",
			Help:      "Count of pricing passes by outcome.",
		}, []string{"result"})
		PricingPassDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_pass_duration_ms",
			Help:      "Latency of pricing passes in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"result"})
		ReservationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_reservation_total",
			Help:      "Count of usage-ledger reservation outcomes.",
		}, []string{"op", "result"})
		RatesFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rates_fetch_total",
			Help:      "Count of exchange-rate lookups by source and outcome.",
		}, []string{"source", "result"})
		ReservationsSwept = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_reservations_swept_total",
			Help:      "Expired reservations released by the background sweep.",
		})

		mustRegisterCollector(reg, PricingPassTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricingPassTotal = v
			}
		})
		mustRegisterCollector(reg, PricingPassDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				PricingPassDuration = v
			}
		})
		mustRegisterCollector(reg, ReservationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReservationTotal = v
			}
		})
		mustRegisterCollector(reg, RatesFetchTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RatesFetchTotal = v
			}
		})
		mustRegisterCollector(reg, ReservationsSwept, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ReservationsSwept = v
			}
		})
	})
}

// ObservePricingPass records the outcome and latency of one pricing pass.
// Safe to call before registration; unregistered collectors are skipped.
func ObservePricingPass(result string, d time.Duration) {
	if PricingPassTotal != nil {
		PricingPassTotal.WithLabelValues(result).Inc()
	}
	if PricingPassDuration != nil && d > 0 {
		PricingPassDuration.WithLabelValues(result).Observe(DurationMillis(d))
	}
}

// ObserveReservation records a ledger operation outcome.
func ObserveReservation(op, result string) {
	if ReservationTotal != nil {
		ReservationTotal.WithLabelValues(op, result).Inc()
	}
}

// ObserveReservationsSwept records expired reservations released by the sweep.
func ObserveReservationsSwept(n int) {
	if ReservationsSwept != nil && n > 0 {
		ReservationsSwept.Add(float64(n))
	}
}

// ObserveRatesFetch records an exchange-rate lookup outcome.
func ObserveRatesFetch(source, result string) {
	if RatesFetchTotal != nil {
		RatesFetchTotal.WithLabelValues(source, result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

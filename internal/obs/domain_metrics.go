package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentAuthTotal counts authorization attempts by outcome
	// (authorized, reused, declined, error).
	PaymentAuthTotal *prometheus.CounterVec
	// PaymentCaptureTotal counts capture attempts by outcome.
	PaymentCaptureTotal *prometheus.CounterVec
	// PayoutBatchTotal counts payout scheduler batch runs by outcome
	// (completed, partial, skipped, error).
	PayoutBatchTotal *prometheus.CounterVec
	// PayoutTransferTotal counts individual payout transfers by outcome.
	PayoutTransferTotal *prometheus.CounterVec
	// PayoutBelowMinimumTotal counts payouts rolled forward because the net
	// amount fell under the configured minimum.
	PayoutBelowMinimumTotal prometheus.Counter
	// PayoutBatchDuration records payout batch wall time in milliseconds.
	PayoutBatchDuration prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentAuthTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_authorizations_total",
			Help:      "Count of payment authorization attempts by outcome.",
		}, []string{"result"})
		PaymentCaptureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_captures_total",
			Help:      "Count of payment capture attempts by outcome.",
		}, []string{"result"})
		PayoutBatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_batches_total",
			Help:      "Count of payout scheduler batch runs by outcome.",
		}, []string{"result"})
		PayoutTransferTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_transfers_total",
			Help:      "Count of individual payout transfer attempts by outcome.",
		}, []string{"result"})
		PayoutBelowMinimumTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_below_minimum_total",
			Help:      "Number of payouts deferred because the net amount was below the minimum.",
		})
		PayoutBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payout_batch_duration_ms",
			Help:      "Payout batch processing wall time in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		})

		mustRegisterCollector(reg, PaymentAuthTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentAuthTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentCaptureTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentCaptureTotal = v
			}
		})
		mustRegisterCollector(reg, PayoutBatchTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PayoutBatchTotal = v
			}
		})
		mustRegisterCollector(reg, PayoutTransferTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PayoutTransferTotal = v
			}
		})
		mustRegisterCollector(reg, PayoutBelowMinimumTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				PayoutBelowMinimumTotal = v
			}
		})
		mustRegisterCollector(reg, PayoutBatchDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				PayoutBatchDuration = v
			}
		})
	})
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

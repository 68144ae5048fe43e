package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "marketplace_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	invoiceTransitions *prometheus.CounterVec

	offersCreated  prometheus.Counter
	offersResolved *prometheus.CounterVec

	acceptanceTotal   *prometheus.CounterVec
	acceptanceLatency *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec

	outboxDispatchTotal *prometheus.CounterVec
	outboxDeadRows      prometheus.Gauge
	expiredOffersSwept  prometheus.Counter
)

// Init registers marketplace metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		invoiceTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_transitions_total",
				Help: "Total invoice status transitions by target status",
			},
			[]string{"to"},
		)

		offersCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "offers_created_total",
				Help: "Total offers placed by lenders",
			},
		)
		offersResolved = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "offers_resolved_total",
				Help: "Total offers resolved by outcome",
			},
			[]string{"outcome"},
		)

		acceptanceTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "offer_acceptance_total",
				Help: "Total offer acceptance attempts by result",
			},
			[]string{"result"},
		)
		acceptanceLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "offer_acceptance_latency_seconds",
				Help:    "Offer acceptance latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_lookups_total",
				Help: "Total read-model cache lookups by view and outcome",
			},
			[]string{"view", "outcome"},
		)

		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Total outbox dispatch attempts by result",
			},
			[]string{"result"},
		)
		outboxDeadRows = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "outbox_dead_rows",
				Help: "Outbox notifications that exhausted their delivery attempts",
			},
		)
		expiredOffersSwept = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "expired_offers_swept_total",
				Help: "Total pending offers flipped to expired by the sweeper",
			},
		)

		prometheus.MustRegister(
			invoiceTransitions,
			offersCreated,
			offersResolved,
			acceptanceTotal,
			acceptanceLatency,
			cacheLookups,
			outboxDispatchTotal,
			outboxDeadRows,
			expiredOffersSwept,
		)
	})
}

func IncInvoiceTransition(to string) {
	if invoiceTransitions != nil {
		invoiceTransitions.WithLabelValues(to).Inc()
	}
}

func IncOfferCreated() {
	if offersCreated != nil {
		offersCreated.Inc()
	}
}

func IncOfferResolved(outcome string) {
	if offersResolved != nil {
		offersResolved.WithLabelValues(outcome).Inc()
	}
}

// ObserveAcceptance records one acceptance attempt and its duration.
func ObserveAcceptance(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if acceptanceTotal != nil {
		acceptanceTotal.WithLabelValues(result).Inc()
	}
	if acceptanceLatency != nil {
		acceptanceLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

func IncCacheLookup(view string, hit bool) {
	if cacheLookups == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookups.WithLabelValues(view, outcome).Inc()
}

func IncOutboxDispatch(result string) {
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
}

func SetOutboxDeadRows(n int) {
	if outboxDeadRows != nil {
		outboxDeadRows.Set(float64(n))
	}
}

func AddExpiredOffersSwept(n int) {
	if expiredOffersSwept != nil && n > 0 {
		expiredOffersSwept.Add(float64(n))
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

package certificate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	certificateCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conubium_certificate_check_duration_seconds",
		Help:    "Duration of certificate verification lookups",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	certificateChecksValid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conubium_certificate_checks_valid_total",
		Help: "Total number of certificate checks that verified",
	})
	certificateChecksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conubium_certificate_checks_rejected_total",
		Help: "Total number of certificate checks answered false",
	})
	statusCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conubium_status_cache_hits_total",
		Help: "Total number of status lookups served from cache",
	})
	statusCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conubium_status_cache_misses_total",
		Help: "Total number of status lookups that fell through to the store",
	})
	attestationsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conubium_status_attestations_issued_total",
		Help: "Total number of signed status attestations issued",
	})
)

func observeCertificateCheck(start time.Time) {
	certificateCheckDuration.Observe(time.Since(start).Seconds())
}

func countCertificateCheck(valid bool) {
	if valid {
		certificateChecksValid.Inc()
		return
	}
	certificateChecksRejected.Inc()
}

func countStatusCacheHit() {
	statusCacheHits.Inc()
}

func countStatusCacheMiss() {
	statusCacheMisses.Inc()
}

func countAttestationIssued() {
	attestationsIssued.Inc()
}

// Package metrics exposes prometheus counters for the cache engine and the
// authenticated pipeline. A nil *Recorder is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "campus_client"

// Refresh outcomes.
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
	RefreshRotated = "rotated"
	RefreshNoToken = "no_token"
	RefreshEarly   = "proactive"
)

// Recorder groups the client's counters.
type Recorder struct {
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	requests      *prometheus.CounterVec
}

// New creates the counters and registers them on reg. A nil reg leaves them
// unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Subscriptions served from an existing entry without a fetch.",
		}, []string{"domain"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Subscriptions that required a fetch.",
		}, []string{"domain"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fetches_total",
			Help:      "Fetches executed by the cache engine, by result.",
		}, []string{"domain", "result"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Entries marked stale by tag invalidation.",
		}, []string{"domain", "tag_type"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Token refresh decisions taken by the pipeline, by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Requests executed by the pipeline, by status class.",
		}, []string{"class"}),
	}
	if reg != nil {
		reg.MustRegister(r.cacheHits, r.cacheMisses, r.fetches, r.invalidations, r.refreshes, r.requests)
	}
	return r
}

// CacheHit records a subscription served without a fetch.
func (r *Recorder) CacheHit(domain string) {
	if r == nil {
		return
	}
	r.cacheHits.WithLabelValues(domain).Inc()
}

// CacheMiss records a subscription that started a fetch.
func (r *Recorder) CacheMiss(domain string) {
	if r == nil {
		return
	}
	r.cacheMisses.WithLabelValues(domain).Inc()
}

// Fetch records one fetch result.
func (r *Recorder) Fetch(domain string, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.fetches.WithLabelValues(domain, result).Inc()
}

// Invalidation records entries marked stale by a tag of tagType.
func (r *Recorder) Invalidation(domain, tagType string, entries int) {
	if r == nil || entries == 0 {
		return
	}
	r.invalidations.WithLabelValues(domain, tagType).Add(float64(entries))
}

// Refresh records a token refresh outcome.
func (r *Recorder) Refresh(outcome string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(outcome).Inc()
}

// Request records a pipeline result class such as "2xx", "401" or "transport".
func (r *Recorder) Request(class string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(class).Inc()
}

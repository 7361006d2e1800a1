package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ControlPlaneMetrics captures health signals for the tenant control plane.
type ControlPlaneMetrics struct {
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	poolsOpen         prometheus.Gauge
	liveConnections   prometheus.Gauge
	poolEvictions     prometheus.Counter
	poolExhaustions   prometheus.Counter
	provisionDuration *prometheus.HistogramVec
	jobsTotal         *prometheus.CounterVec
	quotaDenied       *prometheus.CounterVec
	resolverFailures  *prometheus.CounterVec
}

var (
	controlPlaneOnce    sync.Once
	controlPlaneMetrics *ControlPlaneMetrics
)

// ControlPlane returns the singleton control-plane metrics registry.
func ControlPlane() *ControlPlaneMetrics {
	controlPlaneOnce.Do(func() {
		controlPlaneMetrics = newControlPlaneMetrics(prometheus.DefaultRegisterer)
	})
	return controlPlaneMetrics
}

// ResetControlPlaneMetricsForTest resets the singleton for tests.
func ResetControlPlaneMetricsForTest() {
	controlPlaneOnce = sync.Once{}
	controlPlaneMetrics = nil
}

func newControlPlaneMetrics(registerer prometheus.Registerer) *ControlPlaneMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := func(c prometheus.Collector) prometheus.Collector {
		if err := registerer.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
		}
		return c
	}

	m := &ControlPlaneMetrics{}
	m.cacheHits = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantplane_cache_hits_total",
		Help: "Tenant snapshot cache hits.",
	})).(prometheus.Counter)
	m.cacheMisses = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantplane_cache_misses_total",
		Help: "Tenant snapshot cache misses, including stale entries.",
	})).(prometheus.Counter)
	m.poolsOpen = factory(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tenantplane_pools_open",
		Help: "Number of live tenant connection pools.",
	})).(prometheus.Gauge)
	m.liveConnections = factory(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tenantplane_pool_connections",
		Help: "Sum of live connections across all tenant pools.",
	})).(prometheus.Gauge)
	m.poolEvictions = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantplane_pool_evictions_total",
		Help: "Idle tenant pools closed by the sweeper.",
	})).(prometheus.Counter)
	m.poolExhaustions = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantplane_pool_exhaustions_total",
		Help: "Pool creations rejected by the global connection ceiling.",
	})).(prometheus.Counter)
	m.provisionDuration = factory(prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantplane_provision_duration_seconds",
		Help:    "Tenant provisioning duration by outcome.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"outcome"})).(*prometheus.HistogramVec)
	m.jobsTotal = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantplane_provisioning_jobs_total",
		Help: "Provisioning jobs by terminal status.",
	}, []string{"status"})).(*prometheus.CounterVec)
	m.quotaDenied = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantplane_quota_denied_total",
		Help: "Quota checks denied by resource.",
	}, []string{"resource"})).(*prometheus.CounterVec)
	m.resolverFailures = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantplane_resolver_failures_total",
		Help: "Tenant resolution failures by reason.",
	}, []string{"reason"})).(*prometheus.CounterVec)

	return m
}

func (m *ControlPlaneMetrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *ControlPlaneMetrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *ControlPlaneMetrics) SetPoolStats(open int, connections int) {
	if m == nil {
		return
	}
	m.poolsOpen.Set(float64(open))
	m.liveConnections.Set(float64(connections))
}

func (m *ControlPlaneMetrics) IncPoolEviction() {
	if m == nil {
		return
	}
	m.poolEvictions.Inc()
}

func (m *ControlPlaneMetrics) IncPoolExhausted() {
	if m == nil {
		return
	}
	m.poolExhaustions.Inc()
}

func (m *ControlPlaneMetrics) ObserveProvision(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.provisionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *ControlPlaneMetrics) IncJob(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

func (m *ControlPlaneMetrics) IncQuotaDenied(resource string) {
	if m == nil {
		return
	}
	m.quotaDenied.WithLabelValues(resource).Inc()
}

func (m *ControlPlaneMetrics) IncResolverFailure(reason string) {
	if m == nil {
		return
	}
	m.resolverFailures.WithLabelValues(reason).Inc()
}

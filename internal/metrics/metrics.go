package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so every process or test gets fresh
// metrics. All record methods are safe on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ProviderRetries  *prometheus.CounterVec
	Fallbacks        prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	Sessions         *prometheus.CounterVec
	Healing          *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider attempt duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"provider"}),
		ProviderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Backoff retries by provider and error kind",
		}, []string{"provider", "kind"}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallbacks_total",
			Help:      "Times a request moved on to the next provider",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Research results served from cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Research queries that missed the cache",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "research_sessions_total",
			Help:      "Routed research queries by strategy and status",
		}, []string{"strategy", "status"}),
		Healing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_healing_total",
			Help:      "Self-healing remediations by strategy",
		}, []string{"strategy"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	registry.MustRegister(
		c.ProviderCalls,
		c.ProviderDuration,
		c.ProviderRetries,
		c.Fallbacks,
		c.CacheHits,
		c.CacheMisses,
		c.Sessions,
		c.Healing,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveProviderCall(provider string, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	c.ProviderDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (c *Collector) IncRetry(provider string, kind string) {
	if c == nil {
		return
	}
	c.ProviderRetries.WithLabelValues(provider, kind).Inc()
}

func (c *Collector) IncFallback() {
	if c == nil {
		return
	}
	c.Fallbacks.Inc()
}

func (c *Collector) ObserveCache(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.CacheHits.Inc()
		return
	}
	c.CacheMisses.Inc()
}

func (c *Collector) ObserveSession(strategy string, status string) {
	if c == nil {
		return
	}
	c.Sessions.WithLabelValues(strategy, status).Inc()
}

func (c *Collector) IncHealing(strategy string) {
	if c == nil {
		return
	}
	c.Healing.WithLabelValues(strategy).Inc()
}

func (c *Collector) ObserveHTTP(method string, route string, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prom implements Metrics on a dedicated Prometheus registry.
type Prom struct {
	registry *prometheus.Registry

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	stockConflicts prometheus.Counter
	ordersCreated  prometheus.Counter
	webhookEvents  *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

func NewProm(namespace string) *Prom {
	reg := prometheus.NewRegistry()

	p := &Prom{
		registry: reg,
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by entity kind.",
		}, []string{"entity"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by entity kind.",
		}, []string{"entity"}),
		stockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_conflicts_total",
			Help:      "Conditional stock writes lost to a concurrent writer.",
		}),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders persisted as pending.",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by processing result.",
		}, []string{"result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		p.cacheHits, p.cacheMisses, p.stockConflicts,
		p.ordersCreated, p.webhookEvents, p.httpDuration,
	)
	return p
}

func (p *Prom) IncCacheHit(entity string)  { p.cacheHits.WithLabelValues(entity).Inc() }
func (p *Prom) IncCacheMiss(entity string) { p.cacheMisses.WithLabelValues(entity).Inc() }
func (p *Prom) IncStockConflict()          { p.stockConflicts.Inc() }
func (p *Prom) IncOrderCreated()           { p.ordersCreated.Inc() }

func (p *Prom) IncWebhookEvent(result string) { p.webhookEvents.WithLabelValues(result).Inc() }

func (p *Prom) ObserveHTTP(method, route string, status int, durMs float64) {
	p.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(durMs)
}

// Handler exposes the registry for the /metrics route.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cryptodesk"

// Collector owns a private registry with the service's metrics
type Collector struct {
	registry *prometheus.Registry

	ordersExecuted   *prometheus.CounterVec
	ordersRejected   *prometheus.CounterVec
	executionLatency prometheus.Histogram
	fundsReviewed    *prometheus.CounterVec
	quoteUpdates     *prometheus.CounterVec
	streamReconnects prometheus.Counter
	openLimitOrders  prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewCollector registers every metric plus the Go runtime collectors
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		ordersExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_executed_total",
			Help:      "Orders filled, by side and order type",
		}, []string{"side", "type"}),
		ordersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders refused, by reason",
		}, []string{"reason"}),
		executionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_execution_duration_seconds",
			Help:      "Time taken to execute an order including the price lookup",
			Buckets:   prometheus.DefBuckets,
		}),
		fundsReviewed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funds_requests_reviewed_total",
			Help:      "Deposit and withdrawal requests reviewed by admins",
		}, []string{"type", "outcome"}),
		quoteUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_updates_total",
			Help:      "Ticker updates received from the market stream",
		}, []string{"symbol"}),
		streamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_stream_reconnects_total",
			Help:      "Reconnections to the market stream",
		}),
		openLimitOrders: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_limit_orders",
			Help:      "Limit orders resting in the book",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (c *Collector) OrderExecuted(side, orderType string, took time.Duration) {
	c.ordersExecuted.WithLabelValues(side, orderType).Inc()
	c.executionLatency.Observe(took.Seconds())
}

func (c *Collector) OrderRejected(reason string) {
	c.ordersRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) SetOpenLimitOrders(n int) {
	c.openLimitOrders.Set(float64(n))
}

func (c *Collector) FundsReviewed(requestType, outcome string) {
	c.fundsReviewed.WithLabelValues(requestType, outcome).Inc()
}

func (c *Collector) QuoteReceived(symbol string) {
	c.quoteUpdates.WithLabelValues(symbol).Inc()
}

func (c *Collector) StreamReconnected() {
	c.streamReconnects.Inc()
}

func (c *Collector) HTTPRequest(method, route string, status int, took time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

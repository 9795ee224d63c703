// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petrijr/flowstate/pkg/api"
)

// Collector is an api.Observer that records engine callbacks as Prometheus
// counters. It also records HTTP requests served by the API.
type Collector struct {
	registry *prometheus.Registry

	updatesApplied    *prometheus.CounterVec
	staleUpdates      *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	flowSwitches      prometheus.Counter
	currentFlow       *prometheus.GaugeVec
	flowsDeleted      prometheus.Counter
	catalogFetches    *prometheus.CounterVec
	catalogModels     prometheus.Gauge
	persistenceErrors *prometheus.CounterVec
	subscriberPanics  prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ api.Observer = (*Collector)(nil)

// NewCollector registers all metrics under namespace with reg. A nil reg
// gets a fresh registry, so tests can create as many collectors as they like.
func NewCollector(namespace string, reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		updatesApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_applied_total",
			Help:      "Node state changes applied by the engine, by resulting status.",
		}, []string{"status"}),

		staleUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_updates_total",
			Help:      "Deltas ignored because they were older than the stored state.",
		}, []string{"flow"}),

		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Progress events that could not be normalized.",
		}, []string{"flow"}),

		flowSwitches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_switches_total",
			Help:      "Changes of the current flow.",
		}),

		currentFlow: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_flow",
			Help:      "1 for the flow currently selected, 0 for flows previously selected.",
		}, []string{"flow"}),

		flowsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_deleted_total",
			Help:      "Flow partitions destroyed.",
		}),

		catalogFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_fetches_total",
			Help:      "Model catalog fetch attempts, by outcome.",
		}, []string{"outcome"}),

		catalogModels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_models",
			Help:      "Models returned by the last successful catalog fetch.",
		}),

		persistenceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Failed writes to the durable store, by operation.",
		}, []string{"op"}),

		subscriberPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_panics_total",
			Help:      "Subscriber callbacks that panicked.",
		}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordHTTPRequest records one served request. route is the matched route
// pattern, not the raw path.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) OnUpdateApplied(ctx context.Context, view api.NodeView) {
	c.updatesApplied.WithLabelValues(string(view.State.Status)).Inc()
}

func (c *Collector) OnStaleUpdate(ctx context.Context, key api.Key, stored, incoming int64) {
	c.staleUpdates.WithLabelValues(string(key.Flow)).Inc()
}

func (c *Collector) OnEventDropped(ctx context.Context, flow api.FlowID, ev api.ProgressEvent, err error) {
	c.eventsDropped.WithLabelValues(string(flow)).Inc()
}

func (c *Collector) OnFlowSwitched(ctx context.Context, from, to api.FlowID) {
	c.flowSwitches.Inc()
	c.currentFlow.WithLabelValues(string(from)).Set(0)
	c.currentFlow.WithLabelValues(string(to)).Set(1)
}

func (c *Collector) OnFlowDeleted(ctx context.Context, flow api.FlowID) {
	c.flowsDeleted.Inc()
	c.currentFlow.DeleteLabelValues(string(flow))
	c.staleUpdates.DeleteLabelValues(string(flow))
	c.eventsDropped.DeleteLabelValues(string(flow))
}

func (c *Collector) OnCatalogFetch(ctx context.Context, attempt int, models int, err error) {
	switch {
	case err != nil:
		c.catalogFetches.WithLabelValues("error").Inc()
	case models == 0:
		c.catalogFetches.WithLabelValues("empty").Inc()
	default:
		c.catalogFetches.WithLabelValues("ok").Inc()
		c.catalogModels.Set(float64(models))
	}
}

func (c *Collector) OnPersistenceError(ctx context.Context, flow api.FlowID, op string, err error) {
	c.persistenceErrors.WithLabelValues(op).Inc()
}

func (c *Collector) OnSubscriberPanic(ctx context.Context, key api.Key, recovered any) {
	c.subscriberPanics.Inc()
}

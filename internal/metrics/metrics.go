package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the Prometheus instruments for the whole pipeline. A
// nil *Collector is valid and records nothing, so packages under test need
// no registry.
type Collector struct {
	// Probe metrics
	checksTotal   *prometheus.CounterVec
	checkDuration prometheus.Histogram

	// Aggregation metrics
	candidatesScraped *prometheus.CounterVec
	candidatesFound   prometheus.Gauge

	// Run results
	workingProxies *prometheus.GaugeVec
	anonymityTotal *prometheus.CounterVec
	geoLookups     *prometheus.CounterVec
	linesWritten   *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram

	// API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		checksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total number of protocol probes by outcome",
			},
			[]string{"protocol", "outcome"},
		),
		checkDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Duration of working protocol probes in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
		),
		candidatesScraped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_scraped_total",
				Help:      "Total number of candidates extracted per source",
			},
			[]string{"source"},
		),
		candidatesFound: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "candidates_found",
				Help:      "Unique candidates produced by the last aggregation",
			},
		),
		workingProxies: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "working_proxies",
				Help:      "Working proxies found by the last run",
			},
			[]string{"protocol"},
		),
		anonymityTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anonymity_total",
				Help:      "Anonymity classifications by level",
			},
			[]string{"level"},
		),
		geoLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "geo_lookups_total",
				Help:      "Geolocation lookups by result",
			},
			[]string{"status"},
		),
		linesWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_written_total",
				Help:      "Output lines appended per category",
			},
			[]string{"category"},
		),
		runsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by result",
			},
			[]string{"status"},
		),
		runDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of full pipeline runs in seconds",
				Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800},
			},
		),
		apiRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	return c
}

func (c *Collector) RecordCheck(protocol, outcome string) {
	if c == nil {
		return
	}
	c.checksTotal.WithLabelValues(protocol, outcome).Inc()
}

func (c *Collector) RecordCheckDuration(seconds float64) {
	if c == nil {
		return
	}
	c.checkDuration.Observe(seconds)
}

func (c *Collector) RecordCandidatesScraped(source string, count int) {
	if c == nil {
		return
	}
	c.candidatesScraped.WithLabelValues(source).Add(float64(count))
}

func (c *Collector) SetCandidates(count int) {
	if c == nil {
		return
	}
	c.candidatesFound.Set(float64(count))
}

func (c *Collector) SetWorkingProxies(protocol string, count int) {
	if c == nil {
		return
	}
	c.workingProxies.WithLabelValues(protocol).Set(float64(count))
}

func (c *Collector) RecordAnonymity(level string) {
	if c == nil {
		return
	}
	c.anonymityTotal.WithLabelValues(level).Inc()
}

func (c *Collector) RecordGeoLookup(status string) {
	if c == nil {
		return
	}
	c.geoLookups.WithLabelValues(status).Inc()
}

func (c *Collector) RecordLinesWritten(category string, count int) {
	if c == nil {
		return
	}
	c.linesWritten.WithLabelValues(category).Add(float64(count))
}

func (c *Collector) RecordRun(status string) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) RecordRunDuration(seconds float64) {
	if c == nil {
		return
	}
	c.runDuration.Observe(seconds)
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	if c == nil {
		return
	}
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	if c == nil {
		return
	}
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

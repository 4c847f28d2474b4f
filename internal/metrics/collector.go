package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bandobast/deployment-tracker/internal/alert"
)

// Collector holds the Prometheus metrics for the deployment tracker.
type Collector struct {
	ReportsTotal        *prometheus.CounterVec
	ReportRejections    *prometheus.CounterVec
	ReportDuration      prometheus.Histogram
	BroadcastDelivered  prometheus.Counter
	BroadcastDropped    prometheus.Counter
	Subscribers         prometheus.Gauge
	ConflictChecksTotal *prometheus.CounterVec
	ConflictsFound      prometheus.Counter
	AlertsTotal         *prometheus.CounterVec
	AlertChannelsTotal  *prometheus.CounterVec
	WorkloadScores      prometheus.Histogram
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	return &Collector{
		ReportsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployment_tracker_reports_total",
				Help: "Total status reports accepted, by classified status",
			},
			[]string{"status"},
		),
		ReportRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployment_tracker_report_rejections_total",
				Help: "Total status report submissions rejected, by reason",
			},
			[]string{"reason"},
		),
		ReportDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deployment_tracker_report_duration_seconds",
				Help:    "Status report submission latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		BroadcastDelivered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deployment_tracker_broadcast_delivered_total",
				Help: "Total report deliveries to live subscribers",
			},
		),
		BroadcastDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deployment_tracker_broadcast_dropped_total",
				Help: "Total subscribers dropped for not keeping up",
			},
		),
		Subscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "deployment_tracker_subscribers",
				Help: "Currently connected live subscribers",
			},
		),
		ConflictChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployment_tracker_conflict_checks_total",
				Help: "Total schedule conflict checks, by result",
			},
			[]string{"result"},
		),
		ConflictsFound: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deployment_tracker_conflicts_found_total",
				Help: "Total schedule conflicts detected",
			},
		),
		AlertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployment_tracker_alerts_total",
				Help: "Total alerts dispatched, by kind and outcome",
			},
			[]string{"kind", "success"},
		),
		AlertChannelsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployment_tracker_alert_channels_total",
				Help: "Total alert channel attempts, by channel and result",
			},
			[]string{"channel", "result"},
		),
		WorkloadScores: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deployment_tracker_workload_scores",
				Help:    "Distribution of computed workload scores",
				Buckets: []float64{0.1, 0.2, 0.4, 0.6, 0.8, 1.0, 1.5, 2.0},
			},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployment_tracker_http_requests_total",
				Help: "Total HTTP requests, by method, path and status code",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deployment_tracker_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// ObserveDispatch records one settled alert dispatch and its per-channel
// attempts. Implements alert.Observer.
func (c *Collector) ObserveDispatch(outcome *alert.Outcome) {
	c.AlertsTotal.WithLabelValues(string(outcome.Kind), strconv.FormatBool(outcome.Success)).Inc()
	for _, result := range outcome.Results {
		state := "failed"
		if result.Succeeded {
			state = "succeeded"
		}
		c.AlertChannelsTotal.WithLabelValues(string(result.Channel), state).Inc()
	}
}

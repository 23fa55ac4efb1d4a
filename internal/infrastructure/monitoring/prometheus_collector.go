package monitoring

import (
	"strconv"

	"livecast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.MetricsRecorder.
type PrometheusCollector struct {
	connectionsActive  prometheus.Gauge
	connectionsTotal   *prometheus.CounterVec
	disconnectsTotal   *prometheus.CounterVec
	retriesScheduled   prometheus.Counter
	retriesFired       prometheus.Counter
	retriesPending     prometheus.Gauge
	samplesDropped     prometheus.Counter
	adjustmentsTotal   *prometheus.CounterVec
	settingsTotal      *prometheus.CounterVec
	decisionsTotal     *prometheus.CounterVec
	performanceScore   prometheus.Gauge
	predictedScore     prometheus.Gauge
	scoreDistribution  prometheus.Histogram
	targetBitrate      prometheus.Gauge
	connectionBitrate  *prometheus.GaugeVec
	connectionTraffic  *prometheus.GaugeVec
	connectionLossRise *prometheus.GaugeVec
}

// NewPrometheusCollector registers the collectors with reg, or with the
// default registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_connections_active",
			Help: "Number of registered outbound connections",
		}),

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_connections_registered_total",
			Help: "Connections registered with the engine",
		}, []string{"protocol"}),

		disconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_disconnects_total",
			Help: "Terminal connection state changes by status",
		}, []string{"status", "retried"}),

		retriesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecast_retries_scheduled_total",
			Help: "Reconnect attempts scheduled",
		}),

		retriesFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecast_retries_fired_total",
			Help: "Reconnect attempts executed",
		}),

		retriesPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_retries_pending",
			Help: "Reconnect attempts waiting for their timer",
		}),

		samplesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecast_performance_samples_dropped_total",
			Help: "Performance samples evicted before analysis",
		}),

		adjustmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_quality_adjustments_total",
			Help: "Encoder fields pushed by the quality controller",
		}, []string{"field", "result"}),

		settingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_settings_applied_total",
			Help: "Runtime setting changes by category",
		}, []string{"category", "result"}),

		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_quality_decisions_total",
			Help: "Quality evaluation cycles by outcome",
		}, []string{"adjustment", "trend"}),

		performanceScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_performance_score",
			Help: "Latest performance score (0-100)",
		}),

		predictedScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_performance_score_predicted",
			Help: "Predicted near-future performance score (0-100)",
		}),

		scoreDistribution: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecast_performance_score_distribution",
			Help:    "Distribution of evaluated performance scores",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),

		targetBitrate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_encoder_target_bitrate_bps",
			Help: "Bitrate requested by the last quality decision",
		}),

		connectionBitrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livecast_connection_bandwidth_bps",
			Help: "Current outbound bandwidth per connection",
		}, []string{"connection_id", "name"}),

		connectionTraffic: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livecast_connection_traffic_bytes",
			Help: "Bytes sent per connection",
		}, []string{"connection_id", "name"}),

		connectionLossRise: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livecast_connection_packet_loss_increasing",
			Help: "1 while packet loss is increasing on the connection",
		}, []string{"connection_id", "name"}),
	}
}

func (p *PrometheusCollector) ConnectionRegistered(protocol domain.Protocol) {
	p.connectionsActive.Inc()
	p.connectionsTotal.WithLabelValues(string(protocol)).Inc()
}

func (p *PrometheusCollector) ConnectionReleased(domain.Protocol) {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) DisconnectObserved(status domain.Status, retried bool) {
	p.disconnectsTotal.WithLabelValues(status.String(), strconv.FormatBool(retried)).Inc()
}

func (p *PrometheusCollector) RetryScheduled() {
	p.retriesScheduled.Inc()
}

func (p *PrometheusCollector) RetryFired() {
	p.retriesFired.Inc()
}

func (p *PrometheusCollector) PendingRetries(n int64) {
	p.retriesPending.Set(float64(n))
}

func (p *PrometheusCollector) ConnectionStats(stats domain.ConnectionStatistics) {
	id := strconv.Itoa(int(stats.ConnectionID))
	p.connectionBitrate.WithLabelValues(id, stats.Name).Set(float64(stats.Bandwidth))
	p.connectionTraffic.WithLabelValues(id, stats.Name).Set(float64(stats.Traffic))

	rising := 0.0
	if stats.PacketLossIncreasing {
		rising = 1
	}
	p.connectionLossRise.WithLabelValues(id, stats.Name).Set(rising)
}

// ConnectionStatsRemoved drops every series of a released connection.
func (p *PrometheusCollector) ConnectionStatsRemoved(id domain.ConnectionID) {
	labels := prometheus.Labels{"connection_id": strconv.Itoa(int(id))}
	p.connectionBitrate.DeletePartialMatch(labels)
	p.connectionTraffic.DeletePartialMatch(labels)
	p.connectionLossRise.DeletePartialMatch(labels)
}

func (p *PrometheusCollector) SamplesDropped(n int) {
	p.samplesDropped.Add(float64(n))
}

func (p *PrometheusCollector) QualityDecision(d domain.QualityDecision) {
	p.performanceScore.Set(d.Score)
	p.predictedScore.Set(d.PredictedScore)
	p.scoreDistribution.Observe(d.Score)
	p.decisionsTotal.WithLabelValues(d.Adjustment.String(), d.Trend.String()).Inc()
	if d.ShouldAdjust {
		p.targetBitrate.Set(float64(d.Target.Bitrate))
	}
}

func (p *PrometheusCollector) AdjustmentApplied(field string, ok bool) {
	p.adjustmentsTotal.WithLabelValues(field, result(ok)).Inc()
}

func (p *PrometheusCollector) SettingApplied(category domain.SettingCategory, ok bool) {
	p.settingsTotal.WithLabelValues(string(category), result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ポーリングスーパーバイザから利用する。
type MetricsCollector interface {
	RecordCycleSuccess()
	RecordCycleFailure(stage string)
	RecordFallbackUsed()
	RecordCycleDuration(d time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cycleSuccess  prometheus.Counter
	cycleFail     *prometheus.CounterVec
	fallbackUsed  prometheus.Counter
	cycleDuration prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycleSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulseman_cycle_success_total",
			Help: "ポーリングサイクル成功の合計数",
		}),
		cycleFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseman_cycle_fail_total",
			Help: "失敗ステージ別のポーリングサイクル失敗数",
		}, []string{"stage"}),
		fallbackUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulseman_fallback_total",
			Help: "前日フォールバックが発動した合計数",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulseman_cycle_duration_seconds",
			Help:    "ポーリングサイクルの所要時間",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	reg.MustRegister(c.cycleSuccess, c.cycleFail, c.fallbackUsed, c.cycleDuration)
	return c
}

// RecordCycleSuccess はサイクル成功を記録する。
func (c *Collector) RecordCycleSuccess() {
	c.cycleSuccess.Inc()
}

// RecordCycleFailure は失敗ステージ（login/fetch/publish）付きでサイクル失敗を記録する。
func (c *Collector) RecordCycleFailure(stage string) {
	c.cycleFail.WithLabelValues(stage).Inc()
}

// RecordFallbackUsed は前日フォールバックの発動を記録する。
func (c *Collector) RecordFallbackUsed() {
	c.fallbackUsed.Inc()
}

// RecordCycleDuration はサイクルの所要時間を記録する。
func (c *Collector) RecordCycleDuration(d time.Duration) {
	c.cycleDuration.Observe(d.Seconds())
}

// SetupMetricsRoute はレジストリのメトリクスを公開するHTTPハンドラーを返す。
func SetupMetricsRoute(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

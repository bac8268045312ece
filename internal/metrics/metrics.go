// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// スケジューラやサービス層から利用する。
type MetricsCollector interface {
	RecordPass()
	RecordPassDuration(duration time.Duration)
	RecordMonitorsChecked(count int)
	RecordUpdatesDetected(count int)
	RecordVideosRecorded(count int)
	RecordRemoteStatus(statusCode int)
	RecordRemoteRetry()
	RecordNotification(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	passes          prometheus.Counter
	passDuration    prometheus.Histogram
	monitorsChecked prometheus.Counter
	updatesDetected prometheus.Counter
	videosRecorded  prometheus.Counter
	remoteStatus    *prometheus.CounterVec
	remoteRetries   prometheus.Counter
	notifications   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bilitrack_passes_total",
			Help: "実行された巡回の合計数",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bilitrack_pass_duration_seconds",
			Help:    "巡回の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		monitorsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bilitrack_monitors_checked_total",
			Help: "確認した監視対象の合計数",
		}),
		updatesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bilitrack_updates_detected_total",
			Help: "更新を検出した監視対象の合計数",
		}),
		videosRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bilitrack_videos_recorded_total",
			Help: "記録された新着動画の合計数",
		}),
		remoteStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bilitrack_remote_status_total",
			Help: "リモートAPIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		remoteRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bilitrack_remote_retries_total",
			Help: "リモートAPIのリトライ合計数",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bilitrack_notifications_total",
			Help: "通知メールの送信結果別の合計数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.passes,
		c.passDuration,
		c.monitorsChecked,
		c.updatesDetected,
		c.videosRecorded,
		c.remoteStatus,
		c.remoteRetries,
		c.notifications,
	)

	return c
}

// RecordPass は巡回の実行を記録する。
func (c *Collector) RecordPass() {
	c.passes.Inc()
}

// RecordPassDuration は巡回の所要時間を記録する。
func (c *Collector) RecordPassDuration(duration time.Duration) {
	c.passDuration.Observe(duration.Seconds())
}

// RecordMonitorsChecked は確認した監視対象数を記録する。
func (c *Collector) RecordMonitorsChecked(count int) {
	c.monitorsChecked.Add(float64(count))
}

// RecordUpdatesDetected は更新を検出した監視対象数を記録する。
func (c *Collector) RecordUpdatesDetected(count int) {
	c.updatesDetected.Add(float64(count))
}

// RecordVideosRecorded は記録した新着動画数を記録する。
func (c *Collector) RecordVideosRecorded(count int) {
	c.videosRecorded.Add(float64(count))
}

// RecordRemoteStatus はリモートAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordRemoteStatus(statusCode int) {
	c.remoteStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRemoteRetry はリモートAPIのリトライを記録する。
func (c *Collector) RecordRemoteRetry() {
	c.remoteRetries.Inc()
}

// RecordNotification は通知メールの送信結果を記録する。
// outcomeは "sent" または "failed"。
func (c *Collector) RecordNotification(outcome string) {
	c.notifications.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adminpanel"

// Collector はPrometheusメトリクスを収集する実装。
// BaaSクライアント、ユーザーコレクション、一括操作のObserverを兼ねる。
type Collector struct {
	remoteCalls     *prometheus.CounterVec
	remoteLatency   *prometheus.HistogramVec
	loads           *prometheus.CounterVec
	loadLatency     prometheus.Histogram
	staleLoads      prometheus.Counter
	bulkItems       *prometheus.CounterVec
	sessionsDeleted prometheus.Counter

	reg prometheus.Registerer
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "BaaS呼び出しの操作別・結果別の合計数",
		}, []string{"op", "outcome"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "BaaS呼び出しのレイテンシ（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_list_loads_total",
			Help:      "ユーザー一覧の全件ロードの結果別の合計数",
		}, []string{"outcome"}),
		loadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "user_list_load_duration_seconds",
			Help:      "ユーザー一覧の全件ロードのレイテンシ（秒）",
			Buckets:   prometheus.DefBuckets,
		}),
		staleLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_list_stale_loads_total",
			Help:      "後発のロードにより破棄されたロード結果の合計数",
		}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_items_total",
			Help:      "一括操作で処理したユーザーの操作別・結果別の合計数",
		}, []string{"action", "outcome"}),
		sessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_deleted_total",
			Help:      "期限切れとして削除したセッションの合計数",
		}),
		reg: reg,
	}

	reg.MustRegister(
		c.remoteCalls,
		c.remoteLatency,
		c.loads,
		c.loadLatency,
		c.staleLoads,
		c.bulkItems,
		c.sessionsDeleted,
	)

	return c
}

// ObserveRemoteCall はBaaS呼び出しの結果とレイテンシを記録する。
func (c *Collector) ObserveRemoteCall(op, outcome string, duration time.Duration) {
	c.remoteCalls.WithLabelValues(op, outcome).Inc()
	c.remoteLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveLoad は全件ロードの結果とレイテンシを記録する。
func (c *Collector) ObserveLoad(outcome string, duration time.Duration) {
	c.loads.WithLabelValues(outcome).Inc()
	c.loadLatency.Observe(duration.Seconds())
}

// IncStaleLoad は破棄されたロード結果を記録する。
func (c *Collector) IncStaleLoad() {
	c.staleLoads.Inc()
}

// ObserveBulkItem は一括操作の1件分の結果を記録する。
func (c *Collector) ObserveBulkItem(action, outcome string) {
	c.bulkItems.WithLabelValues(action, outcome).Inc()
}

// RecordSessionsDeleted は削除したセッション数を記録する。
func (c *Collector) RecordSessionsDeleted(count int64) {
	c.sessionsDeleted.Add(float64(count))
}

// RegisterActiveViews は保持中の一覧画面数をスクレイプ時に取得するゲージを登録する。
func (c *Collector) RegisterActiveViews(count func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_list_views",
		Help:      "メモリ上に保持している一覧画面の数",
	}, func() float64 { return float64(count()) }))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

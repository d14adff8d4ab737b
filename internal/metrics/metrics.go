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
// ハンドラーや通知ディスパッチャーから利用する。
type MetricsCollector interface {
	RecordCommentCreated()
	RecordVote()
	RecordMailSent()
	RecordMailFailure()
	RecordRosterRefreshFailure()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	commentCreated    prometheus.Counter
	votes             prometheus.Counter
	mailSent          prometheus.Counter
	mailFail          prometheus.Counter
	rosterRefreshFail prometheus.Counter
	httpStatus        *prometheus.CounterVec
	requestLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commentCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotboard_comment_created_total",
			Help: "作成されたコメントの合計数",
		}),
		votes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotboard_comment_votes_total",
			Help: "記録された投票の合計数",
		}),
		mailSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotboard_mail_sent_total",
			Help: "送信に成功した通知メールの合計数",
		}),
		mailFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotboard_mail_fail_total",
			Help: "送信に失敗した通知メールの合計数",
		}),
		rosterRefreshFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotboard_roster_refresh_fail_total",
			Help: "モデレーター名簿の更新失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spotboard_request_latency_seconds",
			Help:    "HTTPリクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.commentCreated,
		c.votes,
		c.mailSent,
		c.mailFail,
		c.rosterRefreshFail,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordCommentCreated はコメント作成を記録する。
func (c *Collector) RecordCommentCreated() {
	c.commentCreated.Inc()
}

// RecordVote は投票を記録する。
func (c *Collector) RecordVote() {
	c.votes.Inc()
}

// RecordMailSent は通知メール送信成功を記録する。
func (c *Collector) RecordMailSent() {
	c.mailSent.Inc()
}

// RecordMailFailure は通知メール送信失敗を記録する。
func (c *Collector) RecordMailFailure() {
	c.mailFail.Inc()
}

// RecordRosterRefreshFailure は名簿更新の失敗を記録する。
func (c *Collector) RecordRosterRefreshFailure() {
	c.rosterRefreshFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

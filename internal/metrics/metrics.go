// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ガード拒否の理由ラベル。
const (
	RejectionMissingToken = "missing_token"
	RejectionInvalidToken = "invalid_token"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations   *prometheus.CounterVec
	logins          *prometheus.CounterVec
	guardRejections *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	tokensCleared   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insan_registrations_total",
			Help: "ユーザー登録の合計数（紹介の有無別）",
		}, []string{"referred"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insan_logins_total",
			Help: "ログイン試行の合計数（結果別）",
		}, []string{"result"}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insan_guard_rejections_total",
			Help: "アクセストークン検証で拒否したリクエスト数（理由別）",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insan_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "insan_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		tokensCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insan_verification_tokens_cleared_total",
			Help: "期限切れとして破棄した確認トークンの合計数",
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.guardRejections,
		c.httpStatus,
		c.requestLatency,
		c.tokensCleared,
	)

	return c
}

// RecordRegistration はユーザー登録を記録する。
func (c *Collector) RecordRegistration(referred bool) {
	c.registrations.WithLabelValues(strconv.FormatBool(referred)).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.logins.WithLabelValues(result).Inc()
}

// RecordGuardRejection はアクセストークン検証による拒否を記録する。
func (c *Collector) RecordGuardRejection(reason string) {
	c.guardRejections.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordVerificationTokensCleared は破棄した確認トークン数を記録する。
func (c *Collector) RecordVerificationTokensCleared(count int) {
	c.tokensCleared.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

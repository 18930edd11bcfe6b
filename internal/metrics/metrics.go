// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// バックエンドクライアント、ポーラー、Reconciler、セッション管理から利用する。
type Recorder interface {
	RecordBackendRequest(endpoint string, statusCode int, duration time.Duration)
	RecordBackendFailure(endpoint string)
	RecordPoll(outcome string)
	RecordHandshake(outcome string)
	RecordSessionTransition(status string)
}

// ポーリング・ハンドシェイク結果のラベル値
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
	OutcomeDiscarded = "discarded"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	backendRequests *prometheus.CounterVec
	backendFailures *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	polls           *prometheus.CounterVec
	handshakes      *prometheus.CounterVec
	sessions        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortexsync_backend_requests_total",
			Help: "エンドポイント・ステータスコード別のバックエンド呼び出し数",
		}, []string{"endpoint", "status_code"}),
		backendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortexsync_backend_failures_total",
			Help: "ネットワーク障害によるバックエンド呼び出し失敗数",
		}, []string{"endpoint"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cortexsync_backend_latency_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortexsync_scan_polls_total",
			Help: "結果別のスキャン一覧ポーリング数",
		}, []string{"outcome"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortexsync_installation_handshakes_total",
			Help: "結果別のインストール完了ハンドシェイク数",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortexsync_session_transitions_total",
			Help: "遷移先状態別のセッション状態遷移数",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.backendRequests,
		c.backendFailures,
		c.backendLatency,
		c.polls,
		c.handshakes,
		c.sessions,
	)

	return c
}

// RecordBackendRequest はバックエンドからの応答を記録する。
func (c *Collector) RecordBackendRequest(endpoint string, statusCode int, duration time.Duration) {
	c.backendRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.backendLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBackendFailure は応答を得られなかった呼び出しを記録する。
func (c *Collector) RecordBackendFailure(endpoint string) {
	c.backendFailures.WithLabelValues(endpoint).Inc()
}

// RecordPoll はポーリング1回の結果を記録する。
func (c *Collector) RecordPoll(outcome string) {
	c.polls.WithLabelValues(outcome).Inc()
}

// RecordHandshake はインストール完了ハンドシェイクの結果を記録する。
func (c *Collector) RecordHandshake(outcome string) {
	c.handshakes.WithLabelValues(outcome).Inc()
}

// RecordSessionTransition はセッション状態の遷移を記録する。
func (c *Collector) RecordSessionTransition(status string) {
	c.sessions.WithLabelValues(status).Inc()
}

// Nop は何も記録しないRecorder。
type Nop struct{}

func (Nop) RecordBackendRequest(string, int, time.Duration) {}
func (Nop) RecordBackendFailure(string)                     {}
func (Nop) RecordPoll(string)                               {}
func (Nop) RecordHandshake(string)                          {}
func (Nop) RecordSessionTransition(string)                  {}

// OrNop はrがnilの場合にNopを返す。
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

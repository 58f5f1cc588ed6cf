// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 招待の状態遷移の種類
const (
	TransitionCreated    = "created"
	TransitionSuperseded = "superseded"
	TransitionAccepted   = "accepted"
	TransitionCancelled  = "cancelled"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 招待エンジン、競合解決、ワーカー、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordInviteTransition(kind string)
	RecordAcceptRejected(reason string)
	RecordMetadataWrite()
	RecordMetadataConflict()
	RecordInvitesExpired(count int64)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	inviteTransitions *prometheus.CounterVec
	acceptRejected    *prometheus.CounterVec
	metadataWrites    prometheus.Counter
	metadataConflicts prometheus.Counter
	invitesExpired    prometheus.Counter
	httpStatus        *prometheus.CounterVec
	requestLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		inviteTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftshare_invite_transitions_total",
			Help: "招待の状態遷移の合計数",
		}, []string{"kind"}),
		acceptRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftshare_invite_accept_rejected_total",
			Help: "拒否された招待承諾の理由別合計数",
		}, []string{"reason"}),
		metadataWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftshare_metadata_writes_total",
			Help: "成功したメタデータ書き込みの合計数",
		}),
		metadataConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftshare_metadata_conflicts_total",
			Help: "バージョン競合で拒否されたメタデータ書き込みの合計数",
		}),
		invitesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftshare_invites_expired_total",
			Help: "クリーンアップで期限切れとして永続化された招待の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftshare_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "giftshare_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.inviteTransitions,
		c.acceptRejected,
		c.metadataWrites,
		c.metadataConflicts,
		c.invitesExpired,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordInviteTransition は招待の状態遷移を記録する。
func (c *Collector) RecordInviteTransition(kind string) {
	c.inviteTransitions.WithLabelValues(kind).Inc()
}

// RecordAcceptRejected は招待承諾の拒否を理由（エラーコード）別に記録する。
func (c *Collector) RecordAcceptRejected(reason string) {
	c.acceptRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordMetadataWrite() {
	c.metadataWrites.Inc()
}

func (c *Collector) RecordMetadataConflict() {
	c.metadataConflicts.Inc()
}

// RecordInvitesExpired は期限切れとして永続化した招待数を記録する。
func (c *Collector) RecordInvitesExpired(count int64) {
	c.invitesExpired.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。メトリクスを必要としない構成とテストで使用する。
type Nop struct{}

func (Nop) RecordInviteTransition(string) {}
func (Nop) RecordAcceptRejected(string) {}
func (Nop) RecordMetadataWrite() {}
func (Nop) RecordMetadataConflict() {}
func (Nop) RecordInvitesExpired(int64) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

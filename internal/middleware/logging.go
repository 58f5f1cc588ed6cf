package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/giftshare/internal/metrics"
)

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力し、
// ステータスコードとレイテンシをメトリクスに記録するミドルウェアを返す。
// ログにはmethod、path、status、bytes、duration_ms、address（認証済みの場合）を含む。
// 4xxはWARN、5xxはERRORで出力する。
func NewLoggingMiddleware(logger *slog.Logger, mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			// アドレスは内側のミドルウェアで検証されるため、受け取り先をコンテキストに置いておく
			var caller string
			if addr, err := AddressFromContext(r.Context()); err == nil {
				caller = addr.String()
			}
			next.ServeHTTP(ww, r.WithContext(withAddressSink(r.Context(), &caller)))

			status := ww.Status()
			if status == 0 {
				// ハンドラーが何も書かなかった場合はnet/httpが200を返す
				status = http.StatusOK
			}
			duration := time.Since(start)
			mc.RecordHTTPStatus(status)
			mc.RecordRequestLatency(duration)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Float64("duration_ms", float64(duration.Nanoseconds())/float64(time.Millisecond)),
			}
			if caller != "" {
				attrs = append(attrs, slog.String("address", caller))
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", attrs...)
		})
	}
}

// Package cleanup は期限切れ招待の定期整理ジョブを提供する。
// 期限切れは読み取り時に算出されるため、このジョブは表示と集計のための整理であり、
// 実行されなくても正しさには影響しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/giftshare/internal/clock"
	"github.com/hitoshi/giftshare/internal/metrics"
)

// Expirer は期限切れの承諾待ち招待をexpiredとして永続化するインターフェース。
// repository.LedgerStoreの部分集合として定義する。
type Expirer interface {
	ExpirePendingInvites(ctx context.Context, now time.Time) (int64, error)
}

// InviteExpiryJob は期限を過ぎた承諾待ち招待のステータスをexpiredに更新するジョブ。
// 冪等で、複数のワーカーが同時に実行しても同じ招待を二重に数えない。
type InviteExpiryJob struct {
	ledger  Expirer
	clock   clock.Clock
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewInviteExpiryJob は新しいInviteExpiryJobを生成する。
func NewInviteExpiryJob(ledger Expirer, clk clock.Clock, mc metrics.MetricsCollector, logger *slog.Logger) *InviteExpiryJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InviteExpiryJob{ledger: ledger, clock: clk, metrics: mc, logger: logger}
}

// Run は現在時刻で期限切れの承諾待ち招待を1回整理し、更新件数を返す。
func (j *InviteExpiryJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	now := j.clock.Now()

	count, err := j.ledger.ExpirePendingInvites(ctx, now)
	if err != nil {
		j.logger.Error("期限切れ招待の整理に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("期限切れ招待の整理に失敗: %w", err)
	}

	j.metrics.RecordInvitesExpired(count)
	j.logger.Info("期限切れ招待の整理が完了しました",
		slog.Int64("expired_count", count),
		slog.Time("as_of", now),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return count, nil
}

// Start は起動直後に1回、その後interval間隔でRunを実行する。ctxがキャンセルされるまでブロックする。
// 個々の実行の失敗はログに記録して次回に持ち越す。
func (j *InviteExpiryJob) Start(ctx context.Context, interval time.Duration) {
	j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

// Package invite は招待のライフサイクル（作成・承諾・取り消し）と、
// 招待履歴からの実効ロール解決を提供する。
package invite

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/giftshare/internal/clock"
	"github.com/hitoshi/giftshare/internal/metrics"
	"github.com/hitoshi/giftshare/internal/model"
	"github.com/hitoshi/giftshare/internal/repository"
)

// Engine は招待エンジン。
// 状態はすべてLedgerStoreに保持し、エンジン自身はリクエスト間で状態を持たない。
// 期限切れの判定は常にClockの現在時刻とmodel.Invite.IsExpiredAtで行う。
type Engine struct {
	ledger      repository.LedgerStore
	clock       clock.Clock
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	names       NameResolver
	maxDuration time.Duration
	newID       func() (string, error)
}

// Option はEngineの任意設定。
type Option func(*Engine)

// WithNameResolver は招待一覧に表示名を付与するためのNameResolverを設定する。
func WithNameResolver(r NameResolver) Option {
	return func(e *Engine) { e.names = r }
}

// WithMaxDuration は招待の有効期間の上限を設定する。0以下は上限なし。
func WithMaxDuration(d time.Duration) Option {
	return func(e *Engine) { e.maxDuration = d }
}

// NewEngine はEngineを生成する。
func NewEngine(
	ledger repository.LedgerStore,
	clk clock.Clock,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	e := &Engine{
		ledger:  ledger,
		clock:   clk,
		metrics: mc,
		logger:  logger,
		newID:   newInviteID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newInviteID はUUIDv7の招待IDを生成する。
// v7はミリ秒タイムスタンプが先頭にあるため、文字列の辞書順が作成順になる。
func newInviteID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ownership はギフトの所有権を取得する。存在しない場合はNOT_FOUNDを返す。
func (e *Engine) ownership(ctx context.Context, giftID string) (*model.GiftOwnership, error) {
	own, err := e.ledger.GetOwnership(ctx, giftID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if own == nil {
		return nil, model.NewGiftNotFoundError(giftID)
	}
	return own, nil
}

// CreateInvite はギフトの所有者からtoへのロール付与の招待を作成する。
// 同一(ギフト, 宛先, ロール)の承諾待ち招待がある場合は、同じ原子的操作の中で取り消し済みにする。
func (e *Engine) CreateInvite(
	ctx context.Context,
	caller, to model.Address,
	giftID string,
	role model.Role,
	duration time.Duration,
) (*model.Invite, error) {
	own, err := e.ownership(ctx, giftID)
	if err != nil {
		return nil, err
	}
	if caller != own.Owner {
		return nil, model.NewUnauthorizedError("招待を作成できるのはギフトの所有者のみです")
	}
	if !role.IsInvitable() {
		return nil, model.NewInvalidRoleError(string(role))
	}
	if duration <= 0 {
		return nil, model.NewInvalidDurationError("有効期間は正の値である必要があります")
	}
	if e.maxDuration > 0 && duration > e.maxDuration {
		return nil, model.NewInvalidDurationError("有効期間が上限（" + e.maxDuration.String() + "）を超えています")
	}
	if to == own.Owner {
		return nil, model.NewInvalidRequestError("所有者自身は招待できません")
	}

	id, err := e.newID()
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	now := e.clock.Now()
	inv := &model.Invite{
		ID:        id,
		GiftID:    giftID,
		From:      own.Owner,
		To:        to,
		Role:      role,
		Status:    model.InviteStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	superseded, err := e.ledger.InsertPendingInvite(ctx, inv)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	e.metrics.RecordInviteTransition(metrics.TransitionCreated)
	for _, oldID := range superseded {
		e.metrics.RecordInviteTransition(metrics.TransitionSuperseded)
		e.logger.Info("承諾待ちの招待を置き換えました",
			slog.String("gift_id", giftID),
			slog.String("invite_id", oldID),
			slog.String("superseded_by", id),
		)
	}
	e.logger.Info("招待を作成しました",
		slog.String("gift_id", giftID),
		slog.String("invite_id", id),
		slog.String("to", to.String()),
		slog.String("role", string(role)),
		slog.Time("expires_at", inv.ExpiresAt),
	)

	return inv, nil
}

// AcceptInvite は招待を承諾する。承諾できるのは招待の宛先アドレスのみ。
// 期限切れの招待はINVITE_EXPIREDとなり、ステータスは変更されない。
// 承諾したロールは直後のResolveRoleから反映される。
func (e *Engine) AcceptInvite(ctx context.Context, caller model.Address, inviteID string) (*model.Invite, error) {
	inv, err := e.accept(ctx, caller, inviteID)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code != model.ErrCodeStoreUnavailable {
			e.metrics.RecordAcceptRejected(apiErr.Code)
		}
		return nil, err
	}

	e.metrics.RecordInviteTransition(metrics.TransitionAccepted)
	e.logger.Info("招待が承諾されました",
		slog.String("gift_id", inv.GiftID),
		slog.String("invite_id", inv.ID),
		slog.String("to", inv.To.String()),
		slog.String("role", string(inv.Role)),
	)
	return inv, nil
}

func (e *Engine) accept(ctx context.Context, caller model.Address, inviteID string) (*model.Invite, error) {
	inv, err := e.getInvite(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	if caller != inv.To {
		return nil, model.NewUnauthorizedError("招待を承諾できるのは招待先のアドレスのみです")
	}

	now := e.clock.Now()
	if err := checkAcceptable(inv, now); err != nil {
		return nil, err
	}

	err = e.ledger.CompareAndSetInviteStatus(ctx, inv.ID, model.InviteStatusPending, model.InviteStatusAccepted, now)
	if errors.Is(err, repository.ErrStatusMismatch) {
		// 読み取りから更新までの間に置き換え・取り消し・期限切れの永続化が行われた
		return nil, e.explainLostTransition(ctx, inviteID, now, checkAcceptable)
	}
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	inv.Status = model.InviteStatusAccepted
	inv.AcceptedAt = &now
	return inv, nil
}

// checkAcceptable は招待がnow時点で承諾可能かどうかを判定する。
// 期限切れの判定を承諾待ちかどうかの判定より先に行う。
func checkAcceptable(inv *model.Invite, now time.Time) error {
	if inv.IsExpiredAt(now) {
		return model.NewInviteExpiredError(inv.ID)
	}
	if inv.Status != model.InviteStatusPending {
		return model.NewInviteNotPendingError(inv.ID, inv.Status)
	}
	return nil
}

// checkCancellable は招待が取り消し可能かどうかを判定する。
// 期限を過ぎていても承諾待ちのまま永続化されている招待は取り消せる。
func checkCancellable(inv *model.Invite, _ time.Time) error {
	if inv.Status != model.InviteStatusPending {
		return model.NewInviteNotPendingError(inv.ID, inv.Status)
	}
	return nil
}

// CancelInvite は招待を取り消す。取り消せるのは招待の送信者のみ。
// 冪等ではなく、取り消し済みの招待を再度取り消すとINVITE_NOT_PENDINGになる。
func (e *Engine) CancelInvite(ctx context.Context, caller model.Address, inviteID string) (*model.Invite, error) {
	inv, err := e.getInvite(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	if caller != inv.From {
		return nil, model.NewUnauthorizedError("招待を取り消せるのは招待の送信者のみです")
	}

	now := e.clock.Now()
	if err := checkCancellable(inv, now); err != nil {
		return nil, err
	}

	err = e.ledger.CompareAndSetInviteStatus(ctx, inv.ID, model.InviteStatusPending, model.InviteStatusCancelled, now)
	if errors.Is(err, repository.ErrStatusMismatch) {
		return nil, e.explainLostTransition(ctx, inviteID, now, checkCancellable)
	}
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	inv.Status = model.InviteStatusCancelled
	inv.CancelledAt = &now

	e.metrics.RecordInviteTransition(metrics.TransitionCancelled)
	e.logger.Info("招待を取り消しました",
		slog.String("gift_id", inv.GiftID),
		slog.String("invite_id", inv.ID),
	)
	return inv, nil
}

// explainLostTransition は比較交換に負けた後で招待を読み直し、拒否の理由を特定する。
func (e *Engine) explainLostTransition(
	ctx context.Context,
	inviteID string,
	now time.Time,
	check func(*model.Invite, time.Time) error,
) error {
	fresh, err := e.getInvite(ctx, inviteID)
	if err != nil {
		return err
	}
	if err := check(fresh, now); err != nil {
		return err
	}
	// 読み直した時点では遷移可能に見えるが、比較交換は失敗している
	return model.NewInviteNotPendingError(inviteID, fresh.Status)
}

func (e *Engine) getInvite(ctx context.Context, inviteID string) (*model.Invite, error) {
	inv, err := e.ledger.GetInvite(ctx, inviteID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if inv == nil {
		return nil, model.NewInviteNotFoundError(inviteID)
	}
	return inv, nil
}

// ResolveRole はアドレスのギフトに対する実効ロールを返す。
// 所有者であればOwner、そうでなければ承諾済み招待のうち承諾日時が最も新しいもののロール
// （同時刻の場合はIDが大きい、すなわち後に作成された招待）、どちらもなければNoneを返す。
// 以前の所有者が発行した招待で得たロールも所有権移転後に引き続き有効。
func (e *Engine) ResolveRole(ctx context.Context, address model.Address, giftID string) (model.Role, error) {
	own, err := e.ownership(ctx, giftID)
	if err != nil {
		return model.RoleNone, err
	}
	if address == own.Owner {
		return model.RoleOwner, nil
	}

	invites, err := e.ledger.GetInvites(ctx, giftID)
	if err != nil {
		return model.RoleNone, model.NewStoreUnavailableError(err)
	}

	var latest *model.Invite
	for _, inv := range invites {
		if inv.To != address || inv.Status != model.InviteStatusAccepted {
			continue
		}
		if latest == nil || acceptedAfter(inv, latest) {
			latest = inv
		}
	}
	if latest == nil {
		return model.RoleNone, nil
	}
	return latest.Role, nil
}

// acceptedAfter はaがbより後に承諾されたかどうかを返す。承諾日時が同じ場合はIDで比較する。
func acceptedAfter(a, b *model.Invite) bool {
	at, bt := acceptedAt(a), acceptedAt(b)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.ID > b.ID
}

func acceptedAt(inv *model.Invite) time.Time {
	if inv.AcceptedAt == nil {
		return time.Time{}
	}
	return *inv.AcceptedAt
}

package invite

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/giftshare/internal/model"
)

// NameResolver はウォレットアドレスを表示名に解決するインターフェース。
// 見つからない場合はfalseを返す。
type NameResolver interface {
	Resolve(ctx context.Context, address model.Address) (string, bool, error)
}

// View は一覧表示用の招待。Statusは読み取り時点の実効ステータス。
type View struct {
	ID          string
	GiftID      string
	From        model.Address
	FromName    string
	To          model.Address
	ToName      string
	Role        model.Role
	Status      model.InviteStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AcceptedAt  *time.Time
	CancelledAt *time.Time
}

// ListInvites はギフトの全招待を作成順で返す。所有者のみ実行できる。
func (e *Engine) ListInvites(ctx context.Context, caller model.Address, giftID string) ([]View, error) {
	own, err := e.ownership(ctx, giftID)
	if err != nil {
		return nil, err
	}
	if caller != own.Owner {
		return nil, model.NewUnauthorizedError("招待一覧を参照できるのはギフトの所有者のみです")
	}

	invites, err := e.ledger.GetInvites(ctx, giftID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return e.toViews(ctx, invites), nil
}

// ListInvitesFor はcaller宛ての招待をギフトを問わず作成順で返す。
func (e *Engine) ListInvitesFor(ctx context.Context, caller model.Address) ([]View, error) {
	invites, err := e.ledger.ListInvitesTo(ctx, caller)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return e.toViews(ctx, invites), nil
}

func (e *Engine) toViews(ctx context.Context, invites []*model.Invite) []View {
	now := e.clock.Now()
	names := make(map[model.Address]string)
	views := make([]View, len(invites))
	for i, inv := range invites {
		views[i] = View{
			ID:          inv.ID,
			GiftID:      inv.GiftID,
			From:        inv.From,
			FromName:    e.displayName(ctx, names, inv.From),
			To:          inv.To,
			ToName:      e.displayName(ctx, names, inv.To),
			Role:        inv.Role,
			Status:      inv.EffectiveStatusAt(now),
			CreatedAt:   inv.CreatedAt,
			ExpiresAt:   inv.ExpiresAt,
			AcceptedAt:  inv.AcceptedAt,
			CancelledAt: inv.CancelledAt,
		}
	}
	return views
}

// displayName は表示名を解決する。解決に失敗しても一覧自体は返せるよう、空文字にして警告を記録する。
func (e *Engine) displayName(ctx context.Context, cache map[model.Address]string, address model.Address) string {
	if e.names == nil {
		return ""
	}
	if name, ok := cache[address]; ok {
		return name
	}

	name, found, err := e.names.Resolve(ctx, address)
	if err != nil {
		e.logger.Warn("表示名の解決に失敗しました",
			slog.String("address", address.String()),
			slog.String("error", err.Error()),
		)
	}
	if err != nil || !found {
		name = ""
	}
	cache[address] = name
	return name
}

package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/giftshare/internal/model"
)

// MemoryLedgerRepo はインメモリのLedgerStore実装。
// 単一のミューテックスで全操作を直列化するため、置き換えと登録、承諾の原子性が保証される。
// 開発環境とテストで使用する。返す値はすべてコピーで、呼び出し側が変更しても内部状態は変わらない。
type MemoryLedgerRepo struct {
	mu         sync.RWMutex
	ownerships map[string]*model.GiftOwnership
	invites    map[string]*model.Invite
}

// NewMemoryLedgerRepo はMemoryLedgerRepoを生成する。
func NewMemoryLedgerRepo() *MemoryLedgerRepo {
	return &MemoryLedgerRepo{
		ownerships: make(map[string]*model.GiftOwnership),
		invites:    make(map[string]*model.Invite),
	}
}

func (r *MemoryLedgerRepo) GetOwnership(ctx context.Context, giftID string) (*model.GiftOwnership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	own, ok := r.ownerships[giftID]
	if !ok {
		return nil, nil
	}
	c := *own
	return &c, nil
}

func (r *MemoryLedgerRepo) SetOwnership(ctx context.Context, own *model.GiftOwnership) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ownerships[own.GiftID]; ok {
		return ErrOwnershipExists
	}
	c := *own
	r.ownerships[own.GiftID] = &c
	return nil
}

func (r *MemoryLedgerRepo) TransferOwnership(ctx context.Context, giftID string, from, to model.Address, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	own, ok := r.ownerships[giftID]
	if !ok || own.Owner != from {
		return ErrOwnerMismatch
	}
	own.Owner = to
	own.UpdatedAt = at
	return nil
}

func (r *MemoryLedgerRepo) DeleteOwnership(ctx context.Context, giftID string, owner model.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	own, ok := r.ownerships[giftID]
	if !ok || own.Owner != owner {
		return ErrOwnerMismatch
	}
	delete(r.ownerships, giftID)
	for id, inv := range r.invites {
		if inv.GiftID == giftID {
			delete(r.invites, id)
		}
	}
	return nil
}

func (r *MemoryLedgerRepo) GetInvite(ctx context.Context, id string) (*model.Invite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invites[id]
	if !ok {
		return nil, nil
	}
	return inv.Clone(), nil
}

func (r *MemoryLedgerRepo) GetInvites(ctx context.Context, giftID string) ([]*model.Invite, error) {
	return r.collect(func(inv *model.Invite) bool { return inv.GiftID == giftID }), nil
}

func (r *MemoryLedgerRepo) ListInvitesTo(ctx context.Context, to model.Address) ([]*model.Invite, error) {
	return r.collect(func(inv *model.Invite) bool { return inv.To == to }), nil
}

// collect は条件に一致する招待のコピーをID昇順で返す。
func (r *MemoryLedgerRepo) collect(match func(*model.Invite) bool) []*model.Invite {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Invite
	for _, inv := range r.invites {
		if match(inv) {
			result = append(result, inv.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *MemoryLedgerRepo) InsertPendingInvite(ctx context.Context, inv *model.Invite) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var superseded []string
	for _, existing := range r.invites {
		if existing.GiftID == inv.GiftID && existing.To == inv.To && existing.Role == inv.Role &&
			existing.Status == model.InviteStatusPending {
			existing.Status = model.InviteStatusCancelled
			at := inv.CreatedAt
			existing.CancelledAt = &at
			superseded = append(superseded, existing.ID)
		}
	}
	sort.Strings(superseded)

	c := inv.Clone()
	c.Status = model.InviteStatusPending
	r.invites[c.ID] = c
	return superseded, nil
}

func (r *MemoryLedgerRepo) CompareAndSetInviteStatus(ctx context.Context, id string, expected, next model.InviteStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invites[id]
	if !ok || inv.Status != expected {
		return ErrStatusMismatch
	}
	inv.Status = next
	switch next {
	case model.InviteStatusAccepted:
		inv.AcceptedAt = &at
	case model.InviteStatusCancelled:
		inv.CancelledAt = &at
	}
	return nil
}

func (r *MemoryLedgerRepo) ExpirePendingInvites(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, inv := range r.invites {
		if inv.Status == model.InviteStatusPending && now.After(inv.ExpiresAt) {
			inv.Status = model.InviteStatusExpired
			count++
		}
	}
	return count, nil
}

var _ LedgerStore = (*MemoryLedgerRepo)(nil)

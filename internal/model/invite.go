package model

import "time"

// InviteStatus は招待の状態を表す。
type InviteStatus string

const (
	// InviteStatusPending は承諾待ちの状態。
	InviteStatusPending InviteStatus = "pending"
	// InviteStatusAccepted は承諾済みの状態（終端）。
	InviteStatusAccepted InviteStatus = "accepted"
	// InviteStatusCancelled は取り消し済みの状態（終端）。
	// 同一(ギフト, 宛先, ロール)の新しい招待に置き換えられた場合もこの状態になる。
	InviteStatusCancelled InviteStatus = "cancelled"
	// InviteStatusExpired は期限切れの状態。
	// 通常は読み取り時に算出される状態で、クリーンアップジョブが実行されたときのみ永続化される。
	InviteStatusExpired InviteStatus = "expired"
)

// Invite はギフトの所有者から特定アドレスへの期限付きロール付与の申し出を表す。
type Invite struct {
	ID          string // UUIDv7。文字列の辞書順が作成順と一致する
	GiftID      string
	From        Address
	To          Address
	Role        Role
	Status      InviteStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AcceptedAt  *time.Time
	CancelledAt *time.Time
}

// IsExpiredAt は指定時刻において招待が期限切れかどうかを返す。
// 承諾待ちのまま now が ExpiresAt を過ぎた招待、または期限切れとして永続化済みの招待が対象。
// 承諾済み・取り消し済みの招待は期限切れにならない。
func (i *Invite) IsExpiredAt(now time.Time) bool {
	if i.Status == InviteStatusExpired {
		return true
	}
	return i.Status == InviteStatusPending && now.After(i.ExpiresAt)
}

// EffectiveStatusAt は指定時刻における実効ステータスを返す。
func (i *Invite) EffectiveStatusAt(now time.Time) InviteStatus {
	if i.IsExpiredAt(now) {
		return InviteStatusExpired
	}
	return i.Status
}

// Clone は招待のディープコピーを返す。
func (i *Invite) Clone() *Invite {
	c := *i
	if i.AcceptedAt != nil {
		t := *i.AcceptedAt
		c.AcceptedAt = &t
	}
	if i.CancelledAt != nil {
		t := *i.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

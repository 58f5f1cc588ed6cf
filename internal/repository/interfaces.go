// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/giftshare/internal/model"
)

// 比較交換（compare-and-set）が成立しなかったことを示すセンチネルエラー。
// 呼び出し側はerrors.Isで判定し、最新状態を読み直して原因を特定する。
var (
	// ErrOwnershipExists はギフトの所有者が既に設定されていることを示す。
	ErrOwnershipExists = errors.New("gift ownership already exists")
	// ErrOwnerMismatch は所有権移転時に現在の所有者が期待値と一致しないことを示す。
	ErrOwnerMismatch = errors.New("gift owner mismatch")
	// ErrStatusMismatch は招待の現在ステータスが期待値と一致しないことを示す。
	ErrStatusMismatch = errors.New("invite status mismatch")
	// ErrHeadExists はメタデータのヘッドレコードが既に存在することを示す。
	ErrHeadExists = errors.New("metadata head already exists")
	// ErrVersionMismatch はメタデータの現在バージョンが期待値と一致しないことを示す。
	ErrVersionMismatch = errors.New("metadata version mismatch")
)

// LedgerStore はギフトの所有権と招待レコードの永続化インターフェース。
// すべての更新は単一レコード単位で原子的に行われる。
type LedgerStore interface {
	// GetOwnership は指定ギフトの所有権を取得する。見つからない場合はnilを返す。
	GetOwnership(ctx context.Context, giftID string) (*model.GiftOwnership, error)

	// SetOwnership はギフトの所有権を登録する。初回のみ成功し、
	// 既に登録済みの場合はErrOwnershipExistsを返す。
	SetOwnership(ctx context.Context, ownership *model.GiftOwnership) error

	// TransferOwnership は現在の所有者がfromである場合に限り所有者をtoへ変更する。
	// 一致しない場合はErrOwnerMismatchを返す。
	TransferOwnership(ctx context.Context, giftID string, from, to model.Address, at time.Time) error

	// DeleteOwnership は現在の所有者がownerである場合に限りギフトの所有権と関連する招待を削除する。
	// ギフト作成の途中で失敗した際の取り消しに使用する。一致しない場合はErrOwnerMismatchを返す。
	DeleteOwnership(ctx context.Context, giftID string, owner model.Address) error

	// GetInvite は指定IDの招待を取得する。見つからない場合はnilを返す。
	GetInvite(ctx context.Context, id string) (*model.Invite, error)

	// GetInvites は指定ギフトの全招待を作成順（ID昇順）で返す。
	GetInvites(ctx context.Context, giftID string) ([]*model.Invite, error)

	// ListInvitesTo は指定アドレス宛ての全招待を作成順（ID昇順）で返す。
	ListInvitesTo(ctx context.Context, to model.Address) ([]*model.Invite, error)

	// InsertPendingInvite は承諾待ちの招待を登録する。
	// 同一(gift_id, to, role)の承諾待ち招待が存在する場合は、同じ原子的操作の中で
	// それらを取り消し済みにし、置き換えられた招待のIDを返す。
	InsertPendingInvite(ctx context.Context, invite *model.Invite) ([]string, error)

	// CompareAndSetInviteStatus は招待の現在ステータスがexpectedである場合に限りnextへ遷移させる。
	// 承諾時はaccepted_at、取り消し時はcancelled_atにatを記録する。
	// 一致しない場合（存在しない場合を含む）はErrStatusMismatchを返す。
	CompareAndSetInviteStatus(ctx context.Context, id string, expected, next model.InviteStatus, at time.Time) error

	// ExpirePendingInvites はnow時点で期限切れの承諾待ち招待をexpiredとして永続化し、件数を返す。
	ExpirePendingInvites(ctx context.Context, now time.Time) (int64, error)
}

// MetadataHead はギフトメタデータの最新バージョンを指すヘッドレコード。
// ドキュメント本体はコンテンツアドレス型ストレージに保存され、ContentIDで参照される。
type MetadataHead struct {
	GiftID       string
	Version      int64
	ContentID    string
	LastModified time.Time
}

// HeadStore はメタデータヘッドレコードの永続化インターフェース。
// バージョン競合はこの層の比較交換で検出する（ブロブ層では検出しない）。
type HeadStore interface {
	// GetHead は指定ギフトのヘッドを取得する。見つからない場合はnilを返す。
	GetHead(ctx context.Context, giftID string) (*MetadataHead, error)

	// CreateHead はバージョン1のヘッドを登録する。既に存在する場合はErrHeadExistsを返す。
	CreateHead(ctx context.Context, head *MetadataHead) error

	// CompareAndSwapHead は現在のバージョンがexpectedVersionである場合に限りヘッドを置き換える。
	// 一致しない場合はErrVersionMismatchを返す。
	CompareAndSwapHead(ctx context.Context, expectedVersion int64, head *MetadataHead) error
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/giftshare/internal/model"
)

// PostgresLedgerRepo はPostgreSQLを使用したLedgerStore実装。
// 所有権はgift_ownerships、招待はinvitesテーブルに保存する。
type PostgresLedgerRepo struct {
	db *sql.DB
}

// NewPostgresLedgerRepo はPostgresLedgerRepoを生成する。
func NewPostgresLedgerRepo(db *sql.DB) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{db: db}
}

const inviteColumns = `id, gift_id, from_address, to_address, role, status, created_at, expires_at, accepted_at, cancelled_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanInvite は1行分の招待を読み取る。
func scanInvite(s rowScanner) (*model.Invite, error) {
	inv := &model.Invite{}
	var from, to, role, status string
	var acceptedAt, cancelledAt sql.NullTime
	if err := s.Scan(
		&inv.ID, &inv.GiftID, &from, &to, &role, &status,
		&inv.CreatedAt, &inv.ExpiresAt, &acceptedAt, &cancelledAt,
	); err != nil {
		return nil, err
	}
	inv.From = model.Address(from)
	inv.To = model.Address(to)
	inv.Role = model.Role(role)
	inv.Status = model.InviteStatus(status)
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	if cancelledAt.Valid {
		inv.CancelledAt = &cancelledAt.Time
	}
	return inv, nil
}

// GetOwnership は指定ギフトの所有権を取得する。見つからない場合はnilを返す。
func (r *PostgresLedgerRepo) GetOwnership(ctx context.Context, giftID string) (*model.GiftOwnership, error) {
	own := &model.GiftOwnership{}
	var owner string
	err := r.db.QueryRowContext(ctx,
		`SELECT gift_id, owner_address, created_at, updated_at
		 FROM gift_ownerships WHERE gift_id = $1`,
		giftID,
	).Scan(&own.GiftID, &owner, &own.CreatedAt, &own.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("所有権の取得に失敗しました: %w", err)
	}

	own.Owner = model.Address(owner)
	return own, nil
}

// SetOwnership はギフトの所有権を登録する。既に登録済みの場合はErrOwnershipExistsを返す。
func (r *PostgresLedgerRepo) SetOwnership(ctx context.Context, own *model.GiftOwnership) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO gift_ownerships (gift_id, owner_address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (gift_id) DO NOTHING`,
		own.GiftID, string(own.Owner), own.CreatedAt, own.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("所有権の登録に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("登録結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ErrOwnershipExists
	}
	return nil
}

// TransferOwnership は現在の所有者がfromである場合に限り所有者をtoへ変更する。
func (r *PostgresLedgerRepo) TransferOwnership(ctx context.Context, giftID string, from, to model.Address, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE gift_ownerships SET owner_address = $3, updated_at = $4
		 WHERE gift_id = $1 AND owner_address = $2`,
		giftID, string(from), string(to), at,
	)
	if err != nil {
		return fmt.Errorf("所有権の移転に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ErrOwnerMismatch
	}
	return nil
}

// DeleteOwnership は現在の所有者がownerである場合に限り所有権を削除する。
// 招待とメタデータヘッドは外部キーのON DELETE CASCADEで削除される。
func (r *PostgresLedgerRepo) DeleteOwnership(ctx context.Context, giftID string, owner model.Address) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM gift_ownerships WHERE gift_id = $1 AND owner_address = $2`,
		giftID, string(owner),
	)
	if err != nil {
		return fmt.Errorf("所有権の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ErrOwnerMismatch
	}
	return nil
}

// GetInvite は指定IDの招待を取得する。見つからない場合はnilを返す。
func (r *PostgresLedgerRepo) GetInvite(ctx context.Context, id string) (*model.Invite, error) {
	inv, err := scanInvite(r.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("招待の取得に失敗しました: %w", err)
	}
	return inv, nil
}

// GetInvites は指定ギフトの全招待を作成順で返す。
func (r *PostgresLedgerRepo) GetInvites(ctx context.Context, giftID string) ([]*model.Invite, error) {
	return r.queryInvites(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE gift_id = $1 ORDER BY id ASC`,
		giftID,
	)
}

// ListInvitesTo は指定アドレス宛ての全招待を作成順で返す。
func (r *PostgresLedgerRepo) ListInvitesTo(ctx context.Context, to model.Address) ([]*model.Invite, error) {
	return r.queryInvites(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE to_address = $1 ORDER BY id ASC`,
		string(to),
	)
}

func (r *PostgresLedgerRepo) queryInvites(ctx context.Context, query string, args ...any) ([]*model.Invite, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("招待一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var invites []*model.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("招待行の読み取りに失敗しました: %w", err)
		}
		invites = append(invites, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("招待一覧の走査に失敗しました: %w", err)
	}
	return invites, nil
}

// InsertPendingInvite は承諾待ちの招待を登録する。
// (gift_id, to_address, role)をキーとするトランザクションスコープのアドバイザリロックを取得し、
// 既存の承諾待ち招待の取り消しと新規登録を同一トランザクションで行う。
// 承諾処理は status = 'pending' を条件とする単一行UPDATEのため、
// 置き換えと承諾は行ロックにより直列化され、同じタプルで2件が同時に承諾済みになることはない。
func (r *PostgresLedgerRepo) InsertPendingInvite(ctx context.Context, inv *model.Invite) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	lockKey := inv.GiftID + "|" + string(inv.To) + "|" + string(inv.Role)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return nil, fmt.Errorf("招待ロックの取得に失敗しました: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`UPDATE invites SET status = 'cancelled', cancelled_at = $4
		 WHERE gift_id = $1 AND to_address = $2 AND role = $3 AND status = 'pending'
		 RETURNING id`,
		inv.GiftID, string(inv.To), string(inv.Role), inv.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("既存招待の置き換えに失敗しました: %w", err)
	}
	var superseded []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("置き換え対象の読み取りに失敗しました: %w", err)
		}
		superseded = append(superseded, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("置き換え対象の走査に失敗しました: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO invites (id, gift_id, from_address, to_address, role, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inv.ID, inv.GiftID, string(inv.From), string(inv.To), string(inv.Role),
		string(model.InviteStatusPending), inv.CreatedAt, inv.ExpiresAt,
	); err != nil {
		return nil, fmt.Errorf("招待の作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return superseded, nil
}

// CompareAndSetInviteStatus は招待の現在ステータスがexpectedである場合に限りnextへ遷移させる。
func (r *PostgresLedgerRepo) CompareAndSetInviteStatus(ctx context.Context, id string, expected, next model.InviteStatus, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE invites SET
		     status = $3::text,
		     accepted_at = CASE WHEN $3::text = 'accepted' THEN $4 ELSE accepted_at END,
		     cancelled_at = CASE WHEN $3::text = 'cancelled' THEN $4 ELSE cancelled_at END
		 WHERE id = $1 AND status = $2`,
		id, string(expected), string(next), at,
	)
	if err != nil {
		return fmt.Errorf("招待ステータスの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStatusMismatch
	}
	return nil
}

// ExpirePendingInvites はnow時点で期限切れの承諾待ち招待をexpiredとして永続化する。
func (r *PostgresLedgerRepo) ExpirePendingInvites(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE invites SET status = 'expired'
		 WHERE status = 'pending' AND expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れ招待の更新に失敗しました: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ LedgerStore = (*PostgresLedgerRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresHeadRepo はPostgreSQLを使用したHeadStore実装。
// バージョン比較と更新を単一のUPDATE文で行うため、読み取りと書き込みの間に割り込みは起きない。
type PostgresHeadRepo struct {
	db *sql.DB
}

// NewPostgresHeadRepo はPostgresHeadRepoを生成する。
func NewPostgresHeadRepo(db *sql.DB) *PostgresHeadRepo {
	return &PostgresHeadRepo{db: db}
}

// GetHead は指定ギフトのヘッドを取得する。見つからない場合はnilを返す。
func (r *PostgresHeadRepo) GetHead(ctx context.Context, giftID string) (*MetadataHead, error) {
	head := &MetadataHead{}
	err := r.db.QueryRowContext(ctx,
		`SELECT gift_id, version, content_id, last_modified
		 FROM gift_metadata_heads WHERE gift_id = $1`,
		giftID,
	).Scan(&head.GiftID, &head.Version, &head.ContentID, &head.LastModified)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メタデータヘッドの取得に失敗しました: %w", err)
	}
	return head, nil
}

// CreateHead はヘッドを登録する。既に存在する場合はErrHeadExistsを返す。
func (r *PostgresHeadRepo) CreateHead(ctx context.Context, head *MetadataHead) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO gift_metadata_heads (gift_id, version, content_id, last_modified)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (gift_id) DO NOTHING`,
		head.GiftID, head.Version, head.ContentID, head.LastModified,
	)
	if err != nil {
		return fmt.Errorf("メタデータヘッドの作成に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("作成結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ErrHeadExists
	}
	return nil
}

// CompareAndSwapHead は現在のバージョンがexpectedVersionである場合に限りヘッドを置き換える。
func (r *PostgresHeadRepo) CompareAndSwapHead(ctx context.Context, expectedVersion int64, head *MetadataHead) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE gift_metadata_heads SET version = $3, content_id = $4, last_modified = $5
		 WHERE gift_id = $1 AND version = $2`,
		head.GiftID, expectedVersion, head.Version, head.ContentID, head.LastModified,
	)
	if err != nil {
		return fmt.Errorf("メタデータヘッドの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ErrVersionMismatch
	}
	return nil
}

// compile-time interface check
var _ HeadStore = (*PostgresHeadRepo)(nil)

package blob

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore はPostgreSQLのgift_metadata_blobsテーブルを使用したStore実装。
// ヘッドと同じDBに置くことで、再起動後もヘッドが参照するドキュメントを読み出せる。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put はdataを保存しContentIDを返す。同じ内容が既にあれば何もしない。
func (s *PostgresStore) Put(ctx context.Context, data []byte) (string, error) {
	cid := ContentID(data)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gift_metadata_blobs (content_id, data)
		 VALUES ($1, $2)
		 ON CONFLICT (content_id) DO NOTHING`,
		cid, data,
	)
	if err != nil {
		return "", fmt.Errorf("ブロブの保存に失敗しました: %w", err)
	}
	return cid, nil
}

// Get はContentIDに対応するブロブを取得する。存在しない場合はErrNotFoundを返す。
func (s *PostgresStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM gift_metadata_blobs WHERE content_id = $1`,
		contentID,
	).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ブロブの取得に失敗しました: %w", err)
	}
	if err := verify(contentID, data); err != nil {
		return nil, fmt.Errorf("%s: %w", contentID, err)
	}
	return data, nil
}

var _ Store = (*PostgresStore)(nil)

// Package metadata はギフトメタデータのバージョン付き保存と、
// 楽観的排他制御による条件付き書き込みを提供する。
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/giftshare/internal/blob"
	"github.com/hitoshi/giftshare/internal/model"
	"github.com/hitoshi/giftshare/internal/repository"
)

// Store はギフトメタデータの永続化を行う。
// ドキュメント本体はJSONとしてブロブストレージに保存し、ギフトごとのヘッドレコードが
// 最新バージョンのContentIDを指す。バージョン競合の検出はヘッドレコードの比較交換で行い、
// ブロブ層では行わない。
type Store struct {
	blobs blob.Store
	heads repository.HeadStore
}

// NewStore はStoreを生成する。
func NewStore(blobs blob.Store, heads repository.HeadStore) *Store {
	return &Store{blobs: blobs, heads: heads}
}

// Get は指定ギフトの最新メタデータを取得する。見つからない場合はnilを返す。
// Version, LastModified はヘッドレコードの値を正とする。
func (s *Store) Get(ctx context.Context, giftID string) (*model.GiftMetadata, error) {
	head, err := s.heads.GetHead(ctx, giftID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, nil
	}

	data, err := s.blobs.Get(ctx, head.ContentID)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("ヘッドが参照するドキュメントが存在しません: gift=%s cid=%s: %w", giftID, head.ContentID, err)
	}
	if err != nil {
		return nil, err
	}

	var doc model.GiftMetadata
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("メタデータの変換に失敗しました: %w", err)
	}
	doc.GiftID = head.GiftID
	doc.Version = head.Version
	doc.LastModified = head.LastModified
	return &doc, nil
}

// Create はバージョン1のメタデータを登録する。
// 既に存在する場合はrepository.ErrHeadExistsを返す。
func (s *Store) Create(ctx context.Context, doc *model.GiftMetadata) error {
	if doc.Version != 1 {
		return fmt.Errorf("初版のバージョンは1である必要があります: %d", doc.Version)
	}
	head, err := s.write(ctx, doc)
	if err != nil {
		return err
	}
	return s.heads.CreateHead(ctx, head)
}

// Put は現在のバージョンがexpectedVersionである場合に限り、docを次のバージョンとして保存する。
// doc.VersionはexpectedVersion+1である必要がある。
// 一致しない場合はrepository.ErrVersionMismatchを返す。
// 比較交換に負けた書き込みのブロブは参照されないまま残るが、内容アドレスのため無害。
func (s *Store) Put(ctx context.Context, doc *model.GiftMetadata, expectedVersion int64) error {
	if doc.Version != expectedVersion+1 {
		return fmt.Errorf("バージョンが連続していません: expected=%d next=%d", expectedVersion, doc.Version)
	}
	head, err := s.write(ctx, doc)
	if err != nil {
		return err
	}
	return s.heads.CompareAndSwapHead(ctx, expectedVersion, head)
}

// write はドキュメントをブロブストレージへ保存し、対応するヘッドを返す。
func (s *Store) write(ctx context.Context, doc *model.GiftMetadata) (*repository.MetadataHead, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("メタデータのシリアライズに失敗しました: %w", err)
	}
	cid, err := s.blobs.Put(ctx, data)
	if err != nil {
		return nil, err
	}
	return &repository.MetadataHead{
		GiftID:       doc.GiftID,
		Version:      doc.Version,
		ContentID:    cid,
		LastModified: doc.LastModified,
	}, nil
}

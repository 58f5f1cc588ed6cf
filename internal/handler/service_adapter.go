package handler

import (
	"context"

	"github.com/hitoshi/giftshare/internal/metadata"
	"github.com/hitoshi/giftshare/internal/model"
	"github.com/hitoshi/giftshare/internal/security"
)

// giftCreator はgift.Serviceのうちアダプタが使用する部分。
type giftCreator interface {
	CreateGift(ctx context.Context, caller model.Address, initial *model.GiftMetadata) (*model.GiftOwnership, *model.GiftMetadata, error)
	TransferOwnership(ctx context.Context, caller model.Address, giftID string, newOwner model.Address) (*model.GiftOwnership, error)
}

// GiftServiceAdapter は gift.Service を GiftServiceInterface に適合させるアダプタ。
// 初版メタデータは保存前にサニタイズする。
type GiftServiceAdapter struct {
	svc       giftCreator
	sanitizer security.ContentSanitizerService
}

// NewGiftServiceAdapter はGiftServiceAdapterを生成する。
func NewGiftServiceAdapter(svc giftCreator, sanitizer security.ContentSanitizerService) *GiftServiceAdapter {
	return &GiftServiceAdapter{svc: svc, sanitizer: sanitizer}
}

// CreateGift は初期内容をサニタイズしてからギフトを作成する。
func (a *GiftServiceAdapter) CreateGift(ctx context.Context, caller model.Address, initial *model.GiftMetadata) (*model.GiftOwnership, *model.GiftMetadata, error) {
	if initial != nil {
		initial = initial.Clone()
		a.sanitizer.SanitizeMetadata(initial)
	}
	return a.svc.CreateGift(ctx, caller, initial)
}

// TransferOwnership は所有権を移転する。
func (a *GiftServiceAdapter) TransferOwnership(ctx context.Context, caller model.Address, giftID string, newOwner model.Address) (*model.GiftOwnership, error) {
	return a.svc.TransferOwnership(ctx, caller, giftID, newOwner)
}

// metadataWriter はmetadata.Resolverのうちアダプタが使用する部分。
type metadataWriter interface {
	Read(ctx context.Context, caller model.Address, giftID string) (*model.GiftMetadata, error)
	ConditionalWrite(ctx context.Context, caller model.Address, giftID string, expectedVersion int64, mutate metadata.Mutator) (*model.GiftMetadata, error)
}

// MetadataServiceAdapter は metadata.Resolver を MetadataServiceInterface に適合させるアダプタ。
// リクエストの変更内容を、適用後にサニタイズするミューテータへ変換する。
type MetadataServiceAdapter struct {
	resolver  metadataWriter
	sanitizer security.ContentSanitizerService
}

// NewMetadataServiceAdapter はMetadataServiceAdapterを生成する。
func NewMetadataServiceAdapter(resolver metadataWriter, sanitizer security.ContentSanitizerService) *MetadataServiceAdapter {
	return &MetadataServiceAdapter{resolver: resolver, sanitizer: sanitizer}
}

// Read はメタデータを返す。
func (a *MetadataServiceAdapter) Read(ctx context.Context, caller model.Address, giftID string) (*model.GiftMetadata, error) {
	return a.resolver.Read(ctx, caller, giftID)
}

// Update は変更内容をexpectedVersionのドキュメントに適用して保存する。
func (a *MetadataServiceAdapter) Update(ctx context.Context, caller model.Address, giftID string, expectedVersion int64, patch MetadataPatch) (*model.GiftMetadata, error) {
	return a.resolver.ConditionalWrite(ctx, caller, giftID, expectedVersion, func(doc *model.GiftMetadata) error {
		patch.Apply(doc)
		a.sanitizer.SanitizeMetadata(doc)
		return nil
	})
}

var (
	_ GiftServiceInterface     = (*GiftServiceAdapter)(nil)
	_ MetadataServiceInterface = (*MetadataServiceAdapter)(nil)
)

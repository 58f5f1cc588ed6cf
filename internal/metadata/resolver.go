package metadata

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/giftshare/internal/clock"
	"github.com/hitoshi/giftshare/internal/metrics"
	"github.com/hitoshi/giftshare/internal/model"
	"github.com/hitoshi/giftshare/internal/permission"
	"github.com/hitoshi/giftshare/internal/repository"
)

// DocumentStore はResolverが使用するメタデータストアのインターフェース。
type DocumentStore interface {
	Get(ctx context.Context, giftID string) (*model.GiftMetadata, error)
	Create(ctx context.Context, doc *model.GiftMetadata) error
	Put(ctx context.Context, doc *model.GiftMetadata, expectedVersion int64) error
}

// Authorizer は操作権限を確認するインターフェース。permission.Gateが実装する。
type Authorizer interface {
	Require(ctx context.Context, address model.Address, giftID string, capability permission.Capability) error
}

// Mutator は保存済みドキュメントのコピーを受け取り、新しい値に書き換える。
// GiftID, Version, LastModified, LastModifiedBy はResolverが上書きするため変更しても無視される。
type Mutator func(doc *model.GiftMetadata) error

// Resolver はメタデータの読み取りと楽観的排他制御による条件付き書き込みを行う。
// 競合は呼び出し側にVERSION_CONFLICTとして返し、内部で再試行しない。
type Resolver struct {
	store   DocumentStore
	gate    Authorizer
	clock   clock.Clock
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(store DocumentStore, gate Authorizer, clk clock.Clock, mc metrics.MetricsCollector, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Resolver{store: store, gate: gate, clock: clk, metrics: mc, logger: logger}
}

// Read はギフトの最新メタデータを返す。閲覧権限（Viewer以上）が必要。
func (r *Resolver) Read(ctx context.Context, caller model.Address, giftID string) (*model.GiftMetadata, error) {
	if err := r.gate.Require(ctx, caller, giftID, permission.CapabilityView); err != nil {
		return nil, err
	}
	return r.load(ctx, giftID)
}

func (r *Resolver) load(ctx context.Context, giftID string) (*model.GiftMetadata, error) {
	doc, err := r.store.Get(ctx, giftID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if doc == nil {
		return nil, model.NewGiftNotFoundError(giftID)
	}
	return doc, nil
}

// Create はギフトの初版（バージョン1）を保存する。編集権限が必要。
func (r *Resolver) Create(ctx context.Context, caller model.Address, doc *model.GiftMetadata) (*model.GiftMetadata, error) {
	if err := r.gate.Require(ctx, caller, doc.GiftID, permission.CapabilityEdit); err != nil {
		return nil, err
	}

	initial := doc.Clone()
	initial.Version = 1
	initial.LastModified = r.now()
	initial.LastModifiedBy = caller

	err := r.store.Create(ctx, initial)
	if errors.Is(err, repository.ErrHeadExists) {
		return nil, model.NewVersionConflictError(doc.GiftID, 0, r.currentVersion(ctx, doc.GiftID))
	}
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	r.metrics.RecordMetadataWrite()
	return initial, nil
}

// ConditionalWrite は保存済みのバージョンがexpectedVersionと一致する場合に限り、
// mutatorで書き換えたドキュメントをexpectedVersion+1として保存する。編集権限が必要。
// 読み取りと書き込みの間に他の書き込みが割り込んだ場合もVERSION_CONFLICTになる。
func (r *Resolver) ConditionalWrite(
	ctx context.Context,
	caller model.Address,
	giftID string,
	expectedVersion int64,
	mutate Mutator,
) (*model.GiftMetadata, error) {
	if err := r.gate.Require(ctx, caller, giftID, permission.CapabilityEdit); err != nil {
		return nil, err
	}

	stored, err := r.load(ctx, giftID)
	if err != nil {
		return nil, err
	}
	if stored.Version != expectedVersion {
		r.metrics.RecordMetadataConflict()
		return nil, model.NewVersionConflictError(giftID, expectedVersion, stored.Version)
	}

	next := stored.Clone()
	if err := mutate(next); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, model.NewInvalidRequestError(err.Error())
	}
	next.GiftID = giftID
	next.Version = expectedVersion + 1
	next.LastModified = r.now()
	next.LastModifiedBy = caller

	err = r.store.Put(ctx, next, expectedVersion)
	if errors.Is(err, repository.ErrVersionMismatch) {
		r.metrics.RecordMetadataConflict()
		current := r.currentVersion(ctx, giftID)
		r.logger.Info("メタデータの書き込みが競合しました",
			slog.String("gift_id", giftID),
			slog.Int64("expected_version", expectedVersion),
			slog.Int64("current_version", current),
		)
		return nil, model.NewVersionConflictError(giftID, expectedVersion, current)
	}
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	r.metrics.RecordMetadataWrite()
	r.logger.Info("メタデータを更新しました",
		slog.String("gift_id", giftID),
		slog.Int64("version", next.Version),
		slog.String("modified_by", caller.String()),
	)
	return next, nil
}

// now は保存に使う時刻を返す。ヘッドストアの精度（マイクロ秒）にそろえる。
func (r *Resolver) now() time.Time {
	return r.clock.Now().Truncate(time.Microsecond)
}

// currentVersion はエラーメッセージ用に現在のバージョンを読み直す。読めない場合は0を返す。
func (r *Resolver) currentVersion(ctx context.Context, giftID string) int64 {
	doc, err := r.store.Get(ctx, giftID)
	if err != nil || doc == nil {
		return 0
	}
	return doc.Version
}

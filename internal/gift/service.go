// Package gift はギフトの作成と所有権移転を提供する。
package gift

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/giftshare/internal/clock"
	"github.com/hitoshi/giftshare/internal/model"
	"github.com/hitoshi/giftshare/internal/repository"
)

// MetadataCreator はギフトの初版メタデータを保存するインターフェース。metadata.Resolverが実装する。
type MetadataCreator interface {
	Create(ctx context.Context, caller model.Address, doc *model.GiftMetadata) (*model.GiftMetadata, error)
}

// Service はギフトのライフサイクル操作のサービス層。
// GiftOwnershipを書き込むのはこのサービスのみ。
type Service struct {
	ledger repository.LedgerStore
	docs   MetadataCreator
	clock  clock.Clock
	logger *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(ledger repository.LedgerStore, docs MetadataCreator, clk clock.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, docs: docs, clock: clk, logger: logger}
}

// CreateGift はcallerを所有者とする新しいギフトを作成し、初版メタデータを保存する。
func (s *Service) CreateGift(ctx context.Context, caller model.Address, initial *model.GiftMetadata) (*model.GiftOwnership, *model.GiftMetadata, error) {
	now := s.clock.Now()
	own := &model.GiftOwnership{
		GiftID:    uuid.NewString(),
		Owner:     caller,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.ledger.SetOwnership(ctx, own); err != nil {
		return nil, nil, model.NewStoreUnavailableError(err)
	}

	doc := &model.GiftMetadata{}
	if initial != nil {
		doc = initial.Clone()
	}
	doc.GiftID = own.GiftID

	created, err := s.docs.Create(ctx, caller, doc)
	if err != nil {
		s.logger.Error("ギフトの初版メタデータの保存に失敗しました",
			slog.String("gift_id", own.GiftID),
			slog.String("error", err.Error()),
		)
		// 呼び出し元はギフトIDを受け取れないため、メタデータのない所有権を残さない
		if derr := s.ledger.DeleteOwnership(context.WithoutCancel(ctx), own.GiftID, caller); derr != nil {
			s.logger.Error("作成途中のギフトの所有権を削除できませんでした",
				slog.String("gift_id", own.GiftID),
				slog.String("error", derr.Error()),
			)
		}
		return nil, nil, err
	}

	s.logger.Info("ギフトを作成しました",
		slog.String("gift_id", own.GiftID),
		slog.String("owner", caller.String()),
	)
	return own, created, nil
}

// TransferOwnership はギフトの所有者をnewOwnerへ変更する。現在の所有者のみ実行できる。
// 承諾済み招待によるロールはそのまま維持される。
func (s *Service) TransferOwnership(ctx context.Context, caller model.Address, giftID string, newOwner model.Address) (*model.GiftOwnership, error) {
	own, err := s.ledger.GetOwnership(ctx, giftID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if own == nil {
		return nil, model.NewGiftNotFoundError(giftID)
	}
	if caller != own.Owner {
		return nil, model.NewUnauthorizedError("所有権を移転できるのはギフトの所有者のみです")
	}
	if newOwner == own.Owner {
		return nil, model.NewInvalidRequestError("新しい所有者が現在の所有者と同じです")
	}

	now := s.clock.Now()
	err = s.ledger.TransferOwnership(ctx, giftID, caller, newOwner, now)
	if errors.Is(err, repository.ErrOwnerMismatch) {
		// 確認後に別の移転が完了した
		return nil, model.NewUnauthorizedError("所有権を移転できるのはギフトの所有者のみです")
	}
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	s.logger.Info("ギフトの所有権を移転しました",
		slog.String("gift_id", giftID),
		slog.String("from", caller.String()),
		slog.String("to", newOwner.String()),
	)

	own.Owner = newOwner
	own.UpdatedAt = now
	return own, nil
}

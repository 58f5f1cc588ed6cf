// Package handler はギフト共有APIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/giftshare/internal/invite"
	"github.com/hitoshi/giftshare/internal/middleware"
	"github.com/hitoshi/giftshare/internal/model"
	"github.com/hitoshi/giftshare/internal/permission"
)

// GiftServiceInterface はギフトハンドラーが必要とするサービスインターフェース。
type GiftServiceInterface interface {
	CreateGift(ctx context.Context, caller model.Address, initial *model.GiftMetadata) (*model.GiftOwnership, *model.GiftMetadata, error)
	TransferOwnership(ctx context.Context, caller model.Address, giftID string, newOwner model.Address) (*model.GiftOwnership, error)
}

// PermissionServiceInterface は権限照会に必要なサービスインターフェース。
type PermissionServiceInterface interface {
	CapabilitiesFor(ctx context.Context, address model.Address, giftID string) (permission.Capabilities, model.Role, error)
}

// MetadataServiceInterface はメタデータハンドラーが必要とするサービスインターフェース。
type MetadataServiceInterface interface {
	Read(ctx context.Context, caller model.Address, giftID string) (*model.GiftMetadata, error)
	// Update はexpectedVersionを前提として変更を適用し、新しいバージョンを返す。
	Update(ctx context.Context, caller model.Address, giftID string, expectedVersion int64, patch MetadataPatch) (*model.GiftMetadata, error)
}

// InviteServiceInterface は招待ハンドラーが必要とするサービスインターフェース。
type InviteServiceInterface interface {
	CreateInvite(ctx context.Context, caller, to model.Address, giftID string, role model.Role, duration time.Duration) (*model.Invite, error)
	AcceptInvite(ctx context.Context, caller model.Address, inviteID string) (*model.Invite, error)
	CancelInvite(ctx context.Context, caller model.Address, inviteID string) (*model.Invite, error)
	ListInvites(ctx context.Context, caller model.Address, giftID string) ([]invite.View, error)
	ListInvitesFor(ctx context.Context, caller model.Address) ([]invite.View, error)
}

// callerFrom はリクエストコンテキストから呼び出し元アドレスを取得する。
// 取得できない場合は401を書き込み、falseを返す。
func callerFrom(w http.ResponseWriter, r *http.Request) (model.Address, bool) {
	caller, err := middleware.AddressFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "UNAUTHENTICATED",
			Message:  "ウォレットアドレスが必要です。",
			Category: "auth",
			Action:   "ウォレットを接続してから再度お試しください。",
		})
		return "", false
	}
	return caller, true
}

// decodeJSON はリクエストボディをvにデコードする。失敗した場合は400を書き込み、falseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーをHTTPレスポンスに変換する。
// APIError以外のエラーは内部エラーとしてログに記録する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("internal server error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	} else if model.IsRetryable(err) {
		slog.Error("store unavailable",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		w.Header().Set("Retry-After", "1")
	}
	middleware.WriteError(w, err)
}

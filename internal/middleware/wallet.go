// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/giftshare/internal/model"
)

// WalletAddressHeader は呼び出し元のウォレットアドレスを伝えるリクエストヘッダー。
// 署名検証は行わず、前段のゲートウェイで検証済みであることを前提とする。
const WalletAddressHeader = "X-Wallet-Address"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	addressContextKey = contextKey("wallet_address")
	addressSinkKey    = contextKey("wallet_address_sink")
)

// NewWalletAddressMiddleware はX-Wallet-Addressヘッダーからアドレスを読み取り、
// 正規化したアドレスをリクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーが無い、または不正な形式の場合は401 Unauthorizedを返す。
func NewWalletAddressMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(WalletAddressHeader)
			if raw == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, unauthenticatedError("X-Wallet-Address ヘッダーがありません"))
				return
			}
			addr, err := model.ParseAddress(raw)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, unauthenticatedError("X-Wallet-Address の形式が不正です"))
				return
			}
			if sink, ok := r.Context().Value(addressSinkKey).(*string); ok {
				*sink = addr.String()
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAddress(r.Context(), addr)))
		})
	}
}

// AddressFromContext はリクエストコンテキストから呼び出し元のアドレスを取得する。
// ウォレットアドレスミドルウェアを通過したリクエストでのみ有効。
func AddressFromContext(ctx context.Context) (model.Address, error) {
	addr, ok := ctx.Value(addressContextKey).(model.Address)
	if !ok || addr == "" {
		return "", fmt.Errorf("wallet address not found in context")
	}
	return addr, nil
}

// ContextWithAddress はコンテキストに呼び出し元のアドレスを注入する。
func ContextWithAddress(ctx context.Context, addr model.Address) context.Context {
	return context.WithValue(ctx, addressContextKey, addr)
}

func unauthenticatedError(reason string) *model.APIError {
	return &model.APIError{
		Code:     "UNAUTHENTICATED",
		Message:  reason,
		Category: "auth",
		Action:   "ウォレットを接続してから再度お試しください。",
	}
}

// withAddressSink は内側のミドルウェアが解決したアドレスを外側へ伝えるための格納先を注入する。
func withAddressSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, addressSinkKey, sink)
}

// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// どの不変条件によって操作が拒否されたのかをCodeで区別できるようにする。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, invite, metadata, system
	Action   string // ユーザー向け対処方法

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInvalidRole      = "INVALID_ROLE"
	ErrCodeInvalidDuration  = "INVALID_DURATION"
	ErrCodeInviteExpired    = "INVITE_EXPIRED"
	ErrCodeInviteNotPending = "INVITE_NOT_PENDING"
	ErrCodeVersionConflict  = "VERSION_CONFLICT"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
)

// IsCode はerrがcodeを持つAPIErrorかどうかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsRetryable は呼び出し側がバックオフ後に再試行してよいエラーかどうかを返す。
// 外部ストアの一時的な障害（STORE_UNAVAILABLE）のみが再試行可能。
func IsRetryable(err error) bool {
	return IsCode(err, ErrCodeStoreUnavailable)
}

// NewUnauthorizedError は権限不足エラーを生成する。
// reasonにはどの条件を満たさなかったかを記述する。
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", reason),
		Category: "auth",
		Action:   "正しいウォレットを接続しているか確認してください。",
	}
}

// NewGiftNotFoundError はギフト未検出エラーを生成する。
func NewGiftNotFoundError(giftID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定されたギフトが見つかりません: %s", giftID),
		Category: "metadata",
		Action:   "ギフトIDを確認してください。",
	}
}

// NewInviteNotFoundError は招待未検出エラーを生成する。
func NewInviteNotFoundError(inviteID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された招待が見つかりません: %s", inviteID),
		Category: "invite",
		Action:   "招待リンクが正しいか確認してください。",
	}
}

// NewInvalidRoleError は無効なロールエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("無効なロールです: %q", role),
		Category: "validation",
		Action:   "ロールには editor または viewer を指定してください。",
	}
}

// NewInvalidDurationError は無効な有効期間エラーを生成する。
func NewInvalidDurationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDuration,
		Message:  fmt.Sprintf("無効な有効期間です: %s", reason),
		Category: "validation",
		Action:   "有効期間には1秒以上の値を指定してください。",
	}
}

// NewInviteExpiredError は期限切れ招待エラーを生成する。
func NewInviteExpiredError(inviteID string) *APIError {
	return &APIError{
		Code:     ErrCodeInviteExpired,
		Message:  fmt.Sprintf("招待の有効期限が切れています: %s", inviteID),
		Category: "invite",
		Action:   "ギフトの所有者に招待の再発行を依頼してください。",
	}
}

// NewInviteNotPendingError は承諾待ちでない招待への操作エラーを生成する。
func NewInviteNotPendingError(inviteID string, status InviteStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInviteNotPending,
		Message:  fmt.Sprintf("招待は承諾待ちではありません: %s (status=%s)", inviteID, status),
		Category: "invite",
		Action:   "招待一覧を再読み込みして最新の状態を確認してください。",
	}
}

// NewVersionConflictError はバージョン競合エラーを生成する。
func NewVersionConflictError(giftID string, expected, current int64) *APIError {
	return &APIError{
		Code:     ErrCodeVersionConflict,
		Message:  fmt.Sprintf("ギフトは他の編集者によって更新されています: %s (expected=%d, current=%d)", giftID, expected, current),
		Category: "metadata",
		Action:   "最新の内容を再読み込みしてから、もう一度編集してください。",
	}
}

// NewStoreUnavailableError は外部ストア障害エラーを生成する。
// 原因のエラーはUnwrapで取得できる。
func NewStoreUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "ストレージに一時的にアクセスできません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewInvalidAddressError は無効なウォレットアドレスエラーを生成する。
func NewInvalidAddressError(address string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("無効なウォレットアドレスです: %q", address),
		Category: "validation",
		Action:   "0xで始まる40桁の16進数アドレスを指定してください。",
	}
}

// NewInvalidRequestError は不正なリクエストエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

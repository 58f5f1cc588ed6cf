package handler

import (
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/giftshare/internal/invite"
	"github.com/hitoshi/giftshare/internal/model"
)

// InviteHandler は招待の作成、承諾、取り消し、一覧のHTTPハンドラー。
type InviteHandler struct {
	service InviteServiceInterface
}

// NewInviteHandler はInviteHandlerを生成する。
func NewInviteHandler(service InviteServiceInterface) *InviteHandler {
	return &InviteHandler{service: service}
}

// maxDurationSeconds はtime.Durationで表現できる最大の秒数。
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// createInviteRequest は招待作成リクエストのボディ。
type createInviteRequest struct {
	To              string `json:"to"`
	Role            string `json:"role"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// inviteResponse は招待のAPIレスポンス。
// 作成、承諾、取り消しの応答ではstatusは遷移直後に保存されたステータス、
// 一覧の応答ではエンジンが読み出し時点で計算した実効ステータス。
type inviteResponse struct {
	ID          string             `json:"id"`
	GiftID      string             `json:"gift_id"`
	From        model.Address      `json:"from"`
	FromName    string             `json:"from_name,omitempty"`
	To          model.Address      `json:"to"`
	ToName      string             `json:"to_name,omitempty"`
	Role        model.Role         `json:"role"`
	Status      model.InviteStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	AcceptedAt  *time.Time         `json:"accepted_at,omitempty"`
	CancelledAt *time.Time         `json:"cancelled_at,omitempty"`
}

func toInviteResponse(inv *model.Invite) inviteResponse {
	return inviteResponse{
		ID:          inv.ID,
		GiftID:      inv.GiftID,
		From:        inv.From,
		To:          inv.To,
		Role:        inv.Role,
		Status:      inv.Status,
		CreatedAt:   inv.CreatedAt,
		ExpiresAt:   inv.ExpiresAt,
		AcceptedAt:  inv.AcceptedAt,
		CancelledAt: inv.CancelledAt,
	}
}

func toInviteResponses(views []invite.View) []inviteResponse {
	results := make([]inviteResponse, len(views))
	for i, v := range views {
		results[i] = inviteResponse{
			ID:          v.ID,
			GiftID:      v.GiftID,
			From:        v.From,
			FromName:    v.FromName,
			To:          v.To,
			ToName:      v.ToName,
			Role:        v.Role,
			Status:      v.Status,
			CreatedAt:   v.CreatedAt,
			ExpiresAt:   v.ExpiresAt,
			AcceptedAt:  v.AcceptedAt,
			CancelledAt: v.CancelledAt,
		}
	}
	return results
}

// CreateInvite はギフトへの招待を作成する。所有者のみ実行できる。
// POST /api/gifts/{giftID}/invites
func (h *InviteHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req createInviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	to, err := model.ParseAddress(req.To)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// time.Durationに収まらない秒数は変換時に桁あふれするためここで拒否する。
	// それ以外のロールと有効期間の検証は所有者確認の後にエンジンで行う
	if req.DurationSeconds > maxDurationSeconds {
		handleServiceError(w, r, model.NewInvalidDurationError("有効期間が大きすぎます"))
		return
	}
	role := model.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	var duration time.Duration
	if req.DurationSeconds > 0 {
		duration = time.Duration(req.DurationSeconds) * time.Second
	}

	inv, err := h.service.CreateInvite(r.Context(), caller, to, chi.URLParam(r, "giftID"), role, duration)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInviteResponse(inv))
}

// ListGiftInvites はギフトの全招待を返す。所有者のみ実行できる。
// GET /api/gifts/{giftID}/invites
func (h *InviteHandler) ListGiftInvites(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	views, err := h.service.ListInvites(r.Context(), caller, chi.URLParam(r, "giftID"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toInviteResponses(views))
}

// ListMyInvites は呼び出し元宛ての招待を返す。
// GET /api/invites
func (h *InviteHandler) ListMyInvites(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	views, err := h.service.ListInvitesFor(r.Context(), caller)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toInviteResponses(views))
}

// AcceptInvite は招待を承諾する。
// POST /api/invites/{inviteID}/accept
func (h *InviteHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	inv, err := h.service.AcceptInvite(r.Context(), caller, chi.URLParam(r, "inviteID"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toInviteResponse(inv))
}

// CancelInvite は承諾待ちの招待を取り消す。
// POST /api/invites/{inviteID}/cancel
func (h *InviteHandler) CancelInvite(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	inv, err := h.service.CancelInvite(r.Context(), caller, chi.URLParam(r, "inviteID"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toInviteResponse(inv))
}

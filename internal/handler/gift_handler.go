package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/giftshare/internal/model"
	"github.com/hitoshi/giftshare/internal/permission"
)

// GiftHandler はギフトの作成、所有権移転、権限照会のHTTPハンドラー。
type GiftHandler struct {
	gifts       GiftServiceInterface
	permissions PermissionServiceInterface
}

// NewGiftHandler はGiftHandlerを生成する。
func NewGiftHandler(gifts GiftServiceInterface, permissions PermissionServiceInterface) *GiftHandler {
	return &GiftHandler{gifts: gifts, permissions: permissions}
}

// giftContent はギフト作成時の初期内容。
type giftContent struct {
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Theme     string        `json:"theme"`
	Recipient string        `json:"recipient"`
	Photos    []model.Photo `json:"photos"`
}

// giftResponse はギフト作成のAPIレスポンス。
type giftResponse struct {
	GiftID    string              `json:"gift_id"`
	Owner     model.Address       `json:"owner"`
	CreatedAt time.Time           `json:"created_at"`
	Metadata  *model.GiftMetadata `json:"metadata"`
}

type transferRequest struct {
	NewOwner string `json:"new_owner"`
}

type ownershipResponse struct {
	GiftID    string        `json:"gift_id"`
	Owner     model.Address `json:"owner"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// permissionsResponse は呼び出し元のギフトに対するロールと権限。
type permissionsResponse struct {
	GiftID  string        `json:"gift_id"`
	Address model.Address `json:"address"`
	Role    model.Role    `json:"role"`
	permission.Capabilities
}

// CreateGift は呼び出し元を所有者とするギフトを作成する。
// POST /api/gifts
func (h *GiftHandler) CreateGift(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req giftContent
	if !decodeJSON(w, r, &req) {
		return
	}

	own, doc, err := h.gifts.CreateGift(r.Context(), caller, &model.GiftMetadata{
		Title:     req.Title,
		Message:   req.Message,
		Theme:     req.Theme,
		Recipient: req.Recipient,
		Photos:    req.Photos,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, giftResponse{
		GiftID:    own.GiftID,
		Owner:     own.Owner,
		CreatedAt: own.CreatedAt,
		Metadata:  doc,
	})
}

// TransferOwnership はギフトの所有権を移転する。
// PUT /api/gifts/{giftID}/owner
func (h *GiftHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	newOwner, err := model.ParseAddress(req.NewOwner)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	own, err := h.gifts.TransferOwnership(r.Context(), caller, chi.URLParam(r, "giftID"), newOwner)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ownershipResponse{
		GiftID:    own.GiftID,
		Owner:     own.Owner,
		UpdatedAt: own.UpdatedAt,
	})
}

// GetPermissions は呼び出し元のギフトに対するロールと権限を返す。
// GET /api/gifts/{giftID}/permissions
func (h *GiftHandler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	giftID := chi.URLParam(r, "giftID")
	caps, role, err := h.permissions.CapabilitiesFor(r.Context(), caller, giftID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, permissionsResponse{
		GiftID:       giftID,
		Address:      caller,
		Role:         role,
		Capabilities: caps,
	})
}

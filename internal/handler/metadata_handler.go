package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/giftshare/internal/model"
)

// MetadataHandler はギフトメタデータの取得と条件付き更新のHTTPハンドラー。
type MetadataHandler struct {
	service MetadataServiceInterface
}

// NewMetadataHandler はMetadataHandlerを生成する。
func NewMetadataHandler(service MetadataServiceInterface) *MetadataHandler {
	return &MetadataHandler{service: service}
}

// MetadataPatch はメタデータの変更内容。nilの項目は変更しない。
// Photosを指定した場合は一覧全体を置き換える。
type MetadataPatch struct {
	Title     *string        `json:"title,omitempty"`
	Message   *string        `json:"message,omitempty"`
	Theme     *string        `json:"theme,omitempty"`
	Recipient *string        `json:"recipient,omitempty"`
	Photos    *[]model.Photo `json:"photos,omitempty"`
}

// Apply は変更内容をdocに適用する。
func (p MetadataPatch) Apply(doc *model.GiftMetadata) {
	if p.Title != nil {
		doc.Title = *p.Title
	}
	if p.Message != nil {
		doc.Message = *p.Message
	}
	if p.Theme != nil {
		doc.Theme = *p.Theme
	}
	if p.Recipient != nil {
		doc.Recipient = *p.Recipient
	}
	if p.Photos != nil {
		doc.Photos = append([]model.Photo(nil), (*p.Photos)...)
	}
}

// putMetadataRequest はメタデータ更新リクエストのボディ。
// expected_versionは必須で、書き込み前に読み取ったバージョンを指定する。
type putMetadataRequest struct {
	ExpectedVersion *int64 `json:"expected_version"`
	MetadataPatch
}

// GetMetadata はギフトの最新メタデータを返す。閲覧権限が必要。
// GET /api/gifts/{giftID}/metadata
func (h *MetadataHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	doc, err := h.service.Read(r.Context(), caller, chi.URLParam(r, "giftID"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("ETag", etagFor(doc.Version))
	writeJSON(w, http.StatusOK, doc)
}

// PutMetadata はexpected_versionが最新の場合に限りメタデータを更新する。編集権限が必要。
// expected_versionの代わりにGETで得たETagをIf-Matchヘッダーで渡してもよい。
// 他の編集者が先に更新していた場合は409を返す。
// PUT /api/gifts/{giftID}/metadata
func (h *MetadataHandler) PutMetadata(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req putMetadataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expected, err := expectedVersion(req.ExpectedVersion, r.Header.Get("If-Match"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	doc, err := h.service.Update(r.Context(), caller, chi.URLParam(r, "giftID"), expected, req.MetadataPatch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("ETag", etagFor(doc.Version))
	writeJSON(w, http.StatusOK, doc)
}

// expectedVersion はボディのexpected_versionとIf-Matchヘッダーから前提バージョンを決める。
// どちらか一方は必須で、両方指定された場合は一致していなければならない。
func expectedVersion(body *int64, ifMatch string) (int64, error) {
	var fromHeader int64
	if ifMatch != "" {
		v, ok := parseETag(ifMatch)
		if !ok {
			return 0, model.NewInvalidRequestError("If-Match の形式が不正です")
		}
		fromHeader = v
	}

	switch {
	case body != nil && fromHeader != 0 && *body != fromHeader:
		return 0, model.NewInvalidRequestError("expected_version と If-Match が一致しません")
	case body != nil:
		if *body < 1 {
			return 0, model.NewInvalidRequestError("expected_version には1以上の値を指定してください")
		}
		return *body, nil
	case fromHeader != 0:
		return fromHeader, nil
	default:
		return 0, model.NewInvalidRequestError("expected_version または If-Match が必要です")
	}
}

// parseETag はetagForが生成した値（弱いETagを含む）からバージョンを取り出す。
func parseETag(s string) (int64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "W/")
	if !strings.HasPrefix(s, `"v`) || !strings.HasSuffix(s, `"`) || len(s) < 4 {
		return 0, false
	}
	v, err := strconv.ParseInt(s[2:len(s)-1], 10, 64)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

// etagFor はバージョンからETagヘッダーの値を生成する。
func etagFor(version int64) string {
	return `"v` + strconv.FormatInt(version, 10) + `"`
}

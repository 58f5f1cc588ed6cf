package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/giftshare/internal/blob"
	"github.com/hitoshi/giftshare/internal/clock"
	"github.com/hitoshi/giftshare/internal/gift"
	"github.com/hitoshi/giftshare/internal/identity"
	"github.com/hitoshi/giftshare/internal/invite"
	"github.com/hitoshi/giftshare/internal/metadata"
	"github.com/hitoshi/giftshare/internal/metrics"
	"github.com/hitoshi/giftshare/internal/middleware"
	"github.com/hitoshi/giftshare/internal/model"
	"github.com/hitoshi/giftshare/internal/permission"
	"github.com/hitoshi/giftshare/internal/repository"
	"github.com/hitoshi/giftshare/internal/security"
)

const (
	owner  = model.Address("0x00000000000000000000000000000000000000a1")
	editor = model.Address("0x00000000000000000000000000000000000000b2")
	viewer = model.Address("0x00000000000000000000000000000000000000c3")
)

var epoch = time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)

// testServer はインメモリのストアで全コンポーネントを組み立てたAPIサーバー。
type testServer struct {
	handler http.Handler
	clock   *clock.Fake
	rl      *middleware.RateLimiter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	clk := clock.NewFake(epoch)
	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)

	ledger := repository.NewMemoryLedgerRepo()
	engine := invite.NewEngine(ledger, clk, mc, logger,
		invite.WithMaxDuration(30*24*time.Hour),
		invite.WithNameResolver(identity.NewStaticResolver(map[model.Address]string{owner: "Alice"})),
	)
	gate := permission.NewGate(engine)
	store := metadata.NewStore(blob.NewMemoryStore(), repository.NewMemoryHeadRepo())
	resolver := metadata.NewResolver(store, gate, clk, mc, logger)
	sanitizer := security.NewContentSanitizer()

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000, 1000))
	t.Cleanup(rl.Stop)

	h := NewRouter(&RouterDeps{
		Logger:            logger,
		Metrics:           mc,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		MetricsHandler:    metrics.Handler(reg),
		GiftService:       NewGiftServiceAdapter(gift.NewService(ledger, resolver, clk, logger), sanitizer),
		PermissionService: gate,
		MetadataService:   NewMetadataServiceAdapter(resolver, sanitizer),
		InviteService:     engine,
	})
	return &testServer{handler: h, clock: clk, rl: rl}
}

func (s *testServer) do(t *testing.T, method, path string, caller model.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set(middleware.WalletAddressHeader, caller.String())
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (status %d)", err, w.Code)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
		return
	}
	body := decodeBody[middleware.ErrorResponseBody](t, w)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
}

func (s *testServer) createGift(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/gifts", owner, map[string]any{
		"title":   "<b>誕生日</b>おめでとう",
		"message": "<p>いつもありがとう</p><script>alert(1)</script>",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create gift status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[giftResponse](t, w)
	if resp.Owner != owner || resp.Metadata == nil || resp.Metadata.Version != 1 {
		t.Fatalf("create gift response = %+v", resp)
	}
	if resp.Metadata.Title != "誕生日おめでとう" {
		t.Errorf("title should be sanitized, got %q", resp.Metadata.Title)
	}
	if strings.Contains(resp.Metadata.Message, "script") {
		t.Errorf("message should be sanitized, got %q", resp.Metadata.Message)
	}
	return resp.GiftID
}

func (s *testServer) invite(t *testing.T, giftID string, to model.Address, role string, seconds int64) inviteResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/gifts/"+giftID+"/invites", owner, map[string]any{
		"to": to.String(), "role": role, "duration_seconds": seconds,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create invite status = %d, body %s", w.Code, w.Body.String())
	}
	return decodeBody[inviteResponse](t, w)
}

func TestRouter_InviteAcceptEditFlow(t *testing.T) {
	s := newTestServer(t)
	giftID := s.createGift(t)

	// 招待前の第三者は閲覧できない
	expectError(t, s.do(t, http.MethodGet, "/api/gifts/"+giftID+"/metadata", editor, nil),
		http.StatusForbidden, model.ErrCodeUnauthorized)

	inv := s.invite(t, giftID, editor, "Editor", 3600)
	if inv.Status != model.InviteStatusPending || inv.Role != model.RoleEditor {
		t.Errorf("invite = %+v", inv)
	}

	w := s.do(t, http.MethodPost, "/api/invites/"+inv.ID+"/accept", editor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept status = %d, body %s", w.Code, w.Body.String())
	}
	accepted := decodeBody[inviteResponse](t, w)
	if accepted.Status != model.InviteStatusAccepted || accepted.AcceptedAt == nil {
		t.Errorf("accepted = %+v", accepted)
	}

	w = s.do(t, http.MethodGet, "/api/gifts/"+giftID+"/permissions", editor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("permissions status = %d", w.Code)
	}
	perms := decodeBody[permissionsResponse](t, w)
	if perms.Role != model.RoleEditor || !perms.CanView || !perms.CanEdit || perms.CanInvite || perms.CanDelete {
		t.Errorf("permissions = %+v", perms)
	}

	w = s.do(t, http.MethodPut, "/api/gifts/"+giftID+"/metadata", editor, map[string]any{
		"expected_version": 1,
		"theme":            "<i>sakura</i>",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put metadata status = %d, body %s", w.Code, w.Body.String())
	}
	if etag := w.Header().Get("ETag"); etag != `"v2"` {
		t.Errorf("ETag = %q, want \"v2\"", etag)
	}
	doc := decodeBody[model.GiftMetadata](t, w)
	if doc.Version != 2 || doc.Theme != "sakura" || doc.LastModifiedBy != editor {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Title != "誕生日おめでとう" {
		t.Errorf("untouched title changed: %q", doc.Title)
	}

	// 古いバージョンを前提とした書き込みは409
	expectError(t, s.do(t, http.MethodPut, "/api/gifts/"+giftID+"/metadata", owner, map[string]any{
		"expected_version": 1,
		"title":            "stale",
	}), http.StatusConflict, model.ErrCodeVersionConflict)

	w = s.do(t, http.MethodGet, "/api/gifts/"+giftID+"/metadata", owner, nil)
	if got := decodeBody[model.GiftMetadata](t, w); got.Version != 2 {
		t.Errorf("version after conflict = %d, want 2", got.Version)
	}
}

func TestRouter_ViewerCannotWrite(t *testing.T) {
	s := newTestServer(t)
	giftID := s.createGift(t)

	inv := s.invite(t, giftID, viewer, "viewer", 3600)
	if w := s.do(t, http.MethodPost, "/api/invites/"+inv.ID+"/accept", viewer, nil); w.Code != http.StatusOK {
		t.Fatalf("accept status = %d", w.Code)
	}

	if w := s.do(t, http.MethodGet, "/api/gifts/"+giftID+"/metadata", viewer, nil); w.Code != http.StatusOK {
		t.Errorf("viewer read status = %d, want 200", w.Code)
	}
	expectError(t, s.do(t, http.MethodPut, "/api/gifts/"+giftID+"/metadata", viewer, map[string]any{
		"expected_version": 1, "title": "x",
	}), http.StatusForbidden, model.ErrCodeUnauthorized)
}

func TestRouter_CreateInviteValidation(t *testing.T) {
	s := newTestServer(t)
	giftID := s.createGift(t)

	tests := []struct {
		name   string
		caller model.Address
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"owner role", owner, "/api/gifts/" + giftID + "/invites",
			map[string]any{"to": editor.String(), "role": "owner", "duration_seconds": 60},
			http.StatusBadRequest, model.ErrCodeInvalidRole},
		{"zero duration", owner, "/api/gifts/" + giftID + "/invites",
			map[string]any{"to": editor.String(), "role": "editor", "duration_seconds": 0},
			http.StatusBadRequest, model.ErrCodeInvalidDuration},
		{"too long", owner, "/api/gifts/" + giftID + "/invites",
			map[string]any{"to": editor.String(), "role": "editor", "duration_seconds": 31 * 24 * 3600},
			http.StatusBadRequest, model.ErrCodeInvalidDuration},
		{"overflowing duration", owner, "/api/gifts/" + giftID + "/invites",
			map[string]any{"to": editor.String(), "role": "editor", "duration_seconds": int64(18446744074)},
			http.StatusBadRequest, model.ErrCodeInvalidDuration},
		{"non owner", editor, "/api/gifts/" + giftID + "/invites",
			map[string]any{"to": viewer.String(), "role": "viewer", "duration_seconds": 60},
			http.StatusForbidden, model.ErrCodeUnauthorized},
		{"unknown gift", owner, "/api/gifts/missing/invites",
			map[string]any{"to": editor.String(), "role": "owner", "duration_seconds": 60},
			http.StatusNotFound, model.ErrCodeNotFound},
		{"bad address", owner, "/api/gifts/" + giftID + "/invites",
			map[string]any{"to": "bob", "role": "editor", "duration_seconds": 60},
			http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"unknown field", owner, "/api/gifts/" + giftID + "/invites",
			map[string]any{"to": editor.String(), "role": "editor", "duration": "1h"},
			http.StatusBadRequest, model.ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, s.do(t, http.MethodPost, tt.path, tt.caller, tt.body), tt.status, tt.code)
		})
	}
}

func TestRouter_ExpiredAndCancelledInvites(t *testing.T) {
	s := newTestServer(t)
	giftID := s.createGift(t)

	expiring := s.invite(t, giftID, editor, "editor", 60)
	cancelled := s.invite(t, giftID, viewer, "viewer", 3600)

	w := s.do(t, http.MethodPost, "/api/invites/"+cancelled.ID+"/cancel", owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", w.Code, w.Body.String())
	}
	if got := decodeBody[inviteResponse](t, w); got.Status != model.InviteStatusCancelled {
		t.Errorf("cancel status = %s", got.Status)
	}
	expectError(t, s.do(t, http.MethodPost, "/api/invites/"+cancelled.ID+"/accept", viewer, nil),
		http.StatusInternalServerError, model.ErrCodeInviteNotPending)

	s.clock.Advance(2 * time.Minute)
	expectError(t, s.do(t, http.MethodPost, "/api/invites/"+expiring.ID+"/accept", editor, nil),
		http.StatusInternalServerError, model.ErrCodeInviteExpired)

	// 一覧には実効ステータスと表示名が含まれる
	w = s.do(t, http.MethodGet, "/api/gifts/"+giftID+"/invites", owner, nil)
	list := decodeBody[[]inviteResponse](t, w)
	if len(list) != 2 {
		t.Fatalf("invites = %d, want 2", len(list))
	}
	if list[0].ID != expiring.ID || list[0].Status != model.InviteStatusExpired || list[0].FromName != "Alice" {
		t.Errorf("first invite = %+v", list[0])
	}

	expectError(t, s.do(t, http.MethodGet, "/api/gifts/"+giftID+"/invites", editor, nil),
		http.StatusForbidden, model.ErrCodeUnauthorized)

	w = s.do(t, http.MethodGet, "/api/invites", editor, nil)
	inbox := decodeBody[[]inviteResponse](t, w)
	if len(inbox) != 1 || inbox[0].ID != expiring.ID {
		t.Errorf("inbox = %+v", inbox)
	}
}

func TestRouter_TransferOwnership(t *testing.T) {
	s := newTestServer(t)
	giftID := s.createGift(t)

	expectError(t, s.do(t, http.MethodPut, "/api/gifts/"+giftID+"/owner", editor, map[string]any{
		"new_owner": editor.String(),
	}), http.StatusForbidden, model.ErrCodeUnauthorized)

	w := s.do(t, http.MethodPut, "/api/gifts/"+giftID+"/owner", owner, map[string]any{
		"new_owner": editor.String(),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("transfer status = %d, body %s", w.Code, w.Body.String())
	}
	if got := decodeBody[ownershipResponse](t, w); got.Owner != editor {
		t.Errorf("owner = %s, want %s", got.Owner, editor)
	}

	w = s.do(t, http.MethodGet, "/api/gifts/"+giftID+"/permissions", owner, nil)
	if perms := decodeBody[permissionsResponse](t, w); perms.Role != model.RoleNone || perms.CanView {
		t.Errorf("former owner permissions = %+v", perms)
	}
}

func TestRouter_UnknownGiftPermissions_Returns404(t *testing.T) {
	s := newTestServer(t)
	expectError(t, s.do(t, http.MethodGet, "/api/gifts/missing/permissions", owner, nil),
		http.StatusNotFound, model.ErrCodeNotFound)
}

func TestRouter_MissingAddress_Returns401(t *testing.T) {
	s := newTestServer(t)
	for _, tt := range []struct{ method, path string }{
		{http.MethodPost, "/api/gifts"},
		{http.MethodGet, "/api/invites"},
	} {
		w := s.do(t, tt.method, tt.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tt.method, tt.path, w.Code)
		}
	}
}

func TestRouter_PutMetadataRequiresExpectedVersion(t *testing.T) {
	s := newTestServer(t)
	giftID := s.createGift(t)

	expectError(t, s.do(t, http.MethodPut, "/api/gifts/"+giftID+"/metadata", owner, map[string]any{
		"title": "no version",
	}), http.StatusBadRequest, model.ErrCodeInvalidRequest)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}

	s.createGift(t)
	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "giftshare_metadata_writes_total") {
		t.Error("metrics output should contain giftshare_metadata_writes_total")
	}
}

func TestRouter_PutMetadataWithIfMatch(t *testing.T) {
	s := newTestServer(t)
	giftID := s.createGift(t)

	get := s.do(t, http.MethodGet, "/api/gifts/"+giftID+"/metadata", owner, nil)
	etag := get.Header().Get("ETag")
	if etag != `"v1"` {
		t.Fatalf("ETag = %q, want \"v1\"", etag)
	}

	put := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/gifts/"+giftID+"/metadata", strings.NewReader(`{"theme":"night"}`))
		req.Header.Set(middleware.WalletAddressHeader, owner.String())
		req.Header.Set("If-Match", etag)
		w := httptest.NewRecorder()
		s.handler.ServeHTTP(w, req)
		return w
	}

	w := put()
	if w.Code != http.StatusOK {
		t.Fatalf("first put status = %d, body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("ETag"); got != `"v2"` {
		t.Errorf("ETag after write = %q, want \"v2\"", got)
	}

	// 同じETagでの再送は競合になる
	expectError(t, put(), http.StatusConflict, model.ErrCodeVersionConflict)
}

func TestOpsRouter_ExposesOnlyHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg).RecordInvitesExpired(2)
	h := NewOpsRouter(nil, nil, metrics.Handler(reg))

	for _, tt := range []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/invites", http.StatusNotFound},
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.want {
			t.Errorf("%s status = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

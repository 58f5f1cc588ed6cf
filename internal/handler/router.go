package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/giftshare/internal/metrics"
	"github.com/hitoshi/giftshare/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証不要のエンドポイント
	HealthChecker  Pinger
	MetricsHandler http.Handler

	// ドメインサービス
	GiftService       GiftServiceInterface
	PermissionService PermissionServiceInterface
	MetadataService   MetadataServiceInterface
	InviteService     InviteServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → WalletAddress → RateLimit(General)
//
// /health と /metrics はウォレットアドレスを要求しない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	giftHandler := NewGiftHandler(deps.GiftService, deps.PermissionService)
	metadataHandler := NewMetadataHandler(deps.MetadataService)
	inviteHandler := NewInviteHandler(deps.InviteService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- ウォレットアドレスが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewWalletAddressMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/gifts", func(r chi.Router) {
			r.Post("/", giftHandler.CreateGift)

			r.Route("/{giftID}", func(r chi.Router) {
				r.Get("/permissions", giftHandler.GetPermissions)
				r.Put("/owner", giftHandler.TransferOwnership)

				r.Get("/metadata", metadataHandler.GetMetadata)
				r.Put("/metadata", metadataHandler.PutMetadata)

				r.Get("/invites", inviteHandler.ListGiftInvites)
				// 招待作成には専用のレート制限を追加する
				r.With(deps.RateLimiter.InviteMiddleware()).Post("/invites", inviteHandler.CreateInvite)
			})
		})

		r.Route("/api/invites", func(r chi.Router) {
			r.Get("/", inviteHandler.ListMyInvites)
			r.Post("/{inviteID}/accept", inviteHandler.AcceptInvite)
			r.Post("/{inviteID}/cancel", inviteHandler.CancelInvite)
		})
	})

	return r
}

// NewOpsRouter はワーカープロセス用に /health と /metrics のみを公開するルーターを返す。
func NewOpsRouter(logger *slog.Logger, pinger Pinger, metricsHandler http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", NewHealthHandler(pinger))
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	return r
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-notifications-nosql/internal/application/notification"
	"github.com/go-notifications-nosql/internal/application/receipt"
	"github.com/go-notifications-nosql/internal/config"
	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/transport/http/handler"
	appmiddleware "github.com/go-notifications-nosql/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	createRL := appmiddleware.NewRateLimiter(rate.Limit(cfg.CreateRateLimit), cfg.CreateRateBurst)

	notifSvc := notification.NewService(deps.Notifications, deps.Receipts)
	receiptSvc := receipt.NewService(receipt.ServiceDeps{
		Notifications: deps.Notifications,
		Receipts:      deps.Receipts,
		Publisher:     deps.Publisher,
		Logger:        deps.Logger,
	})

	healthH := handler.NewHealthHandler()
	notifH := handler.NewNotificationHandler(notifSvc, receiptSvc)
	liveH := handler.NewLiveHandler(deps.Hub, handler.LiveConfig{
		Keepalive:      cfg.LiveKeepalive,
		PollTimeout:    cfg.LivePollTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}, deps.Logger)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.Verifier))

			r.Get("/notifications", notifH.List)
			r.Get("/notifications/unread-count", notifH.UnreadCount)
			r.Patch("/notifications/mark-read", notifH.MarkRead)
			r.Patch("/notifications/mark-all-read", notifH.MarkAllRead)

			// Live transports
			r.Get("/notifications/stream", liveH.Stream)
			r.Get("/notifications/poll", liveH.Poll)
			r.Get("/notifications/socket", liveH.Socket)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))
				r.With(createRL.Limit).Post("/notifications", notifH.Create)
			})
		})
	})

	return r
}

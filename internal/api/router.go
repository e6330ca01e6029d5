package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the handlers mounted next to the API
type RouterOptions struct {
	AllowedOrigins []string
	WebSocket      http.Handler
	Metrics        http.Handler
	Recorder       RequestRecorder
}

// NewRouter wires every route
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.Logger, opts.Recorder))

	// Enable CORS
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", opts.WebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		// Public endpoints
		r.Post("/auth/signup", h.Signup)
		r.Post("/auth/login", h.Login)

		r.Route("/market", func(r chi.Router) {
			r.Get("/symbols", h.Symbols)
			r.Get("/price/{symbol}", h.Price)
			r.Get("/ticker/{symbol}", h.Ticker)
			r.Get("/klines/{symbol}", h.Klines)
			r.Get("/orderbook/{symbol}", h.OrderBook)
		})

		// Protected endpoints (require JWT)
		r.Group(func(r chi.Router) {
			r.Use(h.JWTAuthMiddleware)

			r.Get("/user/me", h.Me)
			r.Get("/portfolio", h.GetPortfolio)

			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders", h.GetUserOrders)
			r.Delete("/orders/{id}", h.CancelOrder)

			r.Get("/transactions", h.GetUserTransactions)
			r.Post("/transactions/requests", h.CreateTransactionRequest)
			r.Get("/transactions/requests", h.GetUserTransactionRequests)

			r.Get("/kyc", h.GetKYC)
			r.Post("/kyc", h.SubmitKYC)

			r.Get("/alerts", h.GetAlerts)
			r.Post("/alerts/{id}/read", h.MarkAlertRead)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireAdmin)

				r.Get("/users", h.AdminListUsers)
				r.Get("/users/{id}", h.AdminGetUser)
				r.Put("/users/{id}", h.AdminUpdateUser)
				r.Post("/users/{id}/balance", h.AdminAdjustBalance)

				r.Get("/assets", h.AdminListAssets)
				r.Put("/assets/{id}", h.AdminUpdateAsset)
				r.Delete("/assets/{id}", h.AdminDeleteAsset)

				r.Get("/orders", h.AdminListOrders)

				r.Get("/transactions", h.AdminListTransactions)
				r.Get("/transactions/requests", h.AdminListTransactionRequests)
				r.Post("/transactions/requests/{id}/approve", h.AdminApproveTransactionRequest)
				r.Post("/transactions/requests/{id}/reject", h.AdminRejectTransactionRequest)

				r.Get("/kyc", h.AdminListKYC)
				r.Post("/kyc/{userID}/approve", h.AdminApproveKYC)
				r.Post("/kyc/{userID}/reject", h.AdminRejectKYC)

				r.Get("/audit-logs", h.AdminListAuditLogs)
			})
		})
	})

	return r
}

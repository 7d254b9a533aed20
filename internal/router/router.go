package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"practest-backend/internal/handlers"
	"practest-backend/internal/middleware"
	"practest-backend/internal/websocket"
)

type Handlers struct {
	Tests    *handlers.TestHandler
	Sessions *handlers.SessionHandler
	Attempts *handlers.AttemptHandler
	Health   *handlers.HealthHandler
}

func New(
	jwtAuth *middleware.JWTAuth,
	h Handlers,
	generateLimiter *middleware.RateLimiter,
	wsHub *websocket.Hub,
	frontendURL string,
	log logrus.FieldLogger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(frontendURL))

	r.Get("/health", h.Health.Health)

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Test Routes ────
		r.Route("/tests", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.With(generateLimiter.Middleware).Post("/generate", h.Tests.Generate)
			r.Get("/", h.Tests.List)
			r.Get("/{id}", h.Tests.Get)
			r.Delete("/{id}", h.Tests.Delete)
			r.Post("/{id}/submit", h.Tests.Submit)
			r.Get("/{id}/attempts", h.Tests.Attempts)
			r.Post("/{id}/sessions", h.Sessions.Start)
		})

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/{id}", h.Sessions.Get)
			r.Put("/{id}/answers", h.Sessions.RecordAnswer)
			r.Post("/{id}/navigate", h.Sessions.Navigate)
			r.Post("/{id}/submit", h.Sessions.Submit)
			r.Delete("/{id}", h.Sessions.Abandon)
		})

		// ──── Attempt Routes ────
		r.Route("/attempts", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/{id}", h.Attempts.Get)
		})

		// ──── WebSocket ────
		if wsHub != nil {
			r.Get("/ws", wsHub.HandleWebSocket)
		}
	})

	return r
}

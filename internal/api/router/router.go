package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/devmuse/automaton/internal/http/handlers"
	httpmiddleware "github.com/devmuse/automaton/internal/http/middleware"
	"github.com/devmuse/automaton/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	WebhookHandler     *handlers.WhatsAppWebhookHandler
	AdminConversations *handlers.AdminConversationsHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.WebhookHandler != nil {
			public.Post("/webhooks/whatsapp/{deviceID}", cfg.WebhookHandler.HandleMessage)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Admin routes (protected by JWT)
	if cfg.AdminConversations != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Route("/conversations/{deviceID}/{phone}", func(conv chi.Router) {
				conv.Get("/", cfg.AdminConversations.GetConversation)
				conv.Delete("/", cfg.AdminConversations.DeleteConversation)
				conv.Put("/human", cfg.AdminConversations.SetHumanMode)
				conv.Get("/transcript", cfg.AdminConversations.GetTranscript)
			})
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

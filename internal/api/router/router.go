package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/azentyk/voice-appointments/internal/admin"
	httpmiddleware "github.com/azentyk/voice-appointments/internal/http/middleware"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

const healthCheckTimeout = 2 * time.Second

// VoiceWebhooks answers the telephony provider's call webhooks.
type VoiceWebhooks interface {
	IncomingCall(w http.ResponseWriter, r *http.Request)
	ProcessIncoming(w http.ResponseWriter, r *http.Request)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	Voice           VoiceWebhooks
	Admin           *admin.Handler
	AdminAuthSecret string
	MetricsHandler  http.Handler
	// WebhookLimiter throttles the voice webhooks per client IP. Nil disables it.
	WebhookLimiter *httpmiddleware.RateLimiter
	HealthChecks   map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Voice != nil {
		r.Group(func(webhooks chi.Router) {
			if cfg.WebhookLimiter != nil {
				webhooks.Use(cfg.WebhookLimiter.Middleware)
			}
			webhooks.Post("/incoming_call", cfg.Voice.IncomingCall)
			webhooks.Post("/process_incoming", cfg.Voice.ProcessIncoming)
		})
	}

	if cfg.Admin != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(adminRoutes chi.Router) {
			adminRoutes.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, cfg.Logger))
			adminRoutes.Mount("/", cfg.Admin.Routes())
		})
	}

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		code := http.StatusOK
		if len(checks) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			resp.Checks = make(map[string]string, len(checks))
			for name, check := range checks {
				if err := check(ctx); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					code = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

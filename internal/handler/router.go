package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/fin-onboard/backend/internal/handler/onboarding"
	"github.com/zhouzirui/fin-onboard/backend/internal/handler/persona"
	middlewarePkg "github.com/zhouzirui/fin-onboard/backend/internal/middleware"
	onboardingService "github.com/zhouzirui/fin-onboard/backend/internal/service/onboarding"
	"github.com/zhouzirui/fin-onboard/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(registry *onboardingService.Registry, logger *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"clients": registry.Len(),
		})
	})

	// Create handlers
	onboardingHandler := onboarding.New(registry, logger)
	personaHandler := persona.New(registry)

	r.Route("/api", func(api chi.Router) {
		onboardingHandler.RegisterRoutes(api)
		personaHandler.RegisterRoutes(api)
	})

	return r
}

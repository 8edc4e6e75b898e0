package handlers

// router.go constructs the chi router, registers all middleware, and wires all
// routes to their respective handlers. it is the single source of truth for
// the HTTP surface area of the preview-environment control plane API.
// adding a new endpoint means adding one line in this file, nothing else.

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/previewd/previewd/accesstrack"
	"github.com/previewd/previewd/metrics"
	"github.com/previewd/previewd/orchestrator"
	"github.com/previewd/previewd/store"
)

// RouterDependencies groups all external dependencies that the router and its handlers
// need. passing a single struct instead of N arguments keeps CreateAndSetupRouter's
// signature stable as more handlers are added -- adding a new dependency means adding one
// field here, not changing every call site.
type RouterDependencies struct {
	Logger               *slog.Logger
	Store                *store.Store
	Orchestrator         *orchestrator.Orchestrator
	Access               *accesstrack.Tracker
	Metrics              *metrics.Recorder
	AllowedOrigin        string
	TokenSigningSecret   string
	WebhookSigningSecret string
}

// CreateAndSetupRouter constructs the chi multiplexer, attaches middleware, constructs
// all handlers with their dependencies, and registers all routes. it returns a plain
// http.Handler so main.go has no chi import or awareness -- the server in main.go only
// needs to know it has something that satisfies http.Handler.
func CreateAndSetupRouter(dependencies RouterDependencies) http.Handler {

	router := chi.NewRouter() // type is *chi.Mux, implements http.Handler interface
	// Mux: Short for Multiplexer, this is the HTTP router (chi.Mux). It acts
	//    as a switchboard, inspecting incoming request URLs and routing them to
	//    the appropriate Go handler functions.

	// chi middleware runs on every request before the handler is called (top to bottom).
	// Common use cases include authentication, rate limiting, CORS header injection,
	// and logging. They allow applying global rules without repeating code in every handler.
	router.Use(middleware.Logger) // TODO replace with a custom slog middleware
	// middleware.Recoverer catches panics in handlers and returns a 500 instead of crashing the process.
	router.Use(middleware.Recoverer)
	router.Use(CORSMiddleware(dependencies.AllowedOrigin))

	// --- handler init/construction ---
	// each handler receives only the dependencies it actually needs.
	// handlers do not use global variables (like a package-level LOGGER) -- dependency
	// injection all the way down.

	healthHandler := NewHealthHandler(dependencies.Store, dependencies.Logger)
	previewHandler := NewPreviewHandler(dependencies.Orchestrator, dependencies.Store, dependencies.Access, dependencies.Logger)
	webhookHandler := NewWebhookHandler(dependencies.Orchestrator, dependencies.Store, dependencies.WebhookSigningSecret, dependencies.Logger)

	requireAuth := RequireBearerAuth(dependencies.TokenSigningSecret, dependencies.Logger)

	// --- route registration ---

	// /health and /metrics are intentionally kept at the root level rather than under an
	// /api prefix. external infrastructure components -- load balancers, container
	// orchestrators, uptime monitors, and Prometheus scrape configs -- typically expect
	// these at standard root paths and have no context about the application's internal
	// route grouping.
	router.Get("/health", healthHandler.Health)
	if dependencies.Metrics != nil {
		router.Handle("/metrics", NewMetricsHandler(dependencies.Metrics))
	}

	// This is the api route group, giving every API route an `/api/` prefix. non-API
	// routes like /health and /metrics are kept outside this group intentionally.
	router.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Get("/health", healthHandler.Health)

		// every preview-management and webhook route requires a valid bearer token --
		// the webhook's own HMAC signature check happens inside the handler, but the
		// bearer-token layer still gates it the same as the preview routes, per
		// SPEC_FULL.md §6. /api/health above is the one /api route left ungated.
		apiRouter.Group(func(authedRouter chi.Router) {
			authedRouter.Use(requireAuth)

			authedRouter.Post("/previews", previewHandler.CreatePreview)
			authedRouter.Get("/previews", previewHandler.ListPreviews)
			// {id} is a placeholder chi fills in with whatever the caller supplied, eg
			// "pr-42", "branch-main" or a bare pull-request number.
			authedRouter.Get("/previews/{id}", previewHandler.GetPreview)
			authedRouter.Delete("/previews/{id}", previewHandler.DestroyPreview)

			authedRouter.Get("/previews/{id}/logs", previewHandler.ListLogs)
			authedRouter.Get("/previews/{id}/logs/paginated", previewHandler.ListLogsPaginated)
			authedRouter.Get("/previews/{id}/logs/stats", previewHandler.LogsStats)

			authedRouter.Post("/webhooks/source", webhookHandler.HandleSourceWebhook)
		})
	})

	return router
}

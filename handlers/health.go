// Package handlers contains all HTTP handler functions for the preview environment
// control plane API. each handler file groups related endpoints by resource or concern.
// handlers receive a decoded request, call into the store or orchestrator layer, and write
// a JSON response. no business logic lives in handlers; they are thin translation layers
// between HTTP and the domain.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/previewd/previewd/store"
)

// Go HTTP Handler Design Quirks:
//
// Constructors: Go lacks classes and magical constructors like other OOP languages (Java, Python)
// Initialization is done via standard functions conventionally named New[Type]().
//
// Methods vs Functions: Methods require a receiver (an already created, existing instance
//    in memory). Therefore, a constructor must be a standalone function,
//    while behaviors (like handling a request) are methods attached to the instance.
//
// The Chi Router: Chi routes traffic but relies entirely on the standard (net/http)
//    library's http.ResponseWriter and *http.Request. This keeps handlers
//    framework-agnostic and highly portable. (doesn't get framework-locked)

// HealthHandler holds the dependencies needed by the health endpoint. unlike the
// teacher's original (which needed none at all), this one pings the metadata store so
// GET /api/health reports something meaningful about the system it fronts.
type HealthHandler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewHealthHandler constructs a HealthHandler with the given store and logger.
func NewHealthHandler(metadataStore *store.Store, inputLogger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: metadataStore, logger: inputLogger}
}

// healthResponse is the JSON body returned by the health endpoint.
// keeping the response struct local to this file means it is not accidentally
// reused or confused with domain models.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Store     string `json:"store"`
}

// Health handles GET /api/health. it always answers 200 -- the http stack responding at
// all is itself the primary signal -- but reports whether the metadata store is reachable
// in the body, since every other endpoint depends on it.
func (handler *HealthHandler) Health(responseWriter http.ResponseWriter, request *http.Request) {
	storeStatus := "ok"
	if _, err := handler.store.CountActiveForOwner(""); err != nil {
		handler.logger.Warn("health check: metadata store query failed", "error", err)
		storeStatus = "degraded"
	}

	response := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		// RFC3339 is the universally accepted standard string format for safely
		// transmitting UTC timestamps in JSON web APIs.
		Store: storeStatus,
	}

	writeJsonAndRespond(responseWriter, http.StatusOK, response)
}

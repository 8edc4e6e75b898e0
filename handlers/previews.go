package handlers

// previews.go implements the /api/previews resource: create, list, get, destroy, and the
// three /logs sub-resources. it follows the teacher's DeploymentHandler shape exactly --
// a small struct of dependencies, a constructor, and one method per endpoint -- generalized
// from a single *db.Database dependency to the orchestrator plus the metadata store, since
// previews have a lifecycle the teacher's deployments never did.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/previewd/previewd/accesstrack"
	"github.com/previewd/previewd/apierror"
	"github.com/previewd/previewd/models"
	"github.com/previewd/previewd/orchestrator"
	"github.com/previewd/previewd/store"
)

// PreviewHandler holds the dependencies needed by every /api/previews endpoint.
type PreviewHandler struct {
	orchestrator *orchestrator.Orchestrator
	store        *store.Store
	access       *accesstrack.Tracker
	logger       *slog.Logger
}

// NewPreviewHandler constructs a PreviewHandler with its required dependencies.
func NewPreviewHandler(orch *orchestrator.Orchestrator, metadataStore *store.Store, access *accesstrack.Tracker, logger *slog.Logger) *PreviewHandler {
	return &PreviewHandler{
		orchestrator: orch,
		store:        metadataStore,
		access:       access,
		logger:       logger,
	}
}

// CreatePreview handles POST /api/previews. decodes a PreviewConfig body, pulls ownerId
// out of the bearer token already validated by RequireBearerAuth, and delegates to the
// orchestrator -- which itself decides whether this is a brand new preview or an
// idempotent redeploy of an existing one for the same branch/PR.
func (handler *PreviewHandler) CreatePreview(responseWriter http.ResponseWriter, request *http.Request) {
	var cfg models.PreviewConfig
	if err := json.NewDecoder(request.Body).Decode(&cfg); err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusBadRequest, "malformed request body", handler.logger)
		return
	}

	ownerID := ownerIDFromContext(request.Context())
	preview, err := handler.orchestrator.Create(request.Context(), ownerID, cfg)
	if err != nil {
		writeAPIError(responseWriter, err, handler.logger)
		return
	}

	writeJsonAndRespond(responseWriter, http.StatusCreated, preview)
}

// ListPreviews handles GET /api/previews, filtering by the optional status/repoOwner/
// repoName query parameters.
func (handler *PreviewHandler) ListPreviews(responseWriter http.ResponseWriter, request *http.Request) {
	filters := store.PreviewFilters{
		Status:    models.PreviewStatus(request.URL.Query().Get("status")),
		RepoOwner: request.URL.Query().Get("repoOwner"),
		RepoName:  request.URL.Query().Get("repoName"),
	}

	previews, err := handler.store.ListPreviews(filters)
	if err != nil {
		handler.logger.Error("failed to list previews", "error", err)
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to list previews", handler.logger)
		return
	}

	// ListPreviews returns nil when no rows match; json.Marshal would encode that as null,
	// which is harder for frontend clients to handle than an empty array.
	if previews == nil {
		previews = []*models.Preview{}
	}

	writeJsonAndRespond(responseWriter, http.StatusOK, previews)
}

// GetPreview handles GET /api/previews/{id}. id may be the canonical previewId or, for
// backward-compatible callers, a bare pull-request number -- ResolveIdentifier tries the
// numeric form first. every successful read touches lastAccessedAt, per SPEC_FULL.md §4.5a.
func (handler *PreviewHandler) GetPreview(responseWriter http.ResponseWriter, request *http.Request) {
	preview, err := handler.resolve(chi.URLParam(request, "id"))
	if err != nil {
		writeAPIError(responseWriter, err, handler.logger)
		return
	}

	handler.access.Touch(request.Context(), preview.PreviewId, time.Now().UTC())
	writeJsonAndRespond(responseWriter, http.StatusOK, preview)
}

// DestroyPreview handles DELETE /api/previews/{id}. destroy is idempotent -- a preview
// that is already gone (or was never there) still returns {ok:true}, per the orchestrator's
// own Destroy semantics.
func (handler *PreviewHandler) DestroyPreview(responseWriter http.ResponseWriter, request *http.Request) {
	preview, err := handler.resolve(chi.URLParam(request, "id"))
	if err != nil {
		if errors.Is(err, apierror.ErrNotFound) {
			writeJsonAndRespond(responseWriter, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		writeAPIError(responseWriter, err, handler.logger)
		return
	}

	if err := handler.orchestrator.Destroy(request.Context(), preview.PreviewId); err != nil {
		writeAPIError(responseWriter, err, handler.logger)
		return
	}

	writeJsonAndRespond(responseWriter, http.StatusOK, map[string]bool{"ok": true})
}

// ListLogs handles GET /api/previews/{id}/logs, honoring the optional type filter and
// limit/offset pagination described in SPEC_FULL.md §4.6.
func (handler *PreviewHandler) ListLogs(responseWriter http.ResponseWriter, request *http.Request) {
	preview, err := handler.resolve(chi.URLParam(request, "id"))
	if err != nil {
		writeAPIError(responseWriter, err, handler.logger)
		return
	}

	filters := store.EventFilters{
		Type:   models.EventType(request.URL.Query().Get("type")),
		Limit:  queryInt(request, "limit", 100),
		Offset: queryInt(request, "offset", 0),
	}

	events, err := handler.store.ListEvents(preview.PreviewId, filters)
	if err != nil {
		handler.logger.Error("failed to list events", "preview_id", preview.PreviewId, "error", err)
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to list events", handler.logger)
		return
	}
	if events == nil {
		events = []*models.LifecycleEvent{}
	}

	writeJsonAndRespond(responseWriter, http.StatusOK, events)
}

// ListLogsPaginated handles GET /api/previews/{id}/logs/paginated.
func (handler *PreviewHandler) ListLogsPaginated(responseWriter http.ResponseWriter, request *http.Request) {
	preview, err := handler.resolve(chi.URLParam(request, "id"))
	if err != nil {
		writeAPIError(responseWriter, err, handler.logger)
		return
	}

	page := queryInt(request, "page", 1)
	pageSize := queryInt(request, "pageSize", 50)

	paginated, err := handler.store.PaginateEvents(preview.PreviewId, page, pageSize)
	if err != nil {
		handler.logger.Error("failed to paginate events", "preview_id", preview.PreviewId, "error", err)
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to paginate events", handler.logger)
		return
	}

	writeJsonAndRespond(responseWriter, http.StatusOK, map[string]any{
		"events": paginated.Events,
		"total":  paginated.TotalCount,
		"pages":  paginated.PageCount,
	})
}

// LogsStats handles GET /api/previews/{id}/logs/stats.
func (handler *PreviewHandler) LogsStats(responseWriter http.ResponseWriter, request *http.Request) {
	preview, err := handler.resolve(chi.URLParam(request, "id"))
	if err != nil {
		writeAPIError(responseWriter, err, handler.logger)
		return
	}

	stats, err := handler.store.StatsEvents(preview.PreviewId)
	if err != nil {
		handler.logger.Error("failed to compute event stats", "preview_id", preview.PreviewId, "error", err)
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to compute event stats", handler.logger)
		return
	}

	writeJsonAndRespond(responseWriter, http.StatusOK, stats)
}

// resolve looks up a preview by the identifier-overloading rule of SPEC_FULL.md §9 and
// maps a record-not-found into apierror.ErrNotFound so every handler above can funnel
// through writeAPIError uniformly.
func (handler *PreviewHandler) resolve(identifier string) (*models.Preview, error) {
	preview, err := orchestrator.ResolveIdentifier(handler.store, identifier)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, apierror.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return preview, nil
}

func queryInt(request *http.Request, key string, fallback int) int {
	raw := request.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

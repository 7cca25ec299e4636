package workflowservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"

	"tableside/internal/domain/orders"
	"tableside/internal/domain/workflow"
	"tableside/internal/ports"
	"tableside/internal/shared/logger"
)

// HTTPHandler adapts HTTP requests to the WorkflowService.
type HTTPHandler struct {
	svc    ports.WorkflowService
	logger *logger.Logger
}

func NewHTTPHandler(svc ports.WorkflowService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: log}
}

// Router builds the chi router for the workflow admin and resolver API.
func (handler *HTTPHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rid := req.Header.Get("X-Request-Id")
			if rid == "" {
				rid = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", rid)
			next.ServeHTTP(w, req.WithContext(logger.WithRequestID(req.Context(), rid)))
		})
	})

	r.Route("/stores/{storeID}", func(r chi.Router) {
		r.Get("/roles", handler.handleListRoles)
		r.Post("/roles", handler.handleUpsertRole)

		r.Get("/flow-config", handler.handleListFlowConfig)
		r.Post("/flow-config", handler.handleUpsertFlowConfig)
		r.Put("/flow-config", handler.handleBulkUpdate)
		r.Post("/flow-config/reset", handler.handleReset)
		r.Get("/flow-config/resolve", handler.handleResolve)
		r.Get("/flow-config/role/{role}", handler.handleStatusesForRole)
	})
	r.Delete("/roles/{roleID}", handler.handleDeleteRole)

	return r
}

// --- DTOs ---

type roleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
	SortOrder   int    `json:"sort_order"`
}

type roleResponse struct {
	ID          int64  `json:"id"`
	StoreID     int64  `json:"store_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	SortOrder   int    `json:"sort_order"`
}

type flowEntryRequest struct {
	Role       string `json:"role"`
	Status     string `json:"status"`
	ActionMode string `json:"action_mode"`
	Enabled    *bool  `json:"enabled,omitempty"`
	SortOrder  int    `json:"sort_order"`
}

type flowEntryResponse struct {
	ID         int64  `json:"id"`
	StoreID    int64  `json:"store_id"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	ActionMode string `json:"action_mode"`
	Enabled    bool   `json:"enabled"`
	SortOrder  int    `json:"sort_order"`
}

type resolveResponse struct {
	ActionMode string `json:"action_mode"`
	Enabled    bool   `json:"enabled"`
}

// --- Handlers ---

// decodeBody applies the request-body guards shared by every mutating route:
// a 1 MiB cap, a JSON content type, and strict field checking.
func (handler *HTTPHandler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
	defer r.Body.Close()

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		handler.httpError(ctx, w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", errors.New("unsupported content type: "+ct))
		return false
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid JSON: "+err.Error(), err)
		return false
	}
	return true
}

func (handler *HTTPHandler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := handler.storeID(ctx, w, r)
	if !ok {
		return
	}

	roles, err := handler.svc.ListRoles(ctx, storeID)
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}

	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	writeJSON(w, http.StatusOK, out)
}

func (handler *HTTPHandler) handleUpsertRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := handler.storeID(ctx, w, r)
	if !ok {
		return
	}

	var req roleRequest
	if !handler.decodeBody(w, r, &req) {
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	role, err := handler.svc.UpsertRole(ctx, workflow.Role{
		StoreID:     storeID,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     enabled,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoleResponse(role))
}

func (handler *HTTPHandler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roleID, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "role id must be numeric", err)
		return
	}

	if err := handler.svc.DeleteRole(ctx, roleID); err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (handler *HTTPHandler) handleListFlowConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := handler.storeID(ctx, w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("grouped") == "true" {
		grouped, err := handler.svc.ListFlowConfigGrouped(ctx, storeID)
		if err != nil {
			handler.writeServiceError(ctx, w, err)
			return
		}
		out := make(map[string][]flowEntryResponse, len(grouped))
		for role, entries := range grouped {
			for _, e := range entries {
				out[role] = append(out[role], toFlowEntryResponse(e))
			}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	entries, err := handler.svc.ListFlowConfig(ctx, storeID)
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	out := make([]flowEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toFlowEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (handler *HTTPHandler) handleUpsertFlowConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := handler.storeID(ctx, w, r)
	if !ok {
		return
	}

	var req flowEntryRequest
	if !handler.decodeBody(w, r, &req) {
		return
	}

	entry, err := handler.svc.UpsertFlowConfig(ctx, fromFlowEntryRequest(storeID, req))
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlowEntryResponse(entry))
}

func (handler *HTTPHandler) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := handler.storeID(ctx, w, r)
	if !ok {
		return
	}

	var reqs []flowEntryRequest
	if !handler.decodeBody(w, r, &reqs) {
		return
	}

	entries := make([]workflow.FlowConfigEntry, 0, len(reqs))
	for _, req := range reqs {
		entries = append(entries, fromFlowEntryRequest(storeID, req))
	}

	if err := handler.svc.BulkUpdateFlowConfig(ctx, entries); err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (handler *HTTPHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := handler.storeID(ctx, w, r)
	if !ok {
		return
	}

	if err := handler.svc.ResetToDefault(ctx, storeID); err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (handler *HTTPHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := handler.storeID(ctx, w, r)
	if !ok {
		return
	}

	role := r.URL.Query().Get("role")
	status := orders.OrderStatus(r.URL.Query().Get("status"))
	if role == "" || status == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "role and status query params are required", errors.New("missing query params"))
		return
	}

	resolved, err := handler.svc.ResolveAction(ctx, storeID, role, status)
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{ActionMode: string(resolved.Mode), Enabled: resolved.Enabled})
}

func (handler *HTTPHandler) handleStatusesForRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := handler.storeID(ctx, w, r)
	if !ok {
		return
	}

	entries, err := handler.svc.StatusesForRole(ctx, storeID, chi.URLParam(r, "role"))
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	out := make([]flowEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toFlowEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- helpers ---

func (handler *HTTPHandler) storeID(ctx context.Context, w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "storeID"), 10, 64)
	if err != nil || id <= 0 {
		handler.httpError(ctx, w, http.StatusBadRequest, "store id must be a positive number", err)
		return 0, false
	}
	return id, true
}

func (handler *HTTPHandler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		notFound *orders.NotFoundError
		badMode  *workflow.InvalidActionModeError
	)
	switch {
	case errors.As(err, &notFound):
		handler.httpError(ctx, w, http.StatusNotFound, err.Error(), err)
	case errors.As(err, &badMode):
		handler.httpError(ctx, w, http.StatusBadRequest, err.Error(), err)
	default:
		handler.httpError(ctx, w, http.StatusBadRequest, err.Error(), err)
	}
}

func (handler *HTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	if status >= 500 && err != nil {
		handler.logger.Error(ctx, "request_failed", msg, err)
	} else {
		handler.logger.Debug(ctx, "request_rejected", msg, map[string]any{"status": status})
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toRoleResponse(role workflow.Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		StoreID:     role.StoreID,
		Name:        role.Name,
		Description: role.Description,
		Enabled:     role.Enabled,
		SortOrder:   role.SortOrder,
	}
}

func fromFlowEntryRequest(storeID int64, req flowEntryRequest) workflow.FlowConfigEntry {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return workflow.FlowConfigEntry{
		StoreID:   storeID,
		Role:      req.Role,
		Status:    orders.OrderStatus(req.Status),
		Mode:      workflow.ActionMode(req.ActionMode),
		Enabled:   enabled,
		SortOrder: req.SortOrder,
	}
}

func toFlowEntryResponse(e workflow.FlowConfigEntry) flowEntryResponse {
	return flowEntryResponse{
		ID:         e.ID,
		StoreID:    e.StoreID,
		Role:       e.Role,
		Status:     string(e.Status),
		ActionMode: string(e.Mode),
		Enabled:    e.Enabled,
		SortOrder:  e.SortOrder,
	}
}

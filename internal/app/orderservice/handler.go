package orderservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"

	"tableside/internal/domain/orders"
	"tableside/internal/ports"
	"tableside/internal/shared/logger"
)

// HTTPHandler adapts HTTP requests to the OrderService.
type HTTPHandler struct {
	svc    ports.OrderService
	logger *logger.Logger
}

func NewHTTPHandler(svc ports.OrderService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: log}
}

// Router builds the chi router for the order API.
func (handler *HTTPHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Post("/orders", handler.handleCreateOrder)
	r.Get("/orders/{number}", handler.handleGetOrder)
	r.Get("/orders/{number}/history", handler.handleGetHistory)
	r.Patch("/orders/{number}/status", handler.handleUpdateOrderStatus)
	r.Patch("/order-items/{itemID}/status", handler.handleUpdateItemStatus)

	return r
}

// requestIDMiddleware tags every request with a UUID carried through the
// context into log entries.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", rid)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), rid)))
	})
}

// --- Request/Response DTOs (HTTP boundary) ---

type createOrderRequest struct {
	StoreID int64              `json:"store_id"`
	TableID int64              `json:"table_id"`
	Items   []orderLineRequest `json:"items"`
}

type orderLineRequest struct {
	MenuItemID   int64  `json:"menu_item_id"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions,omitempty"`
}

type updateStatusRequest struct {
	Status   string  `json:"status"`
	Operator *string `json:"operator,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

type orderResponse struct {
	OrderNumber    string         `json:"order_number"`
	StoreID        int64          `json:"store_id"`
	TableID        *int64         `json:"table_id"`
	Status         string         `json:"status"`
	PaymentStatus  string         `json:"payment_status"`
	TotalAmount    float64        `json:"total_amount"`
	DiscountAmount float64        `json:"discount_amount"`
	FinalAmount    float64        `json:"final_amount"`
	Items          []itemResponse `json:"items,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

type itemResponse struct {
	ItemID       int64   `json:"item_id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Quantity     int     `json:"quantity"`
	Subtotal     float64 `json:"subtotal"`
	Status       string  `json:"status"`
	Instructions string  `json:"instructions,omitempty"`
}

type historyEntryResponse struct {
	ItemID    *int64    `json:"item_id,omitempty"`
	From      string    `json:"from_status"`
	To        string    `json:"to_status"`
	ChangedBy *string   `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
	Notes     *string   `json:"notes,omitempty"`
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

func (handler *HTTPHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if !handler.decodeBody(w, r, &req) {
		return
	}

	cmd := ports.PlaceOrderCommand{StoreID: req.StoreID, TableID: req.TableID}
	for _, line := range req.Items {
		cmd.Lines = append(cmd.Lines, ports.OrderLineInput{
			MenuItemID:   line.MenuItemID,
			Quantity:     line.Quantity,
			Instructions: line.Instructions,
		})
	}

	handler.logger.Debug(ctx, "order_received", "new order request received", map[string]any{
		"store_id":    req.StoreID,
		"table_id":    req.TableID,
		"items_count": len(req.Items),
	})

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	view, err := handler.svc.PlaceOrder(ctxWithTimeout, cmd)
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(view))
}

func (handler *HTTPHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number := chi.URLParam(r, "number")

	view, err := handler.svc.GetOrder(ctx, number)
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(view))
}

func (handler *HTTPHandler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number := chi.URLParam(r, "number")

	history, err := handler.svc.GetOrderHistory(ctx, number)
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}

	out := make([]historyEntryResponse, 0, len(history))
	for _, log := range history {
		out = append(out, historyEntryResponse{
			ItemID:    log.ItemID,
			From:      log.From,
			To:        log.To,
			ChangedBy: log.ChangedBy,
			ChangedAt: log.ChangedAt,
			Notes:     log.Notes,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (handler *HTTPHandler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number := chi.URLParam(r, "number")

	var req updateStatusRequest
	if !handler.decodeBody(w, r, &req) {
		return
	}

	view, err := handler.svc.UpdateOrderStatus(ctx, ports.UpdateOrderStatusCommand{
		OrderNumber: number,
		Next:        orders.OrderStatus(req.Status),
		ChangedBy:   req.Operator,
		Notes:       req.Notes,
	})
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(view))
}

func (handler *HTTPHandler) handleUpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "item id must be numeric", err)
		return
	}

	var req updateStatusRequest
	if !handler.decodeBody(w, r, &req) {
		return
	}

	view, err := handler.svc.UpdateItemStatus(ctx, itemID, orders.ItemStatus(req.Status))
	if err != nil {
		handler.writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemResponse{
		ItemID:       view.ItemID,
		Name:         view.Name,
		Price:        view.Price.ToFloat2(),
		Quantity:     view.Quantity,
		Subtotal:     view.Subtotal.ToFloat2(),
		Status:       string(view.Status),
		Instructions: view.Instructions,
	})
}

// writeServiceError maps domain errors to HTTP statuses.
func (handler *HTTPHandler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		notFound     *orders.NotFoundError
		noStock      *orders.InsufficientStockError
		badEdge      *orders.InvalidTransitionError
		inconsistent *orders.InconsistentAggregateError
	)
	switch {
	case errors.As(err, &notFound):
		handler.httpError(ctx, w, http.StatusNotFound, err.Error(), err)
	case errors.As(err, &noStock):
		handler.httpError(ctx, w, http.StatusConflict, err.Error(), err)
	case errors.As(err, &badEdge):
		handler.httpError(ctx, w, http.StatusConflict, err.Error(), err)
	case errors.As(err, &inconsistent):
		handler.httpError(ctx, w, http.StatusInternalServerError, err.Error(), err)
	default:
		handler.httpError(ctx, w, http.StatusBadRequest, err.Error(), err)
	}
}

func (handler *HTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	if status >= 500 {
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

func toOrderResponse(view ports.OrderView) orderResponse {
	resp := orderResponse{
		OrderNumber:    view.OrderNumber,
		StoreID:        view.StoreID,
		TableID:        view.TableID,
		Status:         string(view.Status),
		PaymentStatus:  string(view.PaymentStatus),
		TotalAmount:    view.TotalAmount.ToFloat2(),
		DiscountAmount: view.DiscountAmount.ToFloat2(),
		FinalAmount:    view.FinalAmount.ToFloat2(),
		CreatedAt:      view.CreatedAt,
		CompletedAt:    view.CompletedAt,
	}
	for _, it := range view.Items {
		resp.Items = append(resp.Items, itemResponse{
			ItemID:       it.ItemID,
			Name:         it.Name,
			Price:        it.Price.ToFloat2(),
			Quantity:     it.Quantity,
			Subtotal:     it.Subtotal.ToFloat2(),
			Status:       string(it.Status),
			Instructions: it.Instructions,
		})
	}
	return resp
}

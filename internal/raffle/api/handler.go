package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"rifa-service/internal/auth"
	"rifa-service/internal/config"
	"rifa-service/internal/logger"
	"rifa-service/internal/models"
	"rifa-service/internal/raffle"
)

type Handler struct {
	Service *raffle.Service
	Cleanup config.CleanupConfig
	Logger  *logger.Logger
}

func NewHandler(service *raffle.Service, cleanup config.CleanupConfig, log *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Cleanup: cleanup,
		Logger:  log,
	}
}

// ---------------- PUBLIC ----------------

// CreateOrder handles POST /api/orders: the reservation step of checkout.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.Service.Reserve(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "CreateOrder", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

// ListTickets handles GET /api/tickets: the full grid snapshot.
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Service.Tickets(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListTickets: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, tickets)
}

// TicketStats handles GET /api/tickets/stats.
func (h *Handler) TicketStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("TicketStats: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// UserConfirmPayment handles POST /api/user-confirm-payment: the buyer's
// token-gated "I paid" claim. A wrong token and an unknown order id get
// the same 403 body.
func (h *Handler) UserConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderId"`
		Token   string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.Service.UserConfirmPayment(r.Context(), req.OrderID, req.Token)
	if err != nil {
		h.writeServiceError(w, "UserConfirmPayment", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "Payment confirmation received. Admin will verify shortly.",
		"orderNumber": order.OrderNumber,
	})
}

// ---------------- ADMIN ----------------

// ConfirmPaymentSinpe handles POST /api/confirm-payment-sinpe: the admin
// matched an incoming SINPE transfer to this order and finalizes the sale.
func (h *Handler) ConfirmPaymentSinpe(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.readOrderID(w, r)
	if !ok {
		return
	}

	order, confirmed, err := h.Service.ConfirmPayment(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, "ConfirmPaymentSinpe", err)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("admin %s confirmed payment for %s", auth.AdminID(r.Context()), order.OrderNumber))
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"message":          "Payment confirmed successfully",
		"orderNumber":      order.OrderNumber,
		"ticketsConfirmed": confirmed,
	})
}

// CancelOrder handles POST /api/cancel-order: the admin rejects the
// payment claim (or abandons the order) and the tickets go back on sale.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.readOrderID(w, r)
	if !ok {
		return
	}

	order, released, err := h.Service.CancelOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, "CancelOrder", err)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("admin %s cancelled %s", auth.AdminID(r.Context()), order.OrderNumber))
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"message":         "Order cancelled successfully",
		"orderNumber":     order.OrderNumber,
		"ticketsReleased": released,
	})
}

// ListOrders handles GET /api/orders: the reconciliation queue for the
// admin dashboard, newest first, items included.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Service.Orders(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListOrders: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

// ---------------- CLEANUP ----------------

// CleanupPendingTickets handles POST and GET /api/cleanup-pending-tickets.
// It accepts either the scheduler's shared-secret header or a manual
// bearer secret, then runs one sweep pass.
func (h *Handler) CleanupPendingTickets(w http.ResponseWriter, r *http.Request) {
	if !auth.CleanupAuthorized(r, h.Cleanup.CronSecret, h.Cleanup.ManualSecret) {
		h.Logger.LogSecurity("CLEANUP", "unauthorized cleanup attempt")
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	result, err := h.Service.Sweep(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CleanupPendingTickets: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	message := "Successfully cleaned up expired tickets"
	if result.Cleaned == 0 {
		message = "No expired orders found"
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": message,
		"cleaned": result.Cleaned,
		"orders":  result.Orders,
	})
}

// ---------------- HELPERS ----------------

func (h *Handler) readOrderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return "", false
	}
	if req.OrderID == "" {
		h.writeError(w, http.StatusBadRequest, "Order ID is required")
		return "", false
	}
	return req.OrderID, true
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
// Store failures become an opaque 500; everything else surfaces its
// message.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case raffle.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case raffle.IsConflict(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, raffle.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, raffle.ErrInvalidToken):
		h.writeError(w, http.StatusForbidden, "Invalid request")
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

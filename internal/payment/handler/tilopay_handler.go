package handler

import (
	"fmt"
	"net/http"

	"rifa-service/internal/logger"
	"rifa-service/internal/payment/services"
)

type TiloPayHandler struct {
	service *services.TiloPayService
	logger  *logger.Logger
}

func NewTiloPayHandler(service *services.TiloPayService, log *logger.Logger) *TiloPayHandler {
	return &TiloPayHandler{service: service, logger: log}
}

// SDKToken handles POST /api/tilopay-token. Provider failures are folded
// into one generic 500 so credentials and provider internals never reach
// the browser.
func (h *TiloPayHandler) SDKToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.service.SDKToken()
	if err != nil {
		h.logger.Error("PAYMENT", fmt.Sprintf("SDK token exchange failed: %v", err))
		http.Error(w, `{"error":"Failed to get token"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(token); err != nil {
		h.logger.Error("PAYMENT", fmt.Sprintf("Failed to write token response: %v", err))
	}
}

// payout-service/internal/handler/payout_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"payout-service/internal/domain"
	"payout-service/internal/usecase"
	"payout-service/pkg/utils"
)

type PayoutHandler struct {
	payoutUC *usecase.PayoutUsecase
	batchUC  *usecase.BatchUsecase
	logger   *zap.Logger
}

func NewPayoutHandler(payoutUC *usecase.PayoutUsecase, batchUC *usecase.BatchUsecase, logger *zap.Logger) *PayoutHandler {
	return &PayoutHandler{
		payoutUC: payoutUC,
		batchUC:  batchUC,
		logger:   logger,
	}
}

// HandleCreatePayout handles POST /api/payouts.
func (h *PayoutHandler) HandleCreatePayout(w http.ResponseWriter, r *http.Request) {
	var req domain.PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode payout request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := h.payoutUC.PayoutToCreator(r.Context(), &req)

	status := http.StatusOK
	if !result.Success {
		status = statusForCode(result.Code)
	}
	respondJSON(w, status, result)
}

// HandleGetPayout handles GET /api/payouts/{id}.
func (h *PayoutHandler) HandleGetPayout(w http.ResponseWriter, r *http.Request) {
	payoutID := chi.URLParam(r, "id")
	if !utils.IsPayoutID(payoutID) {
		respondError(w, http.StatusNotFound, "payout not found")
		return
	}

	payout, err := h.payoutUC.GetPayoutStatus(r.Context(), payoutID)
	if err != nil {
		if errors.Is(err, domain.ErrPayoutNotFound) {
			respondError(w, http.StatusNotFound, "payout not found")
			return
		}
		h.logger.Error("failed to load payout",
			zap.String("payout_id", payoutID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load payout")
		return
	}
	respondJSON(w, http.StatusOK, payout)
}

// HandleListCreatorPayouts handles GET /api/creators/{creatorID}/payouts.
func (h *PayoutHandler) HandleListCreatorPayouts(w http.ResponseWriter, r *http.Request) {
	creatorID := chi.URLParam(r, "creatorID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	payouts, err := h.payoutUC.ListPayoutHistory(r.Context(), creatorID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list payouts",
			zap.String("creator_id", creatorID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list payouts")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"creator_id": creatorID,
		"payouts":    payouts,
		"count":      len(payouts),
	})
}

// batchRequest is the POST /api/payouts/batch body.
type batchRequest struct {
	Items   []*domain.PayoutRequest `json:"items"`
	Options domain.BatchOptions     `json:"options"`
}

// HandleBatchPayout handles POST /api/payouts/batch.
func (h *PayoutHandler) HandleBatchPayout(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode batch request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	result := h.batchUC.BatchPayout(r.Context(), req.Items, req.Options)
	respondJSON(w, http.StatusOK, result)
}

// HandleRetryPayouts handles POST /api/payouts/retry.
func (h *PayoutHandler) HandleRetryPayouts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Failed []*domain.FailedPayout `json:"failed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode retry request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Failed) == 0 {
		respondError(w, http.StatusBadRequest, "failed must not be empty")
		return
	}

	result := h.batchUC.RetryFailedPayouts(r.Context(), req.Failed)
	respondJSON(w, http.StatusOK, result)
}

// HandleCancelPayout handles POST /api/payouts/{id}/cancel.
func (h *PayoutHandler) HandleCancelPayout(w http.ResponseWriter, r *http.Request) {
	payoutID := chi.URLParam(r, "id")
	if !utils.IsPayoutID(payoutID) {
		respondError(w, http.StatusNotFound, "payout not found")
		return
	}

	payout, err := h.payoutUC.CancelPayout(r.Context(), payoutID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPayoutNotFound):
			respondError(w, http.StatusNotFound, "payout not found")
		case errors.Is(err, domain.ErrPayoutNotCancellable):
			respondError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("failed to cancel payout",
				zap.String("payout_id", payoutID),
				zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to cancel payout")
		}
		return
	}
	respondJSON(w, http.StatusOK, payout)
}

// statusForCode maps fatal business codes onto HTTP statuses. Retryable
// failures stay 200 with success=false; the body's code field is the
// contract, the status a convenience.
func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.ErrCodeInsufficientBalance:
		return http.StatusPaymentRequired
	case domain.ErrCodeInvalidBankAccount, domain.ErrCodeUnsupportedCountry:
		return http.StatusUnprocessableEntity
	case domain.ErrCodeCreatorNotFound:
		return http.StatusNotFound
	case domain.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

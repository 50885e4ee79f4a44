// payout-service/internal/handler/webhook_handler.go
package handler

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"payout-service/internal/provider/wise"
	"payout-service/internal/usecase"
)

type WebhookHandler struct {
	reconcileUC *usecase.ReconcileUsecase
	secret      string
	logger      *zap.Logger
}

func NewWebhookHandler(reconcileUC *usecase.ReconcileUsecase, webhookSecret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconcileUC: reconcileUC,
		secret:      webhookSecret,
		logger:      logger,
	}
}

// HandleWiseWebhook handles POST /webhooks/wise.
//
// Response contract: validation pings are acknowledged unauthenticated with
// no side effects; a bad or missing signature is the only 401; everything
// else is 200, including internal processing errors, because the provider
// retries non-2xx deliveries and a retry storm helps nobody. The ledger
// apply is idempotent, so acknowledging and moving on is always safe.
func (h *WebhookHandler) HandleWiseWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	evt, parseErr := wise.ParseEvent(body)
	if parseErr != nil {
		evt = nil
	}

	if wise.IsValidationPing(body, evt) {
		h.logger.Info("webhook validation ping acknowledged",
			zap.String("remote_addr", r.RemoteAddr))
		respondJSON(w, http.StatusOK, map[string]interface{}{"received": true})
		return
	}

	if !wise.VerifySignature(body, r.Header.Get(wise.SignatureHeader), h.secret) {
		h.logger.Warn("webhook signature verification failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("body_size", len(body)))
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if evt == nil {
		// Authenticated but unparseable; acknowledge and keep the evidence
		// in the logs.
		h.logger.Error("authenticated webhook body did not parse",
			zap.Error(parseErr),
			zap.Int("body_size", len(body)))
		respondJSON(w, http.StatusOK, map[string]interface{}{"received": true})
		return
	}

	h.logger.Info("webhook received",
		zap.String("event_type", evt.EventType),
		zap.String("provider_transfer_id", evt.TransferID()),
		zap.String("current_state", evt.Data.CurrentState))

	if err := h.reconcileUC.ProcessWebhookEvent(r.Context(), evt, wise.DedupKey(body, evt)); err != nil {
		h.logger.Error("webhook processing failed",
			zap.String("event_type", evt.EventType),
			zap.String("provider_transfer_id", evt.TransferID()),
			zap.Error(err))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

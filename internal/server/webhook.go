package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	reconciledomain "github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/domain"
	"go.uber.org/zap"
)

// HandleLedgerWebhook ingests provider events. Unmatched events return a
// retryable status on purpose; no marker was written, so the provider's
// redelivery gets a fresh attempt once the local row exists.
func (s *Server) HandleLedgerWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.ledgerClient.VerifyWebhook(payload, c.Request.Header); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	event, err := s.ledgerClient.ParseWebhook(payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.reconcileSvc.HandleProviderEvent(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, reconciledomain.ErrEventUnmatched) {
			s.log.Warn("provider event unmatched",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type))
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: errorPayload{
				Type:    "event_unmatched",
				Message: "no local subscription matches the event",
			}})
			return
		}
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordProviderEvent(c.Request.Context(), event.Type, string(result.Outcome))
	}

	response := gin.H{
		"event_id": event.ID,
		"outcome":  result.Outcome,
		"replayed": result.Replayed,
	}
	if result.SubscriptionID != nil {
		response["subscription_id"] = result.SubscriptionID.String()
	}
	c.JSON(http.StatusOK, response)
}

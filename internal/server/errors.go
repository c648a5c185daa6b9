package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/domain"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	plandomain "github.com/mihaildragos/social-proof-app-sub000/internal/plan/domain"
	reconciledomain "github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/domain"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	usagedomain "github.com/mihaildragos/social-proof-app-sub000/internal/usage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if qErr := asQuotaExceeded(err); qErr != nil {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "quota_exceeded",
			Message: "quota exceeded",
			Details: map[string]any{
				"resource_type": qErr.ResourceType,
				"current":       qErr.Current,
				"limit":         qErr.Limit,
				"requested":     qErr.Requested,
				"remaining":     qErr.Remaining(),
			},
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ledgerdomain.ErrProviderUnavailable),
		errors.Is(err, ledgerdomain.ErrProviderRejected):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func asQuotaExceeded(err error) *usagedomain.QuotaExceededError {
	var qErr *usagedomain.QuotaExceededError
	if errors.As(err, &qErr) && qErr != nil {
		return qErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isPlanValidationError(err),
		isSubscriptionValidationError(err),
		isUsageValidationError(err),
		isInvoiceValidationError(err),
		errors.Is(err, reconciledomain.ErrInvalidEvent),
		errors.Is(err, ledgerdomain.ErrInvalidSignature),
		errors.Is(err, ledgerdomain.ErrInvalidPayload),
		errors.Is(err, ledgerdomain.ErrInvalidEvent):
		return true
	default:
		return false
	}
}

func isPlanValidationError(err error) bool {
	switch {
	case errors.Is(err, plandomain.ErrInvalidOrganization),
		errors.Is(err, plandomain.ErrInvalidPlan),
		errors.Is(err, plandomain.ErrInvalidName),
		errors.Is(err, plandomain.ErrInvalidCurrency),
		errors.Is(err, plandomain.ErrInvalidPrice),
		errors.Is(err, plandomain.ErrInvalidResourceType):
		return true
	default:
		return false
	}
}

func isSubscriptionValidationError(err error) bool {
	switch {
	case errors.Is(err, subscriptiondomain.ErrInvalidOrganization),
		errors.Is(err, subscriptiondomain.ErrInvalidSubscription),
		errors.Is(err, subscriptiondomain.ErrInvalidPlan),
		errors.Is(err, subscriptiondomain.ErrInvalidBillingCycle),
		errors.Is(err, subscriptiondomain.ErrInvalidCustomerRef),
		errors.Is(err, subscriptiondomain.ErrInvalidCancelMode),
		errors.Is(err, subscriptiondomain.ErrInvalidStatus),
		errors.Is(err, subscriptiondomain.ErrInvalidTransition):
		return true
	default:
		return false
	}
}

func isUsageValidationError(err error) bool {
	switch {
	case errors.Is(err, usagedomain.ErrInvalidOrganization),
		errors.Is(err, usagedomain.ErrInvalidResourceType),
		errors.Is(err, usagedomain.ErrInvalidQuantity),
		errors.Is(err, usagedomain.ErrInvalidSubscription):
		return true
	default:
		return false
	}
}

func isInvoiceValidationError(err error) bool {
	switch {
	case errors.Is(err, invoicedomain.ErrInvalidOrganization),
		errors.Is(err, invoicedomain.ErrInvalidInvoice),
		errors.Is(err, invoicedomain.ErrInvalidSubscription),
		errors.Is(err, invoicedomain.ErrInvalidStatus),
		errors.Is(err, invoicedomain.ErrPeriodNotEnded):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, plandomain.ErrDuplicateCode),
		errors.Is(err, subscriptiondomain.ErrSubscriptionConflict),
		errors.Is(err, subscriptiondomain.ErrSubscriptionTerminal):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, usagedomain.ErrNoActiveSubscription),
		errors.Is(err, usagedomain.ErrSummaryNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

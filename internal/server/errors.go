package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	balancedomain "github.com/smallcanvas/inkwell/internal/balance/domain"
	bonusdomain "github.com/smallcanvas/inkwell/internal/bonus/domain"
	ledgerdomain "github.com/smallcanvas/inkwell/internal/ledger/domain"
	purchasedomain "github.com/smallcanvas/inkwell/internal/purchase/domain"
	quotadomain "github.com/smallcanvas/inkwell/internal/quota/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`

	// Quota shortfall detail, present on quota_exceeded only.
	Operation           string `json:"operation,omitempty"`
	Cost                int64  `json:"cost,omitempty"`
	Shortfall           int64  `json:"shortfall,omitempty"`
	SubscriptionCredits *int64 `json:"subscription_credits,omitempty"`
	ExtraCredits        *int64 `json:"extra_credits,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
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

func mapError(err error) (int, errorPayload) {
	var exceeded *quotadomain.ExceededError
	if errors.As(err, &exceeded) {
		subscription := exceeded.SubscriptionCredits
		extra := exceeded.ExtraCredits
		return http.StatusPaymentRequired, errorPayload{
			Type:                "quota_exceeded",
			Message:             exceeded.Error(),
			Operation:           string(exceeded.Operation),
			Cost:                exceeded.Cost,
			Shortfall:           exceeded.Shortfall,
			SubscriptionCredits: &subscription,
			ExtraCredits:        &extra,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, ledgerdomain.ErrAlreadyRevoked):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limited",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, quotadomain.ErrUnknownOperation),
		errors.Is(err, quotadomain.ErrInvalidAccount),
		errors.Is(err, balancedomain.ErrInvalidAccount),
		errors.Is(err, ledgerdomain.ErrInvalidAccount),
		errors.Is(err, ledgerdomain.ErrInvalidIdempotencyKey),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, purchasedomain.ErrInvalidAccount),
		errors.Is(err, purchasedomain.ErrInvalidIdempotencyKey),
		errors.Is(err, purchasedomain.ErrInvalidPlatform),
		errors.Is(err, purchasedomain.ErrInvalidCredits),
		errors.Is(err, bonusdomain.ErrInvalidAccount),
		errors.Is(err, bonusdomain.ErrInvalidDevice),
		errors.Is(err, bonusdomain.ErrInvalidProvider),
		errors.Is(err, bonusdomain.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, balancedomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrEntryNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	purchasedomain "github.com/smallcanvas/inkwell/internal/purchase/domain"
)

type recordPurchaseRequest struct {
	TransactionID string         `json:"transaction_id"`
	ProductID     string         `json:"product_id"`
	Platform      string         `json:"platform"`
	Credits       int64          `json:"credits"`
	OccurredAt    *time.Time     `json:"occurred_at"`
	Receipt       map[string]any `json:"receipt"`
}

func (s *Server) RecordPurchase(c *gin.Context) {
	var req recordPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	record := purchasedomain.RecordRequest{
		AccountID:      s.accountID(c),
		Tier:           string(s.accountTier(c)),
		IdempotencyKey: req.TransactionID,
		ProductID:      req.ProductID,
		Platform:       purchasedomain.Platform(req.Platform),
		Credits:        req.Credits,
		Receipt:        req.Receipt,
	}
	if req.OccurredAt != nil {
		record.OccurredAt = *req.OccurredAt
	}

	result, err := s.purchaseSvc.Record(c.Request.Context(), record)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entry_id":            result.EntryID.String(),
		"extra_credits_total": result.ExtraCreditsTotal,
		"already_recorded":    result.AlreadyRecorded,
	})
}

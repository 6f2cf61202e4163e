package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	quotadomain "github.com/smallcanvas/inkwell/internal/quota/domain"
)

type quotaOperationRequest struct {
	Operation string `json:"operation"`
}

func (s *Server) DebitCredits(c *gin.Context) {
	var req quotaOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	op := quotadomain.Operation(strings.TrimSpace(req.Operation))
	status, err := s.quotaSvc.Debit(c.Request.Context(), s.accountID(c), s.accountTier(c), op)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) RefundCredits(c *gin.Context) {
	var req quotaOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	op := quotadomain.Operation(strings.TrimSpace(req.Operation))
	status, err := s.quotaSvc.Refund(c.Request.Context(), s.accountID(c), s.accountTier(c), op)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) GetCreditSummary(c *gin.Context) {
	accountID := s.accountID(c)

	status, err := s.quotaSvc.Summary(c.Request.Context(), accountID, s.accountTier(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	usage, err := s.quotaSvc.UsageToday(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"credits":     status,
		"usage_today": usage,
	})
}

func (s *Server) ListLedgerEntries(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	entries, err := s.ledgerSvc.List(c.Request.Context(), s.accountID(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

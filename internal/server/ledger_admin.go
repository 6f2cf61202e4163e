package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type revokeLedgerRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

func (s *Server) RevokeLedgerEntry(c *gin.Context) {
	var req revokeLedgerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.ledgerSvc.Revoke(c.Request.Context(), req.IdempotencyKey, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

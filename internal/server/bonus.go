package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	bonusdomain "github.com/smallcanvas/inkwell/internal/bonus/domain"
)

type claimBonusRequest struct {
	DeviceID       string `json:"device_id"`
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
}

func (s *Server) GetBonusEligibility(c *gin.Context) {
	eligible, err := s.bonusSvc.CheckEligibility(
		c.Request.Context(),
		c.Query("device_id"),
		c.Query("provider"),
		c.Query("provider_user_id"),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"eligible": eligible})
}

func (s *Server) ClaimBonus(c *gin.Context) {
	var req claimBonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.bonusSvc.Grant(c.Request.Context(), bonusdomain.GrantRequest{
		AccountID:      s.accountID(c),
		Tier:           string(s.accountTier(c)),
		DeviceID:       req.DeviceID,
		Provider:       req.Provider,
		ProviderUserID: req.ProviderUserID,
		Amount:         s.cfg.WelcomeBonusCredits,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"granted":             result.Granted,
		"extra_credits_total": result.ExtraCreditsTotal,
	})
}

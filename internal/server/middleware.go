package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	balancedomain "github.com/smallcanvas/inkwell/internal/balance/domain"
	obscontext "github.com/smallcanvas/inkwell/internal/observability/context"
)

const (
	contextAccountIDKey = "account_id"
	contextTierKey      = "tier"
	contextRoleKey      = "role"
)

type authClaims struct {
	Tier string `json:"tier"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthRequired validates the bearer token and stashes the account identity
// in both the gin context and the request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims := &authClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrUnauthorized
			}
			return []byte(s.cfg.AuthJWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		accountID := strings.TrimSpace(claims.Subject)
		if accountID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		tier := balancedomain.Tier(strings.TrimSpace(claims.Tier))
		if tier == "" || !tier.Valid() {
			tier = balancedomain.TierFree
		}

		c.Set(contextAccountIDKey, accountID)
		c.Set(contextTierKey, string(tier))
		c.Set(contextRoleKey, strings.TrimSpace(claims.Role))

		ctx := obscontext.WithAccountID(c.Request.Context(), accountID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// AdminRequired gates the revocation surface behind the admin role claim.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(contextRoleKey) != "admin" {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func (s *Server) accountID(c *gin.Context) string {
	return c.GetString(contextAccountIDKey)
}

func (s *Server) accountTier(c *gin.Context) balancedomain.Tier {
	tier := balancedomain.Tier(c.GetString(contextTierKey))
	if !tier.Valid() {
		return balancedomain.TierFree
	}
	return tier
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	balancedomain "github.com/smallcanvas/inkwell/internal/balance/domain"
	balancerepo "github.com/smallcanvas/inkwell/internal/balance/repository"
	bonusservice "github.com/smallcanvas/inkwell/internal/bonus/service"
	"github.com/smallcanvas/inkwell/internal/clock"
	"github.com/smallcanvas/inkwell/internal/config"
	ledgerdomain "github.com/smallcanvas/inkwell/internal/ledger/domain"
	ledgerrepo "github.com/smallcanvas/inkwell/internal/ledger/repository"
	ledgerservice "github.com/smallcanvas/inkwell/internal/ledger/service"
	purchaseservice "github.com/smallcanvas/inkwell/internal/purchase/service"
	quotaservice "github.com/smallcanvas/inkwell/internal/quota/service"
	usagedomain "github.com/smallcanvas/inkwell/internal/usage/domain"
	usagerepo "github.com/smallcanvas/inkwell/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testJWTSecret = "test-secret"

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.AutoMigrate(
		&balancedomain.CreditBalance{},
		&ledgerdomain.LedgerEntry{},
		&usagedomain.UsageCounter{},
	))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	balances := balancerepo.New()
	entries := ledgerrepo.New()
	usage := usagerepo.New()

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	return NewServer(ServerParams{
		Gin:   engine,
		Cfg:   config.Config{AuthJWTSecret: testJWTSecret, WelcomeBonusCredits: 25},
		DB:    db,
		GenID: node,
		QuotaSvc: quotaservice.New(quotaservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk,
			Balances: balances, Ledger: entries, Usage: usage,
		}),
		PurchaseSvc: purchaseservice.New(purchaseservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk,
			Balances: balances, Ledger: entries,
		}),
		BonusSvc: bonusservice.New(bonusservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk,
			Balances: balances, Ledger: entries,
		}),
		LedgerSvc: ledgerservice.New(ledgerservice.Params{
			DB: db, Log: log, Clock: clk,
			Ledger: entries, Balances: balances,
		}),
	})
}

func signToken(t *testing.T, subject, tier, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, authClaims{
		Tier: tier,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	srv := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/v1/credits/summary", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/credits/summary", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Token signed with a different key.
	wrong := jwt.NewWithClaims(jwt.SigningMethodHS256, authClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acct-1"},
	})
	signed, err := wrong.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = doJSON(t, srv, http.MethodGet, "/v1/credits/summary", signed, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDebitEndpoint(t *testing.T) {
	srv := setupTestServer(t)
	token := signToken(t, "acct-debit", "free", "")

	rec := doJSON(t, srv, http.MethodPost, "/v1/quota/debit", token,
		gin.H{"operation": "summarize"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, float64(14), body["subscription_credits"])
	assert.Equal(t, float64(14), body["total_credits"])
}

func TestDebitExhaustedReturnsPaymentRequired(t *testing.T) {
	srv := setupTestServer(t)
	token := signToken(t, "acct-broke", "free", "")

	// Free tier holds 15; the first image leaves 5, the second overdraws.
	rec := doJSON(t, srv, http.MethodPost, "/v1/quota/debit", token,
		gin.H{"operation": "image_generate"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/quota/debit", token,
		gin.H{"operation": "image_generate"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	body := decodeBody(t, rec)
	payload, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "quota_exceeded", payload["type"])
	assert.Equal(t, "image_generate", payload["operation"])
	assert.Equal(t, float64(10), payload["cost"])
	assert.Equal(t, float64(5), payload["shortfall"])
}

func TestDebitUnknownOperationIsBadRequest(t *testing.T) {
	srv := setupTestServer(t)
	token := signToken(t, "acct-op", "free", "")

	rec := doJSON(t, srv, http.MethodPost, "/v1/quota/debit", token,
		gin.H{"operation": "mine_bitcoin"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	payload := body["error"].(map[string]interface{})
	assert.Equal(t, "validation_error", payload["type"])
}

func TestPurchaseEndpointIdempotent(t *testing.T) {
	srv := setupTestServer(t)
	token := signToken(t, "acct-buyer", "free", "")

	req := gin.H{
		"transaction_id": "txn-http-1",
		"product_id":     "credits_100",
		"platform":       "apple",
		"credits":        100,
	}

	rec := doJSON(t, srv, http.MethodPost, "/v1/purchases", token, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["already_recorded"])
	assert.Equal(t, float64(100), body["extra_credits_total"])

	rec = doJSON(t, srv, http.MethodPost, "/v1/purchases", token, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["already_recorded"])
	assert.Equal(t, float64(100), body["extra_credits_total"])
}

func TestAdminRevokeRequiresRole(t *testing.T) {
	srv := setupTestServer(t)

	user := signToken(t, "acct-user", "free", "")
	rec := doJSON(t, srv, http.MethodPost, "/v1/admin/ledger/revoke", user,
		gin.H{"idempotency_key": "txn-x", "reason": "fraud"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := signToken(t, "acct-admin", "free", "admin")
	rec = doJSON(t, srv, http.MethodPost, "/v1/admin/ledger/revoke", admin,
		gin.H{"idempotency_key": "txn-missing", "reason": "fraud"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRevokeFlow(t *testing.T) {
	srv := setupTestServer(t)
	buyer := signToken(t, "acct-victim", "free", "")
	admin := signToken(t, "acct-admin", "free", "admin")

	rec := doJSON(t, srv, http.MethodPost, "/v1/purchases", buyer, gin.H{
		"transaction_id": "txn-disputed",
		"product_id":     "credits_50",
		"platform":       "google",
		"credits":        50,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodPost, "/v1/admin/ledger/revoke", admin,
		gin.H{"idempotency_key": "txn-disputed", "reason": "chargeback"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Revoking the same entry again conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/v1/admin/ledger/revoke", admin,
		gin.H{"idempotency_key": "txn-disputed", "reason": "chargeback"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/credits/summary", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	credits := body["credits"].(map[string]interface{})
	assert.Equal(t, float64(0), credits["extra_credits_remaining"])
}

func TestBonusClaimEndpoint(t *testing.T) {
	srv := setupTestServer(t)
	token := signToken(t, "acct-fresh", "free", "")

	rec := doJSON(t, srv, http.MethodGet,
		"/v1/bonus/eligibility?device_id=device-9&provider=apple&provider_user_id=user-9", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["eligible"])

	claim := gin.H{
		"device_id":        "device-9",
		"provider":         "apple",
		"provider_user_id": "user-9",
	}
	rec = doJSON(t, srv, http.MethodPost, "/v1/bonus/claim", token, claim)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["granted"])
	assert.Equal(t, float64(25), body["extra_credits_total"])

	rec = doJSON(t, srv, http.MethodPost, "/v1/bonus/claim", token, claim)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["granted"])
}

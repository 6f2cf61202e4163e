package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallcanvas/inkwell/internal/balance"
	"github.com/smallcanvas/inkwell/internal/bonus"
	bonusservice "github.com/smallcanvas/inkwell/internal/bonus/service"
	"github.com/smallcanvas/inkwell/internal/config"
	"github.com/smallcanvas/inkwell/internal/ledger"
	ledgerservice "github.com/smallcanvas/inkwell/internal/ledger/service"
	"github.com/smallcanvas/inkwell/internal/observability"
	obsmiddleware "github.com/smallcanvas/inkwell/internal/observability/logger"
	obsmetrics "github.com/smallcanvas/inkwell/internal/observability/metrics"
	obstracing "github.com/smallcanvas/inkwell/internal/observability/tracing"
	"github.com/smallcanvas/inkwell/internal/purchase"
	purchaseservice "github.com/smallcanvas/inkwell/internal/purchase/service"
	"github.com/smallcanvas/inkwell/internal/quota"
	quotaservice "github.com/smallcanvas/inkwell/internal/quota/service"
	"github.com/smallcanvas/inkwell/internal/ratelimit"
	"github.com/smallcanvas/inkwell/internal/usage"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	balance.Module,
	ledger.Module,
	usage.Module,
	quota.Module,
	purchase.Module,
	bonus.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	quotaSvc     *quotaservice.Service
	purchaseSvc  *purchaseservice.Service
	bonusSvc     *bonusservice.Service
	ledgerSvc    *ledgerservice.Service
	obsMetrics   *obsmetrics.Metrics
	debitLimiter *ratelimit.DebitLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	QuotaSvc     *quotaservice.Service
	PurchaseSvc  *purchaseservice.Service
	BonusSvc     *bonusservice.Service
	LedgerSvc    *ledgerservice.Service
	ObsMetrics   *obsmetrics.Metrics     `optional:"true"`
	DebitLimiter *ratelimit.DebitLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		quotaSvc:     p.QuotaSvc,
		purchaseSvc:  p.PurchaseSvc,
		bonusSvc:     p.BonusSvc,
		ledgerSvc:    p.LedgerSvc,
		obsMetrics:   p.ObsMetrics,
		debitLimiter: p.DebitLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.AuthRequired())

	quota := v1.Group("/quota")
	{
		quota.POST("/debit", s.DebitRateLimit(), s.DebitCredits)
		quota.POST("/refund", s.RefundCredits)
	}

	credits := v1.Group("/credits")
	{
		credits.GET("/summary", s.GetCreditSummary)
		credits.GET("/ledger", s.ListLedgerEntries)
	}

	v1.POST("/purchases", s.RecordPurchase)

	bonus := v1.Group("/bonus")
	{
		bonus.GET("/eligibility", s.GetBonusEligibility)
		bonus.POST("/claim", s.ClaimBonus)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin", s.AuthRequired(), s.AdminRequired())

	admin.POST("/ledger/revoke", s.RevokeLedgerEntry)
}

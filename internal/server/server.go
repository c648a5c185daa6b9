// Package server exposes the billing API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mihaildragos/social-proof-app-sub000/internal/config"
	invoicedomain "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/domain"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	obsmetrics "github.com/mihaildragos/social-proof-app-sub000/internal/observability/metrics"
	plandomain "github.com/mihaildragos/social-proof-app-sub000/internal/plan/domain"
	"github.com/mihaildragos/social-proof-app-sub000/internal/ratelimit"
	reconciledomain "github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/domain"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	usagedomain "github.com/mihaildragos/social-proof-app-sub000/internal/usage/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CorrelationMiddleware())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine *gin.Engine
	log    *zap.Logger

	plansvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	invoiceSvc      invoicedomain.Service
	reconcileSvc    reconciledomain.Service
	ledgerClient    ledgerdomain.Client

	obsMetrics   *obsmetrics.Metrics
	usageLimiter *ratelimit.UsageIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin *gin.Engine
	Log *zap.Logger

	Plansvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	InvoiceSvc      invoicedomain.Service
	ReconcileSvc    reconciledomain.Service
	LedgerClient    ledgerdomain.Client

	ObsMetrics   *obsmetrics.Metrics           `optional:"true"`
	UsageLimiter *ratelimit.UsageIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine: p.Gin,
		log:    p.Log.Named("http.server"),

		plansvc:         p.Plansvc,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		invoiceSvc:      p.InvoiceSvc,
		reconcileSvc:    p.ReconcileSvc,
		ledgerClient:    p.LedgerClient,

		obsMetrics:   p.ObsMetrics,
		usageLimiter: p.UsageLimiter,
	}

	s.registerAPIRoutes()
	s.registerWebhookRoutes()

	return s
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.OrgRequired())

	api.POST("/plans", s.CreatePlan)
	api.GET("/plans", s.ListPlans)
	api.GET("/plans/:id", s.GetPlan)
	api.POST("/plans/:id/archive", s.ArchivePlan)

	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions", s.ListSubscriptions)
	api.GET("/subscriptions/:id", s.GetSubscription)
	api.PATCH("/subscriptions/:id", s.UpdateSubscription)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)

	api.POST("/usage", s.RecordUsage)
	api.POST("/usage/batch", s.RecordUsageBatch)
	api.GET("/usage/quota", s.CheckQuota)
	api.GET("/usage/summaries", s.ListUsageSummaries)

	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoice)
	api.GET("/invoices/:id/render", s.RenderInvoice)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/api/webhooks/ledger", s.HandleLedgerWebhook)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

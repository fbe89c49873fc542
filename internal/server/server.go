package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/inkwell-ai/inkwell/internal/account"
	accountdomain "github.com/inkwell-ai/inkwell/internal/account/domain"
	"github.com/inkwell-ai/inkwell/internal/apikey"
	apikeydomain "github.com/inkwell-ai/inkwell/internal/apikey/domain"
	"github.com/inkwell-ai/inkwell/internal/audit"
	auditdomain "github.com/inkwell-ai/inkwell/internal/audit/domain"
	"github.com/inkwell-ai/inkwell/internal/authorization"
	"github.com/inkwell-ai/inkwell/internal/clock"
	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/generation"
	generationdomain "github.com/inkwell-ai/inkwell/internal/generation/domain"
	"github.com/inkwell-ai/inkwell/internal/observability"
	obslogger "github.com/inkwell-ai/inkwell/internal/observability/logger"
	obsmetrics "github.com/inkwell-ai/inkwell/internal/observability/metrics"
	obstracing "github.com/inkwell-ai/inkwell/internal/observability/tracing"
	"github.com/inkwell-ai/inkwell/internal/payment"
	paymentdomain "github.com/inkwell-ai/inkwell/internal/payment/domain"
	"github.com/inkwell-ai/inkwell/internal/payment/gateway"
	"github.com/inkwell-ai/inkwell/internal/plan"
	plandomain "github.com/inkwell-ai/inkwell/internal/plan/domain"
	"github.com/inkwell-ai/inkwell/internal/ratelimit"
	"github.com/inkwell-ai/inkwell/internal/usage"
	usagedomain "github.com/inkwell-ai/inkwell/internal/usage/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	account.Module,
	apikey.Module,
	plan.Module,
	payment.Module,
	usage.Module,
	generation.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	port := strings.TrimSpace(cfg.HTTPPort)
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	accountSvc    accountdomain.Service
	apiKeySvc     apikeydomain.Service
	planSvc       plandomain.Service
	paymentSvc    paymentdomain.Service
	usageSvc      usagedomain.Service
	generationSvc generationdomain.Service
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	verifier      *gateway.Verifier
	limiter       *ratelimit.Limiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	AccountSvc    accountdomain.Service
	APIKeySvc     apikeydomain.Service
	PlanSvc       plandomain.Service
	PaymentSvc    paymentdomain.Service
	UsageSvc      usagedomain.Service
	GenerationSvc generationdomain.Service
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	Verifier      *gateway.Verifier
	Limiter       *ratelimit.Limiter
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           p.Log.Named("http.server"),
		genID:         p.GenID,
		clock:         p.Clock,
		accountSvc:    p.AccountSvc,
		apiKeySvc:     p.APIKeySvc,
		planSvc:       p.PlanSvc,
		paymentSvc:    p.PaymentSvc,
		usageSvc:      p.UsageSvc,
		generationSvc: p.GenerationSvc,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		verifier:      p.Verifier,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	// The gateway authenticates with an HMAC over the body, not a key.
	v1.POST("/webhooks/bank", s.HandleBankWebhook)

	// -------- Plans --------
	v1.GET("/plans", s.APIKeyRequired(), s.ListPlans)

	// -------- Accounts --------
	v1.POST("/accounts", s.APIKeyRequired(), s.requireCapability(authorization.ObjectAccount, authorization.ActionAccountProvision), s.ProvisionAccount)
	v1.GET("/accounts/me", s.APIKeyRequired(), s.requireCapability(authorization.ObjectAccount, authorization.ActionAccountView), s.GetMyAccount)

	// -------- Payments --------
	v1.POST("/payments", s.APIKeyRequired(), s.requireCapability(authorization.ObjectPayment, authorization.ActionPaymentCreate), s.CreatePayment)
	v1.GET("/payments", s.APIKeyRequired(), s.requireCapability(authorization.ObjectPayment, authorization.ActionPaymentView), s.ListPayments)
	v1.GET("/payments/status/:reference", s.APIKeyRequired(), s.requireCapability(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPaymentStatusByReference)
	v1.GET("/payments/:payment_id", s.APIKeyRequired(), s.requireCapability(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPaymentByID)
	v1.GET("/payments/:payment_id/receipt", s.APIKeyRequired(), s.requireCapability(authorization.ObjectPayment, authorization.ActionPaymentReceipt), s.GetPaymentReceipt)

	// -------- Usage --------
	v1.POST("/usage/charges", s.APIKeyRequired(), s.requireCapability(authorization.ObjectUsage, authorization.ActionUsageCharge), s.ChargeRateLimit(), s.ChargeUsage)
	v1.GET("/usage", s.APIKeyRequired(), s.requireCapability(authorization.ObjectUsage, authorization.ActionUsageView), s.ListUsage)

	// -------- Generations --------
	v1.POST("/generations", s.APIKeyRequired(), s.requireCapability(authorization.ObjectGeneration, authorization.ActionGenerationSubmit), s.SubmitGeneration)
	v1.GET("/generations/:job_id", s.APIKeyRequired(), s.requireCapability(authorization.ObjectGeneration, authorization.ActionGenerationPoll), s.PollRateLimit(), s.PollGeneration)

	// -------- API keys --------
	v1.GET("/api-keys", s.APIKeyRequired(), s.requireCapability(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
	v1.POST("/api-keys", s.APIKeyRequired(), s.requireCapability(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
	v1.POST("/api-keys/:key_id/rotate", s.APIKeyRequired(), s.requireCapability(authorization.ObjectAPIKey, authorization.ActionAPIKeyRotate), s.RotateAPIKey)
	v1.DELETE("/api-keys/:key_id", s.APIKeyRequired(), s.requireCapability(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)

	// -------- Audit --------
	v1.GET("/audit-logs", s.APIKeyRequired(), s.requireCapability(authorization.ObjectAccount, authorization.ActionAccountView), s.ListAuditLogs)
}

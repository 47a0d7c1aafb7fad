package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopstack/payflow/internal/config"
	"github.com/shopstack/payflow/internal/observability"
	obsmiddleware "github.com/shopstack/payflow/internal/observability/logger"
	obsmetrics "github.com/shopstack/payflow/internal/observability/metrics"
	obstracing "github.com/shopstack/payflow/internal/observability/tracing"
	"github.com/shopstack/payflow/internal/payment"
	paymentdomain "github.com/shopstack/payflow/internal/payment/domain"
	"github.com/shopstack/payflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	payment.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(CORS())
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	sessionSvc paymentdomain.SessionService
	webhookSvc paymentdomain.WebhookService
	verifySvc  paymentdomain.VerificationService
	limiter    *ratelimit.SessionLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Engine     *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	SessionSvc paymentdomain.SessionService
	WebhookSvc paymentdomain.WebhookService
	VerifySvc  paymentdomain.VerificationService
	Limiter    *ratelimit.SessionLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Engine,
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		sessionSvc: p.SessionSvc,
		webhookSvc: p.WebhookSvc,
		verifySvc:  p.VerifySvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")

	api.POST("/create-payment", s.HandleCreatePayment)
	api.POST("/verify-payment", s.HandleVerifyPayment)
	api.POST("/payment-webhook", s.HandlePaymentWebhook)
}

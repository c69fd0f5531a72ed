package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatflowers/donations/docs"
	"github.com/fatflowers/donations/internal/app/api/handlers"
	"github.com/fatflowers/donations/internal/app/scheduler"
	"github.com/fatflowers/donations/internal/app/service/jobrun"
	"github.com/fatflowers/donations/internal/app/service/reconciliation"
	"github.com/fatflowers/donations/internal/app/service/statistics"
	subsvc "github.com/fatflowers/donations/internal/app/service/subscription"
	cfgpkg "github.com/fatflowers/donations/pkg/config"

	mw "github.com/fatflowers/donations/internal/app/api/middleware"

	metrics "github.com/fatflowers/donations/pkg/metrics"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Tracing only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeParams struct {
	fx.In

	Lc         fx.Lifecycle
	Log        *zap.SugaredLogger
	Cfg        *cfgpkg.Config
	DB         *gorm.DB
	Scheduler  *scheduler.Scheduler
	Reconciler *reconciliation.Reconciler
	Store      *subsvc.Service
	Statistics *statistics.Service
	JobRuns    *jobrun.Service
}

func registerRoutes(r *gin.Engine, p routeParams) {
	log := p.Log
	if p.Cfg.MetricsAddr != "" {
		prom := metrics.NewPrometheus(metrics.NewPrometheusOptions{Logger: log})
		r.Use(prom.HandlerFunc())
		runMetricsServer(p.Lc, log, p.Cfg.MetricsAddr, prom.Handler())
	}

	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub, p.DB)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if p.Cfg.Server.AdminToken == "" {
		log.Warnw("admin token not configured; admin API is unauthenticated")
	}
	admin := r.Group("/api/v1/admin")
	admin.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(), mw.AdminAuthMiddleware(p.Cfg.Server.AdminToken))
	handlers.RegisterAdminRoutes(admin, handlers.AdminDeps{
		Config:     p.Cfg,
		Scheduler:  p.Scheduler,
		Reconciler: p.Reconciler,
		Store:      p.Store,
		Statistics: p.Statistics,
		JobRuns:    p.JobRuns,
	})
}

func runMetricsServer(lc fx.Lifecycle, log *zap.SugaredLogger, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("metrics started", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("metrics server error: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)

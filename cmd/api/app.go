package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"gracelog/internal/attendance"
	"gracelog/internal/audit"
	"gracelog/internal/auth"
	"gracelog/internal/config"
	"gracelog/internal/httpapi"
	"gracelog/internal/member"
	"gracelog/internal/metrics"
	"gracelog/internal/session"
	"gracelog/internal/store"
)

func newConfig() config.App {
	cfg := config.Load()
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg
}

func newLogger(cfg config.App) (*zap.Logger, error) {
	var (
		log *zap.Logger
		err error
	)
	if cfg.Production() {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

func newDB(lc fx.Lifecycle, cfg config.App, log *zap.Logger) (*store.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("schema migrated", zap.String("driver", cfg.DBDriver))
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})
	return db, nil
}

// newRedis returns nil when the in-memory bus is configured.
func newRedis(lc fx.Lifecycle, cfg config.App) *store.Redis {
	if cfg.SessionBus == "memory" {
		return nil
	}
	rdb := store.NewRedis(cfg.RedisAddr)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return rdb.Close() },
	})
	return rdb
}

func newSessionBus(cfg config.App, rdb *store.Redis, log *zap.Logger) session.Bus {
	if rdb == nil {
		log.Info("session events on in-memory bus")
		return session.NewInMemory(64)
	}
	log.Info("session events on redis", zap.String("addr", cfg.RedisAddr), zap.String("channel", session.DefaultChannel))
	return session.NewRedisBus(rdb.Client, session.DefaultChannel, log)
}

func newMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), reg
}

type services struct {
	fx.Out

	Auth       *auth.Service
	Members    *member.Service
	Attendance *attendance.Service
}

func newServices(cfg config.App, db *store.DB, bus session.Bus, m *metrics.Metrics, log *zap.Logger) services {
	return services{
		Auth: auth.NewService(auth.NewRepository(db.Client), bus, auth.Options{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.JWTSigningKey,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		}, log, m),
		Members:    member.NewService(member.NewRepository(db.Client), m),
		Attendance: attendance.NewService(attendance.NewRepository(db.Client), m),
	}
}

func newAuditRepo(db *store.DB) *audit.Repository {
	return audit.NewRepository(db.Client)
}

// runAuditConsumer records session events in-process when they never leave
// this process. With the redis bus cmd/worker does it instead.
func runAuditConsumer(lc fx.Lifecycle, cfg config.App, bus session.Bus, repo *audit.Repository, log *zap.Logger) {
	if cfg.SessionBus != "memory" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := audit.Consume(ctx, bus, repo, log); err != nil {
					log.Error("audit consumer stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

type routerParams struct {
	fx.In

	Config     config.App
	Log        *zap.Logger
	DB         *store.DB
	Redis      *store.Redis
	Bus        session.Bus
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
	Auth       *auth.Service
	Members    *member.Service
	Attendance *attendance.Service
	Audit      *audit.Repository
}

func newRouter(p routerParams) *gin.Engine {
	health := map[string]httpapi.HealthCheck{"db": p.DB.Healthy}
	if p.Redis != nil {
		health["redis"] = p.Redis.Healthy
	}
	h := httpapi.New(p.Auth, p.Members, p.Attendance, p.Bus, p.Audit, p.Log)
	return httpapi.NewRouter(h, httpapi.RouterOptions{
		SigningKey:      p.Config.JWTSigningKey,
		Issuer:          p.Config.JWTIssuer,
		RateLimitPerMin: p.Config.RateLimitPerMin,
		CORSOrigins:     p.Config.CORSOrigins,
		Production:      p.Config.Production(),
		Metrics:         p.Metrics,
		Gatherer:        p.Registry,
		Health:          health,
		Log:             p.Log,
	})
}

func newServer(cfg config.App, r *gin.Engine) *http.Server {
	return &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: /v1/session/events streams for as long as the client stays
		IdleTimeout: 60 * time.Second,
	}
}

func registerHooks(lc fx.Lifecycle, srv *http.Server, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("starting server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("server forced shutdown", zap.Error(err))
				return srv.Close()
			}
			log.Info("server exited")
			_ = log.Sync()
			return nil
		},
	})
}

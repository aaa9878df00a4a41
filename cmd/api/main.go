package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			newConfig,
			newLogger,
			newDB,
			newRedis,
			newSessionBus,
			newMetrics,
			newServices,
			newAuditRepo,
			newRouter,
			newServer,
		),
		fx.Invoke(runAuditConsumer, registerHooks),
	).Run()
}

package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/hftcore/internal/config"
	"github.com/abdoElHodaky/hftcore/internal/telemetry"
)

// Module provides the assembled core and its lifecycle hooks for the fx
// container the binary builds.
var Module = fx.Options(
	fx.Provide(
		NewLogger,
		NewSink,
		New,
	),
	fx.Invoke(registerHooks),
)

// NewLogger builds the process logger from the configured level.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(cfg.Telemetry.LogLevel)); err != nil {
		return nil, err
	}
	return zcfg.Build()
}

// NewSink builds the Prometheus telemetry sink.
func NewSink(cfg *config.Config, logger *zap.Logger) telemetry.Sink {
	return telemetry.NewPrometheusSink(prometheus.NewRegistry(), logger.Named("telemetry"))
}

// registerHooks ties the core's worker lifecycle to the container.
func registerHooks(lc fx.Lifecycle, a *App) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			a.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			a.Stop()
			return nil
		},
	})
}

package log

import (
	"context"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/pkg/telemetry"
)

var Module = fx.Module("log",
	fx.Provide(New),
)

// New builds the JSON production logger. With an OTLP endpoint configured the
// core is teed into the OpenTelemetry log bridge.
func New(lc fx.Lifecycle, cfg *config.Config, _ *telemetry.Provider) *zap.Logger {
	level := ParseLevel(cfg.LogLevel)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		level,
	)
	if cfg.OTLPEndpoint != "" {
		core = zapcore.NewTee(core, otelzap.NewCore(cfg.AppName,
			otelzap.WithLoggerProvider(global.GetLoggerProvider()),
		))
	}

	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(
			zap.String("service", cfg.AppName),
			zap.String("version", cfg.AppVersion),
			zap.String("environment", cfg.Environment),
		),
	)
	zap.ReplaceGlobals(logger)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})

	return logger
}

// ParseLevel maps LOG_LEVEL to a zap level, defaulting to info.
func ParseLevel(raw string) zapcore.Level {
	level, err := zapcore.ParseLevel(raw)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

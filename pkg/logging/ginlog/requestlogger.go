package ginlog

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

const (
	RequestIDKey     = logging.RequestIDKey
	RequestIDHeader  = logging.RequestIDHeader
	RequestLoggerKey = logging.RequestLoggerKey
)

// RequestLoggerConfig is a config for RequestLogger.
type RequestLoggerConfig struct {
	// ExcludeQueryParameters controls whether query params are stripped off when logging.
	ExcludeQueryParameters bool `mapstructure:"exclude_query_parameters"`

	// LevelByPath sets a custom logging level by exact path,
	// e.g. "/health" -> "debug". Any other path logs at Info.
	LevelByPath map[string]string `mapstructure:"level_by_path"`
}

// Opts returns a set of opts to apply to RequestLogger constructor using this config.
func (rec RequestLoggerConfig) Opts() []RequestLoggerOption {
	result := make([]RequestLoggerOption, 0, 2)
	if len(rec.LevelByPath) != 0 {
		result = append(result, WithRequestLoggerLevelByPath(parseLevelByPath(rec)))
	}

	result = append(result, WithRequestLoggerExcludeQueryParameters(rec.ExcludeQueryParameters))
	return result
}

// parseLevelByPath converts the configured string levels into zapcore levels.
// Unparseable levels fall back to Info silently; there is nowhere to report
// them from inside a handler chain.
func parseLevelByPath(rec RequestLoggerConfig) map[string]zapcore.Level {
	levelByPath := make(map[string]zapcore.Level, len(rec.LevelByPath))
	for path, lvlString := range rec.LevelByPath {
		var lvl = zapcore.InfoLevel

		if err := lvl.UnmarshalText([]byte(lvlString)); err != nil {
			lvl = zapcore.InfoLevel
		}

		levelByPath[path] = lvl
	}

	return levelByPath
}

// GetRequestLogger returns a logger for the current request context. By
// default, this only includes the request ID.
func GetRequestLogger(ctx *gin.Context) *zap.Logger {
	return ctx.MustGet(RequestLoggerKey).(*zap.Logger)
}

type requestLogger struct {
	logger                 *zap.Logger
	levelByPath            map[string]zapcore.Level
	excludeQueryParameters bool
}

func (rl *requestLogger) HandlerFunc(ctx *gin.Context) {
	start := logging.TimeNowFunc()

	// extract these in case other middleware modify them
	path := ctx.Request.URL.Path
	query := ctx.Request.URL.RawQuery

	requestID := GetOrCreateRequestID(ctx)

	// set up a context-specific logger
	requestLogger := rl.logger.With(zap.String(RequestIDKey, requestID))
	ctx.Set(RequestLoggerKey, requestLogger)

	ctx.Next()

	end := logging.TimeNowFunc()
	latency := end.Sub(start)

	if len(ctx.Errors) > 0 {
		for _, err := range ctx.Errors.Errors() {
			requestLogger.Error(err)
		}
		return
	}

	lvl := rl.getLogLevel(path)

	// same as requestLogger.(Info/Debug/...) but with a dynamic level
	if ce := requestLogger.Check(lvl, path); ce != nil {
		fields := []zap.Field{
			zap.String("method", ctx.Request.Method),
			zap.String("path", path),
			zap.String("ip", ctx.ClientIP()),
			zap.Int("status", ctx.Writer.Status()),
			zap.String("time", end.Format(logging.TimeFormat)),
			zap.Duration("latency", latency),
		}

		if !rl.excludeQueryParameters {
			fields = append(fields, zap.String("query", query))
		}

		ce.Write(fields...)
	}
}

func (rl *requestLogger) getLogLevel(path string) zapcore.Level {
	if lvl, ok := rl.levelByPath[path]; ok {
		return lvl
	}

	return zapcore.InfoLevel
}

// RequestLoggerOption is a functional option applied to RequestLogger.
type RequestLoggerOption func(*requestLogger)

// WithRequestLoggerLevelByPath sets a custom logging level depending on path.
func WithRequestLoggerLevelByPath(levelByPath map[string]zapcore.Level) RequestLoggerOption {
	return func(rl *requestLogger) {
		rl.levelByPath = levelByPath
	}
}

// WithRequestLoggerExcludeQueryParameters controls whether to exclude
// query parameters from logging.
//
// By default, the query parameters are always logged.
func WithRequestLoggerExcludeQueryParameters(value bool) RequestLoggerOption {
	return func(rl *requestLogger) {
		rl.excludeQueryParameters = value
	}
}

// RequestLogger returns a Gin middleware for logging using Zap.
func RequestLogger(logger *zap.Logger, opts ...RequestLoggerOption) gin.HandlerFunc {
	rl := &requestLogger{logger: logger}
	for _, opt := range opts {
		opt(rl)
	}

	return rl.HandlerFunc
}

// Package logger builds log/slog loggers for the comet services and provides
// nil-safe attribute helpers used across the engine.
//
// Create a logger with functional options:
//
//	log := logger.New(
//		logger.WithProduction("comet"),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
//	log.Info("broadcast delivered",
//		logger.Topic("chat"),
//		logger.Count("delivered", 3),
//	)
//
// WithDevelopment selects a text handler at debug level; WithProduction selects a
// JSON handler at info level. Both tag every record with the service name.
//
// # Context values
//
// Attributes can be pulled from the context on every *Context call:
//
//	log := logger.New(logger.WithContextValue("request_id", requestIDKey))
//	log.InfoContext(ctx, "suspended")
//
// or with arbitrary extractors via WithContextExtractors.
//
// # Attribute helpers
//
// Helpers such as Error, Topic and SubscriptionID return the empty slog.Attr for
// zero input, which slog drops, so callers never need nil checks:
//
//	log.Warn("delivery failed", logger.Error(err), logger.SubscriptionID(id))
//
// ParseLevel converts configuration strings ("debug", "warn", ...) into slog levels.
package logger

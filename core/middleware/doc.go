// Package middleware provides net/http middleware for request IDs and
// request logging.
//
// Both wrappers keep the underlying writer reachable through Unwrap, Flush
// and Hijack, so streaming sinks and websocket upgrades work behind them.
//
// # Usage
//
//	h := middleware.Chain(mux,
//		middleware.RequestID(),
//		middleware.Logging(log),
//	)
//
// The first middleware is the outermost one. Put RequestID before Logging so
// the id is in the request context when the request is logged. Pair it with
// logger.WithContextExtractors(middleware.RequestIDExtractor) to stamp every
// log record written with the request context.
//
// Suspended requests stay open until they are resumed, so the completion
// record carries the whole suspension in its duration. A separate debug
// record marks when a request started.
package middleware

// Package observability provides logging, metrics and Temporal log bridging
// for the review pipeline.
//
// # Logging
//
// Create a logger from configuration and derive component loggers from it:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	searchLog := logger.With().Str("component", "search").Logger()
//
// Request and job identifiers travel on the context and can be attached to
// any logger with LoggerFromContext.
//
// # Metrics
//
// NewMetrics registers all collectors under a namespace. Components accept a
// *Metrics that may be nil.
//
//	metrics := observability.NewMetrics("slr")
//	metrics.RecordArticleOutcome("screening", "processed")
//
// # Temporal
//
// TemporalLogger adapts a zerolog.Logger to the Temporal SDK log interface:
//
//	c, err := client.Dial(client.Options{
//	    Logger: observability.NewTemporalLogger(logger),
//	})
package observability

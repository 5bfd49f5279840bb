// Package logging provides structured logging for assistd.
//
// Logger wraps zap with context-aware methods. Every entry logged through a
// context carries the trace/span ids of the active span plus the tenant and
// request ids placed on the context by the HTTP and MCP surfaces:
//
//	ctx = tenant.WithID(ctx, "client_001")
//	ctx = logging.WithRequestID(ctx, reqID)
//	logger.Info(ctx, "answer served", zap.String("source", "faq"))
//
// Secrets are redacted by key name and by value pattern before encoding.
// Errors are never sampled.
package logging

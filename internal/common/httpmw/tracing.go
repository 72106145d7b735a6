package httpmw

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/pwno-io/pwno-mcp/internal/common/logger"
	"github.com/pwno-io/pwno-mcp/internal/tracing"
)

// OtelTracing creates a Gin middleware that wraps each request in an OTel
// span and stamps a per-request session id onto both the span and the
// request context (under logger.SessionIDKey), so any log.WithContext(ctx)
// call made while handling the request carries the same "session_id" field
// this package's logger already knows how to extract.
func OtelTracing(serverName string, log *logger.Logger) gin.HandlerFunc {
	tracer := tracing.Tracer(serverName)

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		spanName := fmt.Sprintf("%s %s", c.Request.Method, path)

		sessionID := uuid.New().String()
		ctx := context.WithValue(c.Request.Context(), logger.SessionIDKey, sessionID)
		ctx, span := tracer.Start(ctx, spanName)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPRequestMethodKey.String(c.Request.Method),
			semconv.HTTPRouteKey.String(path),
			semconv.HTTPResponseStatusCodeKey.Int(status),
			attribute.Int("http.response.size", c.Writer.Size()),
			attribute.String("session_id", sessionID),
		)

		reqLog := log.WithContext(ctx)
		fields := []zap.Field{
			zap.String("server", serverName),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
		}
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
			reqLog.Error("http", fields...)
		} else {
			reqLog.Debug("http", fields...)
		}
	}
}

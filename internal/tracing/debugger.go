package tracing

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const debuggerTracerName = "pwno-debugger"

func debuggerTracer() trace.Tracer {
	return Tracer(debuggerTracerName)
}

const maxCommandAttrLen = 256

// TraceMICommand starts a span for a single MI command sent to the
// debugger subprocess. Caller must call span.End() once the CommandOutcome
// is known and record the result with TraceMIResult.
func TraceMICommand(ctx context.Context, correlationID uint64, command string) (context.Context, trace.Span) {
	ctx, span := debuggerTracer().Start(ctx, "debugger.mi_command",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("mi.correlation_id", strconv.FormatUint(correlationID, 10)),
		attribute.String("mi.command", truncate(command, maxCommandAttrLen)),
	)
	return ctx, span
}

// TraceMIResult records the outcome of an MI command on its span.
func TraceMIResult(span trace.Span, success bool, errMsg string, state string) {
	span.SetAttributes(
		attribute.Bool("mi.success", success),
		attribute.String("mi.inferior_state", state),
	)
	if !success {
		span.SetStatus(codes.Error, errMsg)
	}
}

// TraceToolInvoke starts a span for a single tool-dispatch call.
func TraceToolInvoke(ctx context.Context, tool string) (context.Context, trace.Span) {
	ctx, span := debuggerTracer().Start(ctx, "tool.invoke",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(attribute.String("tool.name", tool))
	return ctx, span
}

// TraceToolResult records the result of a tool invocation on its span.
func TraceToolResult(span trace.Span, success bool, err error) {
	span.SetAttributes(attribute.Bool("tool.success", success))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceSubprocess starts a span for a SubprocessManager operation.
func TraceSubprocess(ctx context.Context, op, pid string) (context.Context, trace.Span) {
	ctx, span := debuggerTracer().Start(ctx, "subprocess."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	if pid != "" {
		span.SetAttributes(attribute.String("subprocess.pid", pid))
	}
	return ctx, span
}

// TraceExploitPipe starts a span for an ExploitPipe operation.
func TraceExploitPipe(ctx context.Context, op string) (context.Context, trace.Span) {
	ctx, span := debuggerTracer().Start(ctx, "exploitpipe."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, span
}

// TraceHTTPRequest starts a span for an inbound HTTP request on the attach
// or liveness surface.
func TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	ctx, span := debuggerTracer().Start(ctx, "http."+method+" "+path,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
	return ctx, span
}

// TraceHTTPResponse records response attributes on the span, marking it as
// an error when the status code is >= 500.
func TraceHTTPResponse(span trace.Span, statusCode int) {
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	if statusCode >= 500 {
		span.SetStatus(codes.Error, "http "+strconv.Itoa(statusCode))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lsphost"

// StartSessionSpan starts a span covering spawn and the initialize handshake.
func StartSessionSpan(ctx context.Context, sessionID, command string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session.start",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("server.command", command),
		),
	)
}

// StartShutdownSpan starts a span covering the shutdown handshake.
func StartShutdownSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session.stop",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan opens a span named name under the tracer scope. The span must
// be closed with FinishSpan.
func StartSpan(ctx context.Context, scope, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// FinishSpan sets the span status from err and ends it.
//
// Description:
//
//	A nil err marks the span Ok. An expected err, such as a lookup miss,
//	is noted as an event but leaves the status unset so it does not show
//	as a failure. Any other err is recorded and marks the span Error.
func FinishSpan(span trace.Span, err error, expected bool) {
	if span == nil {
		return
	}
	defer span.End()

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case expected:
		span.AddEvent("expected error", trace.WithAttributes(attribute.String("error.message", err.Error())))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceFields returns trace_id and span_id as slog key/value pairs, or nil
// when ctx carries no valid span.
func TraceFields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []any{
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	}
}

// LoggerWithTrace tags logger with the span in ctx so log lines can be
// joined with traces. A nil logger uses slog.Default.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if fields := TraceFields(ctx); fields != nil {
		return logger.With(fields...)
	}
	return logger
}

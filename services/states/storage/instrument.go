// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianStates/services/states/telemetry"
)

const tracerName = "states.storage"

// instrumented decorates an Engine with spans and storage metrics.
type instrumented struct {
	next    Engine
	backend string
	metrics *telemetry.StorageMetrics
}

// Instrument wraps engine so every call produces a span and updates the
// storage operation counter and latency histogram.
//
// Description:
//
//	backend labels the metrics ("memory", "file", "badger"). A nil metrics
//	disables recording but spans are still emitted. ErrNotFound is an
//	expected outcome and is counted as "not_found" without failing the span.
//
// Inputs:
//
//	engine - The engine to wrap.
//	backend - Backend name for span attributes and metric labels.
//	metrics - Instruments from telemetry.NewStorageMetrics. May be nil.
//
// Outputs:
//
//	Engine - The decorated engine.
func Instrument(engine Engine, backend string, metrics *telemetry.StorageMetrics) Engine {
	return &instrumented{next: engine, backend: backend, metrics: metrics}
}

func (i *instrumented) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs,
		attribute.String("storage.backend", i.backend),
		attribute.String("storage.operation", op),
	)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "storage."+op, attrs...)
	start := time.Now()

	return ctx, func(err error) {
		status := "ok"
		switch {
		case errors.Is(err, ErrNotFound):
			status = "not_found"
		case err != nil:
			status = "error"
		}
		telemetry.FinishSpan(span, err, status == "not_found")

		if i.metrics == nil {
			return
		}
		labels := metric.WithAttributes(
			attribute.String("backend", i.backend),
			attribute.String("operation", op),
			attribute.String("status", status),
		)
		i.metrics.OperationsTotal.Add(ctx, 1, labels)
		i.metrics.OperationDuration.Record(ctx, time.Since(start).Seconds(), labels)
	}
}

func (i *instrumented) Get(ctx context.Context, kind, id string) (Record, error) {
	ctx, done := i.observe(ctx, "get", attribute.String("record.kind", kind), attribute.String("record.id", id))
	rec, err := i.next.Get(ctx, kind, id)
	done(err)
	return rec, err
}

func (i *instrumented) All(ctx context.Context, kind string) ([]Record, error) {
	ctx, done := i.observe(ctx, "all", attribute.String("record.kind", kind))
	recs, err := i.next.All(ctx, kind)
	done(err)
	return recs, err
}

func (i *instrumented) Put(ctx context.Context, rec Record) error {
	ctx, done := i.observe(ctx, "put", attribute.String("record.kind", rec.Kind), attribute.String("record.id", rec.ID))
	err := i.next.Put(ctx, rec)
	done(err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, kind, id string) error {
	ctx, done := i.observe(ctx, "delete", attribute.String("record.kind", kind), attribute.String("record.id", id))
	err := i.next.Delete(ctx, kind, id)
	done(err)
	return err
}

func (i *instrumented) Persist(ctx context.Context) error {
	ctx, done := i.observe(ctx, "persist")
	err := i.next.Persist(ctx)
	done(err)
	return err
}

func (i *instrumented) Reload(ctx context.Context) error {
	ctx, done := i.observe(ctx, "reload")
	err := i.next.Reload(ctx)
	done(err)
	return err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

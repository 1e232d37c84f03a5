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
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// StorageMetrics holds the OTel instruments recorded around storage calls.
//
// Thread Safety: Safe for concurrent use after creation.
type StorageMetrics struct {
	// OperationsTotal counts storage calls by backend, operation and status.
	OperationsTotal metric.Int64Counter

	// OperationDuration records storage call latency in seconds.
	OperationDuration metric.Float64Histogram
}

// NewStorageMetrics registers the storage instruments on meter.
//
// Example:
//
//	m, err := telemetry.NewStorageMetrics(otel.Meter("states.storage"))
//	if err != nil {
//	    return fmt.Errorf("create storage metrics: %w", err)
//	}
func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	m := &StorageMetrics{}
	var err error

	m.OperationsTotal, err = meter.Int64Counter(
		"states_storage_operations_total",
		metric.WithDescription("Total storage engine operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create storage_operations_total: %w", err)
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"states_storage_operation_duration_seconds",
		metric.WithDescription("Storage engine operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create storage_operation_duration: %w", err)
	}

	return m, nil
}

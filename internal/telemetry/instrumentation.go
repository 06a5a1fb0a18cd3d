package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CARDINALITY:
//
// Span attributes feed metrics, so they must stay bounded. Source ids, object
// keys, request ids and error messages belong in logs and span status, never
// in attributes. Safe values are operation names, driver names, outcomes and
// status classes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	return t.instrument(ctx, operationName, component, nil, fn)
}

func (t *Telemetry) instrument(
	ctx context.Context,
	operationName, component string,
	attrs []attribute.KeyValue,
	fn InstrumentedFunc,
) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)
	span.SetAttributes(attrs...)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments journal database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentStoreOperation instruments object store operations.
func (t *Telemetry) InstrumentStoreOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "store_"+operation, "store", fn)

	t.RecordStoreOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentSourceOperation instruments source service operations.
func (t *Telemetry) InstrumentSourceOperation(ctx context.Context, source, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.instrument(ctx, "source_"+operation, "source", []attribute.KeyValue{
		attribute.String("source.type", source),
		attribute.String("source.operation", operation),
	}, fn)

	t.RecordSourceOperation(source, operation, statusOf(err))

	return err
}

// InstrumentTransfer instruments one engine execution. The active gauge
// covers the whole run.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	t.IncrementActiveTransfers()
	defer t.DecrementActiveTransfers()

	return t.InstrumentOperation(ctx, "transfer", "engine", fn)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}

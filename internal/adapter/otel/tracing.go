package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/subiq/internal/domain"
)

const tracerName = "github.com/neomorfeo/subiq/internal/adapter/otel"

// Compile-time checks: the decorators implement their domain ports.
var (
	_ domain.AuditLedger = (*TracingLedger)(nil)
	_ domain.Dispatcher  = (*TracingDispatcher)(nil)
)

// TracingLedger wraps a domain.AuditLedger with OpenTelemetry tracing.
type TracingLedger struct {
	next   domain.AuditLedger
	tracer trace.Tracer
}

// NewTracingLedger creates a tracing decorator around the given ledger.
func NewTracingLedger(next domain.AuditLedger) *TracingLedger {
	return &TracingLedger{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (l *TracingLedger) Record(ctx context.Context, event domain.AuditEvent) error {
	ctx, span := l.tracer.Start(ctx, "AuditLedger.Record",
		trace.WithAttributes(
			attribute.String("audit.event_type", event.EventType),
			attribute.String("audit.entity_type", event.EntityType),
			attribute.String("audit.entity_id", event.EntityID),
		),
	)
	defer span.End()

	err := l.next.Record(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (l *TracingLedger) ListByEntity(ctx context.Context, entityType, entityID string) ([]domain.AuditEvent, error) {
	ctx, span := l.tracer.Start(ctx, "AuditLedger.ListByEntity",
		trace.WithAttributes(
			attribute.String("audit.entity_type", entityType),
			attribute.String("audit.entity_id", entityID),
		),
	)
	defer span.End()

	events, err := l.next.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(events)))
	}
	return events, err
}

// TracingDispatcher wraps a domain.Dispatcher with OpenTelemetry tracing.
// Every downstream call gets a span carrying the idempotency key, so a saga
// step's retries can be correlated across systems.
type TracingDispatcher struct {
	next   domain.Dispatcher
	tracer trace.Tracer
}

// NewTracingDispatcher creates a tracing decorator around the given dispatcher.
func NewTracingDispatcher(next domain.Dispatcher) *TracingDispatcher {
	return &TracingDispatcher{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (d *TracingDispatcher) Execute(ctx context.Context, target domain.TargetSystem, req domain.StepRequest) (domain.StepResponse, error) {
	return d.call(ctx, "Dispatcher.Execute", target, req, d.next.Execute)
}

func (d *TracingDispatcher) Compensate(ctx context.Context, target domain.TargetSystem, req domain.StepRequest) (domain.StepResponse, error) {
	return d.call(ctx, "Dispatcher.Compensate", target, req, d.next.Compensate)
}

func (d *TracingDispatcher) call(
	ctx context.Context,
	name string,
	target domain.TargetSystem,
	req domain.StepRequest,
	fn func(context.Context, domain.TargetSystem, domain.StepRequest) (domain.StepResponse, error),
) (domain.StepResponse, error) {
	ctx, span := d.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("saga.target", string(target)),
			attribute.String("saga.action", req.Action),
			attribute.String("saga.workflow_id", req.WorkflowID),
			attribute.Int("saga.step_index", req.StepIndex),
			attribute.String("saga.idempotency_key", req.IdempotencyKey),
		),
	)
	defer span.End()

	resp, err := fn(ctx, target, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("saga.external_ref", resp.ExternalRef))
	}
	return resp, err
}

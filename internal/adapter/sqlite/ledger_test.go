package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/neomorfeo/subiq/internal/adapter/sqlite"
	"github.com/neomorfeo/subiq/internal/domain"
)

func TestLedger_AppendAndList(t *testing.T) {
	ledger := sqlite.NewLedger(newTestStore(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		event := domain.NewAuditEvent(
			fmt.Sprintf("evt-%d", i), "workflow_request", "wf-1",
			domain.AuditWorkflowSubmitted, "operator",
			map[string]any{"index": i},
		)
		if err := ledger.Record(ctx, event); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	other := domain.NewAuditEvent("evt-other", "subscription", "SUB001",
		domain.AuditStatusTransitioned, "system", nil)
	if err := ledger.Record(ctx, other); err != nil {
		t.Fatalf("record other: %v", err)
	}

	events, err := ledger.ListByEntity(ctx, "workflow_request", "wf-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	for i, e := range events {
		if want := fmt.Sprintf("evt-%d", i); e.ID != want {
			t.Errorf("event %d ID = %q, want %q (oldest first)", i, e.ID, want)
		}
		if e.EventType != domain.AuditWorkflowSubmitted {
			t.Errorf("event %d EventType = %q", i, e.EventType)
		}
	}
}

func TestLedger_DuplicateIDRefused(t *testing.T) {
	ledger := sqlite.NewLedger(newTestStore(t))
	ctx := context.Background()

	event := domain.NewAuditEvent("evt-1", "workflow_request", "wf-1",
		domain.AuditWorkflowSubmitted, "operator", nil)
	if err := ledger.Record(ctx, event); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Append-only: the write fails loudly instead of overwriting.
	err := ledger.Record(ctx, event)
	var conflict *domain.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want StateConflictError on duplicate id", err)
	}
}

func TestLedger_EmptyPayloadStoredAsNull(t *testing.T) {
	ledger := sqlite.NewLedger(newTestStore(t))
	ctx := context.Background()

	event := domain.AuditEvent{
		ID:         "evt-1",
		EntityType: "workflow_request",
		EntityID:   "wf-1",
		EventType:  domain.AuditWorkflowFailed,
		Actor:      "system",
	}
	if err := ledger.Record(ctx, event); err != nil {
		t.Fatalf("record: %v", err)
	}

	events, err := ledger.ListByEntity(ctx, "workflow_request", "wf-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if string(events[0].Payload) != "null" {
		t.Errorf("Payload = %q, want null", events[0].Payload)
	}
}

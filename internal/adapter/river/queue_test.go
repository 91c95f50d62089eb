package river_test

import (
	"context"
	"testing"

	riveradapter "github.com/neomorfeo/subiq/internal/adapter/river"
)

func TestWorkflowJobArgs_Kind(t *testing.T) {
	if got := (riveradapter.WorkflowJobArgs{}).Kind(); got != "workflow.execute" {
		t.Errorf("Kind = %q, want workflow.execute", got)
	}
}

func TestQueue_UnboundEnqueueFails(t *testing.T) {
	q := riveradapter.NewQueue()

	err := q.EnqueueWorkflow(context.Background(), "wf-1")
	if err == nil {
		t.Fatal("an unbound queue must refuse to enqueue")
	}
}

package river

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/subiq/internal/domain"
)

// subjectBusySnooze is how long a job waits when another saga holds the
// subject's lease. The lease turnover is saga-length, so a short snooze is
// enough.
const subjectBusySnooze = 5 * time.Second

// WorkflowJobArgs carries the workflow to execute. The saga's own state
// lives in the workflow_requests and saga_steps rows, so the job only needs
// the id.
type WorkflowJobArgs struct {
	WorkflowID string `json:"workflow_id"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (WorkflowJobArgs) Kind() string { return "workflow.execute" }

// WorkflowWorker processes workflow jobs from the River queue by handing
// them to the saga coordinator.
type WorkflowWorker struct {
	river.WorkerDefaults[WorkflowJobArgs]

	runner WorkflowRunner
}

// Work executes a single workflow job. A subject whose lease is held gets
// snoozed, not failed: per-subject serialization queues sagas rather than
// dropping them. Business failures are persisted by the coordinator and end
// the job successfully; only infrastructure errors bubble up for retry.
func (w *WorkflowWorker) Work(ctx context.Context, job *river.Job[WorkflowJobArgs]) error {
	slog.InfoContext(ctx, "executing workflow",
		"workflow_id", job.Args.WorkflowID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)

	err := w.runner.Run(ctx, job.Args.WorkflowID)
	if errors.Is(err, domain.ErrSubjectBusy) {
		return river.JobSnooze(subjectBusySnooze)
	}
	return err
}

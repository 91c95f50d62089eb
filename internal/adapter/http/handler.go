package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/subiq/internal/app"
	"github.com/neomorfeo/subiq/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z"

// WorkflowResponse is the API representation of a workflow request.
type WorkflowResponse struct {
	ID               string         `json:"id" doc:"Unique identifier"`
	Type             string         `json:"type" doc:"Workflow type"`
	SubjectID        string         `json:"subject_id" doc:"Subscription or payment the workflow acts on"`
	Status           string         `json:"status" doc:"Workflow status"`
	RequiresApproval bool           `json:"requires_approval" doc:"Whether a human decision gates execution"`
	RequestedBy      string         `json:"requested_by" doc:"Requesting operator"`
	ApprovedBy       string         `json:"approved_by,omitempty" doc:"Approving operator"`
	RejectedBy       string         `json:"rejected_by,omitempty" doc:"Rejecting operator"`
	Reason           string         `json:"reason,omitempty" doc:"Suspension or rejection reason"`
	FailureCode      string         `json:"failure_code,omitempty" doc:"Stable code of a terminal failure"`
	Steps            []StepResponse `json:"steps" doc:"Ordered saga steps"`
	CreatedAt        string         `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
}

// StepResponse is the API representation of one saga step.
type StepResponse struct {
	SequenceIndex int    `json:"sequence_index" doc:"Execution order"`
	TargetSystem  string `json:"target_system" doc:"Downstream collaborator"`
	Action        string `json:"action" doc:"Requested operation"`
	Status        string `json:"status" doc:"Step status"`
	AttemptCount  int    `json:"attempt_count" doc:"Delivery attempts so far"`
	LastError     string `json:"last_error,omitempty" doc:"Most recent failure"`
}

// ProgressResponse is the derived saga advancement for polling clients.
type ProgressResponse struct {
	CompletedSteps int    `json:"completed_steps" doc:"Steps succeeded so far"`
	TotalSteps     int    `json:"total_steps" doc:"Total steps in the saga"`
	Percent        int    `json:"percent" doc:"Derived completion percentage"`
	Status         string `json:"status" doc:"Workflow status"`
	FailureCode    string `json:"failure_code,omitempty" doc:"Stable code of a terminal failure"`
}

// SubscriptionResponse is the API representation of a subscription.
type SubscriptionResponse struct {
	ID             string `json:"id" doc:"Unique identifier"`
	CustomerID     string `json:"customer_id" doc:"Owning customer"`
	Status         string `json:"status" doc:"Lifecycle state"`
	PlanID         string `json:"plan_id" doc:"Current plan"`
	PlanFamily     string `json:"plan_family" doc:"Current plan family"`
	PlanStartDate  string `json:"plan_start_date" doc:"Plan start (ISO 8601)"`
	PlanEndDate    string `json:"plan_end_date" doc:"Plan end (ISO 8601)"`
	WalletBalance  string `json:"wallet_balance" doc:"Wallet balance"`
	ContractID     string `json:"contract_id" doc:"Billing contract"`
	NoEligiblePlan bool   `json:"no_eligible_plan" doc:"Flagged for manual handling after a failed auto-reconnection"`
}

// MatchResponse is the matching engine's decision and the rule that fired.
type MatchResponse struct {
	Eligible bool   `json:"eligible" doc:"Whether any plan matched"`
	PlanID   string `json:"plan_id,omitempty" doc:"Selected plan"`
	Rule     string `json:"rule" doc:"Cascade rule that produced the decision"`
}

func toWorkflowResponse(wf domain.WorkflowRequest) WorkflowResponse {
	steps := make([]StepResponse, len(wf.Steps))
	for i, s := range wf.Steps {
		steps[i] = StepResponse{
			SequenceIndex: s.SequenceIndex,
			TargetSystem:  string(s.TargetSystem),
			Action:        s.Action,
			Status:        string(s.Status),
			AttemptCount:  s.AttemptCount,
			LastError:     s.LastError,
		}
	}
	return WorkflowResponse{
		ID:               wf.ID,
		Type:             string(wf.Type),
		SubjectID:        wf.SubjectID,
		Status:           string(wf.Status),
		RequiresApproval: wf.RequiresApproval,
		RequestedBy:      wf.RequestedBy,
		ApprovedBy:       wf.ApprovedBy,
		RejectedBy:       wf.RejectedBy,
		Reason:           wf.Reason,
		FailureCode:      wf.FailureCode,
		Steps:            steps,
		CreatedAt:        wf.CreatedAt.Format(timeFormat),
	}
}

func toSubscriptionResponse(s domain.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:             s.ID,
		CustomerID:     s.CustomerID,
		Status:         string(s.Status),
		PlanID:         s.PlanID,
		PlanFamily:     s.PlanFamily,
		PlanStartDate:  s.PlanStartDate.Format(timeFormat),
		PlanEndDate:    s.PlanEndDate.Format(timeFormat),
		WalletBalance:  s.WalletBalance.String(),
		ContractID:     s.ContractID,
		NoEligiblePlan: s.NoEligiblePlan,
	}
}

// --- Create Workflow ---

type CreateWorkflowInput struct {
	Body struct {
		Type        string `json:"type" enum:"suspension,reconnection,auto_reconnection,termination,adjustment,transfer,receipt_cancellation" doc:"Workflow type"`
		SubjectID   string `json:"subject_id" minLength:"1" doc:"Subscription or payment id"`
		RequestedBy string `json:"requested_by" minLength:"1" doc:"Requesting operator"`
		Reason      string `json:"reason,omitempty" doc:"Required for suspension"`
		Confirmed   bool   `json:"confirmed,omitempty" doc:"Required for termination"`
		Amount      string `json:"amount,omitempty" doc:"Decimal amount for adjustment/transfer"`
		TargetID    string `json:"target_id,omitempty" doc:"Transfer destination"`
	}
}

type CreateWorkflowOutput struct {
	Body WorkflowResponse
}

// --- Approve / Reject ---

type ApproveInput struct {
	ID   string `path:"id" doc:"Workflow ID"`
	Body struct {
		Approver string `json:"approver" minLength:"1" doc:"Approving operator"`
		Remarks  string `json:"remarks,omitempty" doc:"Optional remarks"`
	}
}

type ApproveOutput struct {
	Body WorkflowResponse
}

type RejectInput struct {
	ID   string `path:"id" doc:"Workflow ID"`
	Body struct {
		Approver string `json:"approver" minLength:"1" doc:"Rejecting operator"`
		Reason   string `json:"reason" minLength:"10" doc:"Rejection reason (at least 10 characters)"`
	}
}

type RejectOutput struct {
	Body WorkflowResponse
}

// --- Get workflow / progress ---

type GetWorkflowInput struct {
	ID string `path:"id" doc:"Workflow ID"`
}

type GetWorkflowOutput struct {
	Body WorkflowResponse
}

type GetProgressInput struct {
	ID string `path:"id" doc:"Workflow ID"`
}

type GetProgressOutput struct {
	Body ProgressResponse
}

// --- List workflows ---

type ListWorkflowsInput struct {
	Status    string `query:"status" required:"false" doc:"Filter by status"`
	SubjectID string `query:"subject_id" required:"false" doc:"Filter by subject"`
	Limit     int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset    int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
}

type ListWorkflowsOutput struct {
	Body []WorkflowResponse
}

// --- Subscription / matching preview ---

type GetSubscriptionInput struct {
	ID string `path:"id" doc:"Subscription ID"`
}

type GetSubscriptionOutput struct {
	Body SubscriptionResponse
}

type ReconnectionPlanInput struct {
	ID string `path:"id" doc:"Subscription ID"`
}

type ReconnectionPlanOutput struct {
	Body MatchResponse
}

// Register adds all workflow API routes to the Huma API.
func Register(api huma.API, gate *app.ApprovalGate, orch *app.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "create-workflow",
		Method:      http.MethodPost,
		Path:        "/api/v1/workflows",
		Summary:     "Create a workflow request",
		Tags:        []string{"Workflows"},
	}, func(ctx context.Context, input *CreateWorkflowInput) (*CreateWorkflowOutput, error) {
		params, err := parseParams(input.Body.Reason, input.Body.Confirmed, input.Body.Amount, input.Body.TargetID)
		if err != nil {
			return nil, toHumaError(err)
		}
		wf, err := gate.Submit(ctx, app.CreateWorkflowInput{
			Type:        domain.WorkflowType(input.Body.Type),
			SubjectID:   input.Body.SubjectID,
			RequestedBy: input.Body.RequestedBy,
			Params:      params,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CreateWorkflowOutput{Body: toWorkflowResponse(wf)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-workflow",
		Method:      http.MethodPost,
		Path:        "/api/v1/workflows/{id}/approve",
		Summary:     "Approve a pending workflow",
		Tags:        []string{"Workflows"},
	}, func(ctx context.Context, input *ApproveInput) (*ApproveOutput, error) {
		wf, err := gate.Approve(ctx, input.ID, input.Body.Approver, input.Body.Remarks)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ApproveOutput{Body: toWorkflowResponse(wf)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-workflow",
		Method:      http.MethodPost,
		Path:        "/api/v1/workflows/{id}/reject",
		Summary:     "Reject a pending workflow",
		Tags:        []string{"Workflows"},
	}, func(ctx context.Context, input *RejectInput) (*RejectOutput, error) {
		wf, err := gate.Reject(ctx, input.ID, input.Body.Approver, input.Body.Reason)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &RejectOutput{Body: toWorkflowResponse(wf)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/api/v1/workflows/{id}",
		Summary:     "Get a workflow request by ID",
		Tags:        []string{"Workflows"},
	}, func(ctx context.Context, input *GetWorkflowInput) (*GetWorkflowOutput, error) {
		wf, err := orch.GetWorkflow(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetWorkflowOutput{Body: toWorkflowResponse(wf)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow-progress",
		Method:      http.MethodGet,
		Path:        "/api/v1/workflows/{id}/progress",
		Summary:     "Get saga progress for a workflow",
		Tags:        []string{"Workflows"},
	}, func(ctx context.Context, input *GetProgressInput) (*GetProgressOutput, error) {
		p, err := orch.Progress(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetProgressOutput{Body: ProgressResponse{
			CompletedSteps: p.CompletedSteps,
			TotalSteps:     p.TotalSteps,
			Percent:        p.Percent,
			Status:         string(p.Status),
			FailureCode:    p.FailureCode,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/api/v1/workflows",
		Summary:     "List workflow requests",
		Tags:        []string{"Workflows"},
	}, func(ctx context.Context, input *ListWorkflowsInput) (*ListWorkflowsOutput, error) {
		filter := domain.WorkflowListFilter{
			SubjectID: input.SubjectID,
			Limit:     input.Limit,
			Offset:    input.Offset,
		}
		if input.Status != "" {
			s := domain.WorkflowStatus(input.Status)
			filter.Status = &s
		}

		workflows, err := orch.ListWorkflows(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]WorkflowResponse, len(workflows))
		for i, wf := range workflows {
			resp[i] = toWorkflowResponse(wf)
		}
		return &ListWorkflowsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subscription",
		Method:      http.MethodGet,
		Path:        "/api/v1/subscriptions/{id}",
		Summary:     "Get a subscription by ID",
		Tags:        []string{"Subscriptions"},
	}, func(ctx context.Context, input *GetSubscriptionInput) (*GetSubscriptionOutput, error) {
		sub, err := orch.GetSubscription(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetSubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-reconnection-plan",
		Method:      http.MethodGet,
		Path:        "/api/v1/subscriptions/{id}/reconnection-plan",
		Summary:     "Preview the auto-reconnection plan decision",
		Tags:        []string{"Subscriptions"},
	}, func(ctx context.Context, input *ReconnectionPlanInput) (*ReconnectionPlanOutput, error) {
		decision, err := orch.ReconnectionPreview(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ReconnectionPlanOutput{Body: MatchResponse{
			Eligible: decision.Eligible,
			PlanID:   decision.PlanID,
			Rule:     string(decision.Rule),
		}}, nil
	})
}

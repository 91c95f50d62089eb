package downstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neomorfeo/subiq/internal/adapter/downstream"
	"github.com/neomorfeo/subiq/internal/domain"
)

func stepRequest() domain.StepRequest {
	return domain.StepRequest{
		WorkflowID:     "wf-1",
		StepIndex:      0,
		Action:         "post_adjustment",
		IdempotencyKey: "wf-1:0",
		Payload:        map[string]any{"subjectId": "SUB001"},
	}
}

func TestDispatcher_Execute(t *testing.T) {
	var gotPath, gotKey string
	var gotBody domain.StepRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		json.NewEncoder(w).Encode(domain.StepResponse{Success: true, ExternalRef: "ext-9"})
	}))
	defer server.Close()

	d := downstream.New(map[domain.TargetSystem]string{
		domain.TargetContractBilling: server.URL,
	}, nil)

	resp, err := d.Execute(context.Background(), domain.TargetContractBilling, stepRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if !resp.Success || resp.ExternalRef != "ext-9" {
		t.Errorf("resp = %+v, want success with ext-9", resp)
	}
	if gotPath != "/execute" {
		t.Errorf("path = %q, want /execute", gotPath)
	}
	if gotKey != "wf-1:0" {
		t.Errorf("Idempotency-Key = %q, want wf-1:0", gotKey)
	}
	if gotBody.Action != "post_adjustment" {
		t.Errorf("body action = %q", gotBody.Action)
	}
}

func TestDispatcher_CompensatePath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(domain.StepResponse{Success: true})
	}))
	defer server.Close()

	d := downstream.New(map[domain.TargetSystem]string{
		domain.TargetProvisioning: server.URL,
	}, nil)

	if _, err := d.Compensate(context.Background(), domain.TargetProvisioning, stepRequest()); err != nil {
		t.Fatalf("compensate: %v", err)
	}
	if gotPath != "/compensate" {
		t.Errorf("path = %q, want /compensate", gotPath)
	}
}

func TestDispatcher_ServerErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := downstream.New(map[domain.TargetSystem]string{
		domain.TargetCharging: server.URL,
	}, nil)

	_, err := d.Execute(context.Background(), domain.TargetCharging, stepRequest())
	var extErr *domain.ExternalSystemError
	if !errors.As(err, &extErr) {
		t.Fatalf("err = %v, want ExternalSystemError", err)
	}
	if extErr.ErrorCode != "HTTP_502" {
		t.Errorf("ErrorCode = %q, want HTTP_502", extErr.ErrorCode)
	}
	if extErr.Target != domain.TargetCharging {
		t.Errorf("Target = %q, want charging", extErr.Target)
	}
}

func TestDispatcher_BusinessFailurePassedThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.StepResponse{Success: false, ErrorCode: "INSUFFICIENT_FUNDS"})
	}))
	defer server.Close()

	d := downstream.New(map[domain.TargetSystem]string{
		domain.TargetContractBilling: server.URL,
	}, nil)

	resp, err := d.Execute(context.Background(), domain.TargetContractBilling, stepRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Success {
		t.Error("resp.Success = true, want the failure passed through")
	}
	if resp.ErrorCode != "INSUFFICIENT_FUNDS" {
		t.Errorf("ErrorCode = %q", resp.ErrorCode)
	}
}

func TestDispatcher_UnknownTarget(t *testing.T) {
	d := downstream.New(map[domain.TargetSystem]string{}, nil)

	_, err := d.Execute(context.Background(), domain.TargetTaxLedger, stepRequest())
	var extErr *domain.ExternalSystemError
	if !errors.As(err, &extErr) {
		t.Fatalf("err = %v, want ExternalSystemError", err)
	}
}

// Package downstream holds the HTTP clients for the five collaborator
// systems the saga coordinator drives: contract billing, provisioning,
// conditional access, charging, and the tax ledger. Every call carries an
// idempotency key so a retried attempt lands exactly once downstream.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/neomorfeo/subiq/internal/domain"
)

// Compile-time check: Dispatcher implements the domain port.
var _ domain.Dispatcher = (*Dispatcher)(nil)

// Dispatcher routes saga step calls to collaborator endpoints by target
// system. Timeouts come from the caller's context; the coordinator sets a
// per-step deadline.
type Dispatcher struct {
	baseURLs map[domain.TargetSystem]string
	client   *http.Client
}

// New creates a dispatcher over the given target base URLs.
func New(baseURLs map[domain.TargetSystem]string, client *http.Client) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Dispatcher{baseURLs: baseURLs, client: client}
}

// Execute performs the forward call for one saga step.
func (d *Dispatcher) Execute(ctx context.Context, target domain.TargetSystem, req domain.StepRequest) (domain.StepResponse, error) {
	return d.post(ctx, target, "/execute", req)
}

// Compensate performs the compensating call for one saga step.
func (d *Dispatcher) Compensate(ctx context.Context, target domain.TargetSystem, req domain.StepRequest) (domain.StepResponse, error) {
	return d.post(ctx, target, "/compensate", req)
}

func (d *Dispatcher) post(ctx context.Context, target domain.TargetSystem, path string, req domain.StepRequest) (domain.StepResponse, error) {
	base, ok := d.baseURLs[target]
	if !ok {
		return domain.StepResponse{}, &domain.ExternalSystemError{
			Target: target,
			Err:    fmt.Errorf("no endpoint configured for %s", target),
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.StepResponse{}, fmt.Errorf("marshalling step request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return domain.StepResponse{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return domain.StepResponse{}, &domain.ExternalSystemError{Target: target, Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return domain.StepResponse{}, &domain.ExternalSystemError{
			Target:    target,
			ErrorCode: fmt.Sprintf("HTTP_%d", httpResp.StatusCode),
		}
	}

	var resp domain.StepResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return domain.StepResponse{}, &domain.ExternalSystemError{
			Target: target,
			Err:    fmt.Errorf("decoding response: %w", err),
		}
	}
	return resp, nil
}

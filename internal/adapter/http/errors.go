package http

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"github.com/neomorfeo/subiq/internal/domain"
)

// parseParams converts the flat request fields into domain workflow params.
func parseParams(reason string, confirmed bool, amount, targetID string) (domain.WorkflowParams, error) {
	params := domain.WorkflowParams{
		Reason:    reason,
		Confirmed: confirmed,
		TargetID:  targetID,
	}
	if amount != "" {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return domain.WorkflowParams{}, &domain.ValidationError{Field: "amount", Message: "not a valid decimal"}
		}
		params.Amount = d
	}
	return params, nil
}

// toHumaError translates domain errors to Huma HTTP errors, preserving the
// stable error code in the response message.
func toHumaError(err error) error {
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrWorkflowNotFound),
		errors.Is(err, domain.ErrPaymentNotFound):
		return huma.Error404NotFound(err.Error())
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return huma.Error422UnprocessableEntity(validationErr.Error())
	}

	var conflictErr *domain.StateConflictError
	if errors.As(err, &conflictErr) {
		return huma.Error409Conflict(conflictErr.Error())
	}

	var approvalErr *domain.ApprovalRequiredError
	if errors.As(err, &approvalErr) {
		return huma.Error409Conflict(approvalErr.Error())
	}

	var externalErr *domain.ExternalSystemError
	if errors.As(err, &externalErr) {
		return huma.Error502BadGateway(externalErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}

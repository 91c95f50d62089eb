package fsm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/neomorfeo/subiq/internal/adapter/fsm"
	"github.com/neomorfeo/subiq/internal/domain"
)

func TestValidator_ValidTransitions(t *testing.T) {
	v := fsm.New()
	ctx := context.Background()

	cases := []struct {
		event domain.Event
		src   domain.Status
		dst   domain.Status
	}{
		{domain.EventSuspend, domain.StatusActive, domain.StatusSuspended},
		{domain.EventReconnect, domain.StatusSuspended, domain.StatusActive},
		{domain.EventDisconnect, domain.StatusActive, domain.StatusDisconnected},
		{domain.EventDisconnect, domain.StatusSuspended, domain.StatusDisconnected},
		{domain.EventAutoReconnect, domain.StatusDisconnected, domain.StatusActive},
		{domain.EventTerminate, domain.StatusActive, domain.StatusTerminated},
		{domain.EventTerminate, domain.StatusSuspended, domain.StatusTerminated},
		{domain.EventTerminate, domain.StatusDisconnected, domain.StatusTerminated},
	}

	for _, tc := range cases {
		got, err := v.Apply(ctx, tc.src, tc.event)
		if err != nil {
			t.Errorf("Apply(%q, %q): unexpected error %v", tc.src, tc.event, err)
			continue
		}
		if got != tc.dst {
			t.Errorf("Apply(%q, %q) = %q, want %q", tc.src, tc.event, got, tc.dst)
		}
	}
}

func TestValidator_InvalidTransitions(t *testing.T) {
	v := fsm.New()
	ctx := context.Background()

	cases := []struct {
		event domain.Event
		src   domain.Status
	}{
		{domain.EventSuspend, domain.StatusSuspended},
		{domain.EventSuspend, domain.StatusDisconnected},
		{domain.EventReconnect, domain.StatusActive},
		{domain.EventReconnect, domain.StatusDisconnected},
		{domain.EventAutoReconnect, domain.StatusActive},
		{domain.EventAutoReconnect, domain.StatusSuspended},
		{domain.EventDisconnect, domain.StatusDisconnected},
	}

	for _, tc := range cases {
		_, err := v.Apply(ctx, tc.src, tc.event)
		var conflict *domain.StateConflictError
		if !errors.As(err, &conflict) {
			t.Errorf("Apply(%q, %q): expected StateConflictError, got %v", tc.src, tc.event, err)
			continue
		}
		if conflict.Event != tc.event || conflict.Current != tc.src {
			t.Errorf("conflict = %+v, want event %q from %q", conflict, tc.event, tc.src)
		}
	}
}

func TestValidator_TerminatedIsAbsorbing(t *testing.T) {
	v := fsm.New()
	ctx := context.Background()

	events := []domain.Event{
		domain.EventSuspend,
		domain.EventReconnect,
		domain.EventAutoReconnect,
		domain.EventDisconnect,
		domain.EventTerminate,
	}

	for _, event := range events {
		_, err := v.Apply(ctx, domain.StatusTerminated, event)
		var conflict *domain.StateConflictError
		if !errors.As(err, &conflict) {
			t.Errorf("Apply(terminated, %q): expected StateConflictError, got %v", event, err)
		}
	}
}

func TestLockValidator(t *testing.T) {
	v := fsm.NewLockValidator()
	ctx := context.Background()

	got, err := v.Apply(ctx, domain.LockStateUnlocked, domain.LockEventLock)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got != domain.LockStateLocked {
		t.Errorf("Apply(unlocked, lock) = %q, want locked", got)
	}

	got, err = v.Apply(ctx, domain.LockStateLocked, domain.LockEventUnlock)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got != domain.LockStateUnlocked {
		t.Errorf("Apply(locked, unlock) = %q, want unlocked", got)
	}

	_, err = v.Apply(ctx, domain.LockStateLocked, domain.LockEventLock)
	var conflict *domain.StateConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("Apply(locked, lock): expected StateConflictError, got %v", err)
	}
}

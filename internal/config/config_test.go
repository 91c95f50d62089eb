package config_test

import (
	"testing"
	"time"

	"github.com/neomorfeo/subiq/internal/config"
	"github.com/neomorfeo/subiq/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.QueueWorkers != 4 {
		t.Errorf("QueueWorkers = %d, want 4", cfg.QueueWorkers)
	}
	if cfg.StepMaxAttempts != 5 {
		t.Errorf("StepMaxAttempts = %d, want 5", cfg.StepMaxAttempts)
	}
	if cfg.StepBaseDelay != 2*time.Second {
		t.Errorf("StepBaseDelay = %v, want 2s", cfg.StepBaseDelay)
	}
	if cfg.StepMaxDelay != 30*time.Second {
		t.Errorf("StepMaxDelay = %v, want 30s", cfg.StepMaxDelay)
	}
	if cfg.StepTimeout != 30*time.Second {
		t.Errorf("StepTimeout = %v, want 30s", cfg.StepTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STEP_MAX_ATTEMPTS", "2")
	t.Setenv("TAX_LEDGER_URL", "http://tax.internal:8443")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Port)
	}
	if cfg.StepMaxAttempts != 2 {
		t.Errorf("StepMaxAttempts = %d, want 2", cfg.StepMaxAttempts)
	}
	if got := cfg.TargetURLs()[domain.TargetTaxLedger]; got != "http://tax.internal:8443" {
		t.Errorf("tax ledger URL = %q", got)
	}
}

func TestTargetURLs_CoversEveryTarget(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	urls := cfg.TargetURLs()
	targets := []domain.TargetSystem{
		domain.TargetContractBilling,
		domain.TargetProvisioning,
		domain.TargetConditionalAccess,
		domain.TargetCharging,
		domain.TargetTaxLedger,
	}
	for _, target := range targets {
		if urls[target] == "" {
			t.Errorf("no URL for target %q", target)
		}
	}
}

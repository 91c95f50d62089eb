// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/neomorfeo/subiq/internal/domain"
)

// Config holds everything the service reads from the environment. The retry
// defaults are domain defaults and should be validated against the real
// downstream contracts before production use.
type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"subiq.db"`
	QueueWorkers int    `env:"QUEUE_WORKERS" envDefault:"4"`

	StepMaxAttempts int           `env:"STEP_MAX_ATTEMPTS" envDefault:"5"`
	StepBaseDelay   time.Duration `env:"STEP_BASE_DELAY" envDefault:"2s"`
	StepMaxDelay    time.Duration `env:"STEP_MAX_DELAY" envDefault:"30s"`
	StepTimeout     time.Duration `env:"STEP_TIMEOUT" envDefault:"30s"`

	ContractBillingURL   string `env:"CONTRACT_BILLING_URL" envDefault:"http://localhost:9091"`
	ProvisioningURL      string `env:"PROVISIONING_URL" envDefault:"http://localhost:9092"`
	ConditionalAccessURL string `env:"CONDITIONAL_ACCESS_URL" envDefault:"http://localhost:9093"`
	ChargingURL          string `env:"CHARGING_URL" envDefault:"http://localhost:9094"`
	TaxLedgerURL         string `env:"TAX_LEDGER_URL" envDefault:"http://localhost:9095"`
}

// Load parses the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing configuration: %w", err)
	}
	return cfg, nil
}

// TargetURLs maps each downstream collaborator to its base URL.
func (c Config) TargetURLs() map[domain.TargetSystem]string {
	return map[domain.TargetSystem]string{
		domain.TargetContractBilling:   c.ContractBillingURL,
		domain.TargetProvisioning:      c.ProvisioningURL,
		domain.TargetConditionalAccess: c.ConditionalAccessURL,
		domain.TargetCharging:          c.ChargingURL,
		domain.TargetTaxLedger:         c.TaxLedgerURL,
	}
}

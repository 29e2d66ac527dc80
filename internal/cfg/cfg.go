package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	PolicyFile            string
	UpstreamEndpoint      string
	PredictorEndpoint     string
	MLTimeoutMillis       int
	ClaudeAPIKey          string
	ClaudeModel           string
	DiscordWebhookURL     string
	AdminToken            string
	CycleConcurrency      int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "gating policy YAML path (empty = built-in defaults)")
	fs.StringVar(&c.UpstreamEndpoint, "upstream-endpoint", "", "analyzer service base URL (empty = ingest-only, no cycles)")
	fs.StringVar(&c.PredictorEndpoint, "predictor-endpoint", "", "ML predictor service base URL (empty = no statistical advisor)")
	fs.IntVar(&c.MLTimeoutMillis, "ml-timeout-millis", 2000, "per-call advisor timeout in milliseconds (1..60000)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude advisor (empty = disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model for the LLM advisor")
	fs.StringVar(&c.DiscordWebhookURL, "discord-webhook-url", "", "Discord webhook URL for notifications (empty = decisions recorded, never delivered)")
	fs.StringVar(&c.AdminToken, "admin-token", "", "bearer token guarding admin routes (empty = unguarded)")
	fs.IntVar(&c.CycleConcurrency, "cycle-concurrency", 4, "concurrent watchlist pairs per cycle (1..64)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.MLTimeoutMillis <= 0 || c.MLTimeoutMillis > 60000 {
		errs = append(errs, fmt.Errorf("invalid ML_TIMEOUT_MILLIS %d (must be 1..60000)", c.MLTimeoutMillis))
	}

	// At most one advisor backend
	if c.PredictorEndpoint != "" && c.ClaudeAPIKey != "" {
		errs = append(errs, errors.New("PREDICTOR_ENDPOINT and CLAUDE_API_KEY are mutually exclusive"))
	}

	// Claude model is required when the Claude advisor is enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.CycleConcurrency <= 0 || c.CycleConcurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid CYCLE_CONCURRENCY %d (must be 1..64)", c.CycleConcurrency))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		MLTimeoutMillis:       2000,
		ClaudeModel:           "claude-sonnet-4-20250514",
		CycleConcurrency:      4,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.MLTimeoutMillis != 2000 {
		t.Errorf("MLTimeoutMillis = %d, want 2000", c.MLTimeoutMillis)
	}
	if c.CycleConcurrency != 4 {
		t.Errorf("CycleConcurrency = %d, want 4", c.CycleConcurrency)
	}
	if c.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-20250514")
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-database-url", "postgres://gate:secret@db/signalgate",
		"-policy-file", "/etc/signalgate/policy.yaml",
		"-upstream-endpoint", "http://analyzer:8500",
		"-predictor-endpoint", "http://predictor:8600",
		"-ml-timeout-millis", "500",
		"-discord-webhook-url", "https://discord.com/api/webhooks/1/abc",
		"-admin-token", "tok-123",
		"-cycle-concurrency", "8",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.DatabaseURL != "postgres://gate:secret@db/signalgate" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.PolicyFile != "/etc/signalgate/policy.yaml" {
		t.Errorf("PolicyFile = %q", c.PolicyFile)
	}
	if c.UpstreamEndpoint != "http://analyzer:8500" {
		t.Errorf("UpstreamEndpoint = %q", c.UpstreamEndpoint)
	}
	if c.PredictorEndpoint != "http://predictor:8600" {
		t.Errorf("PredictorEndpoint = %q", c.PredictorEndpoint)
	}
	if c.MLTimeoutMillis != 500 {
		t.Errorf("MLTimeoutMillis = %d, want 500", c.MLTimeoutMillis)
	}
	if c.DiscordWebhookURL != "https://discord.com/api/webhooks/1/abc" {
		t.Errorf("DiscordWebhookURL = %q", c.DiscordWebhookURL)
	}
	if c.AdminToken != "tok-123" {
		t.Errorf("AdminToken = %q, want tok-123", c.AdminToken)
	}
	if c.CycleConcurrency != 8 {
		t.Errorf("CycleConcurrency = %d, want 8", c.CycleConcurrency)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	mod := func(f func(*Config)) Config {
		c := validBase()
		f(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: Config{
				DrainSeconds: 1, ShutdownBudgetSeconds: 2, APIPort: 1,
				MLTimeoutMillis: 1, CycleConcurrency: 1,
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: Config{
				DrainSeconds: 299, ShutdownBudgetSeconds: 300, APIPort: 65535,
				MLTimeoutMillis: 60000, CycleConcurrency: 64,
			},
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       mod(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       mod(func(c *Config) { c.DrainSeconds = 301; c.ShutdownBudgetSeconds = 300 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       mod(func(c *Config) { c.ShutdownBudgetSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       mod(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       mod(func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			cfg:     mod(func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds + 1 }),
			wantErr: false,
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       mod(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       mod(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// ML timeout boundaries
		{
			name:      "ml timeout zero",
			cfg:       mod(func(c *Config) { c.MLTimeoutMillis = 0 }),
			wantErr:   true,
			errSubstr: []string{"ML_TIMEOUT_MILLIS"},
		},
		{
			name:      "ml timeout above max",
			cfg:       mod(func(c *Config) { c.MLTimeoutMillis = 60001 }),
			wantErr:   true,
			errSubstr: []string{"ML_TIMEOUT_MILLIS"},
		},
		// Advisor exclusivity
		{
			name: "both advisors configured",
			cfg: mod(func(c *Config) {
				c.PredictorEndpoint = "http://predictor:8600"
				c.ClaudeAPIKey = "sk-test"
			}),
			wantErr:   true,
			errSubstr: []string{"mutually exclusive"},
		},
		{
			name:    "predictor only",
			cfg:     mod(func(c *Config) { c.PredictorEndpoint = "http://predictor:8600" }),
			wantErr: false,
		},
		{
			name:    "claude only",
			cfg:     mod(func(c *Config) { c.ClaudeAPIKey = "sk-test" }),
			wantErr: false,
		},
		{
			name: "claude without model",
			cfg: mod(func(c *Config) {
				c.ClaudeAPIKey = "sk-test"
				c.ClaudeModel = ""
			}),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		// Concurrency boundaries
		{
			name:      "concurrency zero",
			cfg:       mod(func(c *Config) { c.CycleConcurrency = 0 }),
			wantErr:   true,
			errSubstr: []string{"CYCLE_CONCURRENCY"},
		},
		{
			name:      "concurrency above max",
			cfg:       mod(func(c *Config) { c.CycleConcurrency = 65 }),
			wantErr:   true,
			errSubstr: []string{"CYCLE_CONCURRENCY"},
		},
		// Error accumulation: all fields invalid
		{
			name:      "all fields invalid",
			cfg:       Config{},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "ML_TIMEOUT_MILLIS", "CYCLE_CONCURRENCY"},
		},
		// Extreme values
		{
			name:      "extreme negative values",
			cfg:       Config{DrainSeconds: math.MinInt32, ShutdownBudgetSeconds: math.MinInt32, APIPort: math.MinInt32, MLTimeoutMillis: math.MinInt32, CycleConcurrency: math.MinInt32},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "ML_TIMEOUT_MILLIS", "CYCLE_CONCURRENCY"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, mlTimeout, conc int
		predictor, key                       string
	}{
		{60, 90, 8080, 2000, 4, "", ""},
		{1, 2, 1, 1, 1, "", ""},
		{299, 300, 65535, 60000, 64, "", ""},
		{0, 0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, -1, "", ""},
		{150, 100, 8080, 2000, 4, "", ""},
		{60, 90, 8080, 2000, 4, "http://p", "sk"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.mlTimeout, s.conc, s.predictor, s.key)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, mlTimeout, conc int, predictor, key string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			MLTimeoutMillis:       mlTimeout,
			CycleConcurrency:      conc,
			PredictorEndpoint:     predictor,
			ClaudeAPIKey:          key,
			ClaudeModel:           "claude-sonnet-4-20250514",
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		mlOK := mlTimeout >= 1 && mlTimeout <= 60000
		concOK := conc >= 1 && conc <= 64
		advisorOK := predictor == "" || key == ""

		allValid := drainOK && budgetOK && portOK && crossOK && mlOK && concOK && advisorOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}

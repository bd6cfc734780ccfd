package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const (
	insecureJWTSecret     = "supersecretkey"
	insecureWebhookSecret = "webhooksecret"
)

type Config struct {
	Addr           string          `yaml:"addr"`
	JWTSecret      string          `yaml:"jwt_secret"`
	WebhookSecret  string          `yaml:"webhook_secret"`
	APITimeout     time.Duration   `yaml:"timeout"`
	DatabasePath   string          `yaml:"database_path"`
	MigrateOnStart bool            `yaml:"migrate_on_start"`
	Matching       MatchingConfig  `yaml:"matching"`
	Sweeper        SweeperConfig   `yaml:"sweeper"`
	Jobs           JobsConfig      `yaml:"jobs"`
	Notify         NotifyConfig    `yaml:"notify"`
	Verify         VerifyConfig    `yaml:"verify"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Metrics        MetricsConfig   `yaml:"metrics"`
}

// MatchingConfig holds the offer engine time windows.
type MatchingConfig struct {
	OfferTTL     time.Duration `yaml:"offer_ttl"`
	RefundWindow time.Duration `yaml:"refund_window"`
}

type SweeperConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	AutoMatch bool          `yaml:"auto_match"`
}

type JobsConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type NotifyConfig struct {
	// RelayURL is the email/WhatsApp gateway endpoint. Empty means messages
	// are only logged.
	RelayURL string        `yaml:"relay_url"`
	Timeout  time.Duration `yaml:"timeout"`
	From     string        `yaml:"from"`
}

type VerifyConfig struct {
	Enabled       bool         `yaml:"enabled"`
	Model         string       `yaml:"model"`
	MinConfidence float64      `yaml:"min_confidence"`
	Ollama        OllamaConfig `yaml:"ollama"`
}

type OllamaConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	Timeout                 time.Duration `yaml:"timeout"`
	Retries                 int           `yaml:"retries"`
	Backoff                 time.Duration `yaml:"backoff"`
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Addr:           getEnv("WU_ADDR", ":8080"),
		JWTSecret:      getEnv("WU_JWT_SECRET", insecureJWTSecret),
		WebhookSecret:  getEnv("WU_WEBHOOK_SECRET", insecureWebhookSecret),
		APITimeout:     15 * time.Second,
		DatabasePath:   getEnv("WU_DATABASE_PATH", "workers-united.db"),
		MigrateOnStart: true,
		Matching: MatchingConfig{
			OfferTTL:     24 * time.Hour,
			RefundWindow: 90 * 24 * time.Hour,
		},
		Sweeper: SweeperConfig{
			Enabled:   true,
			Interval:  time.Hour,
			AutoMatch: true,
		},
		Jobs: JobsConfig{
			Workers:      2,
			PollInterval: 500 * time.Millisecond,
			MaxAttempts:  5,
		},
		Notify: NotifyConfig{
			RelayURL: os.Getenv("WU_NOTIFY_RELAY_URL"),
			Timeout:  10 * time.Second,
			From:     "Workers United <noreply@workersunited.eu>",
		},
		Verify: VerifyConfig{
			Model:         "llava",
			MinConfidence: 0.8,
			Ollama: OllamaConfig{
				BaseURL:                 getEnv("WU_OLLAMA_URL", "http://localhost:11434"),
				Timeout:                 60 * time.Second,
				Retries:                 2,
				Backoff:                 500 * time.Millisecond,
				CircuitFailureThreshold: 5,
				CircuitReset:            30 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{RPS: 10, Burst: 20},
		Metrics:   MetricsConfig{Enabled: true},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open config")
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.Wrap(err, "decode config")
		}
	}

	return cfg, nil
}

// Validate checks the loaded configuration. Default secrets are only
// accepted when WU_ENV is "development".
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database_path is required")
	}
	if c.APITimeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if os.Getenv("WU_ENV") != "development" {
		if c.JWTSecret == "" || c.JWTSecret == insecureJWTSecret {
			return errors.WithHint(errors.New("insecure jwt_secret"), "set WU_JWT_SECRET or jwt_secret")
		}
		if c.WebhookSecret == "" || c.WebhookSecret == insecureWebhookSecret {
			return errors.WithHint(errors.New("insecure webhook_secret"), "set WU_WEBHOOK_SECRET or webhook_secret")
		}
	}

	if c.Matching.OfferTTL <= 0 {
		return errors.New("matching.offer_ttl must be positive")
	}
	if c.Matching.RefundWindow <= 0 {
		return errors.New("matching.refund_window must be positive")
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return errors.New("sweeper.interval must be positive")
	}

	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 2
	}
	if c.Jobs.PollInterval <= 0 {
		c.Jobs.PollInterval = 500 * time.Millisecond
	}
	if c.Jobs.MaxAttempts <= 0 {
		c.Jobs.MaxAttempts = 5
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = 10 * time.Second
	}

	if c.Verify.Enabled {
		if c.Verify.Model == "" {
			return errors.New("verify.model is required when verification is enabled")
		}
		if c.Verify.Ollama.BaseURL == "" {
			return errors.New("verify.ollama.base_url is required when verification is enabled")
		}
	}
	if c.Verify.MinConfidence <= 0 || c.Verify.MinConfidence > 1 {
		c.Verify.MinConfidence = 0.8
	}

	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 10
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.RPS) * 2
	}

	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

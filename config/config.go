package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is everything the service reads from the environment.
type Config struct {
	Port           int      `env:"PORT" envDefault:"5200"`
	DatabaseURL    string   `env:"DATABASE_URL,required"`
	ServiceToken   string   `env:"ESCROW_SERVICE_TOKEN,required"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	EscrowAddress string   `env:"ESCROW_ADDRESS" envDefault:"escrow"`
	FundingTokens []string `env:"FUNDING_TOKENS" envSeparator:"," envDefault:"XP"`

	TreasuryAddress       string `env:"TREASURY_ADDRESS"`
	TreasuryInitialSupply uint64 `env:"TREASURY_INITIAL_SUPPLY"`

	CustodyAuditInterval time.Duration `env:"CUSTODY_AUDIT_INTERVAL" envDefault:"1m"`
	ReceiptInterval      time.Duration `env:"RECEIPT_ARCHIVE_INTERVAL" envDefault:"1m"`

	R2 R2Config

	ServiceVersion  string  `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment     string  `env:"APP_ENV" envDefault:"development"`
	OtelEndpoint    string  `env:"OTEL_ENDPOINT"`
	OtelEnabled     bool    `env:"OTEL_ENABLED" envDefault:"true"`
	OtelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// R2Config is the Cloudflare R2 bucket receiving settlement receipts.
type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

// Enabled reports whether receipts should be archived at all.
func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.Bucket != ""
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

// Parse reads the configuration from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	cfg.FundingTokens = trimAll(cfg.FundingTokens)
	cfg.EscrowAddress = strings.TrimSpace(cfg.EscrowAddress)

	if cfg.EscrowAddress == "" {
		return nil, fmt.Errorf("ESCROW_ADDRESS must not be blank")
	}
	if cfg.CustodyAuditInterval <= 0 || cfg.ReceiptInterval <= 0 {
		return nil, fmt.Errorf("audit and receipt intervals must be positive")
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		return nil, fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1")
	}
	if cfg.TreasuryInitialSupply > 0 && cfg.TreasuryAddress == "" {
		return nil, fmt.Errorf("TREASURY_INITIAL_SUPPLY needs TREASURY_ADDRESS")
	}
	return &cfg, nil
}

// PrimaryToken is the token minted to the treasury at boot.
func (c *Config) PrimaryToken() string {
	if len(c.FundingTokens) == 0 {
		return ""
	}
	return c.FundingTokens[0]
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

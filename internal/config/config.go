package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every runtime setting the API reads from the environment.
// Anything without a default must be set before the process starts.
type Config struct {
	ServerPort  int           `envconfig:"SERVER_PORT" default:"8080"`
	JWTSecret   string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	DatabaseURL string        `envconfig:"DATABASE_URL"`

	// Blockchain anchoring. Leave CHAIN_RPC_URL empty to run without a chain;
	// leave CHAIN_PRIVATE_KEY empty for a read-only (verify only) client.
	ChainRPCURL      string `envconfig:"CHAIN_RPC_URL"`
	ChainPrivateKey  string `envconfig:"CHAIN_PRIVATE_KEY"`
	RegistryAddress  string `envconfig:"REGISTRY_ADDRESS"`

	// Document storage. Empty bucket disables uploads.
	AWSBucketName string `envconfig:"AWS_BUCKET_NAME"`
	AWSRegion     string `envconfig:"AWS_REGION" default:"us-east-1"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"100"`
	MaxBodyBytes   int64   `envconfig:"MAX_BODY_BYTES" default:"10485760"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load reads configuration from the environment into cfg.
func Load(cfg *Config) error {
	return envconfig.Process("", cfg)
}

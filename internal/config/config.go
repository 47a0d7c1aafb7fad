package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	Gateway GatewayConfig

	RateLimit RateLimitConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

// GatewayConfig carries the payment gateway credentials and mode switch.
// Endpoint selection (sandbox vs production) is driven by Environment only,
// never inferred from request payloads.
type GatewayConfig struct {
	ClientID      string
	ClientSecret  string
	APIVersion    string
	Environment   string
	WebhookSecret string
	ReturnURL     string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionRate  float64
	SessionBurst int
}

const (
	GatewayEnvSandbox    = "sandbox"
	GatewayEnvProduction = "production"
)

var ErrMissingGatewayCredentials = errors.New("missing_gateway_credentials")

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "payflow"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Gateway: GatewayConfig{
			ClientID:      strings.TrimSpace(getenv("CASHFREE_CLIENT_ID", "")),
			ClientSecret:  strings.TrimSpace(getenv("CASHFREE_CLIENT_SECRET", "")),
			APIVersion:    getenv("CASHFREE_API_VERSION", "2023-08-01"),
			Environment:   normalizeGatewayEnv(getenv("CASHFREE_ENVIRONMENT", GatewayEnvSandbox)),
			WebhookSecret: strings.TrimSpace(getenv("CASHFREE_WEBHOOK_SECRET", "")),
			ReturnURL:     strings.TrimSpace(getenv("PAYMENT_RETURN_URL", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       int(getenvInt64("RATE_LIMIT_REDIS_DB", 0)),
			SessionRate:   getenvFloat("RATE_LIMIT_SESSION_RATE", 5),
			SessionBurst:  int(getenvInt64("RATE_LIMIT_SESSION_BURST", 20)),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),
	}

	if cfg.Gateway.WebhookSecret == "" {
		log.Println("[config] webhook secret is not configured; signature verification is DISABLED")
	}

	return cfg
}

// Validate reports whether the gateway credentials are usable. Called per
// outbound request rather than at startup so the service can boot for
// webhook-only deployments.
func (g GatewayConfig) Validate() error {
	if g.ClientID == "" || g.ClientSecret == "" {
		return ErrMissingGatewayCredentials
	}
	return nil
}

func (g GatewayConfig) IsProduction() bool {
	return g.Environment == GatewayEnvProduction
}

func normalizeGatewayEnv(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case GatewayEnvProduction, "prod", "live":
		return GatewayEnvProduction
	default:
		return GatewayEnvSandbox
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// Module wires application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewTuningHolder),
)

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreDynamo = "dynamo"
	StoreMemory = "memory"
)

// Change feed sources.
const (
	FeedHook           = "hook"
	FeedDynamoDBStream = "dynamodb-stream"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	StoreDriver        string
	FeedSource         string
	StreamPollInterval time.Duration

	LivePollTimeout   time.Duration
	LiveKeepalive     time.Duration
	LiveSessionBuffer int

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	CreateRateLimit float64
	CreateRateBurst int
	AllowedOrigins  []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Notifications     string
	NotificationReads string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		AppPort:  getEnv("APP_PORT", "3000"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Notifications:     getEnv("DYNAMO_TABLE_NOTIFICATIONS", "notifications"),
			NotificationReads: getEnv("DYNAMO_TABLE_NOTIFICATION_READS", "notification_reads"),
		},

		StoreDriver:        getEnv("STORE_DRIVER", StoreDynamo),
		StreamPollInterval: getEnvDuration("STREAM_POLL_INTERVAL", time.Second),

		LivePollTimeout:   getEnvDuration("LIVE_POLL_TIMEOUT", 30*time.Second),
		LiveKeepalive:     getEnvDuration("LIVE_KEEPALIVE", 25*time.Second),
		LiveSessionBuffer: getEnvInt("LIVE_SESSION_BUFFER", 16),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 7*24*time.Hour),

		CreateRateLimit: getEnvFloat("CREATE_RATE_LIMIT", 5),
		CreateRateBurst: getEnvInt("CREATE_RATE_BURST", 10),
		AllowedOrigins:  strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}

	// The stream source only exists for DynamoDB; the in-process hook is the
	// only choice for the memory store.
	defaultFeed := FeedHook
	if cfg.StoreDriver == StoreDynamo {
		defaultFeed = FeedDynamoDBStream
	}
	cfg.FeedSource = getEnv("FEED_SOURCE", defaultFeed)
	if cfg.StoreDriver != StoreDynamo {
		cfg.FeedSource = FeedHook
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("30s", "5m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreDynamoDB = "dynamodb"

	ProviderTwilio = "twilio"
	ProviderLog    = "log"

	RandomCrypto = "crypto"
	RandomMath   = "math"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	SMS      SMSConfig
	OTP      OTPConfig
	Redis    RedisConfig
	DynamoDB DynamoDBConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type LogConfig struct {
	Level string
}

type SMSConfig struct {
	Provider   string
	AccountSID string
	AuthToken  string
	FromNumber string
}

type OTPConfig struct {
	Expiry          time.Duration
	RandomSource    string
	HashCost        int
	Store           string
	Retention       time.Duration
	CleanupInterval time.Duration
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

// Load reads the process environment once, after merging an optional .env
// file, and validates every required value.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	expiryMinutes, err := requireEnvAsInt("OTP_EXPIRY_MINUTES")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "3000"),
			ReadTimeout:    getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		SMS: SMSConfig{
			Provider:   strings.ToLower(getEnv("SMS_PROVIDER", ProviderTwilio)),
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_PHONE_NUMBER", ""),
		},
		OTP: OTPConfig{
			Expiry:          time.Duration(expiryMinutes) * time.Minute,
			RandomSource:    strings.ToLower(getEnv("OTP_RANDOM_SOURCE", RandomCrypto)),
			HashCost:        getEnvAsInt("OTP_HASH_COST", bcrypt.DefaultCost),
			Store:           strings.ToLower(getEnv("OTP_STORE", StoreMemory)),
			Retention:       getEnvAsDuration("OTP_RETENTION", time.Hour),
			CleanupInterval: getEnvAsDuration("OTP_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "OTPTable"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.OTP.Expiry <= 0 {
		return fmt.Errorf("OTP_EXPIRY_MINUTES must be a positive number of minutes")
	}

	switch c.SMS.Provider {
	case ProviderTwilio:
		if c.SMS.AccountSID == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID environment variable is required")
		}
		if c.SMS.AuthToken == "" {
			return fmt.Errorf("TWILIO_AUTH_TOKEN environment variable is required")
		}
		if c.SMS.FromNumber == "" {
			return fmt.Errorf("TWILIO_PHONE_NUMBER environment variable is required")
		}
	case ProviderLog:
	default:
		return fmt.Errorf("unsupported SMS_PROVIDER %q", c.SMS.Provider)
	}

	switch c.OTP.RandomSource {
	case RandomCrypto, RandomMath:
	default:
		return fmt.Errorf("unsupported OTP_RANDOM_SOURCE %q", c.OTP.RandomSource)
	}

	if c.OTP.HashCost < bcrypt.MinCost || c.OTP.HashCost > bcrypt.MaxCost {
		return fmt.Errorf("OTP_HASH_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	switch c.OTP.Store {
	case StoreMemory, StoreRedis:
	case StoreDynamoDB:
		if c.DynamoDB.TableName == "" {
			return fmt.Errorf("DYNAMODB_TABLE_NAME environment variable is required")
		}
	default:
		return fmt.Errorf("unsupported OTP_STORE %q", c.OTP.Store)
	}

	// Expired records must outlive their expiry, or verify reports them as
	// never sent instead of expired.
	if c.OTP.Retention <= 0 {
		return fmt.Errorf("OTP_RETENTION must be positive")
	}

	if c.OTP.CleanupInterval <= 0 {
		return fmt.Errorf("OTP_CLEANUP_INTERVAL must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func requireEnvAsInt(key string) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, fmt.Errorf("%s environment variable is required", key)
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return intValue, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

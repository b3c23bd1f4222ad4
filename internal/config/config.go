package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prudhvinik1/ussync/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	ServerPort      string
	PresenceBackend string
	DatabaseURL     string
	RedisURL        string
	JWTSecret       string
	JWTExpiry       time.Duration
	PairCodeHash    string
	PairingFile     string
	CORSOrigins     string
	RateLimit       int // requests per minute per IP
}

// Cadence holds the sampling cadence for both tiers.
type Cadence struct {
	ForegroundDistanceMeters   float64
	ForegroundInterval         time.Duration
	BackgroundDistanceMeters   float64
	BackgroundInterval         time.Duration
	BackgroundDeferredInterval time.Duration
}

func DefaultCadence() Cadence {
	return Cadence{
		ForegroundDistanceMeters:   30,
		ForegroundInterval:         15 * time.Second,
		BackgroundDistanceMeters:   50,
		BackgroundInterval:         5 * time.Minute,
		BackgroundDeferredInterval: 5 * time.Minute,
	}
}

func LoadConfig() (*Config, error) {
	expiry, err := time.ParseDuration(GetEnv("JWT_EXPIRY", "720h"))
	if err != nil {
		return nil, errors.New("invalid JWT_EXPIRY format")
	}
	rateLimit, err := strconv.Atoi(GetEnv("RATE_LIMIT_PER_MINUTE", "600"))
	if err != nil || rateLimit <= 0 {
		return nil, errors.New("invalid RATE_LIMIT_PER_MINUTE")
	}

	cfg := &Config{
		ServerPort:      GetEnv("SERVER_PORT", "8080"),
		PresenceBackend: GetEnv("PRESENCE_BACKEND", BackendRedis),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTExpiry:       expiry,
		PairCodeHash:    os.Getenv("PAIR_CODE_HASH"),
		PairingFile:     GetEnv("PAIRING_FILE", "pairing.yaml"),
		CORSOrigins:     os.Getenv("CORS_ORIGINS"),
		RateLimit:       rateLimit,
	}

	// Validate required fields
	switch cfg.PresenceBackend {
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown PRESENCE_BACKEND %q", cfg.PresenceBackend)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.PairCodeHash == "" {
		return nil, errors.New("PAIR_CODE_HASH is required")
	}

	return cfg, nil
}

// LoadCadence reads cadence overrides from the environment on top of the defaults.
func LoadCadence() (Cadence, error) {
	c := DefaultCadence()
	var err error
	if c.ForegroundDistanceMeters, err = getEnvFloat("FOREGROUND_DISTANCE_METERS", c.ForegroundDistanceMeters); err != nil {
		return c, err
	}
	if c.ForegroundInterval, err = getEnvDuration("FOREGROUND_INTERVAL", c.ForegroundInterval); err != nil {
		return c, err
	}
	if c.BackgroundDistanceMeters, err = getEnvFloat("BACKGROUND_DISTANCE_METERS", c.BackgroundDistanceMeters); err != nil {
		return c, err
	}
	if c.BackgroundInterval, err = getEnvDuration("BACKGROUND_INTERVAL", c.BackgroundInterval); err != nil {
		return c, err
	}
	if c.BackgroundDeferredInterval, err = getEnvDuration("BACKGROUND_DEFERRED_INTERVAL", c.BackgroundDeferredInterval); err != nil {
		return c, err
	}
	return c, nil
}

// LoadPairing reads the pairing record from a YAML file:
//
//	self_id: user_rubayet
//	partner_id: user_raisa
func LoadPairing(path string) (models.Pairing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Pairing{}, fmt.Errorf("failed to read pairing file: %w", err)
	}
	var pairing models.Pairing
	if err := yaml.Unmarshal(data, &pairing); err != nil {
		return models.Pairing{}, fmt.Errorf("failed to parse pairing file: %w", err)
	}
	if err := pairing.Validate(); err != nil {
		return models.Pairing{}, err
	}
	return pairing, nil
}

// GetEnv returns the environment value for key, or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, value)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, value)
	}
	return parsed, nil
}

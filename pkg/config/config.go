package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the scanner. Components receive it (or
// one of its sections) at construction time; nothing reads os.Getenv after
// Load returns.
type Config struct {
	Port string
	Env  string // development, staging, production

	Database DatabaseConfig
	Redis    RedisConfig

	Theta   ThetaConfig
	Polygon PolygonConfig

	Discovery DiscoveryConfig
	Audit     AuditConfig

	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// ThetaConfig holds ThetaData terminal configuration.
// V3 is the current generation, V1 the legacy one; each terminal enforces a
// tier-dependent cap on outstanding requests (STANDARD=2, PRO=4).
type ThetaConfig struct {
	V3URL string
	V1URL string

	Venue            string // preferred tape venue; empty means composite order
	TimeoutSec       int
	Retries          int
	BackoffBase      time.Duration
	V3MaxOutstanding int
	V1MaxOutstanding int

	PremarketStart string // ET, HH:MM:SS
	PremarketEnd   string
}

// PolygonConfig holds Polygon.io configuration
type PolygonConfig struct {
	APIKey     string
	BaseURL    string
	TimeoutSec int
	Retries    int
	// Requests per second allowed against the API (token bucket).
	RateLimit float64
}

// DiscoveryConfig holds rule thresholds and admission filters
type DiscoveryConfig struct {
	R1Threshold float64 // premarket gap pct
	R2Threshold float64 // open gap pct
	R3Threshold float64 // intraday push pct
	R4Threshold float64 // 7-day surge pct

	HeavyRunnerDollarVolume float64
	HeavyRunnerPushMin      float64

	AllowedExchanges     []string
	AllowedSecurityTypes []string
	ExcludeDerivatives   bool
	MinVolume            int64

	PrefilterRatio    float64 // high/prev_close candidate prefilter
	CandidateCap      int
	PremarketWorkers  int
	PremarketDeadline time.Duration
}

// AuditConfig holds completeness audit parameters
type AuditConfig struct {
	TargetMissRate float64
	Confidence     float64
	MaxSampleSize  int
	InlineSample   int   // audit sample folded into the candidate set
	Seed           int64 // fixed seed for reproducible sampling
	PostScanTopN   int
}

// Load reads configuration from environment variables (and .env if present).
// This is the only place os.Getenv is called.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8091"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},

		Theta: ThetaConfig{
			V3URL:            getEnv("THETA_V3_URL", "http://127.0.0.1:25503"),
			V1URL:            getEnv("THETA_V1_URL", "http://127.0.0.1:25510"),
			Venue:            getEnv("THETA_VENUE", "utp_cta"),
			TimeoutSec:       getEnvAsInt("THETA_TIMEOUT_SEC", 30),
			Retries:          getEnvAsInt("THETA_RETRIES", 3),
			BackoffBase:      getEnvAsDuration("THETA_BACKOFF_BASE", "750ms"),
			V3MaxOutstanding: getEnvAsInt("THETA_V3_MAX_OUTSTANDING", 2),
			V1MaxOutstanding: getEnvAsInt("THETA_V1_MAX_OUTSTANDING", 2),
			PremarketStart:   getEnv("PM_START", "04:00:00"),
			PremarketEnd:     getEnv("PM_END", "09:29:59"),
		},

		Polygon: PolygonConfig{
			APIKey:     getEnv("POLYGON_API_KEY", ""),
			BaseURL:    getEnv("POLYGON_BASE_URL", "https://api.polygon.io"),
			TimeoutSec: getEnvAsInt("POLYGON_TIMEOUT_SEC", 45),
			Retries:    getEnvAsInt("POLYGON_RETRIES", 3),
			RateLimit:  getEnvAsFloat("POLYGON_RATE_LIMIT", 20),
		},

		Discovery: DiscoveryConfig{
			R1Threshold:             getEnvAsFloat("R1_THRESHOLD", 50.0),
			R2Threshold:             getEnvAsFloat("R2_THRESHOLD", 50.0),
			R3Threshold:             getEnvAsFloat("R3_THRESHOLD", 50.0),
			R4Threshold:             getEnvAsFloat("R4_THRESHOLD", 300.0),
			HeavyRunnerDollarVolume: getEnvAsFloat("HEAVY_RUNNER_DV", 10_000_000),
			HeavyRunnerPushMin:      getEnvAsFloat("HEAVY_RUNNER_PUSH_MIN", 50.0),
			AllowedExchanges:        getEnvAsList("ALLOWED_EXCHANGES", "NYSE,NASDAQ,AMEX"),
			AllowedSecurityTypes:    getEnvAsList("ALLOW_SECURITY_TYPES", "CS,ADRC,ADRP,ADRR,ADRW,GDR"),
			ExcludeDerivatives:      getEnvAsBool("EXCLUDE_DERIVATIVES", true),
			MinVolume:               int64(getEnvAsInt("DISCOVERY_MIN_VOL", 100_000)),
			PrefilterRatio:          getEnvAsFloat("CANDIDATE_PREFILTER_RATIO", 1.2),
			CandidateCap:            getEnvAsInt("CANDIDATE_CAP", 750),
			PremarketWorkers:        getEnvAsInt("R1_WORKERS", 4),
			PremarketDeadline:       getEnvAsDuration("R1_PHASE_DEADLINE", "8m"),
		},

		Audit: AuditConfig{
			TargetMissRate: getEnvAsFloat("AUDIT_TARGET_MISS_RATE", 0.01),
			Confidence:     getEnvAsFloat("AUDIT_CONFIDENCE", 0.95),
			MaxSampleSize:  getEnvAsInt("AUDIT_MAX_SAMPLE", 1000),
			InlineSample:   getEnvAsInt("AUDIT_INLINE_SAMPLE", 50),
			Seed:           int64(getEnvAsInt("AUDIT_SEED", 12345)),
			PostScanTopN:   getEnvAsInt("MISS_AUDIT_TOP_N", 150),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks required configuration values
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Audit.TargetMissRate <= 0 || c.Audit.TargetMissRate > 1 {
		return fmt.Errorf("AUDIT_TARGET_MISS_RATE must be in (0, 1]")
	}

	switch c.Audit.Confidence {
	case 0.90, 0.95, 0.99:
	default:
		return fmt.Errorf("AUDIT_CONFIDENCE must be one of: 0.90, 0.95, 0.99")
	}

	return nil
}

// loadEnvFile tries to load .env from the usual locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}

func getEnvAsList(key string, defaultValue string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

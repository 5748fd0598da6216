package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Pipeline   PipelineConfig
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
}

type ServerConfig struct {
	Port     string `validate:"required,numeric"`
	GinMode  string `validate:"omitempty,oneof=debug release test"`
	FEOrigin string `validate:"required"`
}

type LogConfig struct {
	Level  string `validate:"omitempty,oneof=trace debug info warn warning error fatal disabled"`
	Format string `validate:"omitempty,oneof=json console"`
}

type PipelineConfig struct {
	Seed            int64
	Samples         int           `validate:"gt=0"`
	Trees           int           `validate:"gt=0"`
	Clusters        int           `validate:"gt=0"`
	ConversionRate  float64       `validate:"gte=0,lte=1"`
	ActiveRate      float64       `validate:"gte=0,lte=1"`
	RefreshInterval time.Duration `validate:"gte=0"`
	RunTimeout      time.Duration `validate:"gt=0"`
	ActivityWindow  time.Duration `validate:"gt=0"`

	MaxDepth    int `validate:"gte=0"`
	MaxFeatures int `validate:"gte=0,lte=5"`
	Bootstrap   bool
	KMeansNInit int     `validate:"gt=0"`
	KMeansIter  int     `validate:"gt=0"`
	KMeansTol   float64 `validate:"gt=0"`
}

// PostgresConfig points at the users database. Empty URL disables it.
type PostgresConfig struct {
	URL string
}

// ClickHouseConfig points at the event warehouse. Empty host disables it.
type ClickHouseConfig struct {
	Host       string
	NativePort int    `validate:"gt=0,lte=65535"`
	DBName     string `validate:"required_with=Host"`
	Username   string
	Password   string
}

// WarehouseEnabled reports whether both warehouse stores are configured.
func (c *Config) WarehouseEnabled() bool {
	return c.Postgres.URL != "" && c.ClickHouse.Host != ""
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8001"),
			GinMode:  getEnv("GIN_MODE", ""),
			FEOrigin: getEnv("FE_ORIGIN", "http://localhost:3000"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Pipeline: PipelineConfig{
			Seed:            getEnvInt64("PIPELINE_SEED", 42, &errs),
			Samples:         int(getEnvInt64("PIPELINE_SAMPLES", 1000, &errs)),
			Trees:           int(getEnvInt64("PIPELINE_TREES", 100, &errs)),
			Clusters:        int(getEnvInt64("PIPELINE_CLUSTERS", 3, &errs)),
			ConversionRate:  getEnvFloat("PIPELINE_CONVERSION_RATE", 0.3, &errs),
			ActiveRate:      getEnvFloat("PIPELINE_ACTIVE_RATE", 0.8, &errs),
			RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 0, &errs),
			RunTimeout:      getEnvDuration("PIPELINE_RUN_TIMEOUT", 2*time.Minute, &errs),
			ActivityWindow:  getEnvDuration("ACTIVITY_WINDOW", 30*24*time.Hour, &errs),
			MaxDepth:        int(getEnvInt64("PIPELINE_MAX_DEPTH", 0, &errs)),
			MaxFeatures:     int(getEnvInt64("PIPELINE_MAX_FEATURES", 0, &errs)),
			Bootstrap:       getEnvBool("PIPELINE_BOOTSTRAP", true, &errs),
			KMeansNInit:     int(getEnvInt64("KMEANS_N_INIT", 10, &errs)),
			KMeansIter:      int(getEnvInt64("KMEANS_MAX_ITER", 300, &errs)),
			KMeansTol:       getEnvFloat("KMEANS_TOL", 1e-4, &errs),
		},
		Postgres: PostgresConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		ClickHouse: ClickHouseConfig{
			Host:       getEnv("CLICKHOUSE_HOST", ""),
			NativePort: int(getEnvInt64("CLICKHOUSE_NATIVE_PORT", 9000, &errs)),
			DBName:     getEnv("CLICKHOUSE_DB_NAME", ""),
			Username:   getEnv("CLICKHOUSE_USERNAME", ""),
			Password:   getEnv("CLICKHOUSE_PASSWORD", ""),
		},
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return defaultVal
}

func getEnvInt64(key string, defaultVal int64, errs *[]error) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64, errs *[]error) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool, errs *[]error) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration, errs *[]error) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultVal
	}
	return d
}

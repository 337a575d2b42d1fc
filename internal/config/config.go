package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Data source modes. "auto" loads the bundled CSV files from the data
// directory at startup, "upload" starts empty and waits for uploads,
// "postgres" reads the datasets from the database.
const (
	SourceAuto     = "auto"
	SourceUpload   = "upload"
	SourcePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Data     DataConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Upload rate limiting, requests per second with a burst allowance.
	UploadRateLimit float64
	UploadRateBurst int
}

// DatabaseConfig holds PostgreSQL connection configuration. Only used when
// the data source mode is "postgres".
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DataConfig holds dataset source configuration
type DataConfig struct {
	SourceMode     string
	DataDir        string
	HistoricalFile string
	ForecastFile   string

	// Defaults applied when a request carries no explicit selection.
	PreferredCountries []string
	WindowYears        int
	DeficitThreshold   float64
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// LoadConfig reads configuration from environment variables, applying
// defaults where unset. A .env file in the working directory is loaded
// first when present.
func LoadConfig() (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	port, err := envInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	dbPort, err := envInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	readTimeout, err := envDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := envDuration("SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	idleTimeout, err := envDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	connMaxLifetime, err := envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	connMaxIdleTime, err := envDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	maxOpen, err := envInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, err
	}
	maxIdle, err := envInt("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}

	windowYears, err := envInt("DEFAULT_WINDOW_YEARS", 5)
	if err != nil {
		return nil, err
	}
	deficitThreshold, err := envFloat("DEFICIT_THRESHOLD_CM", -5.0)
	if err != nil {
		return nil, err
	}
	uploadRate, err := envFloat("UPLOAD_RATE_LIMIT", 1.0)
	if err != nil {
		return nil, err
	}
	uploadBurst, err := envInt("UPLOAD_RATE_BURST", 3)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            envOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			IdleTimeout:     idleTimeout,
			UploadRateLimit: uploadRate,
			UploadRateBurst: uploadBurst,
		},
		Database: DatabaseConfig{
			Host:            envOrDefault("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            envOrDefault("DB_USER", "drought"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        envOrDefault("DB_NAME", "drought_tracker"),
			SSLMode:         envOrDefault("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpen,
			MaxIdleConns:    maxIdle,
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
		},
		Data: DataConfig{
			SourceMode:         envOrDefault("DATA_SOURCE", SourceAuto),
			DataDir:            envOrDefault("DATA_DIR", "data"),
			HistoricalFile:     envOrDefault("HISTORICAL_FILE", "drought_water_stress_master_monthly_clean.csv"),
			ForecastFile:       envOrDefault("FORECAST_FILE", "drought_risk_forecasts.csv"),
			PreferredCountries: envList("DEFAULT_COUNTRIES", []string{"Afghanistan", "India", "United States", "Brazil", "Australia"}),
			WindowYears:        windowYears,
			DeficitThreshold:   deficitThreshold,
		},
		Logging: LoggingConfig{
			Level: envOrDefault("LOG_LEVEL", "info"),
		},
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Data.SourceMode {
	case SourceAuto, SourceUpload, SourcePostgres:
	default:
		return fmt.Errorf("invalid data source mode: %q", c.Data.SourceMode)
	}

	if c.Data.SourceMode == SourceAuto {
		if c.Data.HistoricalFile == "" {
			return fmt.Errorf("HISTORICAL_FILE is required for the auto data source")
		}
		if c.Data.ForecastFile == "" {
			return fmt.Errorf("FORECAST_FILE is required for the auto data source")
		}
	}

	if c.Data.SourceMode == SourcePostgres {
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required for the postgres data source")
		}
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required for the postgres data source")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("DB_NAME is required for the postgres data source")
		}
	}

	if c.Data.WindowYears <= 0 {
		return fmt.Errorf("invalid default window: %d years", c.Data.WindowYears)
	}
	if c.Server.UploadRateLimit <= 0 || c.Server.UploadRateBurst <= 0 {
		return fmt.Errorf("invalid upload rate limit: %v/%d", c.Server.UploadRateLimit, c.Server.UploadRateBurst)
	}

	return nil
}

// Address returns the host:port the server binds to.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HistoricalPath returns the full path of the bundled historical dataset.
func (d *DataConfig) HistoricalPath() string {
	return d.DataDir + string(os.PathSeparator) + d.HistoricalFile
}

// ForecastPath returns the full path of the bundled forecast dataset.
func (d *DataConfig) ForecastPath() string {
	return d.DataDir + string(os.PathSeparator) + d.ForecastFile
}

// DSN builds the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"ticket-ledger/internal/database"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Storage drivers
const (
	StorageAuto     = "auto"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

const defaultJWTSecret = "dev-only-jwt-secret-change-in-production"

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Ledger    LedgerConfig
	Log       LogConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	Env             string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL      string // Full database URL
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

type LedgerConfig struct {
	Name        string
	Symbol      string
	Storage     string // auto, memory or postgres
	AutoMigrate bool
}

type LogConfig struct {
	Level  string
	Format string // console or json
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	WritesPerMinute int // 0 disables the limiter
}

func Load() (*Config, error) {
	// Load .env files if they exist (try .env.local first, then .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Host:            getEnv("HOST", "localhost"),
			Env:             getEnv("ENV", "development"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: parseDatabaseConfig(),
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", defaultJWTSecret),
			Issuer:    getEnv("JWT_ISSUER", "ticket-ledger"),
			TokenTTL:  getEnvAsDuration("JWT_TTL", 24*time.Hour),
		},
		Ledger: LedgerConfig{
			Name:        getEnv("LEDGER_NAME", "EventTicket"),
			Symbol:      getEnv("LEDGER_SYMBOL", "ETIX"),
			Storage:     strings.ToLower(getEnv("LEDGER_STORAGE", StorageAuto)),
			AutoMigrate: getEnvAsBool("LEDGER_AUTO_MIGRATE", true),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "console")),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		RateLimit: RateLimitConfig{
			WritesPerMinute: getEnvAsInt("RATE_LIMIT_WRITES_PER_MINUTE", 120),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Ledger.Storage {
	case StorageAuto, StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("invalid LEDGER_STORAGE %q: want auto, memory or postgres", c.Ledger.Storage)
	}

	if c.Ledger.Storage == StoragePostgres && !c.Database.Configured() {
		return errors.New("LEDGER_STORAGE=postgres requires DATABASE_URL or DB_HOST and DB_NAME")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.Log.Level, err)
	}

	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid LOG_FORMAT %q: want console or json", c.Log.Format)
	}

	if c.Auth.TokenTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}

	if c.IsProduction() && c.Auth.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set in production")
	}

	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Addr is the listen address of the HTTP server
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// UsePostgres reports whether the ledger should be stored in postgres
func (c *Config) UsePostgres() bool {
	switch c.Ledger.Storage {
	case StoragePostgres:
		return true
	case StorageMemory:
		return false
	default:
		return c.Database.Configured()
	}
}

// Configured reports whether any database location was given
func (d DatabaseConfig) Configured() bool {
	return d.ConnectionConfig().Configured()
}

// ConnectionConfig converts the settings for database.NewConnection
func (d DatabaseConfig) ConnectionConfig() database.Config {
	return database.Config{
		URL:          d.URL,
		Host:         d.Host,
		Port:         d.Port,
		User:         d.User,
		Password:     d.Password,
		DBName:       d.DBName,
		SSLMode:      d.SSLMode,
		MaxOpenConns: d.MaxOpenConns,
		MaxIdleConns: d.MaxIdleConns,
	}
}

func parseDatabaseConfig() DatabaseConfig {
	var config DatabaseConfig

	// Check if DATABASE_URL is provided
	if databaseURL := getEnv("DATABASE_URL", ""); databaseURL != "" {
		config = parseDatabaseURL(databaseURL)
	} else {
		// Fall back to individual environment variables
		config = DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ticket_ledger"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		}
	}

	config.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", 25)
	config.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", 5)
	return config
}

func parseDatabaseURL(databaseURL string) DatabaseConfig {
	config := DatabaseConfig{
		URL: databaseURL,
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		// If parsing fails, return the URL as-is
		return config
	}

	config.Host = u.Hostname()
	if u.Port() != "" {
		config.Port, _ = strconv.Atoi(u.Port())
	} else {
		config.Port = 5432 // Default PostgreSQL port
	}

	if u.User != nil {
		config.User = u.User.Username()
		config.Password, _ = u.User.Password()
	}

	// Remove leading slash from path to get database name
	config.DBName = strings.TrimPrefix(u.Path, "/")

	config.SSLMode = u.Query().Get("sslmode")
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	return config
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

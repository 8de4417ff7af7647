package config

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm/logger"

	"vehicle-deal-tracker/internal/query"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Search    SearchConfig     `yaml:"search"`
	Scraper   ScraperConfig    `yaml:"scraper"`
	Merge     MergeConfig      `yaml:"merge"`
	Vehicles  []Vehicle        `yaml:"vehicles"`
	Filters   query.FilterSpec `yaml:"filters"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Logging   LoggingConfig    `yaml:"logging"`
	Server    ServerConfig     `yaml:"server"`
	Export    ExportConfig     `yaml:"export"`
	Email     EmailConfig      `yaml:"email"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type     string         `yaml:"type"` // mysql, postgres, sqlite
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// SQLiteConfig contains the SQLite file location
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
}

// MeilisearchConfig contains Meilisearch connection settings.
// An empty host disables indexing.
type MeilisearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
	Index  string `yaml:"index"`
}

// ScraperConfig contains fetcher and scrape-run settings
type ScraperConfig struct {
	Sources    []string `yaml:"sources"`
	ZipCode    string   `yaml:"zip_code"`
	Radius     int      `yaml:"radius"`
	Condition  string   `yaml:"condition"` // new, used, all
	MaxPages   int      `yaml:"max_pages"`
	UserAgents []string `yaml:"user_agents"`
	ChromePath string   `yaml:"chrome_path"`

	RequestDelayMinMs int `yaml:"request_delay_min_ms"`
	RequestDelayMaxMs int `yaml:"request_delay_max_ms"`
	MaxInFlight       int `yaml:"max_in_flight"`
	TimeoutSeconds    int `yaml:"timeout_seconds"`
	MaxRetries        int `yaml:"max_retries"`
	RetryDelaySeconds int `yaml:"retry_delay_seconds"`

	CircuitBreakerThreshold    int `yaml:"circuit_breaker_threshold"`
	CircuitBreakerResetSeconds int `yaml:"circuit_breaker_reset_seconds"`
	BlockAfterFailures         int `yaml:"block_after_failures"`
	BlockCooldownHours         int `yaml:"block_cooldown_hours"`

	ConcurrentLimit int    `yaml:"concurrent_limit"`
	DailyRunEnabled bool   `yaml:"daily_run_enabled"`
	DailyRunTime    string `yaml:"daily_run_time"`
}

// MergeConfig contains merge engine settings
type MergeConfig struct {
	Workers            int `yaml:"workers"`
	MaxConflictRetries int `yaml:"max_conflict_retries"`
}

// Vehicle is one make/model to search for.
type Vehicle struct {
	Make    string `yaml:"make"`
	Model   string `yaml:"model"`
	YearMin int    `yaml:"year_min"`
	YearMax int    `yaml:"year_max"`
}

func (v Vehicle) String() string {
	return fmt.Sprintf("%s %s (%d-%d)", v.Make, v.Model, v.YearMin, v.YearMax)
}

// RateLimitConfig contains API rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	RequestsPerHour   int  `yaml:"requests_per_hour"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, error, silent
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ExportConfig contains spreadsheet and HTML report settings
type ExportConfig struct {
	Path       string `yaml:"path"`
	ReportPath string `yaml:"report_path"`
}

// EmailConfig is the signature used on dealer quote requests
type EmailConfig struct {
	SenderName  string `yaml:"sender_name"`
	SenderPhone string `yaml:"sender_phone"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type: "sqlite",
			MySQL: MySQLConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "dealfinder",
				Database: "vehicle_deals",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "dealfinder",
				Database: "vehicle_deals",
			},
			SQLite: SQLiteConfig{Path: "vehicle_deals.db"},
		},
		Search: SearchConfig{
			Meilisearch: MeilisearchConfig{Index: "listings"},
		},
		Scraper: ScraperConfig{
			Sources:   []string{"cars.com", "cargurus", "autotrader"},
			ZipCode:   "92101",
			Radius:    75,
			Condition: "new",
			MaxPages:  5,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			},
			RequestDelayMinMs:          2000,
			RequestDelayMaxMs:          5000,
			MaxInFlight:                1,
			TimeoutSeconds:             30,
			MaxRetries:                 3,
			RetryDelaySeconds:          5,
			CircuitBreakerThreshold:    5,
			CircuitBreakerResetSeconds: 300,
			BlockAfterFailures:         3,
			BlockCooldownHours:         6,
			ConcurrentLimit:            2,
			DailyRunEnabled:            false,
			DailyRunTime:               "06:00",
		},
		Merge: MergeConfig{
			Workers:            4,
			MaxConflictRetries: 3,
		},
		Vehicles: []Vehicle{
			{Make: "toyota", Model: "tundra", YearMin: 2024, YearMax: 2026},
			{Make: "ford", Model: "f-150", YearMin: 2024, YearMax: 2026},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 30,
			RequestsPerHour:   1800,
		},
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Export: ExportConfig{
			Path:       "vehicle_deals.xlsx",
			ReportPath: "deal_report.html",
		},
	}
}

// LoadConfig loads configuration from a YAML file, then applies
// environment overrides (a .env file next to the binary is read first).
func LoadConfig(filepath string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Config: failed to load .env: %v", err)
	}

	// If file doesn't exist, keep defaults
	if _, err := os.Stat(filepath); err == nil {
		data, err := os.ReadFile(filepath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DB_TYPE"); v != "" {
		c.Database.Type = v
	}
	host, port := os.Getenv("DB_HOST"), getEnvInt("DB_PORT", 0)
	user, password, name := os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME")
	switch c.Database.Type {
	case "mysql":
		setString(&c.Database.MySQL.Host, host)
		setInt(&c.Database.MySQL.Port, port)
		setString(&c.Database.MySQL.User, user)
		setString(&c.Database.MySQL.Password, password)
		setString(&c.Database.MySQL.Database, name)
	case "postgres":
		setString(&c.Database.Postgres.Host, host)
		setInt(&c.Database.Postgres.Port, port)
		setString(&c.Database.Postgres.User, user)
		setString(&c.Database.Postgres.Password, password)
		setString(&c.Database.Postgres.Database, name)
	}
	setString(&c.Database.SQLite.Path, os.Getenv("SQLITE_PATH"))
	setString(&c.Search.Meilisearch.Host, os.Getenv("MEILISEARCH_HOST"))
	setString(&c.Search.Meilisearch.APIKey, os.Getenv("MEILISEARCH_KEY"))
	setString(&c.Server.Port, os.Getenv("PORT"))
	setString(&c.Scraper.ChromePath, os.Getenv("CHROME_BIN"))
	setString(&c.Email.SenderName, os.Getenv("EMAIL_SENDER_NAME"))
	setString(&c.Email.SenderPhone, os.Getenv("EMAIL_SENDER_PHONE"))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

// Validate checks the configuration for values nothing downstream can use.
func (c *Config) Validate() error {
	var problems []string

	switch c.Database.Type {
	case "mysql", "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("unknown database type %q", c.Database.Type))
	}

	if len(c.Vehicles) == 0 {
		problems = append(problems, "no vehicles configured")
	}
	for i, v := range c.Vehicles {
		if strings.TrimSpace(v.Make) == "" || strings.TrimSpace(v.Model) == "" {
			problems = append(problems, fmt.Sprintf("vehicles[%d]: make and model are required", i))
		}
		if v.YearMin > 0 && v.YearMax > 0 && v.YearMin > v.YearMax {
			problems = append(problems, fmt.Sprintf("vehicles[%d]: year_min %d > year_max %d", i, v.YearMin, v.YearMax))
		}
	}

	if c.Merge.Workers <= 0 {
		problems = append(problems, "merge.workers must be positive")
	}
	if c.Scraper.ConcurrentLimit <= 0 {
		problems = append(problems, "scraper.concurrent_limit must be positive")
	}
	if c.Scraper.RequestDelayMaxMs < c.Scraper.RequestDelayMinMs {
		problems = append(problems, "scraper.request_delay_max_ms is below request_delay_min_ms")
	}
	if _, _, err := ParseDailyRunTime(c.Scraper.DailyRunTime); c.Scraper.DailyRunEnabled && err != nil {
		problems = append(problems, err.Error())
	}

	f := c.Filters
	if f.PriceMin != nil && f.PriceMax != nil && *f.PriceMin > *f.PriceMax {
		problems = append(problems, "filters.price_min is above price_max")
	}
	if f.YearMin != nil && f.YearMax != nil && *f.YearMin > *f.YearMax {
		problems = append(problems, "filters.year_min is above year_max")
	}
	if p := f.MinDiscountPercent; p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
		problems = append(problems, "filters.min_discount_percent must be a finite number")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseDailyRunTime parses "HH:MM".
func ParseDailyRunTime(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid daily_run_time %q (expected HH:MM)", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in daily_run_time %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in daily_run_time %q", s)
	}
	return hour, minute, nil
}

// GormLogLevel maps logging.level onto the gorm logger.
func (c *LoggingConfig) GormLogLevel() logger.LogLevel {
	switch strings.ToLower(c.Level) {
	case "debug":
		return logger.Info
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}

// GetRequestDelayRange returns the random pause bounds between requests.
func (c *ScraperConfig) GetRequestDelayRange() (time.Duration, time.Duration) {
	return time.Duration(c.RequestDelayMinMs) * time.Millisecond,
		time.Duration(c.RequestDelayMaxMs) * time.Millisecond
}

// GetTimeout returns the timeout as a duration
func (c *ScraperConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetRetryDelay returns the base retry delay as a duration
func (c *ScraperConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// GetBlockCooldown returns how long a failing source stays blocked.
func (c *ScraperConfig) GetBlockCooldown() time.Duration {
	return time.Duration(c.BlockCooldownHours) * time.Hour
}

// GetCircuitBreakerReset returns the open-state duration of a breaker.
func (c *ScraperConfig) GetCircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetSeconds) * time.Second
}

// SourceEnabled reports whether source is in the enabled list.
func (c *ScraperConfig) SourceEnabled(source string) bool {
	for _, s := range c.Sources {
		if strings.EqualFold(s, source) {
			return true
		}
	}
	return false
}

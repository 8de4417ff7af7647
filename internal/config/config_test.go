package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm/logger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("database.type = %q, want sqlite", cfg.Database.Type)
	}
	if len(cfg.Vehicles) != 2 || cfg.Vehicles[1].Model != "f-150" {
		t.Errorf("vehicles = %+v", cfg.Vehicles)
	}
	if !cfg.Filters.IsZero() {
		t.Errorf("default filters = %+v, want none", cfg.Filters)
	}
}

func TestLoadConfig_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  type: mysql
  mysql:
    host: db.internal
vehicles:
  - make: toyota
    model: tacoma
    year_min: 2025
    year_max: 2025
filters:
  price_max: 55000
  trims_include: [TRD, Limited]
  min_discount_percent: 4.5
  only_price_drops: true
merge:
  workers: 8
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Type != "mysql" || cfg.Database.MySQL.Host != "db.internal" || cfg.Database.MySQL.Port != 3306 {
		t.Errorf("mysql = %+v", cfg.Database.MySQL)
	}
	if len(cfg.Vehicles) != 1 || cfg.Vehicles[0].Model != "tacoma" {
		t.Errorf("vehicles = %+v", cfg.Vehicles)
	}
	f := cfg.Filters
	if f.PriceMax == nil || *f.PriceMax != 55000 || f.PriceMin != nil {
		t.Errorf("price bounds = %v/%v", f.PriceMin, f.PriceMax)
	}
	if len(f.TrimsInclude) != 2 || f.MinDiscountPercent == nil || *f.MinDiscountPercent != 4.5 || !f.OnlyPriceDrops {
		t.Errorf("filters = %+v", f)
	}
	if cfg.Merge.Workers != 8 || cfg.Merge.MaxConflictRetries != 3 {
		t.Errorf("merge = %+v", cfg.Merge)
	}
	if cfg.Scraper.ZipCode != "92101" {
		t.Errorf("scraper.zip_code = %q, want default", cfg.Scraper.ZipCode)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DB_TYPE", "postgres")
	t.Setenv("DB_HOST", "pg.example")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("MEILISEARCH_HOST", "http://search:7700")
	t.Setenv("PORT", "9090")
	t.Setenv("EMAIL_SENDER_NAME", "Jamie Buyer")
	t.Setenv("EMAIL_SENDER_PHONE", "555-0100")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Type != "postgres" || cfg.Database.Postgres.Host != "pg.example" || cfg.Database.Postgres.Port != 6543 {
		t.Errorf("postgres = %+v", cfg.Database.Postgres)
	}
	if cfg.Database.MySQL.Host != "localhost" {
		t.Errorf("mysql host changed to %q", cfg.Database.MySQL.Host)
	}
	if cfg.Search.Meilisearch.Host != "http://search:7700" || cfg.Server.Port != "9090" {
		t.Errorf("search/server = %q/%q", cfg.Search.Meilisearch.Host, cfg.Server.Port)
	}
	if cfg.Email.SenderName != "Jamie Buyer" || cfg.Email.SenderPhone != "555-0100" {
		t.Errorf("email = %+v", cfg.Email)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeConfig(t, "vehicles: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig accepted malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"db type", func(c *Config) { c.Database.Type = "oracle" }, "unknown database type"},
		{"no vehicles", func(c *Config) { c.Vehicles = nil }, "no vehicles"},
		{"inverted years", func(c *Config) { c.Vehicles[0].YearMin = 2027 }, "year_min 2027 > year_max 2026"},
		{"workers", func(c *Config) { c.Merge.Workers = 0 }, "merge.workers"},
		{"run time", func(c *Config) {
			c.Scraper.DailyRunEnabled = true
			c.Scraper.DailyRunTime = "25:00"
		}, "invalid hour"},
		{"filter price", func(c *Config) {
			lo, hi := 50000, 40000
			c.Filters.PriceMin, c.Filters.PriceMax = &lo, &hi
		}, "price_min is above price_max"},
		{"filter discount nan", func(c *Config) {
			nan := math.NaN()
			c.Filters.MinDiscountPercent = &nan
		}, "min_discount_percent must be a finite number"},
		{"filter discount inf", func(c *Config) {
			inf := math.Inf(1)
			c.Filters.MinDiscountPercent = &inf
		}, "min_discount_percent must be a finite number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDailyRunTime(t *testing.T) {
	tests := []struct {
		in        string
		hour, min int
		wantErr   bool
	}{
		{"06:00", 6, 0, false},
		{"23:59", 23, 59, false},
		{"6", 0, 0, true},
		{"12:60", 0, 0, true},
		{"ab:00", 0, 0, true},
	}
	for _, tt := range tests {
		h, m, err := ParseDailyRunTime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDailyRunTime(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (h != tt.hour || m != tt.min) {
			t.Errorf("ParseDailyRunTime(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.hour, tt.min)
		}
	}
}

func TestGormLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug":  logger.Info,
		"info":   logger.Warn,
		"ERROR":  logger.Error,
		"silent": logger.Silent,
		"":       logger.Warn,
	}
	for level, want := range tests {
		cfg := LoggingConfig{Level: level}
		if got := cfg.GormLogLevel(); got != want {
			t.Errorf("GormLogLevel(%q) = %v, want %v", level, got, want)
		}
	}
}

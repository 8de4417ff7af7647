package database

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm/logger"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/merge"
	"vehicle-deal-tracker/internal/models"
)

// Store is everything the application needs from a backend.
type Store interface {
	merge.Store

	Ping(ctx context.Context) error
	Close() error
	InitSchema() error

	GetListing(ctx context.Context, id uint) (*models.Listing, error)
	ListListings(ctx context.Context, vehicleMake, vehicleModel string) ([]models.Listing, error)
	ListingsByIDs(ctx context.Context, ids []uint) ([]models.Listing, error)

	PriceChangesSince(ctx context.Context, since time.Time) ([]models.PriceChangeDetail, error)
	PendingPriceChanges(ctx context.Context) ([]models.PriceChangeDetail, error)
	MarkNotified(ctx context.Context, ids []uint) (int64, error)

	GetSourceState(ctx context.Context, source string) (*models.SourceState, error)
	SaveSourceState(ctx context.Context, st *models.SourceState) error
	ListSourceStates(ctx context.Context) ([]models.SourceState, error)

	CreateScrapeRun(ctx context.Context, run *models.ScrapeRun) error
	SaveScrapeRun(ctx context.Context, run *models.ScrapeRun) error
	RecentScrapeRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error)
}

var (
	_ Store = (*GormDB)(nil)
	_ Store = (*DB)(nil)
)

// Open connects to the configured backend and ensures the schema exists.
func Open(cfg config.DatabaseConfig, level logger.LogLevel) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Type {
	case "mysql":
		log.Printf("Connecting to MySQL at %s:%d...", cfg.MySQL.Host, cfg.MySQL.Port)
		store, err = NewGormDB(cfg.MySQL.Host, strconv.Itoa(cfg.MySQL.Port),
			cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Database, level)
	case "postgres":
		log.Printf("Connecting to PostgreSQL at %s:%d...", cfg.Postgres.Host, cfg.Postgres.Port)
		store, err = NewDB(cfg.Postgres.Host, strconv.Itoa(cfg.Postgres.Port),
			cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Database)
	case "sqlite":
		log.Printf("Opening SQLite database %s...", cfg.SQLite.Path)
		store, err = NewSQLiteDB(cfg.SQLite.Path, level)
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Type, err)
	}

	if err := store.InitSchema(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Println("Database schema initialized")

	return store, nil
}

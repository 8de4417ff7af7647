package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lib/pq"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"vehicle-deal-tracker/internal/identity"
	"vehicle-deal-tracker/internal/merge"
	"vehicle-deal-tracker/internal/models"
)

// ErrNotFound is returned by lookups of a single row that does not exist.
var ErrNotFound = errors.New("not found")

// GormDB is the listing store on MySQL or SQLite.
type GormDB struct {
	db *gorm.DB
}

// NewGormDB connects to MySQL.
func NewGormDB(host, port, user, password, dbname string, logLevel logger.LogLevel) (*GormDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		user, password, host, port, dbname)

	db, err := gorm.Open(mysql.Open(dsn), gormConfig(logLevel))
	if err != nil {
		return nil, err
	}

	// Test connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	return &GormDB{db: db}, nil
}

// NewSQLiteDB opens a single-file SQLite store. ":memory:" gives a private
// in-memory database.
func NewSQLiteDB(path string, logLevel logger.LogLevel) (*GormDB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig(logLevel))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; an in-memory database exists per connection.
	sqlDB.SetMaxOpenConns(1)

	return &GormDB{db: db}, nil
}

// NewGormDBFromDB creates a GormDB wrapper from an existing gorm.DB instance
func NewGormDBFromDB(db *gorm.DB) *GormDB {
	return &GormDB{db: db}
}

func gormConfig(level logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// DB returns the underlying gorm.DB instance
func (gdb *GormDB) DB() *gorm.DB {
	return gdb.db
}

func (gdb *GormDB) Close() error {
	sqlDB, err := gdb.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection.
func (gdb *GormDB) Ping(ctx context.Context) error {
	sqlDB, err := gdb.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// InitSchema creates tables using GORM AutoMigrate
func (gdb *GormDB) InitSchema() error {
	return gdb.db.AutoMigrate(
		&models.Listing{},
		&models.PriceChange{},
		&models.SourceState{},
		&models.ScrapeRun{},
	)
}

// InTx runs fn in one database transaction.
func (gdb *GormDB) InTx(ctx context.Context, fn func(tx merge.Tx) error) error {
	lockRows := gdb.db.Dialector.Name() != "sqlite"
	return gdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx, lockRows: lockRows})
	})
}

type gormTx struct {
	db       *gorm.DB
	lockRows bool
}

func (t *gormTx) FindListing(id identity.Identity) (*models.Listing, error) {
	q := t.db
	if t.lockRows {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var l models.Listing
	err := q.Where("source = ? AND source_listing_id = ?", id.Source, id.SourceListingID).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *gormTx) CreateListing(l *models.Listing) error {
	if err := t.db.Create(l).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", merge.ErrConflict, identity.Of(l))
		}
		return err
	}
	return nil
}

func (t *gormTx) UpdateListing(l *models.Listing, expectedVersion int) error {
	res := t.db.Model(&models.Listing{}).
		Where("id = ? AND version = ?", l.ID, expectedVersion).
		Updates(map[string]interface{}{
			"make":           l.Make,
			"model":          l.Model,
			"year":           l.Year,
			"trim":           l.Trim,
			"price":          l.Price,
			"msrp":           l.MSRP,
			"mileage":        l.Mileage,
			"dealer_name":    l.DealerName,
			"dealer_phone":   l.DealerPhone,
			"dealer_address": l.DealerAddress,
			"listing_url":    l.ListingURL,
			"vin":            l.VIN,
			"stock_number":   l.StockNumber,
			"price_history":  l.PriceHistory,
			"last_seen":      l.LastSeen,
			"version":        expectedVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: listing %d is no longer at version %d", merge.ErrConflict, l.ID, expectedVersion)
	}
	l.Version = expectedVersion + 1
	return nil
}

func (t *gormTx) AppendPriceChange(c *models.PriceChange) error {
	return t.db.Create(c).Error
}

// isDuplicateKey reports whether err is a unique constraint violation on
// any of the supported databases.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate entry") || strings.Contains(msg, "unique constraint")
}

// GetListing returns one listing by surrogate id.
func (gdb *GormDB) GetListing(ctx context.Context, id uint) (*models.Listing, error) {
	var l models.Listing
	err := gdb.db.WithContext(ctx).First(&l, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListListings returns listings for make/model (either may be empty, both
// match case-insensitively), cheapest first, unknown prices last.
func (gdb *GormDB) ListListings(ctx context.Context, vehicleMake, vehicleModel string) ([]models.Listing, error) {
	q := gdb.db.WithContext(ctx).Model(&models.Listing{})
	if vehicleMake != "" {
		q = q.Where("LOWER(make) = LOWER(?)", vehicleMake)
	}
	if vehicleModel != "" {
		q = q.Where("LOWER(model) = LOWER(?)", vehicleModel)
	}

	var listings []models.Listing
	err := q.Order("CASE WHEN price IS NULL THEN 1 ELSE 0 END, price ASC, id ASC").Find(&listings).Error
	return listings, err
}

// ListingsByIDs returns the listings with the given ids, in id order.
func (gdb *GormDB) ListingsByIDs(ctx context.Context, ids []uint) ([]models.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var listings []models.Listing
	err := gdb.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&listings).Error
	return listings, err
}

const priceChangeDetailColumns = `pc.id, pc.listing_id, pc.old_price, pc.new_price, pc.changed_at, pc.notified,
	l.source, l.make, l.model, l.year, l.trim, l.dealer_name, l.listing_url, l.price AS current_price`

func (gdb *GormDB) priceChangeDetails(ctx context.Context) *gorm.DB {
	return gdb.db.WithContext(ctx).
		Table("price_changes AS pc").
		Select(priceChangeDetailColumns).
		Joins("JOIN listings AS l ON l.id = pc.listing_id")
}

// PriceChangesSince returns events at or after since, newest first, joined
// with each listing's current fields.
func (gdb *GormDB) PriceChangesSince(ctx context.Context, since time.Time) ([]models.PriceChangeDetail, error) {
	var details []models.PriceChangeDetail
	err := gdb.priceChangeDetails(ctx).
		Where("pc.changed_at >= ?", since.UTC()).
		Order("pc.changed_at DESC, pc.id DESC").
		Scan(&details).Error
	return details, err
}

// PendingPriceChanges returns events not yet marked notified, oldest first.
func (gdb *GormDB) PendingPriceChanges(ctx context.Context) ([]models.PriceChangeDetail, error) {
	var details []models.PriceChangeDetail
	err := gdb.priceChangeDetails(ctx).
		Where("pc.notified = ?", false).
		Order("pc.changed_at ASC, pc.id ASC").
		Scan(&details).Error
	return details, err
}

// MarkNotified flags the given events as delivered.
func (gdb *GormDB) MarkNotified(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := gdb.db.WithContext(ctx).Model(&models.PriceChange{}).
		Where("id IN ? AND notified = ?", ids, false).
		Update("notified", true)
	return res.RowsAffected, res.Error
}

// GetSourceState returns the stored state of source, or a fresh state when
// none was saved yet.
func (gdb *GormDB) GetSourceState(ctx context.Context, source string) (*models.SourceState, error) {
	var st models.SourceState
	err := gdb.db.WithContext(ctx).Where("source = ?", source).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.SourceState{Source: source}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveSourceState upserts st.
func (gdb *GormDB) SaveSourceState(ctx context.Context, st *models.SourceState) error {
	return gdb.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(st).Error
}

// ListSourceStates returns all source states ordered by source.
func (gdb *GormDB) ListSourceStates(ctx context.Context) ([]models.SourceState, error) {
	var states []models.SourceState
	err := gdb.db.WithContext(ctx).Order("source ASC").Find(&states).Error
	return states, err
}

// CreateScrapeRun inserts a new run record.
func (gdb *GormDB) CreateScrapeRun(ctx context.Context, run *models.ScrapeRun) error {
	return gdb.db.WithContext(ctx).Create(run).Error
}

// SaveScrapeRun writes the counters and finish time of run.
func (gdb *GormDB) SaveScrapeRun(ctx context.Context, run *models.ScrapeRun) error {
	return gdb.db.WithContext(ctx).Save(run).Error
}

// RecentScrapeRuns returns the latest runs, newest first.
func (gdb *GormDB) RecentScrapeRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	var runs []models.ScrapeRun
	err := gdb.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

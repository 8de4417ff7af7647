package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"vehicle-deal-tracker/internal/identity"
	"vehicle-deal-tracker/internal/merge"
	"vehicle-deal-tracker/internal/models"
)

// DB is the listing store on PostgreSQL, written against database/sql.
type DB struct {
	conn *sql.DB
}

func NewDB(host, port, user, password, dbname string) (*DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// InitSchema creates the tables if they don't exist
func (db *DB) InitSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS listings (
		id BIGSERIAL PRIMARY KEY,
		source VARCHAR(50) NOT NULL,
		source_listing_id VARCHAR(255) NOT NULL,

		make VARCHAR(64) NOT NULL,
		model VARCHAR(64) NOT NULL,
		year INTEGER NOT NULL,
		trim VARCHAR(255),

		price INTEGER,
		msrp INTEGER,
		mileage INTEGER,

		dealer_name VARCHAR(255),
		dealer_phone VARCHAR(64),
		dealer_address TEXT,
		listing_url TEXT,
		vin VARCHAR(17),
		stock_number VARCHAR(64),

		price_history JSONB NOT NULL DEFAULT '[]',
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,

		CONSTRAINT idx_listing_identity UNIQUE (source, source_listing_id)
	);

	CREATE INDEX IF NOT EXISTS idx_listings_make_model ON listings(make, model);
	CREATE INDEX IF NOT EXISTS idx_listings_price ON listings(price);
	CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen);

	CREATE TABLE IF NOT EXISTS price_changes (
		id BIGSERIAL PRIMARY KEY,
		listing_id BIGINT NOT NULL REFERENCES listings(id),
		old_price INTEGER NOT NULL,
		new_price INTEGER NOT NULL,
		changed_at TIMESTAMPTZ NOT NULL,
		notified BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_price_changes_listing ON price_changes(listing_id);
	CREATE INDEX IF NOT EXISTS idx_price_changes_changed_at ON price_changes(changed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_price_changes_pending ON price_changes(notified) WHERE NOT notified;

	CREATE TABLE IF NOT EXISTS source_states (
		source VARCHAR(50) PRIMARY KEY,
		is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		blocked_until TIMESTAMPTZ,
		blocked_reason TEXT NOT NULL DEFAULT '',
		last_attempt TIMESTAMPTZ NOT NULL,
		last_success TIMESTAMPTZ,
		failure_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		last_fetched INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id BIGSERIAL PRIMARY KEY,
		run_id VARCHAR(36) NOT NULL UNIQUE,
		trigger VARCHAR(20) NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		candidates INTEGER NOT NULL DEFAULT 0,
		inserted INTEGER NOT NULL DEFAULT 0,
		price_changes INTEGER NOT NULL DEFAULT 0,
		unchanged INTEGER NOT NULL DEFAULT 0,
		rejected INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		source_errors TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := db.conn.Exec(query)
	return err
}

// InTx runs fn in one database transaction.
func (db *DB) InTx(ctx context.Context, fn func(tx merge.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&pqTx{ctx: ctx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

type pqTx struct {
	ctx context.Context
	tx  *sql.Tx
}

const listingColumns = `id, source, source_listing_id, make, model, year, trim,
	price, msrp, mileage, dealer_name, dealer_phone, dealer_address,
	listing_url, vin, stock_number, price_history, first_seen, last_seen, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID, &l.Source, &l.SourceListingID, &l.Make, &l.Model, &l.Year, &l.Trim,
		&l.Price, &l.MSRP, &l.Mileage, &l.DealerName, &l.DealerPhone, &l.DealerAddress,
		&l.ListingURL, &l.VIN, &l.StockNumber, &l.PriceHistory, &l.FirstSeen, &l.LastSeen, &l.Version,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// historyJSON renders the ledger as text; pq would send []byte as bytea.
func historyJSON(l *models.Listing) (string, error) {
	if len(l.PriceHistory) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l.PriceHistory)
	if err != nil {
		return "", fmt.Errorf("marshal price history: %w", err)
	}
	return string(b), nil
}

func (t *pqTx) FindListing(id identity.Identity) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM listings
		WHERE source = $1 AND source_listing_id = $2
		FOR UPDATE`

	l, err := scanListing(t.tx.QueryRowContext(t.ctx, query, id.Source, id.SourceListingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (t *pqTx) CreateListing(l *models.Listing) error {
	history, err := historyJSON(l)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO listings (
		source, source_listing_id, make, model, year, trim,
		price, msrp, mileage, dealer_name, dealer_phone, dealer_address,
		listing_url, vin, stock_number, price_history, first_seen, last_seen, version
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	RETURNING id
	`
	err = t.tx.QueryRowContext(t.ctx, query,
		l.Source, l.SourceListingID, l.Make, l.Model, l.Year, l.Trim,
		l.Price, l.MSRP, l.Mileage, l.DealerName, l.DealerPhone, l.DealerAddress,
		l.ListingURL, l.VIN, l.StockNumber, history, l.FirstSeen, l.LastSeen, l.Version,
	).Scan(&l.ID)
	if err != nil && isDuplicateKey(err) {
		return fmt.Errorf("%w: %s", merge.ErrConflict, identity.Of(l))
	}
	return err
}

func (t *pqTx) UpdateListing(l *models.Listing, expectedVersion int) error {
	history, err := historyJSON(l)
	if err != nil {
		return err
	}

	query := `
	UPDATE listings SET
		make = $1, model = $2, year = $3, trim = $4,
		price = $5, msrp = $6, mileage = $7,
		dealer_name = $8, dealer_phone = $9, dealer_address = $10,
		listing_url = $11, vin = $12, stock_number = $13,
		price_history = $14, last_seen = $15, version = $16
	WHERE id = $17 AND version = $18
	`
	res, err := t.tx.ExecContext(t.ctx, query,
		l.Make, l.Model, l.Year, l.Trim,
		l.Price, l.MSRP, l.Mileage,
		l.DealerName, l.DealerPhone, l.DealerAddress,
		l.ListingURL, l.VIN, l.StockNumber,
		history, l.LastSeen, expectedVersion+1,
		l.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: listing %d is no longer at version %d", merge.ErrConflict, l.ID, expectedVersion)
	}
	l.Version = expectedVersion + 1
	return nil
}

func (t *pqTx) AppendPriceChange(c *models.PriceChange) error {
	query := `
	INSERT INTO price_changes (listing_id, old_price, new_price, changed_at, notified)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id
	`
	return t.tx.QueryRowContext(t.ctx, query, c.ListingID, c.OldPrice, c.NewPrice, c.ChangedAt, c.Notified).Scan(&c.ID)
}

// GetListing retrieves a listing by ID
func (db *DB) GetListing(ctx context.Context, id uint) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// ListListings returns listings for make/model, cheapest first, unknown
// prices last.
func (db *DB) ListListings(ctx context.Context, vehicleMake, vehicleModel string) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM listings
		WHERE ($1 = '' OR LOWER(make) = LOWER($1))
		  AND ($2 = '' OR LOWER(model) = LOWER($2))
		ORDER BY price ASC NULLS LAST, id ASC`

	return db.queryListings(ctx, query, vehicleMake, vehicleModel)
}

// ListingsByIDs returns the listings with the given ids, in id order.
func (db *DB) ListingsByIDs(ctx context.Context, ids []uint) ([]models.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	arr := make([]int64, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = ANY($1) ORDER BY id ASC`
	return db.queryListings(ctx, query, pq.Array(arr))
}

func (db *DB) queryListings(ctx context.Context, query string, args ...interface{}) ([]models.Listing, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

const pqPriceChangeDetailQuery = `
	SELECT pc.id, pc.listing_id, pc.old_price, pc.new_price, pc.changed_at, pc.notified,
		   l.source, l.make, l.model, l.year, l.trim, l.dealer_name, l.listing_url, l.price
	FROM price_changes pc
	JOIN listings l ON l.id = pc.listing_id
`

func (db *DB) queryPriceChangeDetails(ctx context.Context, query string, args ...interface{}) ([]models.PriceChangeDetail, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []models.PriceChangeDetail
	for rows.Next() {
		var d models.PriceChangeDetail
		err := rows.Scan(
			&d.ID, &d.ListingID, &d.OldPrice, &d.NewPrice, &d.ChangedAt, &d.Notified,
			&d.Source, &d.Make, &d.Model, &d.Year, &d.Trim, &d.DealerName, &d.ListingURL, &d.CurrentPrice,
		)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// PriceChangesSince returns events at or after since, newest first.
func (db *DB) PriceChangesSince(ctx context.Context, since time.Time) ([]models.PriceChangeDetail, error) {
	return db.queryPriceChangeDetails(ctx,
		pqPriceChangeDetailQuery+` WHERE pc.changed_at >= $1 ORDER BY pc.changed_at DESC, pc.id DESC`,
		since)
}

// PendingPriceChanges returns events not yet marked notified, oldest first.
func (db *DB) PendingPriceChanges(ctx context.Context) ([]models.PriceChangeDetail, error) {
	return db.queryPriceChangeDetails(ctx,
		pqPriceChangeDetailQuery+` WHERE NOT pc.notified ORDER BY pc.changed_at ASC, pc.id ASC`)
}

// MarkNotified flags the given events as delivered.
func (db *DB) MarkNotified(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	arr := make([]int64, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE price_changes SET notified = TRUE WHERE id = ANY($1) AND NOT notified`, pq.Array(arr))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const sourceStateColumns = `source, is_blocked, blocked_until, blocked_reason, last_attempt, last_success,
	failure_count, success_count, last_fetched, updated_at`

func scanSourceState(row rowScanner) (*models.SourceState, error) {
	var st models.SourceState
	err := row.Scan(&st.Source, &st.IsBlocked, &st.BlockedUntil, &st.BlockedReason, &st.LastAttempt, &st.LastSuccess,
		&st.FailureCount, &st.SuccessCount, &st.LastFetched, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetSourceState returns the stored state of source, or a fresh one.
func (db *DB) GetSourceState(ctx context.Context, source string) (*models.SourceState, error) {
	st, err := scanSourceState(db.conn.QueryRowContext(ctx,
		`SELECT `+sourceStateColumns+` FROM source_states WHERE source = $1`, source))
	if errors.Is(err, sql.ErrNoRows) {
		return &models.SourceState{Source: source}, nil
	}
	return st, err
}

// SaveSourceState upserts st.
func (db *DB) SaveSourceState(ctx context.Context, st *models.SourceState) error {
	st.UpdatedAt = time.Now().UTC()
	query := `
	INSERT INTO source_states (` + sourceStateColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (source) DO UPDATE SET
		is_blocked = EXCLUDED.is_blocked,
		blocked_until = EXCLUDED.blocked_until,
		blocked_reason = EXCLUDED.blocked_reason,
		last_attempt = EXCLUDED.last_attempt,
		last_success = EXCLUDED.last_success,
		failure_count = EXCLUDED.failure_count,
		success_count = EXCLUDED.success_count,
		last_fetched = EXCLUDED.last_fetched,
		updated_at = EXCLUDED.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		st.Source, st.IsBlocked, st.BlockedUntil, st.BlockedReason, st.LastAttempt, st.LastSuccess,
		st.FailureCount, st.SuccessCount, st.LastFetched, st.UpdatedAt)
	return err
}

// ListSourceStates returns all source states ordered by source.
func (db *DB) ListSourceStates(ctx context.Context) ([]models.SourceState, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+sourceStateColumns+` FROM source_states ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []models.SourceState
	for rows.Next() {
		st, err := scanSourceState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

// CreateScrapeRun inserts a new run record.
func (db *DB) CreateScrapeRun(ctx context.Context, run *models.ScrapeRun) error {
	return db.conn.QueryRowContext(ctx,
		`INSERT INTO scrape_runs (run_id, trigger, started_at) VALUES ($1, $2, $3) RETURNING id`,
		run.RunID, run.Trigger, run.StartedAt).Scan(&run.ID)
}

// SaveScrapeRun writes the counters and finish time of run.
func (db *DB) SaveScrapeRun(ctx context.Context, run *models.ScrapeRun) error {
	query := `
	UPDATE scrape_runs SET
		finished_at = $1, candidates = $2, inserted = $3, price_changes = $4,
		unchanged = $5, rejected = $6, failed = $7, source_errors = $8
	WHERE id = $9
	`
	_, err := db.conn.ExecContext(ctx, query,
		run.FinishedAt, run.Candidates, run.Inserted, run.PriceChanges,
		run.Unchanged, run.Rejected, run.Failed, run.SourceErrors, run.ID)
	return err
}

// RecentScrapeRuns returns the latest runs, newest first.
func (db *DB) RecentScrapeRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, run_id, trigger, started_at, finished_at, candidates, inserted,
			   price_changes, unchanged, rejected, failed, source_errors
		FROM scrape_runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var r models.ScrapeRun
		err := rows.Scan(&r.ID, &r.RunID, &r.Trigger, &r.StartedAt, &r.FinishedAt, &r.Candidates, &r.Inserted,
			&r.PriceChanges, &r.Unchanged, &r.Rejected, &r.Failed, &r.SourceErrors)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

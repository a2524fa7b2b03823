package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"goofish-crawler/models"
	"goofish-crawler/utils"
)

// PostgresStore keeps one row per fingerprint in PostgreSQL. The unique
// index on fingerprint is what makes Reserve exactly-once across
// concurrent crawls and processes.
type PostgresStore struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgresStore opens a connection to PostgreSQL, waits for it to answer,
// runs schema migrations and returns a ready-to-use PostgresStore.
func NewPostgresStore(ctx context.Context, dsn string, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := &utils.RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
		Logger:      logger,
	}
	if _, err := retry.Do(ctx, "postgres ping", func(int) error {
		return db.PingContext(ctx)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: postgres: %v", ErrUnavailable, err)
	}

	ps := &PostgresStore{db: db, logger: logger}
	if err := ps.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id             BIGSERIAL    PRIMARY KEY,
			fingerprint    VARCHAR(64)  UNIQUE NOT NULL,
			low_confidence BOOLEAN      NOT NULL DEFAULT FALSE,
			title          TEXT         NOT NULL DEFAULT '',
			raw_price      TEXT         NOT NULL DEFAULT '',
			price_cents    BIGINT,
			url            TEXT         NOT NULL DEFAULT '',
			thumbnail_url  TEXT         NOT NULL DEFAULT '',
			seller         TEXT         NOT NULL DEFAULT '',
			area           TEXT         NOT NULL DEFAULT '',
			keyword        TEXT         NOT NULL,
			page_index     INTEGER      NOT NULL DEFAULT 0,
			published_at   TIMESTAMPTZ,
			first_seen_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		ALTER TABLE listings ADD COLUMN IF NOT EXISTS published_at TIMESTAMPTZ;

		CREATE INDEX IF NOT EXISTS idx_listings_keyword     ON listings(keyword);
		CREATE INDEX IF NOT EXISTS idx_listings_price_cents ON listings(price_cents);
		CREATE INDEX IF NOT EXISTS idx_listings_area        ON listings(area);
		CREATE INDEX IF NOT EXISTS idx_listings_published   ON listings(published_at);
	`)
	return err
}

const reserveSQL = `
	INSERT INTO listings (fingerprint, low_confidence, title, raw_price, price_cents,
		url, thumbnail_url, seller, area, keyword, page_index, published_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (fingerprint) DO NOTHING
	RETURNING id`

// Reserve implements DedupStore. The batch runs in one transaction: either
// every new row is committed or none is. Rows are inserted in fingerprint
// order so overlapping batches take their unique-index locks in the same
// order and cannot deadlock.
func (ps *PostgresStore) Reserve(ctx context.Context, keyword string, candidates []models.Candidate) ([]models.Reservation, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, reserveSQL)
	if err != nil {
		return nil, classify("prepare", err)
	}
	defer stmt.Close()

	out := make([]models.Reservation, len(candidates))
	for _, i := range insertOrder(candidates) {
		c := candidates[i]
		l := c.Listing
		if l == nil {
			l = &models.RawListing{}
		}
		var price sql.NullInt64
		if l.Price.Valid {
			price = sql.NullInt64{Int64: l.Price.Cents, Valid: true}
		}
		var published sql.NullTime
		if !l.PublishedAt.IsZero() {
			published = sql.NullTime{Time: l.PublishedAt, Valid: true}
		}

		var id int64
		err := stmt.QueryRowContext(ctx,
			c.Fingerprint.Key, c.Fingerprint.LowConfidence, l.Title, l.RawPrice, price,
			l.URL, l.ThumbnailURL, l.Seller, l.Area, keyword, l.PageIndex, published,
		).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			out[i] = models.Reservation{Fingerprint: c.Fingerprint.Key}
		case err != nil:
			return nil, classify("insert", err)
		default:
			out[i] = models.Reservation{Fingerprint: c.Fingerprint.Key, IsNew: true, ID: id}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit", err)
	}
	ps.logger.Debug("[postgres] reserved %d candidates for %q, %d new", len(candidates), keyword, countNewReservations(out))
	return out, nil
}

// ListListings implements ListingReader. Keyword matches either the crawl
// keyword exactly or a case-insensitive substring of the title. Newest
// first.
func (ps *PostgresStore) ListListings(ctx context.Context, q models.ListingQuery) ([]*models.StoredListing, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		where = append(where, fmt.Sprintf("(keyword = %s OR title ILIKE %s)", arg(kw), arg("%"+escapeLike(kw)+"%")))
	}
	if q.MinPriceCents > 0 {
		where = append(where, "price_cents >= "+arg(q.MinPriceCents))
	}
	if q.MaxPriceCents > 0 {
		where = append(where, "price_cents <= "+arg(q.MaxPriceCents))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, fingerprint, low_confidence, title, raw_price, price_cents,
		       url, thumbnail_url, seller, area, keyword, page_index, published_at, first_seen_at
		FROM listings`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY id DESC\n\t\tLIMIT " + arg(limit)

	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()

	var listings []*models.StoredListing
	for rows.Next() {
		l := &models.StoredListing{}
		var (
			price     sql.NullInt64
			published sql.NullTime
		)
		if err := rows.Scan(
			&l.ID, &l.Fingerprint, &l.LowConfidence, &l.Title, &l.RawPrice, &price,
			&l.URL, &l.ThumbnailURL, &l.Seller, &l.Area, &l.Keyword, &l.PageIndex, &published, &l.FirstSeenAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		if price.Valid {
			l.Price = models.PriceOf(price.Int64)
		}
		if published.Valid {
			l.PublishedAt = published.Time
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// CountListings implements ListingReader.
func (ps *PostgresStore) CountListings(ctx context.Context) (int, error) {
	var n int
	if err := ps.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// classify marks connection-level failures with ErrUnavailable.
func classify(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: postgres %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func isUnavailable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"53", // insufficient resources
			"57": // operator intervention
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr)
}

// insertOrder returns candidate indexes sorted by fingerprint key.
func insertOrder(candidates []models.Candidate) []int {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].Fingerprint.Key < candidates[order[b]].Fingerprint.Key
	})
	return order
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func countNewReservations(res []models.Reservation) int {
	n := 0
	for _, r := range res {
		if r.IsNew {
			n++
		}
	}
	return n
}

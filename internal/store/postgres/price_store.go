package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// PriceStore implements domain.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *pgxpool.Pool
}

// NewPriceStore creates a new PriceStore backed by the given connection pool.
func NewPriceStore(pool *pgxpool.Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

var _ domain.PriceStore = (*PriceStore)(nil)

const priceSelectCols = `id, chain, address, symbol, price_usd, source, timestamp`

func scanPriceFromRow(scanner interface{ Scan(dest ...any) error }) (domain.PriceSample, error) {
	var p domain.PriceSample
	err := scanner.Scan(&p.ID, &p.Chain, &p.Address, &p.Symbol,
		&p.PriceUSD, &p.Source, &p.Timestamp)
	if err != nil {
		return domain.PriceSample{}, err
	}
	return p, nil
}

func scanPriceRows(rows pgx.Rows) ([]domain.PriceSample, error) {
	var samples []domain.PriceSample
	for rows.Next() {
		p, err := scanPriceFromRow(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

// Insert appends one price sample.
func (s *PriceStore) Insert(ctx context.Context, p domain.PriceSample) error {
	const query = `
		INSERT INTO price_samples (chain, address, symbol, price_usd, source, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		p.Chain, p.Address, p.Symbol, p.PriceUSD, p.Source, ts)
	if err != nil {
		return fmt.Errorf("postgres: insert price sample: %w", err)
	}
	return nil
}

// InsertBatch appends samples in one round trip. Validation happened upstream;
// the batch is all-or-nothing.
func (s *PriceStore) InsertBatch(ctx context.Context, samples []domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO price_samples (chain, address, symbol, price_usd, source, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	now := time.Now().UTC()
	for _, p := range samples {
		ts := p.Timestamp
		if ts.IsZero() {
			ts = now
		}
		batch.Queue(query, p.Chain, p.Address, p.Symbol, p.PriceUSD, p.Source, ts)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range samples {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert price batch: %w", err)
		}
	}
	return nil
}

// Latest returns the most recent sample for the token on the chain.
func (s *PriceStore) Latest(ctx context.Context, chain, address string) (domain.PriceSample, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+priceSelectCols+` FROM price_samples
		 WHERE chain = $1 AND address = $2
		 ORDER BY timestamp DESC LIMIT 1`, chain, address)

	p, err := scanPriceFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PriceSample{}, domain.ErrNotFound
		}
		return domain.PriceSample{}, fmt.Errorf("postgres: latest price %s/%s: %w", chain, address, err)
	}
	return p, nil
}

// RecentByChain returns the newest samples on a chain, most recent first.
// Trend triggers read this window.
func (s *PriceStore) RecentByChain(ctx context.Context, chain string, limit int) ([]domain.PriceSample, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+priceSelectCols+` FROM price_samples
		 WHERE chain = $1
		 ORDER BY timestamp DESC LIMIT $2`, chain, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent prices %s: %w", chain, err)
	}
	defer rows.Close()

	samples, err := scanPriceRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent prices: %w", err)
	}
	return samples, nil
}

// ListOlderThan returns up to limit samples with timestamp before the cutoff,
// oldest first. The archiver drains old rows through this.
func (s *PriceStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.PriceSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+priceSelectCols+` FROM price_samples
		 WHERE timestamp < $1
		 ORDER BY timestamp ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list old prices: %w", err)
	}
	defer rows.Close()

	samples, err := scanPriceRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan old prices: %w", err)
	}
	return samples, nil
}

// DeleteOlderThan removes samples with timestamp before the cutoff and
// returns the number of rows deleted.
func (s *PriceStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_samples WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete old prices: %w", err)
	}
	return tag.RowsAffected(), nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/copilfi/copil-sub001/internal/definition"
	"github.com/copilfi/copil-sub001/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a new StrategyStore backed by the given pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

var _ domain.StrategyStore = (*StrategyStore)(nil)

const strategySelectCols = `id, user_id, name, definition, schedule, is_active, created_at, updated_at`

func scanStrategyFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Strategy, error) {
	var st domain.Strategy
	var defRaw []byte

	err := scanner.Scan(&st.ID, &st.UserID, &st.Name, &defRaw,
		&st.Schedule, &st.IsActive, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return domain.Strategy{}, err
	}

	// Rows written before the canonical form still carry the legacy flat
	// shape; the parser upgrades them on the way out.
	st.Definition, err = definition.Parse(defRaw)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("decode definition: %w", err)
	}
	return st, nil
}

func scanStrategyRows(rows pgx.Rows) ([]domain.Strategy, error) {
	var strategies []domain.Strategy
	for rows.Next() {
		st, err := scanStrategyFromRow(rows)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, st)
	}
	return strategies, rows.Err()
}

// Create inserts a new strategy. The definition is stored in its canonical
// JSON form; callers run it through the definition parser first.
func (s *StrategyStore) Create(ctx context.Context, st domain.Strategy) (domain.Strategy, error) {
	defRaw, err := json.Marshal(st.Definition)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("postgres: encode definition: %w", err)
	}

	const query = `
		INSERT INTO strategies (user_id, name, definition, schedule, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err = s.pool.QueryRow(ctx, query,
		st.UserID, st.Name, defRaw, st.Schedule, st.IsActive,
	).Scan(&st.ID, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("postgres: create strategy: %w", err)
	}
	return st, nil
}

// GetByID retrieves a single strategy by ID.
func (s *StrategyStore) GetByID(ctx context.Context, id int64) (domain.Strategy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strategySelectCols+` FROM strategies WHERE id = $1`, id)

	st, err := scanStrategyFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %d: %w", id, err)
	}
	return st, nil
}

// ListActive returns active strategies ordered by id, paged via opts so the
// scheduler can walk large sets in stable batches.
func (s *StrategyStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Strategy, error) {
	query := `SELECT ` + strategySelectCols + ` FROM strategies WHERE is_active`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active strategies: %w", err)
	}
	defer rows.Close()

	strategies, err := scanStrategyRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active strategies: %w", err)
	}
	return strategies, nil
}

// SetActive flips the active flag. Deactivation is how one-shot strategies
// retire after a successful dispatch.
func (s *StrategyStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategies SET is_active = $1, updated_at = NOW() WHERE id = $2`,
		active, id)
	if err != nil {
		return fmt.Errorf("postgres: set strategy %d active=%t: %w", id, active, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountActive returns the number of active strategies.
func (s *StrategyStore) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM strategies WHERE is_active`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count active strategies: %w", err)
	}
	return n, nil
}

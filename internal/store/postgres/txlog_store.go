package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// TransactionLogStore implements domain.TransactionLogStore using PostgreSQL.
type TransactionLogStore struct {
	pool *pgxpool.Pool
}

// NewTransactionLogStore creates a new TransactionLogStore backed by the pool.
func NewTransactionLogStore(pool *pgxpool.Pool) *TransactionLogStore {
	return &TransactionLogStore{pool: pool}
}

var _ domain.TransactionLogStore = (*TransactionLogStore)(nil)

const txlogSelectCols = `id, user_id, strategy_id, description, tx_hash, chain, status, details, created_at`

func scanTxLogFromRow(scanner interface{ Scan(dest ...any) error }) (domain.TransactionLog, error) {
	var l domain.TransactionLog
	var status string
	var detailsRaw []byte

	err := scanner.Scan(&l.ID, &l.UserID, &l.StrategyID, &l.Description,
		&l.TxHash, &l.Chain, &status, &detailsRaw, &l.CreatedAt)
	if err != nil {
		return domain.TransactionLog{}, err
	}

	l.Status = domain.TxStatus(status)
	if len(detailsRaw) > 0 {
		if err := json.Unmarshal(detailsRaw, &l.Details); err != nil {
			return domain.TransactionLog{}, fmt.Errorf("decode details: %w", err)
		}
	}
	return l, nil
}

func scanTxLogRows(rows pgx.Rows) ([]domain.TransactionLog, error) {
	var logs []domain.TransactionLog
	for rows.Next() {
		l, err := scanTxLogFromRow(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Create inserts a new transaction log row and returns it with the generated
// ID. The idempotency key travels inside details.
func (s *TransactionLogStore) Create(ctx context.Context, l domain.TransactionLog) (domain.TransactionLog, error) {
	if l.Details == nil {
		l.Details = map[string]any{}
	}
	detailsRaw, err := json.Marshal(l.Details)
	if err != nil {
		return domain.TransactionLog{}, fmt.Errorf("postgres: encode details: %w", err)
	}

	const query = `
		INSERT INTO transaction_logs (user_id, strategy_id, description, tx_hash, chain, status, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err = s.pool.QueryRow(ctx, query,
		l.UserID, l.StrategyID, l.Description, l.TxHash, l.Chain, string(l.Status), detailsRaw,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return domain.TransactionLog{}, fmt.Errorf("postgres: create transaction log: %w", err)
	}
	return l, nil
}

// GetByID retrieves a single transaction log by ID.
func (s *TransactionLogStore) GetByID(ctx context.Context, id int64) (domain.TransactionLog, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txlogSelectCols+` FROM transaction_logs WHERE id = $1`, id)

	l, err := scanTxLogFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.TransactionLog{}, domain.ErrNotFound
		}
		return domain.TransactionLog{}, fmt.Errorf("postgres: get transaction log %d: %w", id, err)
	}
	return l, nil
}

// FindByIdempotencyKey returns the latest row whose details carry the key.
// Several rows may share one key (an ERC-20 approval precedes its main
// transaction); the newest row is the key's outcome. The expression index on
// details->>'idempotencyKey' serves this lookup.
func (s *TransactionLogStore) FindByIdempotencyKey(ctx context.Context, key string) (domain.TransactionLog, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txlogSelectCols+` FROM transaction_logs
		 WHERE details->>'idempotencyKey' = $1
		 ORDER BY id DESC LIMIT 1`, key)

	l, err := scanTxLogFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.TransactionLog{}, domain.ErrNotFound
		}
		return domain.TransactionLog{}, fmt.Errorf("postgres: find transaction log by key: %w", err)
	}
	return l, nil
}

// UpdateStatus sets the row's status and, when non-empty, its tx hash.
func (s *TransactionLogStore) UpdateStatus(ctx context.Context, id int64, status domain.TxStatus, txHash string) error {
	var query string
	var args []any
	if txHash != "" {
		query = `UPDATE transaction_logs SET status = $1, tx_hash = $2 WHERE id = $3`
		args = []any{string(status), txHash, id}
	} else {
		query = `UPDATE transaction_logs SET status = $1 WHERE id = $2`
		args = []any{string(status), id}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update transaction log %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByUser returns the user's transaction logs with pagination, newest first.
func (s *TransactionLogStore) ListByUser(ctx context.Context, userID int64, opts domain.ListOpts) ([]domain.TransactionLog, error) {
	return s.list(ctx, "user_id", userID, opts)
}

// ListByStrategy returns a strategy's transaction logs with pagination, newest first.
func (s *TransactionLogStore) ListByStrategy(ctx context.Context, strategyID int64, opts domain.ListOpts) ([]domain.TransactionLog, error) {
	return s.list(ctx, "strategy_id", strategyID, opts)
}

func (s *TransactionLogStore) list(ctx context.Context, col string, id int64, opts domain.ListOpts) ([]domain.TransactionLog, error) {
	query := `SELECT ` + txlogSelectCols + ` FROM transaction_logs WHERE ` + col + ` = $1`
	args := []any{id}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list transaction logs by %s: %w", col, err)
	}
	defer rows.Close()

	logs, err := scanTxLogRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transaction logs: %w", err)
	}
	return logs, nil
}

// ListOlderThan returns up to limit rows created before the cutoff, oldest
// first. The archiver drains retired rows through this.
func (s *TransactionLogStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.TransactionLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txlogSelectCols+` FROM transaction_logs
		 WHERE created_at < $1
		 ORDER BY created_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list old transaction logs: %w", err)
	}
	defer rows.Close()

	logs, err := scanTxLogRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan old transaction logs: %w", err)
	}
	return logs, nil
}

// DeleteOlderThan removes rows created before the cutoff and returns the
// number of rows deleted.
func (s *TransactionLogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM transaction_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete old transaction logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

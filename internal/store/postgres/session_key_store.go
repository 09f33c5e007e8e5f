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

// SessionKeyStore implements domain.SessionKeyStore using PostgreSQL.
type SessionKeyStore struct {
	pool *pgxpool.Pool
}

// NewSessionKeyStore creates a new SessionKeyStore backed by the given pool.
func NewSessionKeyStore(pool *pgxpool.Pool) *SessionKeyStore {
	return &SessionKeyStore{pool: pool}
}

var _ domain.SessionKeyStore = (*SessionKeyStore)(nil)

const sessionKeySelectCols = `id, user_id, public_key, permissions, vault_key_id,
	expires_at, is_active, created_at`

func scanSessionKeyFromRow(scanner interface{ Scan(dest ...any) error }) (domain.SessionKey, error) {
	var k domain.SessionKey
	var permsRaw []byte

	err := scanner.Scan(&k.ID, &k.UserID, &k.PublicKey, &permsRaw,
		&k.VaultKeyID, &k.ExpiresAt, &k.IsActive, &k.CreatedAt)
	if err != nil {
		return domain.SessionKey{}, err
	}

	if len(permsRaw) > 0 {
		if err := json.Unmarshal(permsRaw, &k.Permissions); err != nil {
			return domain.SessionKey{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return k, nil
}

// Create inserts a new session key and returns it with the generated ID.
func (s *SessionKeyStore) Create(ctx context.Context, k domain.SessionKey) (domain.SessionKey, error) {
	permsRaw, err := json.Marshal(k.Permissions)
	if err != nil {
		return domain.SessionKey{}, fmt.Errorf("postgres: encode permissions: %w", err)
	}

	const query = `
		INSERT INTO session_keys (user_id, public_key, permissions, vault_key_id, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err = s.pool.QueryRow(ctx, query,
		k.UserID, k.PublicKey, permsRaw, k.VaultKeyID, k.ExpiresAt, k.IsActive,
	).Scan(&k.ID, &k.CreatedAt)
	if err != nil {
		return domain.SessionKey{}, fmt.Errorf("postgres: create session key: %w", err)
	}
	return k, nil
}

// GetByID retrieves a single session key by ID.
func (s *SessionKeyStore) GetByID(ctx context.Context, id int64) (domain.SessionKey, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionKeySelectCols+` FROM session_keys WHERE id = $1`, id)

	k, err := scanSessionKeyFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SessionKey{}, domain.ErrNotFound
		}
		return domain.SessionKey{}, fmt.Errorf("postgres: get session key %d: %w", id, err)
	}
	return k, nil
}

// GetByPublicKey retrieves a session key by its public key.
func (s *SessionKeyStore) GetByPublicKey(ctx context.Context, publicKey string) (domain.SessionKey, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionKeySelectCols+` FROM session_keys WHERE public_key = $1`, publicKey)

	k, err := scanSessionKeyFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SessionKey{}, domain.ErrNotFound
		}
		return domain.SessionKey{}, fmt.Errorf("postgres: get session key by public key: %w", err)
	}
	return k, nil
}

// Deactivate marks the session key inactive. Executions referencing it fail
// permission checks from that point on.
func (s *SessionKeyStore) Deactivate(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE session_keys SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deactivate session key %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeactivateExpired deactivates every active key whose expiry has passed and
// returns how many rows changed.
func (s *SessionKeyStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE session_keys SET is_active = FALSE
		 WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: deactivate expired session keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

var _ domain.UserStore = (*UserStore)(nil)

const userSelectCols = `id, external_identity_id, email, created_at`

func scanUserFromRow(scanner interface{ Scan(dest ...any) error }) (domain.User, error) {
	var u domain.User
	err := scanner.Scan(&u.ID, &u.ExternalIdentityID, &u.Email, &u.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Create inserts a new user and returns it with the generated ID and timestamp.
func (s *UserStore) Create(ctx context.Context, u domain.User) (domain.User, error) {
	const query = `
		INSERT INTO users (external_identity_id, email)
		VALUES ($1, $2)
		RETURNING id, created_at`

	err := s.pool.QueryRow(ctx, query, u.ExternalIdentityID, u.Email).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: create user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a single user by ID.
func (s *UserStore) GetByID(ctx context.Context, id int64) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = $1`, id)

	u, err := scanUserFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %d: %w", id, err)
	}
	return u, nil
}

// GetByExternalIdentity retrieves a user by its external identity id.
func (s *UserStore) GetByExternalIdentity(ctx context.Context, externalID string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE external_identity_id = $1`, externalID)

	u, err := scanUserFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user by identity: %w", err)
	}
	return u, nil
}

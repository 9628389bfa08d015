package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusverse/campus/backend-go/internal/auth"
)

const userColumns = `id, username, player_name, email, password_hash, avatar_id, created_at`

// UserStore implements auth.Store on Postgres.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func (s *UserStore) CreateUser(ctx context.Context, u auth.StoredUser) (auth.StoredUser, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, player_name, email, password_hash, avatar_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		u.ID, u.Username, u.PlayerName, u.Email, u.PasswordHash, u.AvatarID, u.CreatedAt,
	)
	created, err := scanUser(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return auth.StoredUser{}, auth.ErrEmailTaken
		}
		return auth.StoredUser{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (auth.StoredUser, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return lookup(row, "get user by email")
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (auth.StoredUser, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return lookup(row, "get user by id")
}

func (s *UserStore) UpdateProfile(ctx context.Context, id, playerName, avatarID string) (auth.StoredUser, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET player_name = $2, avatar_id = $3
		WHERE id = $1
		RETURNING `+userColumns,
		id, playerName, avatarID,
	)
	return lookup(row, "update profile")
}

func lookup(row pgx.Row, op string) (auth.StoredUser, error) {
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.StoredUser{}, auth.ErrUserNotFound
		}
		return auth.StoredUser{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (auth.StoredUser, error) {
	var u auth.StoredUser
	err := row.Scan(&u.ID, &u.Username, &u.PlayerName, &u.Email, &u.PasswordHash, &u.AvatarID, &u.CreatedAt)
	return u, err
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/bytecinema/cinema-auth/app/entity"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO users (email, name, password_hash, is_verified, refresh_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.IsVerified,
		user.RefreshToken,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	user.ID = uint64(id)
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	query := `
		SELECT id, email, name, password_hash, is_verified, refresh_token, created_at, updated_at
		FROM users WHERE email = ?
	`
	user := &entity.User{}
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.IsVerified,
		&user.RefreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*entity.User, error) {
	query := `
		SELECT id, email, name, password_hash, is_verified, refresh_token, created_at, updated_at
		FROM users WHERE id = ?
	`
	user := &entity.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.IsVerified,
		&user.RefreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByRefreshToken returns the user only when the stored refresh token value
// matches token byte for byte. A well-formed token that has been superseded or
// cleared yields no row.
func (r *UserRepository) FindByRefreshToken(ctx context.Context, token, email string) (*entity.User, error) {
	query := `
		SELECT id, email, name, password_hash, is_verified, refresh_token, created_at, updated_at
		FROM users WHERE email = ? AND refresh_token = ?
	`
	user := &entity.User{}
	err := r.db.QueryRowContext(ctx, query, email, token).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.IsVerified,
		&user.RefreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) UpdateRefreshToken(ctx context.Context, email string, token sql.NullString) error {
	query := `UPDATE users SET refresh_token = ?, updated_at = ? WHERE email = ?`
	_, err := r.db.ExecContext(ctx, query, token, time.Now(), email)
	return err
}

// RotateRefreshToken swaps oldToken for newToken only if oldToken is still the
// stored value. Returns the number of rows updated; 0 means another rotation
// won the race and oldToken is no longer valid.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, email, oldToken, newToken string) (int64, error) {
	query := `UPDATE users SET refresh_token = ?, updated_at = ? WHERE email = ? AND refresh_token = ?`
	result, err := r.db.ExecContext(ctx, query, newToken, time.Now(), email, oldToken)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *UserRepository) SetVerified(ctx context.Context, email string) error {
	query := `UPDATE users SET is_verified = ?, updated_at = ? WHERE email = ?`
	_, err := r.db.ExecContext(ctx, query, true, time.Now(), email)
	return err
}

func (r *UserRepository) Delete(ctx context.Context, id uint64) (int64, error) {
	query := `DELETE FROM users WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

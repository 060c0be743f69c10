package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, name, email, username, password_hash`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Username, &user.PasswordHash)
	return user, err
}

func (s *SQLStore) CreateUser(ctx context.Context, user User) (User, error) {
	id, err := s.insertID(ctx, `
		INSERT INTO users (name, email, username, password_hash)
		VALUES (?, ?, ?, ?)`,
		user.Name, user.Email, user.Username, user.PasswordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("insert user: %w", ErrDuplicate)
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	user.ID = id
	return user, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	return scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (s *SQLStore) UpdateUser(ctx context.Context, userID int64, patch UserPatch) (User, error) {
	var set setClause
	if patch.Name != nil {
		set.add("name", *patch.Name)
	}
	if patch.Email != nil {
		set.add("email", *patch.Email)
	}
	if patch.Username != nil {
		set.add("username", *patch.Username)
	}
	if patch.PasswordHash != nil {
		set.add("password_hash", *patch.PasswordHash)
	}
	affected, err := s.updateRow(ctx, "users", userID, set)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("update user: %w", ErrDuplicate)
		}
		return User{}, fmt.Errorf("update user: %w", err)
	}
	if affected == 0 && !set.empty() {
		return User{}, sql.ErrNoRows
	}
	return s.GetUserByID(ctx, userID)
}

func (s *SQLStore) SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (token_hash) DO UPDATE SET user_id = excluded.user_id, expires_at = excluded.expires_at, revoked_at = NULL
	`, tokenHash, userID, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *SQLStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.exec(ctx, `UPDATE refresh_sessions SET revoked_at = ? WHERE token_hash = ?`, time.Now().Unix(), tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *SQLStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	return scanUser(s.queryRow(ctx, `
		SELECT u.id, u.name, u.email, u.username, u.password_hash
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = ?
			AND rs.revoked_at IS NULL
			AND rs.expires_at > ?
	`, tokenHash, time.Now().Unix()))
}

func (s *SQLStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES (?, ?)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp.Unix())
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *SQLStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(1) FROM revoked_access_tokens WHERE jti = ?`, jti).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return count > 0, nil
}

func (s *SQLStore) CreatePasswordReset(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES (?, ?, ?)
	`, tokenHash, userID, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

// ConsumePasswordReset marks an unexpired, unused reset token as used and
// returns its user id in one statement, so a token is consumed at most once.
// Unknown, expired or already used tokens yield sql.ErrNoRows.
func (s *SQLStore) ConsumePasswordReset(ctx context.Context, tokenHash string) (int64, error) {
	now := time.Now().Unix()
	var userID int64
	err := s.queryRow(ctx, `
		UPDATE password_resets SET used_at = ?
		WHERE token_hash = ? AND used_at IS NULL AND expires_at > ?
		RETURNING user_id
	`, now, tokenHash, now).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("consume password reset: %w", err)
	}
	return userID, nil
}

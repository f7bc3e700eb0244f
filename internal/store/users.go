package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dhatri/internal/models"
)

const userColumns = `id,name,email,password_hash,role,phone,is_active,is_email_verified,failed_login_attempts,lock_until,last_login,password_changed_at,created_at,updated_at`

// CreateUser inserts u. A duplicate email yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO users(`+userColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), nullString(u.Phone), u.IsActive, u.IsEmailVerified,
		u.FailedLoginAttempts, nullTime(u.LockUntil), nullTime(u.LastLogin), nullTime(u.PasswordChangedAt),
		u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return models.User{}, ErrConflict
	}
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// EnsureAdmin creates u as an admin, or promotes and reactivates the existing
// account with the same email.
func (s *Store) EnsureAdmin(ctx context.Context, u models.User) error {
	existing, err := s.GetUserByEmail(ctx, u.Email)
	if err == ErrNotFound {
		u.Role = models.RoleAdmin
		u.IsActive = true
		_, err = s.CreateUser(ctx, u)
		return err
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`UPDATE users SET role='admin', is_active=TRUE, password_hash=?, password_changed_at=?, updated_at=? WHERE id=?`),
		u.PasswordHash, nullTime(u.PasswordChangedAt), time.Now().UTC(), existing.ID,
	)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE email=?`), strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id=?`), id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	var role string
	var phone sql.NullString
	var lockUntil, lastLogin, pwChanged sql.NullTime
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &phone, &u.IsActive, &u.IsEmailVerified,
		&u.FailedLoginAttempts, &lockUntil, &lastLogin, &pwChanged, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	u.Role = models.Role(role)
	u.Phone = stringPtr(phone)
	u.LockUntil = timePtr(lockUntil)
	u.LastLogin = timePtr(lastLogin)
	u.PasswordChangedAt = timePtr(pwChanged)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

// SaveLockState persists the lockout counter and lock deadline.
func (s *Store) SaveLockState(ctx context.Context, userID string, attempts int, lockUntil *time.Time, now time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE users SET failed_login_attempts=?, lock_until=?, updated_at=? WHERE id=?`),
		attempts, nullTime(lockUntil), now.UTC(), userID,
	)
	return affectedOne(res, err)
}

// RecordLoginFailure applies one failed attempt in place and returns the
// resulting row. An expired lock restarts the count at 1. Reaching
// maxAttempts while unlocked sets lock_until to now+lockFor; locked is true
// only for the call that set it.
func (s *Store) RecordLoginFailure(ctx context.Context, userID string, maxAttempts int, lockFor time.Duration, now time.Time) (models.User, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.User{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// lock_until is assigned last: mysql evaluates SET left to right.
	res, err := tx.ExecContext(ctx, s.q(
		`UPDATE users SET
			failed_login_attempts = CASE WHEN lock_until IS NOT NULL AND lock_until<=? THEN 1 ELSE failed_login_attempts+1 END,
			lock_until = CASE WHEN lock_until IS NOT NULL AND lock_until<=? THEN NULL ELSE lock_until END,
			updated_at=?
		WHERE id=?`),
		now.UTC(), now.UTC(), now.UTC(), userID,
	)
	if err := affectedOne(res, err); err != nil {
		return models.User{}, false, err
	}

	res, err = tx.ExecContext(ctx, s.q(
		`UPDATE users SET lock_until=? WHERE id=? AND lock_until IS NULL AND failed_login_attempts>=?`),
		now.Add(lockFor).UTC(), userID, maxAttempts,
	)
	if err != nil {
		return models.User{}, false, fmt.Errorf("lock account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.User{}, false, err
	}

	u, err := scanUser(tx.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id=?`), userID))
	if err != nil {
		return models.User{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return models.User{}, false, err
	}
	return u, n == 1, nil
}

// RecordLoginSuccess clears lockout state and stamps last_login.
func (s *Store) RecordLoginSuccess(ctx context.Context, userID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE users SET failed_login_attempts=0, lock_until=NULL, last_login=?, updated_at=? WHERE id=?`),
		now.UTC(), now.UTC(), userID,
	)
	return affectedOne(res, err)
}

func (s *Store) UpdatePassword(ctx context.Context, userID, hash string, changedAt, now time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE users SET password_hash=?, password_changed_at=?, updated_at=? WHERE id=?`),
		hash, changedAt.UTC(), now.UTC(), userID,
	)
	return affectedOne(res, err)
}

func (s *Store) SetUserActive(ctx context.Context, userID string, active bool, now time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET is_active=?, updated_at=? WHERE id=?`), active, now.UTC(), userID)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

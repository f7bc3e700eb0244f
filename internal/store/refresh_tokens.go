package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dhatri/internal/models"
)

const refreshColumns = `id,user_id,token_hash,device_info,ip_address,expires_at,is_revoked,revoked_at,revoked_reason,created_at`

func (s *Store) InsertRefreshToken(ctx context.Context, t models.RefreshToken) error {
	return insertRefreshToken(ctx, s.db, s.q, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, ex execer, q func(string) string, t models.RefreshToken) error {
	_, err := ex.ExecContext(ctx, q(
		`INSERT INTO refresh_tokens(`+refreshColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`),
		t.ID, t.UserID, t.TokenHash, t.DeviceInfo, t.IPAddress, t.ExpiresAt.UTC(), t.IsRevoked,
		nullTime(t.RevokedAt), nullString(t.RevokedReason), t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// FindActiveRefreshToken returns the unrevoked, unexpired row of userID whose
// digest equals tokenHash.
func (s *Store) FindActiveRefreshToken(ctx context.Context, userID, tokenHash string, now time.Time) (models.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT `+refreshColumns+` FROM refresh_tokens WHERE user_id=? AND token_hash=? AND is_revoked=FALSE AND expires_at>?`),
		userID, tokenHash, now.UTC(),
	)
	t, err := scanRefreshToken(row.Scan)
	if err == sql.ErrNoRows {
		return models.RefreshToken{}, ErrNotFound
	}
	return t, err
}

func (s *Store) GetRefreshToken(ctx context.Context, id string) (models.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+refreshColumns+` FROM refresh_tokens WHERE id=?`), id)
	t, err := scanRefreshToken(row.Scan)
	if err == sql.ErrNoRows {
		return models.RefreshToken{}, ErrNotFound
	}
	return t, err
}

func (s *Store) ListActiveRefreshTokens(ctx context.Context, userID string, now time.Time) ([]models.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+refreshColumns+` FROM refresh_tokens WHERE user_id=? AND is_revoked=FALSE AND expires_at>? ORDER BY created_at DESC`),
		userID, now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanRefreshToken(scan func(dest ...any) error) (models.RefreshToken, error) {
	var t models.RefreshToken
	var revokedAt sql.NullTime
	var reason sql.NullString
	if err := scan(&t.ID, &t.UserID, &t.TokenHash, &t.DeviceInfo, &t.IPAddress, &t.ExpiresAt, &t.IsRevoked, &revokedAt, &reason, &t.CreatedAt); err != nil {
		return models.RefreshToken{}, err
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.RevokedAt = timePtr(revokedAt)
	t.RevokedReason = stringPtr(reason)
	return t, nil
}

// RevokeRefreshToken revokes one row if it is still live. It reports false
// when the row was already revoked or does not exist.
func (s *Store) RevokeRefreshToken(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	return revokeRefreshToken(ctx, s.db, s.q, id, reason, now)
}

func revokeRefreshToken(ctx context.Context, ex execer, q func(string) string, id, reason string, now time.Time) (bool, error) {
	res, err := ex.ExecContext(ctx, q(
		`UPDATE refresh_tokens SET is_revoked=TRUE, revoked_at=?, revoked_reason=? WHERE id=? AND is_revoked=FALSE`),
		now.UTC(), reason, id,
	)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RotateRefreshToken revokes oldID and inserts next in one transaction. If
// oldID was already revoked nothing is written and ErrConflict is returned.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID, reason string, next models.RefreshToken, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := revokeRefreshToken(ctx, tx, s.q, oldID, reason, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if err := insertRefreshToken(ctx, tx, s.q, next); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeUserRefreshTokens revokes every live row of userID in one statement.
func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID, reason string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE refresh_tokens SET is_revoked=TRUE, revoked_at=?, revoked_reason=? WHERE user_id=? AND is_revoked=FALSE`),
		now.UTC(), reason, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteStaleRefreshTokens removes expired rows and rows revoked before
// revokedBefore.
func (s *Store) DeleteStaleRefreshTokens(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM refresh_tokens WHERE expires_at<=? OR (is_revoked=TRUE AND revoked_at<?)`),
		now.UTC(), revokedBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

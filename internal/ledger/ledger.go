// Package ledger keeps the server-side record of issued refresh tokens. Only
// SHA-256 digests are stored; the plaintext leaves the process once, in the
// refresh cookie.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dhatri/internal/auth"
	"dhatri/internal/models"
	"dhatri/internal/store"
)

// ErrInvalidToken covers every redeem failure: bad signature, unknown,
// revoked or expired row, digest mismatch, missing or inactive owner.
var ErrInvalidToken = errors.New("invalid or expired refresh token")

const (
	ReasonRotated     = "Token rotated"
	ReasonLogout      = "User logout"
	ReasonLogoutAll   = "Logout all devices"
	ReasonPassword    = "Password changed"
	ReasonDeactivated = "Account deactivated"
	ReasonSession     = "Session revoked"
)

const DefaultRevokedRetention = 30 * 24 * time.Hour

type Store interface {
	InsertRefreshToken(ctx context.Context, t models.RefreshToken) error
	FindActiveRefreshToken(ctx context.Context, userID, tokenHash string, now time.Time) (models.RefreshToken, error)
	GetRefreshToken(ctx context.Context, id string) (models.RefreshToken, error)
	ListActiveRefreshTokens(ctx context.Context, userID string, now time.Time) ([]models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id, reason string, now time.Time) (bool, error)
	RotateRefreshToken(ctx context.Context, oldID, reason string, next models.RefreshToken, now time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID, reason string, now time.Time) (int64, error)
	DeleteStaleRefreshTokens(ctx context.Context, now, revokedBefore time.Time) (int64, error)
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (models.User, error)
}

// Meta describes the client a token is issued to.
type Meta struct {
	DeviceInfo string
	IP         string
}

type Ledger struct {
	store     Store
	users     Users
	codec     *auth.Codec
	retention time.Duration
	now       func() time.Time
}

func New(st Store, users Users, codec *auth.Codec, revokedRetention time.Duration, now func() time.Time) *Ledger {
	if revokedRetention <= 0 {
		revokedRetention = DefaultRevokedRetention
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{store: st, users: users, codec: codec, retention: revokedRetention, now: now}
}

func (l *Ledger) mint(userID string, meta Meta) (string, models.RefreshToken, error) {
	raw, claims, err := l.codec.SignRefresh(userID)
	if err != nil {
		return "", models.RefreshToken{}, err
	}
	row := models.RefreshToken{
		ID:         uuid.NewString(),
		UserID:     userID,
		TokenHash:  auth.HashToken(raw),
		DeviceInfo: meta.DeviceInfo,
		IPAddress:  meta.IP,
		ExpiresAt:  claims.ExpiresAt.Time.UTC(),
		CreatedAt:  l.now(),
	}
	return raw, row, nil
}

// Issue mints a refresh token for userID and records its digest.
func (l *Ledger) Issue(ctx context.Context, userID string, meta Meta) (string, models.RefreshToken, error) {
	raw, row, err := l.mint(userID, meta)
	if err != nil {
		return "", models.RefreshToken{}, err
	}
	if err := l.store.InsertRefreshToken(ctx, row); err != nil {
		return "", models.RefreshToken{}, err
	}
	return raw, row, nil
}

// Redeem resolves a presented refresh token to its live ledger row and owner.
func (l *Ledger) Redeem(ctx context.Context, raw string) (models.User, models.RefreshToken, error) {
	claims, err := l.codec.VerifyRefresh(raw)
	if err != nil {
		return models.User{}, models.RefreshToken{}, ErrInvalidToken
	}
	digest := auth.HashToken(raw)
	row, err := l.store.FindActiveRefreshToken(ctx, claims.UserID, digest, l.now())
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, models.RefreshToken{}, ErrInvalidToken
	}
	if err != nil {
		return models.User{}, models.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	if !row.Usable(l.now()) || !auth.TokenMatches(raw, row.TokenHash) {
		return models.User{}, models.RefreshToken{}, ErrInvalidToken
	}
	u, err := l.users.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, models.RefreshToken{}, ErrInvalidToken
	}
	if err != nil {
		return models.User{}, models.RefreshToken{}, fmt.Errorf("load token owner: %w", err)
	}
	if !u.IsActive {
		return models.User{}, models.RefreshToken{}, ErrInvalidToken
	}
	return u, row, nil
}

// Rotate revokes old and issues its successor atomically. A concurrent
// rotation of the same row loses with ErrInvalidToken.
func (l *Ledger) Rotate(ctx context.Context, old models.RefreshToken, meta Meta) (string, models.RefreshToken, error) {
	raw, next, err := l.mint(old.UserID, meta)
	if err != nil {
		return "", models.RefreshToken{}, err
	}
	err = l.store.RotateRefreshToken(ctx, old.ID, ReasonRotated, next, l.now())
	if errors.Is(err, store.ErrConflict) {
		return "", models.RefreshToken{}, ErrInvalidToken
	}
	if err != nil {
		return "", models.RefreshToken{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	return raw, next, nil
}

// Revoke marks row revoked. Revoking an already revoked row is not an error.
func (l *Ledger) Revoke(ctx context.Context, row models.RefreshToken, reason string) error {
	_, err := l.store.RevokeRefreshToken(ctx, row.ID, reason, l.now())
	return err
}

// RevokeToken revokes the live row matching raw and returns its owner. The
// owner is empty when nothing was revoked: undecodable, unknown, or already
// revoked tokens are ignored.
func (l *Ledger) RevokeToken(ctx context.Context, raw, reason string) (string, error) {
	claims, err := l.codec.VerifyRefresh(raw)
	if err != nil {
		return "", nil
	}
	row, err := l.store.FindActiveRefreshToken(ctx, claims.UserID, auth.HashToken(raw), l.now())
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	ok, err := l.store.RevokeRefreshToken(ctx, row.ID, reason, l.now())
	if err != nil || !ok {
		return "", err
	}
	return claims.UserID, nil
}

// RevokeAllForUser revokes every live row of userID in one bulk update.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	return l.store.RevokeUserRefreshTokens(ctx, userID, reason, l.now())
}

// Sessions lists the live rows of userID, newest first.
func (l *Ledger) Sessions(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	return l.store.ListActiveRefreshTokens(ctx, userID, l.now())
}

// RevokeSession revokes one row owned by userID. Rows of other users look
// like missing rows.
func (l *Ledger) RevokeSession(ctx context.Context, userID, sessionID string) error {
	row, err := l.store.GetRefreshToken(ctx, sessionID)
	if err != nil {
		return err
	}
	if row.UserID != userID {
		return store.ErrNotFound
	}
	return l.Revoke(ctx, row, ReasonSession)
}

// Cleanup deletes expired rows and rows revoked longer than the retention
// window.
func (l *Ledger) Cleanup(ctx context.Context) (int64, error) {
	now := l.now()
	return l.store.DeleteStaleRefreshTokens(ctx, now, now.Add(-l.retention))
}

package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"dhatri/internal/apperr"
	"dhatri/internal/ledger"
	"dhatri/internal/models"
	"dhatri/internal/store"
)

const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 200
	DefaultFailedWindow  = 24 * time.Hour
)

// ChangePassword verifies the current password, stores the new digest,
// revokes every refresh token of the user and issues a fresh pair for the
// caller. Access tokens minted before the change stop working once the strict
// token check is enabled.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string, m Meta) (AuthResult, error) {
	if errs := validatePasswordChange(current, next); len(errs) > 0 {
		return AuthResult{}, apperr.Invalid(errs...)
	}
	u, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return AuthResult{}, err
	}
	ok, err := s.hasher.Verify(current, u.PasswordHash)
	if err != nil {
		return AuthResult{}, apperr.Internalf(err, "verify password")
	}
	if !ok {
		s.record(ctx, models.AuditPasswordChange, u.ID, m, false, "Current password is incorrect", nil)
		return AuthResult{}, apperr.New(apperr.InvalidCredentials, "Current password is incorrect")
	}

	now := s.now()
	if err := s.hasher.SetPassword(&u, next, now); err != nil {
		return AuthResult{}, apperr.Internalf(err, "hash password")
	}
	if err := s.st.UpdatePassword(ctx, u.ID, u.PasswordHash, *u.PasswordChangedAt, now); err != nil {
		return AuthResult{}, apperr.Internalf(err, "update password")
	}
	n, err := s.ledger.RevokeAllForUser(ctx, u.ID, ledger.ReasonPassword)
	if err != nil {
		return AuthResult{}, apperr.Internalf(err, "revoke sessions")
	}
	res, err := s.issue(ctx, u, m)
	if err != nil {
		return AuthResult{}, err
	}
	s.record(ctx, models.AuditPasswordChange, u.ID, m, true, "", map[string]any{"revokedSessions": n})
	return res, nil
}

// UnlockUser clears the lockout state of userID on behalf of actorID.
func (s *Service) UnlockUser(ctx context.Context, actorID, userID string, m Meta) error {
	if _, err := s.CurrentUser(ctx, userID); err != nil {
		return err
	}
	if err := s.lockout.Unlock(ctx, userID); err != nil {
		return apperr.Internalf(err, "unlock user")
	}
	s.record(ctx, models.AuditAccountUnlocked, userID, m, true, "", map[string]any{"unlockedBy": actorID})
	return nil
}

// SetActive activates or deactivates userID. Deactivation revokes every
// refresh token of the account. Admins cannot deactivate themselves.
func (s *Service) SetActive(ctx context.Context, actorID, userID string, active bool, m Meta) error {
	if !active && actorID == userID {
		return apperr.Invalid(apperr.FieldError{Field: "userId", Message: "You cannot deactivate your own account"})
	}
	if _, err := s.CurrentUser(ctx, userID); err != nil {
		return err
	}
	if err := s.st.SetUserActive(ctx, userID, active, s.now()); err != nil {
		return apperr.Internalf(err, "update user status")
	}
	meta := map[string]any{"changedBy": actorID, "isActive": active}
	if !active {
		n, err := s.ledger.RevokeAllForUser(ctx, userID, ledger.ReasonDeactivated)
		if err != nil {
			return apperr.Internalf(err, "revoke sessions")
		}
		meta["revokedSessions"] = n
	}
	s.record(ctx, models.AuditDataModification, userID, m, true, "", meta)
	s.log.Info("account status changed", zap.String("user_id", userID), zap.Bool("active", active), zap.String("by", actorID))
	return nil
}

// Sessions lists the live refresh sessions of userID.
func (s *Service) Sessions(ctx context.Context, userID string) ([]models.Session, error) {
	rows, err := s.ledger.Sessions(ctx, userID)
	if err != nil {
		return nil, apperr.Internalf(err, "list sessions")
	}
	out := make([]models.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Session())
	}
	return out, nil
}

func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string, m Meta) error {
	err := s.ledger.RevokeSession(ctx, userID, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.NotFound, "Session not found")
	}
	if err != nil {
		return apperr.Internalf(err, "revoke session")
	}
	s.record(ctx, models.AuditLogout, userID, m, true, "", map[string]any{"logoutType": "session", "sessionId": sessionID})
	return nil
}

// Activity returns the newest audit entries of userID.
func (s *Service) Activity(ctx context.Context, userID string, limit int) ([]models.AuditEntry, error) {
	entries, err := s.st.ListAuditByUser(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, apperr.Internalf(err, "list activity")
	}
	return entries, nil
}

// FailedLogins returns FAILED_LOGIN entries recorded within window.
func (s *Service) FailedLogins(ctx context.Context, window time.Duration, limit int) ([]models.AuditEntry, error) {
	if window <= 0 {
		window = DefaultFailedWindow
	}
	entries, err := s.st.ListAuditByAction(ctx, models.AuditFailedLogin, s.now().Add(-window), clampLimit(limit))
	if err != nil {
		return nil, apperr.Internalf(err, "list failed logins")
	}
	return entries, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultActivityLimit
	case n > MaxActivityLimit:
		return MaxActivityLimit
	}
	return n
}

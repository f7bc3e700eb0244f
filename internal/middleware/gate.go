package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dhatri/internal/apperr"
	"dhatri/internal/audit"
	"dhatri/internal/auth"
	"dhatri/internal/models"
	"dhatri/internal/store"
)

type UserLoader interface {
	GetUserByID(ctx context.Context, id string) (models.User, error)
}

// Gate authenticates bearer access tokens and guards routes by role and
// ownership. With Strict set every request reloads the account.
type Gate struct {
	Codec  *auth.Codec
	Users  UserLoader
	Strict bool
	Audit  audit.Logger
	Resp   Responder
	Now    func() time.Time
}

func (g Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (g Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			g.Resp.Fail(w, r, apperr.New(apperr.NotAuthenticated, "Access token is required"))
			return
		}
		claims, err := g.Codec.VerifyAccess(raw)
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			g.rejectToken(r, err)
			g.Resp.Fail(w, r, apperr.Wrap(apperr.TokenExpired, "Access token expired", err))
			return
		case err != nil:
			g.rejectToken(r, err)
			g.Resp.Fail(w, r, apperr.Wrap(apperr.InvalidToken, "Invalid access token", err))
			return
		}
		ctx := WithClaims(r.Context(), claims)

		if g.Strict {
			u, err := g.Users.GetUserByID(ctx, claims.UserID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				g.Resp.Fail(w, r, apperr.New(apperr.NotAuthenticated, "User no longer exists"))
				return
			case err != nil:
				g.Resp.Fail(w, r, apperr.Internalf(err, "load user"))
				return
			case !u.IsActive:
				g.Resp.Fail(w, r, apperr.New(apperr.AccountDeactivated, "Account has been deactivated. Please contact support."))
				return
			case u.IsLocked(g.now()):
				mins := int(math.Ceil(u.LockUntil.Sub(g.now()).Minutes()))
				g.Resp.Fail(w, r, apperr.Newf(apperr.AccountLocked, "Account is locked. Try again in %d minutes.", mins))
				return
			case claims.IssuedAt != nil && u.PasswordChangedAfter(claims.IssuedAt.Time):
				g.Resp.Fail(w, r, apperr.New(apperr.PasswordChanged, "Password recently changed. Please log in again."))
				return
			}
			// Claims follow the stored role so demotions apply at once.
			claims.Role = u.Role
			ctx = WithUser(ctx, u)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authorize admits callers whose role is in roles.
func (g Gate) Authorize(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := Claims(r.Context())
			if !ok {
				g.Resp.Fail(w, r, apperr.New(apperr.NotAuthenticated, "Authentication required"))
				return
			}
			if !slices.Contains(roles, claims.Role) {
				g.deny(r, claims, map[string]any{
					"userRole":       string(claims.Role),
					"requiredRoles":  roleNames(roles),
					"attemptedRoute": r.Method + " " + r.URL.Path,
				})
				g.Resp.Fail(w, r, apperr.New(apperr.InsufficientPermissions, "Insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckOwnership admits callers whose id equals the route parameter param.
// Admins always pass.
func (g Gate) CheckOwnership(param string) func(http.Handler) http.Handler {
	return g.CheckOwnershipOrRole(param, models.RoleAdmin)
}

// CheckOwnershipOrRole admits the owner of the route parameter param or any
// caller holding one of roles.
func (g Gate) CheckOwnershipOrRole(param string, roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := Claims(r.Context())
			if !ok {
				g.Resp.Fail(w, r, apperr.New(apperr.NotAuthenticated, "Authentication required"))
				return
			}
			target := chi.URLParam(r, param)
			if target == claims.UserID || slices.Contains(roles, claims.Role) {
				next.ServeHTTP(w, r)
				return
			}
			g.deny(r, claims, map[string]any{
				"userRole":       string(claims.Role),
				"targetUserId":   target,
				"attemptedRoute": r.Method + " " + r.URL.Path,
			})
			g.Resp.Fail(w, r, apperr.New(apperr.NotAuthorized, "You are not authorized to access this resource"))
		})
	}
}

// rejectToken audits a bearer token that failed verification. The caller is
// unknown at this point.
func (g Gate) rejectToken(r *http.Request, err error) {
	if g.Audit == nil {
		return
	}
	e := audit.Entry(models.AuditUnauthorizedAccess, "", IP(r.Context()), r.UserAgent(), false)
	msg := err.Error()
	e.ErrorMessage = &msg
	e.Metadata = map[string]any{"attemptedRoute": r.Method + " " + r.URL.Path}
	g.Audit.LogEvent(r.Context(), e)
}

func (g Gate) deny(r *http.Request, claims *auth.AccessClaims, meta map[string]any) {
	if g.Audit == nil {
		return
	}
	e := audit.Entry(models.AuditUnauthorizedAccess, claims.UserID, IP(r.Context()), r.UserAgent(), false)
	e.Metadata = meta
	g.Audit.LogEvent(r.Context(), e)
}

func roleNames(roles []models.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

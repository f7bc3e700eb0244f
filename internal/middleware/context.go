package middleware

import (
	"context"
	"net/http"

	"dhatri/internal/auth"
	"dhatri/internal/models"
)

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxClientIP  ctxKey = "client_ip"
	ctxClaims    ctxKey = "claims"
	ctxUser      ctxKey = "user"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxClientIP, ip)
}

// IP returns the client address resolved by RealIP.
func IP(ctx context.Context) string {
	v, _ := ctx.Value(ctxClientIP).(string)
	return v
}

func WithClaims(ctx context.Context, c *auth.AccessClaims) context.Context {
	return context.WithValue(ctx, ctxClaims, c)
}

// Claims returns the verified access claims of the caller.
func Claims(ctx context.Context) (*auth.AccessClaims, bool) {
	c, ok := ctx.Value(ctxClaims).(*auth.AccessClaims)
	return c, ok && c != nil
}

func UserID(ctx context.Context) string {
	if c, ok := Claims(ctx); ok {
		return c.UserID
	}
	return ""
}

// WithUser attaches the freshly loaded account under strict token checking.
func WithUser(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, ctxUser, u)
}

func User(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(ctxUser).(models.User)
	return u, ok
}

func SecurityHeaders(production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if production {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dhatri/internal/apperr"
	"dhatri/internal/logging"
	"dhatri/internal/rate"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()
		r = r.WithContext(WithRequestID(r.Context(), rid))
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

// RealIP resolves the client address once per request and stores it in the
// context for limiters, guards and audit entries.
func RealIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(WithClientIP(r.Context(), ClientIP(r, trustProxy)))
			next.ServeHTTP(w, r)
		})
	}
}

func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = logging.OrNop(log).Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sr.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
				zap.String("remote_ip", IP(r.Context())),
				zap.String("user_id", UserID(r.Context())),
			)
		})
	}
}

// Rule is one route family limit.
type Rule struct {
	Name    string
	Limit   int
	Window  time.Duration
	Kind    apperr.Kind
	Message string
	// FailuresOnly hands the hit back when the response is below 400.
	FailuresOnly bool
}

func RateLimit(l *rate.Limiter, rule Rule, resp Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rule.Name + ":" + IP(r.Context())
			ok, retry := l.Allow(key, rule.Limit, rule.Window)
			if !ok {
				setRetryAfter(w, retry)
				resp.Fail(w, r, apperr.New(rule.Kind, rule.Message))
				return
			}
			if !rule.FailuresOnly {
				next.ServeHTTP(w, r)
				return
			}
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			if sr.status < http.StatusBadRequest {
				l.Release(key)
			}
		})
	}
}

// BruteForce records every attempt from the client address and rejects the
// address once the counter reports it blocked. Counter failures let the
// request through; per-account lockout still applies.
func BruteForce(c rate.AttemptCounter, resp Responder) func(http.Handler) http.Handler {
	log := logging.OrNop(resp.Log).Named("bruteforce")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := IP(ctx)
			blocked, retry, err := c.IsBlocked(ctx, ip)
			if err != nil {
				log.Warn("attempt counter unavailable", zap.String("ip", ip), zap.Error(err))
			}
			if blocked {
				setRetryAfter(w, retry)
				mins := int(math.Ceil(retry.Minutes()))
				resp.Fail(w, r, apperr.Newf(apperr.BruteForce,
					"Too many failed attempts. Please try again in %d minutes.", max(mins, 1)))
				return
			}
			if err := c.RecordAttempt(ctx, ip); err != nil {
				log.Warn("record attempt failed", zap.String("ip", ip), zap.Error(err))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
}

// Recoverer turns handler panics into INTERNAL_SERVER_ERROR responses.
func Recoverer(resp Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					resp.Fail(w, r, apperr.Internalf(fmt.Errorf("panic: %v", p), "handler panicked"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

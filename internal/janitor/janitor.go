// Package janitor periodically purges stale refresh tokens and aged audit
// entries.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dhatri/internal/logging"
)

type TokenCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

type AuditPurger interface {
	DeleteAuditBefore(ctx context.Context, before time.Time) (int64, error)
}

type Janitor struct {
	tokens         TokenCleaner
	audit          AuditPurger
	auditRetention time.Duration
	log            *zap.Logger
	now            func() time.Time
}

// New builds a Janitor. A non-positive auditRetention keeps audit entries
// forever.
func New(tokens TokenCleaner, audit AuditPurger, auditRetention time.Duration, log *zap.Logger, now func() time.Time) *Janitor {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Janitor{
		tokens:         tokens,
		audit:          audit,
		auditRetention: auditRetention,
		log:            logging.OrNop(log).Named("janitor"),
		now:            now,
	}
}

// Result counts the rows removed by one sweep.
type Result struct {
	Tokens int64
	Audit  int64
}

// Sweep runs one cleanup pass. Both purges are attempted even when the
// first fails; the first error is returned.
func (j *Janitor) Sweep(ctx context.Context) (Result, error) {
	var res Result
	var first error

	n, err := j.tokens.Cleanup(ctx)
	if err != nil {
		first = err
		j.log.Warn("refresh token cleanup failed", zap.Error(err))
	}
	res.Tokens = n

	if j.audit != nil && j.auditRetention > 0 {
		n, err = j.audit.DeleteAuditBefore(ctx, j.now().Add(-j.auditRetention))
		if err != nil {
			if first == nil {
				first = err
			}
			j.log.Warn("audit purge failed", zap.Error(err))
		}
		res.Audit = n
	}

	if res.Tokens > 0 || res.Audit > 0 {
		j.log.Info("cleanup sweep", zap.Int64("refresh_tokens", res.Tokens), zap.Int64("audit_entries", res.Audit))
	}
	return res, first
}

// Run sweeps once immediately and then every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.sweepWithTimeout(ctx, interval)
	for {
		select {
		case <-ticker.C:
			j.sweepWithTimeout(ctx, interval)
		case <-ctx.Done():
			return
		}
	}
}

func (j *Janitor) sweepWithTimeout(ctx context.Context, interval time.Duration) {
	timeout := time.Minute
	if interval < timeout {
		timeout = interval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, _ = j.Sweep(ctx)
}

// Package audit records security events. Writers never see a failure: a
// broken sink is reported to the process log and the caller proceeds.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dhatri/internal/logging"
	"dhatri/internal/models"
)

// Logger is the port every component writes security events through.
type Logger interface {
	LogEvent(ctx context.Context, e models.AuditEntry)
}

type Sink interface {
	InsertAudit(ctx context.Context, e models.AuditEntry) error
}

type Recorder struct {
	sink Sink
	log  *zap.Logger
	now  func() time.Time
}

func NewRecorder(sink Sink, log *zap.Logger) *Recorder {
	return &Recorder{sink: sink, log: logging.OrNop(log).Named("audit"), now: func() time.Time { return time.Now().UTC() }}
}

func (r *Recorder) LogEvent(ctx context.Context, e models.AuditEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("audit write panicked", zap.String("action", string(e.Action)), zap.Any("panic", p))
		}
	}()
	// The request may already be cancelled when a failure is being audited.
	if err := r.sink.InsertAudit(context.WithoutCancel(ctx), e); err != nil {
		r.log.Warn("audit write failed", zap.String("action", string(e.Action)), zap.Error(err))
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogEvent(context.Context, models.AuditEntry) {}

// Entry builds an audit entry with the common request fields set.
func Entry(action models.AuditAction, userID string, ip, userAgent string, success bool) models.AuditEntry {
	e := models.AuditEntry{Action: action, IPAddress: ip, UserAgent: userAgent, Success: success}
	if userID != "" {
		e.UserID = &userID
	}
	return e
}

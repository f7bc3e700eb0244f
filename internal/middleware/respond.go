package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"dhatri/internal/apperr"
	"dhatri/internal/audit"
	"dhatri/internal/logging"
	"dhatri/internal/models"
	"dhatri/internal/util"
)

const genericMessage = "Something went wrong"

// Responder writes every failure response. Handlers and guards never build
// error bodies themselves.
type Responder struct {
	Audit      audit.Logger
	Log        *zap.Logger
	Production bool
}

// preAudited kinds already carry a specific audit entry from their source.
var preAudited = map[apperr.Kind]bool{
	apperr.InvalidCredentials:      true,
	apperr.AccountLocked:           true,
	apperr.AccountDeactivated:      true,
	apperr.InsufficientPermissions: true,
	apperr.NotAuthorized:           true,
	apperr.InvalidToken:            true,
	apperr.TokenExpired:            true,
}

func (rp Responder) Fail(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internalf(err, "unexpected error")
	}
	ctx := r.Context()
	log := logging.OrNop(rp.Log)
	rid := RequestID(ctx)

	body := util.APIError{
		Message:   e.Message,
		Code:      e.Kind.Code(),
		Errors:    e.Fields,
		RequestID: rid,
	}
	if e.Kind == apperr.Internal {
		log.Error("request failed",
			zap.String("request_id", rid),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if rp.Production {
			body.Message = genericMessage
		}
	}
	if !rp.Production {
		if e.Err != nil {
			body.Error = e.Err.Error()
		}
		body.Stack = zap.StackSkip("", 1).String
	}

	if rp.Audit != nil && !preAudited[e.Kind] {
		entry := audit.Entry(models.AuditError, UserID(ctx), IP(ctx), r.UserAgent(), false)
		msg := err.Error()
		entry.ErrorMessage = &msg
		entry.Metadata = map[string]any{"code": e.Kind.Code(), "method": r.Method, "path": r.URL.Path}
		rp.Audit.LogEvent(ctx, entry)
	}
	util.WriteError(w, e.Kind.Status(), body)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dhatri/internal/models"
)

const auditColumns = `id,user_id,action,ip_address,user_agent,success,error_message,metadata,created_at`

func (s *Store) InsertAudit(ctx context.Context, e models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var meta any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO audit_logs(`+auditColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`),
		e.ID, nullString(e.UserID), string(e.Action), e.IPAddress, e.UserAgent, e.Success,
		nullString(e.ErrorMessage), meta, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAuditByUser returns the newest entries of userID first.
func (s *Store) ListAuditByUser(ctx context.Context, userID string, limit int) ([]models.AuditEntry, error) {
	return s.queryAudit(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE user_id=? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
}

// ListAuditByAction returns entries of action recorded at or after since,
// newest first.
func (s *Store) ListAuditByAction(ctx context.Context, action models.AuditAction, since time.Time, limit int) ([]models.AuditEntry, error) {
	return s.queryAudit(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE action=? AND created_at>=? ORDER BY created_at DESC LIMIT ?`,
		string(action), since.UTC(), limit)
}

func (s *Store) DeleteAuditBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM audit_logs WHERE created_at<?`), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge audit log: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var action string
		var userID, errMsg, meta sql.NullString
		if err := rows.Scan(&e.ID, &userID, &action, &e.IPAddress, &e.UserAgent, &e.Success, &errMsg, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = models.AuditAction(action)
		e.UserID = stringPtr(userID)
		e.ErrorMessage = stringPtr(errMsg)
		e.CreatedAt = e.CreatedAt.UTC()
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
